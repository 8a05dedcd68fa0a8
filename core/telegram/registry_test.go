package telegram

import (
	"testing"

	"github.com/m3rciful/relaybot/core/telegram/commands"
)

func TestRegistryScopes(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterCommand("/start", commands.Command{Description: "Start"})
	reg.RegisterCommand("/b", commands.Command{Description: "Block user", OperatorOnly: true, Aliases: []string{"block"}})
	reg.RegisterCommand("/bl", commands.Command{Description: "Show block list", OperatorOnly: true})
	reg.RegisterCommand("nope", commands.Command{Description: "missing slash"})
	reg.RegisterCommand("/b", commands.Command{Description: "duplicate", OperatorOnly: true})

	public := reg.ListCommands(false)
	if len(public) != 1 || public[0].Text != "start" {
		t.Fatalf("unexpected public menu: %+v", public)
	}
	op := reg.ListCommands(true)
	if len(op) != 2 || op[0].Text != "b" || op[1].Text != "bl" {
		t.Fatalf("unexpected operator menu: %+v", op)
	}
	if op[0].Description != "Block user" {
		t.Fatalf("duplicate registration replaced the original: %q", op[0].Description)
	}

	key, _, ok := reg.LookupCommand("block")
	if !ok || key != "/b" {
		t.Fatalf("alias lookup = %q, %v", key, ok)
	}
	if _, _, ok := reg.LookupCommand("/nope"); ok {
		t.Fatal("command without slash must not be registered")
	}
}
