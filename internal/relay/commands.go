package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/botreg"
)

// CommandSpec describes one operator command for menus and routing.
type CommandSpec struct {
	Name        string
	Aliases     []string
	Description string
}

// OperatorCommands is published as the operator-only command menu.
var OperatorCommands = []CommandSpec{
	{Name: "start", Description: "Show help"},
	{Name: "id", Description: "Show user info"},
	{Name: "b", Aliases: []string{"block"}, Description: "Block user"},
	{Name: "ub", Aliases: []string{"unblock"}, Description: "Unblock user"},
	{Name: "bl", Aliases: []string{"blocklist"}, Description: "Show block list"},
	{Name: "uv", Aliases: []string{"unverify"}, Description: "Reset user verification"},
}

const (
	cmdStart     = "start"
	cmdID        = "id"
	cmdBlock     = "b"
	cmdUnblock   = "ub"
	cmdUnverify  = "uv"
	cmdBlocklist = "bl"
)

const (
	actionBlock    = "block"
	actionUnblock  = "unblock"
	actionUnverify = "unverify"
)

// canonicalCommand maps aliases onto the short names. ok is false for
// anything that is not an operator command.
func canonicalCommand(name string) (string, bool) {
	for _, c := range OperatorCommands {
		if c.Name == name {
			return c.Name, true
		}
		for _, a := range c.Aliases {
			if a == name {
				return c.Name, true
			}
		}
	}
	return "", false
}

// isOperatorSeat reports whether ev comes from the operator in a chat where
// operator commands are accepted.
func (d *Dispatcher) isOperatorSeat(ev Event) bool {
	if ev.SenderID != d.bot.OwnerID {
		return false
	}
	if ev.ChatPrivate && ev.ChatID == d.bot.OwnerID {
		return true
	}
	return d.bot.Topology == botreg.Grouped && d.bot.GroupID() != 0 && ev.ChatID == d.bot.GroupID()
}

// resolveTarget finds the sender a command refers to: a numeric argument first,
// then the replied message in direct mode or the current thread in grouped mode.
func (d *Dispatcher) resolveTarget(ctx context.Context, ev Event, args []string) (int64, bool) {
	if len(args) > 0 {
		if id, err := strconv.ParseInt(args[0], 10, 64); err == nil && id > 0 {
			return id, true
		}
	}
	switch d.bot.Topology {
	case botreg.Grouped:
		if ev.ChatID == d.bot.GroupID() && ev.ThreadID != 0 {
			return d.mapper.SenderOfThread(ctx, ev.ThreadID)
		}
	default:
		if ev.ChatPrivate && ev.ChatID == d.bot.OwnerID && ev.ReplyToID != 0 {
			return d.mapper.SenderOf(ctx, ev.ReplyToID)
		}
	}
	return 0, false
}

func (d *Dispatcher) runCommand(ctx context.Context, ev Event, name string, args []string) (Outcome, error) {
	ctx = logger.WithHandler(ctx, name)
	reply := Target{ChatID: ev.ChatID, ThreadID: ev.ThreadID}
	opts := SendOptions{HTML: true, ReplyTo: ev.MessageID}

	if name == cmdStart {
		_, err := d.tr.SendText(ctx, reply, operatorHelp, SendOptions{ReplyTo: ev.MessageID})
		return OutcomeCommand, d.deliveryErr("command.start", err)
	}
	if name == cmdBlocklist {
		return OutcomeCommand, d.deliveryErr("command.blocklist", d.sendBlocklist(ctx, reply, opts))
	}

	target, ok := d.resolveTarget(ctx, ev, args)
	if !ok {
		if name == cmdID {
			return OutcomeIgnored, nil
		}
		usage := fmt.Sprintf("⚠️ Reply to a user's message or send: /%s <user_id>", name)
		_, err := d.tr.SendText(ctx, reply, usage, SendOptions{ReplyTo: ev.MessageID})
		return OutcomeCommand, d.deliveryErr("command.usage", err)
	}

	var text string
	var err error
	switch name {
	case cmdID:
		return OutcomeCommand, d.deliveryErr("command.id", d.sendIdentity(ctx, reply, ev.MessageID, target))
	case cmdBlock:
		reason := ""
		if len(args) > 1 {
			reason = strings.Join(args[1:], " ")
		}
		text, err = d.block(ctx, target, reason)
	case cmdUnblock:
		text, err = d.unblock(ctx, target)
	case cmdUnverify:
		text, err = d.unverify(ctx, target)
	}
	if err != nil {
		return OutcomeFailed, err
	}
	_, err = d.tr.SendText(ctx, reply, text, opts)
	return OutcomeCommand, d.deliveryErr("command."+name, err)
}

func (d *Dispatcher) block(ctx context.Context, target int64, reason string) (string, error) {
	changed, err := d.access.Block(ctx, d.bot.Username, target, reason)
	if err != nil {
		return "", fmt.Errorf("block %d: %w", target, err)
	}
	if !changed {
		return fmt.Sprintf("⚠️ User <code>%d</code> is already blocked.", target), nil
	}
	return fmt.Sprintf("🚫 User <code>%d</code> has been blocked.", target), nil
}

func (d *Dispatcher) unblock(ctx context.Context, target int64) (string, error) {
	changed, err := d.access.Unblock(ctx, d.bot.Username, target)
	if err != nil {
		return "", fmt.Errorf("unblock %d: %w", target, err)
	}
	if !changed {
		return fmt.Sprintf("⚠️ User <code>%d</code> is not blocked.", target), nil
	}
	return fmt.Sprintf("✅ User <code>%d</code> has been unblocked.", target), nil
}

func (d *Dispatcher) unverify(ctx context.Context, target int64) (string, error) {
	changed, err := d.gate.Unverify(ctx, d.bot.Username, target)
	if err != nil {
		return "", fmt.Errorf("unverify %d: %w", target, err)
	}
	if !changed {
		return fmt.Sprintf("⚠️ User <code>%d</code> is not verified.", target), nil
	}
	return fmt.Sprintf("🔒 User <code>%d</code> must verify again.", target), nil
}

func (d *Dispatcher) identityState(ctx context.Context, target int64) (Identity, bool, bool) {
	ident, err := d.tr.FetchIdentity(ctx, target)
	if err != nil {
		logger.Debug(ctx, component, "identity.unavailable", slog.Int64("target_user", target), logger.Err(err))
	}
	blocked, err := d.access.IsBlocked(ctx, d.bot.Username, target)
	if err != nil {
		logger.Warn(ctx, component, "identity.blocked_check_failed", slog.Int64("target_user", target), logger.Err(err))
	}
	verified, err := d.gate.IsVerified(ctx, d.bot.Username, target)
	if err != nil {
		logger.Warn(ctx, component, "identity.verified_check_failed", slog.Int64("target_user", target), logger.Err(err))
	}
	return ident, blocked, verified
}

func (d *Dispatcher) sendIdentity(ctx context.Context, to Target, replyTo int, target int64) error {
	ident, blocked, verified := d.identityState(ctx, target)
	_, err := d.tr.SendText(ctx, to, identityCard(target, ident, blocked, verified), SendOptions{
		HTML:    true,
		ReplyTo: replyTo,
		Buttons: identityButtons(target, blocked, verified),
	})
	return err
}

func (d *Dispatcher) sendBlocklist(ctx context.Context, to Target, opts SendOptions) error {
	entries, err := d.access.Entries(ctx, d.bot.Username)
	if err != nil {
		return err
	}
	names := make(map[int64]Identity, len(entries))
	for _, e := range entries {
		if ident, err := d.tr.FetchIdentity(ctx, e.UserID); err == nil {
			names[e.UserID] = ident
		}
	}
	_, err = d.tr.SendText(ctx, to, blocklistText(d.bot.Username, entries, names), opts)
	return err
}

// handleCallback serves the inline buttons of the identity card.
func (d *Dispatcher) handleCallback(ctx context.Context, ev Event) (Outcome, error) {
	if ev.SenderID != d.bot.OwnerID {
		_ = d.tr.AnswerCallback(ctx, ev.CallbackID, textNotAllowed)
		return OutcomeIgnored, nil
	}
	target, err := strconv.ParseInt(ev.Payload, 10, 64)
	if err != nil || target <= 0 {
		_ = d.tr.AnswerCallback(ctx, ev.CallbackID, "")
		return OutcomeIgnored, nil
	}
	ctx = logger.WithHandler(ctx, "cb."+ev.Action)

	var text string
	switch ev.Action {
	case actionBlock:
		text, err = d.block(ctx, target, "")
	case actionUnblock:
		text, err = d.unblock(ctx, target)
	case actionUnverify:
		text, err = d.unverify(ctx, target)
	default:
		_ = d.tr.AnswerCallback(ctx, ev.CallbackID, "")
		return OutcomeIgnored, nil
	}
	if err != nil {
		_ = d.tr.AnswerCallback(ctx, ev.CallbackID, textEditFailed)
		return OutcomeFailed, err
	}
	if err := d.tr.AnswerCallback(ctx, ev.CallbackID, stripTags(text)); err != nil {
		logger.Debug(ctx, component, "callback.answer_failed", logger.Err(err))
	}

	ident, blocked, verified := d.identityState(ctx, target)
	err = d.tr.EditText(ctx, ev.ChatID, ev.MessageID, identityCard(target, ident, blocked, verified), SendOptions{
		HTML:    true,
		Buttons: identityButtons(target, blocked, verified),
	})
	return OutcomeCommand, d.deliveryErr("callback.refresh", err)
}

func stripTags(s string) string {
	r := strings.NewReplacer("<code>", "", "</code>", "", "<b>", "", "</b>", "")
	return r.Replace(s)
}
