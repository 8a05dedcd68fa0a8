package tgrelay

import (
	"github.com/m3rciful/relaybot/core/telegram/callbacks"
	"github.com/m3rciful/relaybot/internal/relay"

	tele "gopkg.in/telebot.v4"
)

// ToEvent converts an update into a relay event. ok is false for updates the
// relay does not handle (channel posts, service messages, member changes).
func ToEvent(upd tele.Update) (relay.Event, bool) {
	switch {
	case upd.Callback != nil:
		return callbackEvent(upd.ID, upd.Callback)
	case upd.Message != nil:
		return messageEvent(upd.ID, relay.EventNew, upd.Message)
	case upd.EditedMessage != nil:
		return messageEvent(upd.ID, relay.EventEdited, upd.EditedMessage)
	}
	return relay.Event{}, false
}

func messageEvent(updateID int, kind relay.EventKind, m *tele.Message) (relay.Event, bool) {
	if m.Sender == nil || m.Chat == nil || m.Sender.IsBot || isService(m) {
		return relay.Event{}, false
	}
	ev := relay.Event{
		Kind:         kind,
		UpdateID:     updateID,
		SenderID:     m.Sender.ID,
		SenderName:   fullName(m.Sender.FirstName, m.Sender.LastName),
		SenderHandle: m.Sender.Username,
		ChatID:       m.Chat.ID,
		ChatPrivate:  m.Chat.Type == tele.ChatPrivate,
		MessageID:    m.ID,
		Text:         m.Text,
		Opaque:       m.Text == "",
	}
	if m.TopicMessage {
		ev.ThreadID = m.ThreadID
	}
	// inside a forum topic every message replies to the topic's root message
	if m.ReplyTo != nil && !(m.TopicMessage && m.ReplyTo.ID == m.ThreadID) {
		ev.ReplyToID = m.ReplyTo.ID
	}
	return ev, true
}

func callbackEvent(updateID int, cb *tele.Callback) (relay.Event, bool) {
	if cb.Sender == nil {
		return relay.Event{}, false
	}
	action, payload := callbacks.ParseCallbackData(cb)
	ev := relay.Event{
		Kind:         relay.EventCallback,
		UpdateID:     updateID,
		SenderID:     cb.Sender.ID,
		SenderName:   fullName(cb.Sender.FirstName, cb.Sender.LastName),
		SenderHandle: cb.Sender.Username,
		CallbackID:   cb.ID,
		Action:       action,
		Payload:      payload,
	}
	if m := cb.Message; m != nil && m.Chat != nil {
		ev.ChatID = m.Chat.ID
		ev.ChatPrivate = m.Chat.Type == tele.ChatPrivate
		ev.MessageID = m.ID
		if m.TopicMessage {
			ev.ThreadID = m.ThreadID
		}
	}
	return ev, true
}

// isService reports messages Telegram generates itself, such as topic
// creation or members joining.
func isService(m *tele.Message) bool {
	return m.TopicCreated != nil || m.UserLeft != nil || len(m.UsersJoined) > 0 || m.PinnedMessage != nil
}
