// Package tgrelay implements the relay delivery primitives on top of telebot
// and turns raw Telegram updates into relay events.
package tgrelay

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/m3rciful/relaybot/core/telegram/keyboard"
	"github.com/m3rciful/relaybot/internal/relay"

	tele "gopkg.in/telebot.v4"
)

// API is the subset of *tele.Bot the transport needs.
type API interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	Edit(msg tele.Editable, what interface{}, opts ...interface{}) (*tele.Message, error)
	Copy(to tele.Recipient, msg tele.Editable, opts ...interface{}) (*tele.Message, error)
	Forward(to tele.Recipient, msg tele.Editable, opts ...interface{}) (*tele.Message, error)
	Delete(msg tele.Editable) error
	CreateTopic(chat *tele.Chat, topic *tele.Topic) (*tele.Topic, error)
	ChatByID(id int64) (*tele.Chat, error)
	Respond(c *tele.Callback, resp ...*tele.CallbackResponse) error
}

// Transport delivers relay traffic through one bot.
type Transport struct {
	api API
}

var _ relay.Transport = (*Transport)(nil)

// NewTransport wraps the bot API client.
func NewTransport(api API) *Transport {
	return &Transport{api: api}
}

func stored(chat int64, msg int) tele.StoredMessage {
	return tele.StoredMessage{ChatID: chat, MessageID: strconv.Itoa(msg)}
}

func sendOptions(to relay.Target, opts relay.SendOptions) (*tele.SendOptions, error) {
	so := &tele.SendOptions{
		ThreadID:              to.ThreadID,
		DisableWebPagePreview: true,
		AllowWithoutReply:     true,
	}
	if opts.HTML {
		so.ParseMode = tele.ModeHTML
	}
	if opts.ReplyTo != 0 {
		so.ReplyTo = &tele.Message{ID: opts.ReplyTo}
	}
	markup, err := markupOf(opts.Buttons)
	if err != nil {
		return nil, err
	}
	so.ReplyMarkup = markup
	return so, nil
}

func markupOf(rows [][]relay.Button) (*tele.ReplyMarkup, error) {
	out := make([][]keyboard.InlineBtn, 0, len(rows))
	for _, row := range rows {
		r := make([]keyboard.InlineBtn, 0, len(row))
		for _, b := range row {
			r = append(r, keyboard.InlineBtn{Text: b.Text, Unique: b.Action, Data: b.Payload})
		}
		out = append(out, r)
	}
	return keyboard.InlineButtonsRows(out...)
}

// SendText sends text and returns the delivered message id.
func (t *Transport) SendText(ctx context.Context, to relay.Target, text string, opts relay.SendOptions) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	so, err := sendOptions(to, opts)
	if err != nil {
		return 0, err
	}
	msg, err := t.api.Send(tele.ChatID(to.ChatID), text, so)
	if err != nil {
		return 0, classify(err, to.ThreadID)
	}
	return msg.ID, nil
}

// EditText replaces the text of a message sent by the bot.
func (t *Transport) EditText(ctx context.Context, chat int64, msg int, text string, opts relay.SendOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	so := &tele.SendOptions{DisableWebPagePreview: true}
	if opts.HTML {
		so.ParseMode = tele.ModeHTML
	}
	markup, err := markupOf(opts.Buttons)
	if err != nil {
		return err
	}
	so.ReplyMarkup = markup
	_, err = t.api.Edit(stored(chat, msg), text, so)
	if err != nil && !isNotModified(err) {
		return classify(err, 0)
	}
	return nil
}

// CopyMessage copies a message without the forward header.
func (t *Transport) CopyMessage(ctx context.Context, from int64, msg int, to relay.Target) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	out, err := t.api.Copy(tele.ChatID(to.ChatID), stored(from, msg), &tele.SendOptions{ThreadID: to.ThreadID})
	if err != nil {
		return 0, classify(err, to.ThreadID)
	}
	return out.ID, nil
}

// ForwardMessage forwards a message keeping its origin header.
func (t *Transport) ForwardMessage(ctx context.Context, from int64, msg int, to relay.Target) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	out, err := t.api.Forward(tele.ChatID(to.ChatID), stored(from, msg), &tele.SendOptions{ThreadID: to.ThreadID})
	if err != nil {
		return 0, classify(err, to.ThreadID)
	}
	return out.ID, nil
}

// CreateThread opens a forum topic in group and returns its thread id.
func (t *Transport) CreateThread(ctx context.Context, group int64, name string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	topic, err := t.api.CreateTopic(&tele.Chat{ID: group}, &tele.Topic{Name: name})
	if err != nil {
		return 0, fmt.Errorf("create topic: %w", err)
	}
	if topic == nil || topic.ThreadID == 0 {
		return 0, errors.New("create topic: empty thread id")
	}
	return topic.ThreadID, nil
}

// DeleteMessage deletes a message; a message that is already gone is not an error.
func (t *Transport) DeleteMessage(ctx context.Context, chat int64, msg int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := t.api.Delete(stored(chat, msg))
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "message to delete not found") {
		return nil
	}
	return err
}

// FetchIdentity resolves the display name and handle of a user.
func (t *Transport) FetchIdentity(ctx context.Context, userID int64) (relay.Identity, error) {
	if err := ctx.Err(); err != nil {
		return relay.Identity{}, err
	}
	chat, err := t.api.ChatByID(userID)
	if err != nil {
		return relay.Identity{}, err
	}
	return relay.Identity{Name: fullName(chat.FirstName, chat.LastName), Handle: chat.Username}, nil
}

// AnswerCallback acknowledges an inline button press.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	resp := &tele.CallbackResponse{Text: text}
	return t.api.Respond(&tele.Callback{ID: callbackID}, resp)
}

var threadMissingMarkers = []string{
	"message thread not found",
	"topic not found",
	"topic_deleted",
	"topic_closed",
}

// classify wraps errors that mean the target thread no longer exists with
// relay.ErrThreadMissing.
func classify(err error, thread int) error {
	if err == nil {
		return nil
	}
	if thread != 0 && isThreadMissing(err) {
		return fmt.Errorf("thread %d: %w: %w", thread, relay.ErrThreadMissing, err)
	}
	return err
}

func isThreadMissing(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, m := range threadMissingMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

func isNotModified(err error) bool {
	return errors.Is(err, tele.ErrSameMessageContent) ||
		strings.Contains(strings.ToLower(err.Error()), "message is not modified")
}

func fullName(first, last string) string {
	return strings.TrimSpace(first + " " + last)
}
