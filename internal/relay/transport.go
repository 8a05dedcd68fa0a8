package relay

import (
	"context"
	"time"
)

// Target addresses a chat, optionally a thread inside it.
type Target struct {
	ChatID   int64
	ThreadID int
}

// Button is an inline callback button.
type Button struct {
	Text    string
	Action  string
	Payload string
}

// SendOptions tunes a text delivery.
type SendOptions struct {
	HTML    bool
	ReplyTo int
	Buttons [][]Button
}

// Identity is the best-effort public profile of a user.
type Identity struct {
	Name   string
	Handle string
}

// Transport is the set of delivery primitives the dispatcher relies on.
// Implementations wrap ErrThreadMissing when a thread target no longer exists.
type Transport interface {
	SendText(ctx context.Context, to Target, text string, opts SendOptions) (int, error)
	EditText(ctx context.Context, chatID int64, messageID int, text string, opts SendOptions) error
	CopyMessage(ctx context.Context, fromChatID int64, messageID int, to Target) (int, error)
	ForwardMessage(ctx context.Context, fromChatID int64, messageID int, to Target) (int, error)
	CreateThread(ctx context.Context, groupChatID int64, name string) (int, error)
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	FetchIdentity(ctx context.Context, userID int64) (Identity, error)
	AnswerCallback(ctx context.Context, callbackID, text string) error
}

// Scheduler runs fire-and-forget work after a delay.
type Scheduler interface {
	Schedule(ctx context.Context, delay time.Duration, action string, run func(ctx context.Context) error)
}

// Recorder receives relay counters.
type Recorder interface {
	Event(bot, kind, outcome string)
	Delivery(bot, direction, topology string)
	Edit(bot, direction, result string)
	ThreadHeal(bot, result string)
	Failure(bot, kind string)
}

type nopRecorder struct{}

func (nopRecorder) Event(string, string, string)    {}
func (nopRecorder) Delivery(string, string, string) {}
func (nopRecorder) Edit(string, string, string)     {}
func (nopRecorder) ThreadHeal(string, string)       {}
func (nopRecorder) Failure(string, string)          {}
