package tgrelay

import (
	"context"
	"log/slog"
	"time"

	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"
	"github.com/m3rciful/relaybot/core/telegram/middleware"
	"github.com/m3rciful/relaybot/internal/relay"

	tele "gopkg.in/telebot.v4"
)

// EventHandler is implemented by *relay.Dispatcher.
type EventHandler interface {
	Handle(ctx context.Context, ev relay.Event) (relay.Outcome, error)
}

// Handler is the terminal telebot handler of a relay worker. Relay errors are
// event scoped: they are logged in the handler summary and never returned to
// the worker.
func Handler(d EventHandler) tele.HandlerFunc {
	return func(c tele.Context) error {
		start := time.Now()
		ev, ok := ToEvent(c.Update())
		if !ok {
			return nil
		}
		ctx := tghelpers.BuildContext(c)
		out, err := d.Handle(ctx, ev)
		middleware.LogSummary(c, start, middleware.Summary{
			Handler: handlerName(ev),
			Outcome: string(out),
			Status:  status(out, err),
			Err:     err,
			Extras:  []slog.Attr{slog.String("event_kind", ev.Kind.String())},
		})
		return nil
	}
}

func handlerName(ev relay.Event) string {
	switch ev.Kind {
	case relay.EventCallback:
		return "cb." + ev.Action
	case relay.EventEdited:
		return "edit"
	}
	if ev.ChatPrivate {
		return "private"
	}
	return "group"
}

// status maps an outcome onto the summary status: refusals the relay expects
// (unverified, blocked, no record) are skips, transport failures are failures.
func status(out relay.Outcome, err error) string {
	if err == nil {
		if out == relay.OutcomeIgnored || out == relay.OutcomeSkipped {
			return "skip"
		}
		return "ok"
	}
	switch relay.KindOf(err) {
	case relay.DeliveryFailure, relay.ThreadMissing, 0:
		return "fail"
	}
	return "skip"
}
