package middleware

import (
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/telegram/callbacks"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const keepReceipts = 10 * time.Second

// receipts remembers recently logged update ids of one bot so a receipt is
// logged once even if the chain is entered twice.
type receipts struct {
	mu   sync.Mutex
	seen map[int]time.Time
}

func (r *receipts) first(updateID int, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, ts := range r.seen {
		if now.Sub(ts) > keepReceipts {
			delete(r.seen, id)
		}
	}
	if _, ok := r.seen[updateID]; ok {
		return false
	}
	r.seen[updateID] = now
	return true
}

// LoggerMiddleware stores the request context (rid, update meta, bot) on the
// tele.Context and logs a single receipt line per update.
func LoggerMiddleware(bot string) tele.MiddlewareFunc {
	seen := &receipts{seen: make(map[int]time.Time)}
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			upd := c.Update()
			user := c.Sender()
			chat := c.Chat()

			chatID, userID := int64(0), int64(0)
			if chat != nil {
				chatID = chat.ID
			}
			if user != nil {
				userID = user.ID
			}
			rid := logger.BuildRID(upd.ID, chatID, userID)
			c.Set("rid", rid)
			c.Set("update_start", time.Now())

			ctx := logger.WithRID(logger.Background(), rid)
			ctx = logger.WithUpdateMeta(ctx, upd.ID, userID, chatID)
			ctx = logger.WithBot(ctx, bot)
			ctx = logger.WithLogger(ctx, logger.Component("tg"))
			tghelpers.StoreContext(c, ctx)

			if logger.ShouldSampleDebug(ctx) && seen.first(upd.ID, time.Now()) {
				attrs := []slog.Attr{
					slog.String("status", "ok"),
					slog.String("update_kind", updateKind(upd)),
				}
				if chatID != 0 {
					attrs = append(attrs, slog.String("chat_type", string(chat.Type)))
				}
				if user != nil && user.Username != "" {
					attrs = append(attrs, slog.String("username", logger.SanitizeLimit(user.Username, 64)))
				}
				if upd.Callback != nil {
					key, payload := callbacks.ParseCallbackData(upd.Callback)
					if key != "" {
						attrs = append(attrs, slog.String("cb_key", logger.SanitizeLimit(key, 128)))
					}
					if payload != "" {
						attrs = append(attrs, slog.String("payload", logger.SanitizeLimit(payload, 256)))
					}
				}
				logger.LogEvent(ctx, logger.Component("tg"), slog.LevelDebug, "update.received", attrs...)
			}

			return next(c)
		}
	}
}
