package middleware

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/m3rciful/relaybot/core/logger"
	tghelpers "github.com/m3rciful/relaybot/core/telegram/helpers"

	tele "gopkg.in/telebot.v4"
)

const (
	limiterIdleTTL   = 10 * time.Minute
	limiterGCEvery   = 1000
	kindCallback     = "callback"
	kindMessage      = "message"
	kindEdited       = "edited_message"
	kindOtherUpdates = "other"
)

// RateLimitOptions configures behaviour of the rate limit middleware.
type RateLimitOptions struct {
	// Interval is the refill period of one token per sender.
	Interval time.Duration
	Burst    int
	Exclude  map[string]struct{}
	// Exempt reports senders that are never limited, such as the operator.
	Exempt    func(userID int64) bool
	OnLimited tele.HandlerFunc
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// senderLimiter keeps one token bucket per sender and evicts idle buckets.
type senderLimiter struct {
	every rate.Limit
	burst int

	mu      sync.Mutex
	buckets map[int64]*bucket
	lookups int
}

func newSenderLimiter(interval time.Duration, burst int) *senderLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &senderLimiter{
		every:   rate.Every(interval),
		burst:   burst,
		buckets: make(map[int64]*bucket),
	}
}

func (l *senderLimiter) allow(userID int64, now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lookups++
	if l.lookups >= limiterGCEvery {
		for id, b := range l.buckets {
			if now.Sub(b.lastSeen) >= limiterIdleTTL {
				delete(l.buckets, id)
			}
		}
		l.lookups = 0
	}
	b, ok := l.buckets[userID]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(l.every, l.burst)}
		l.buckets[userID] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

func updateKind(upd tele.Update) string {
	switch {
	case upd.Callback != nil:
		return kindCallback
	case upd.Message != nil:
		return kindMessage
	case upd.EditedMessage != nil:
		return kindEdited
	}
	return kindOtherUpdates
}

// RateLimitMiddleware returns a middleware that drops updates from senders
// exceeding a token bucket of Burst updates refilled every Interval.
func RateLimitMiddleware(opts RateLimitOptions) tele.MiddlewareFunc {
	limiter := newSenderLimiter(opts.Interval, opts.Burst)
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			user := c.Sender()
			if user == nil || opts.Interval <= 0 {
				return next(c)
			}
			kind := updateKind(c.Update())
			if _, skip := opts.Exclude[kind]; skip {
				return next(c)
			}
			if opts.Exempt != nil && opts.Exempt(user.ID) {
				return next(c)
			}
			if limiter.allow(user.ID, time.Now()) {
				return next(c)
			}

			attrs := []slog.Attr{
				slog.String("update_kind", kind),
				slog.Int64("user_id", user.ID),
			}
			if chat := c.Chat(); chat != nil {
				attrs = append(attrs, slog.Int64("chat_id", chat.ID))
			}
			logger.Warn(tghelpers.BuildContext(c), "tg", "rate_limit", attrs...)
			if opts.OnLimited != nil {
				_ = opts.OnLimited(c)
			}
			return nil
		}
	}
}
