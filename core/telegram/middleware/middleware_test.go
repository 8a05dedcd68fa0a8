package middleware

import (
	"errors"
	"fmt"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

func offlineBot(t *testing.T) *tele.Bot {
	t.Helper()
	bot, err := tele.NewBot(tele.Settings{Offline: true, Synchronous: true})
	if err != nil {
		t.Fatalf("offline bot: %v", err)
	}
	return bot
}

func messageFrom(bot *tele.Bot, id int, userID int64) tele.Context {
	return bot.NewContext(tele.Update{
		ID: id,
		Message: &tele.Message{
			ID:     id,
			Sender: &tele.User{ID: userID},
			Chat:   &tele.Chat{ID: userID, Type: tele.ChatPrivate},
			Text:   "hi",
		},
	})
}

func TestRateLimitBurst(t *testing.T) {
	bot := offlineBot(t)
	limited := 0
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval:  time.Hour,
		Burst:     2,
		Exempt:    func(id int64) bool { return id == 42 },
		OnLimited: func(tele.Context) error { limited++; return nil },
	})
	handled := 0
	h := mw(func(tele.Context) error { handled++; return nil })

	for i := 1; i <= 3; i++ {
		if err := h(messageFrom(bot, i, 1001)); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if handled != 2 || limited != 1 {
		t.Fatalf("handled=%d limited=%d, want 2 and 1", handled, limited)
	}

	// another sender has its own bucket
	_ = h(messageFrom(bot, 4, 1002))
	// the operator is never limited
	for i := 5; i <= 8; i++ {
		_ = h(messageFrom(bot, i, 42))
	}
	if handled != 7 {
		t.Fatalf("handled=%d, want 7", handled)
	}
}

func TestRateLimitExcludedKinds(t *testing.T) {
	bot := offlineBot(t)
	mw := RateLimitMiddleware(RateLimitOptions{
		Interval: time.Hour,
		Burst:    1,
		Exclude:  map[string]struct{}{kindCallback: {}},
	})
	handled := 0
	h := mw(func(tele.Context) error { handled++; return nil })
	for i := 1; i <= 3; i++ {
		c := bot.NewContext(tele.Update{ID: i, Callback: &tele.Callback{ID: "cb", Sender: &tele.User{ID: 1001}}})
		_ = h(c)
	}
	if handled != 3 {
		t.Fatalf("callbacks must bypass the limiter, handled=%d", handled)
	}
}

func TestRecoverMiddleware(t *testing.T) {
	bot := offlineBot(t)
	h := RecoverMiddleware(func(tele.Context) error { panic("boom") })
	err := h(messageFrom(bot, 1, 1001))
	if err == nil {
		t.Fatal("expected an error after a recovered panic")
	}
}

type codedErr struct{}

func (codedErr) Error() string { return "coded" }
func (codedErr) Code() string  { return "thread missing" }

type plainErr struct{}

func (*plainErr) Error() string { return "plain" }

func TestErrorCode(t *testing.T) {
	if got := ErrorCode(fmt.Errorf("wrapped: %w", codedErr{})); got != "THREAD_MISSING" {
		t.Fatalf("ErrorCode = %q", got)
	}
	if got := ErrorCode(&plainErr{}); got != "PLAINERR" {
		t.Fatalf("ErrorCode = %q", got)
	}
	if got := ErrorCode(errors.New("x")); got != "ERRORSTRING" {
		t.Fatalf("ErrorCode = %q", got)
	}
	if NormalizeHandlerName(" /Block ") != "block" || NormalizeHandlerName("") != "unknown" {
		t.Fatal("unexpected handler normalization")
	}
}

func TestMetricsMiddlewareObservesKind(t *testing.T) {
	bot := offlineBot(t)
	var (
		kinds []string
		errs  []error
	)
	mw := MetricsMiddleware(func(kind string, took time.Duration, err error) {
		if took < 0 {
			t.Fatalf("negative duration %s", took)
		}
		kinds = append(kinds, kind)
		errs = append(errs, err)
	})
	boom := errors.New("boom")
	h := mw(func(c tele.Context) error {
		if c.Callback() != nil {
			return boom
		}
		return nil
	})

	_ = h(messageFrom(bot, 1, 7))
	_ = h(bot.NewContext(tele.Update{ID: 2, Callback: &tele.Callback{ID: "c", Sender: &tele.User{ID: 7}}}))

	if len(kinds) != 2 || kinds[0] != "message" || kinds[1] != "callback" {
		t.Fatalf("kinds = %v", kinds)
	}
	if errs[0] != nil || !errors.Is(errs[1], boom) {
		t.Fatalf("errs = %v", errs)
	}
}

func TestMetricsMiddlewareNilObserver(t *testing.T) {
	bot := offlineBot(t)
	called := false
	h := MetricsMiddleware(nil)(func(tele.Context) error { called = true; return nil })
	if err := h(messageFrom(bot, 1, 7)); err != nil || !called {
		t.Fatalf("err=%v called=%v", err, called)
	}
}
