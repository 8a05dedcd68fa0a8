package telegram

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	tele "gopkg.in/telebot.v4"
)

// idlePoller produces no updates and returns when stopped.
type idlePoller struct{}

func (idlePoller) Poll(_ *tele.Bot, _ chan tele.Update, stop chan struct{}) {
	<-stop
}

func textUpdate(id int, text string) tele.Update {
	return tele.Update{ID: id, Message: &tele.Message{
		ID:     id,
		Sender: &tele.User{ID: 1001},
		Chat:   &tele.Chat{ID: 1001, Type: tele.ChatPrivate},
		Text:   text,
	}}
}

func TestWorkerHandlesUpdatesInOrder(t *testing.T) {
	var (
		mu   sync.Mutex
		seen []int
	)
	var trace []string
	w, err := NewWorker(WorkerOptions{
		Name:    "relay_demo_bot",
		Offline: true,
		Source:  idlePoller{},
		Middlewares: []Middleware{
			{Name: "outer", Use: func(next tele.HandlerFunc) tele.HandlerFunc {
				return func(c tele.Context) error { trace = append(trace, "outer"); return next(c) }
			}},
			{Name: "inner", Use: func(next tele.HandlerFunc) tele.HandlerFunc {
				return func(c tele.Context) error { trace = append(trace, "inner"); return next(c) }
			}},
		},
		Handler: func(*tele.Bot) tele.HandlerFunc {
			return func(c tele.Context) error {
				// a slow first update must not let the second overtake it
				if c.Update().ID == 1 {
					time.Sleep(20 * time.Millisecond)
				}
				mu.Lock()
				seen = append(seen, c.Update().ID)
				mu.Unlock()
				if c.Update().ID == 2 {
					return errors.New("handled with error")
				}
				return nil
			}
		},
	})
	if err != nil {
		t.Fatalf("NewWorker: %v", err)
	}
	ctx := context.Background()
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := w.Start(ctx); err == nil {
		t.Fatal("second Start must fail")
	}
	for i := 1; i <= 3; i++ {
		if err := w.Push(ctx, textUpdate(i, "hi")); err != nil {
			t.Fatalf("Push: %v", err)
		}
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("second Stop: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 || seen[0] != 1 || seen[1] != 2 || seen[2] != 3 {
		t.Fatalf("updates handled out of order: %v", seen)
	}
	if len(trace) < 2 || trace[0] != "outer" || trace[1] != "inner" {
		t.Fatalf("middleware order: %v", trace)
	}
}

func TestNewWorkerRequiresToken(t *testing.T) {
	_, err := NewWorker(WorkerOptions{Name: "x", Handler: func(*tele.Bot) tele.HandlerFunc { return nil }})
	if err == nil {
		t.Fatal("expected an error for an empty token")
	}
}
