package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/m3rciful/relaybot/core/logger"

	tele "gopkg.in/telebot.v4"
)

const defaultQueueSize = 128

// Middleware describes a middleware applied around the worker handler.
type Middleware struct {
	Name string
	Use  tele.MiddlewareFunc
}

// WorkerOptions controls NewWorker.
type WorkerOptions struct {
	Name   string
	Token  string
	Client *http.Client
	Poller PollerOptions
	// QueueSize bounds the updates waiting to be handled.
	QueueSize          int
	SkipWebhookCleanup bool
	// OperatorID scopes the published operator commands.
	OperatorID int64
	Registry   *Registry

	Middlewares []Middleware
	// Handler builds the terminal handler once the bot API client exists.
	Handler func(bot *tele.Bot) tele.HandlerFunc

	// Source replaces the long poller, mostly in tests.
	Source tele.Poller
	// Offline skips getMe and webhook cleanup; used by tests.
	Offline bool
}

// Worker consumes the updates of one bot. A poller goroutine pushes updates
// into a bounded queue and a single drain goroutine handles them in order.
type Worker struct {
	name    string
	bot     *tele.Bot
	poller  tele.Poller
	queue   chan tele.Update
	handler tele.HandlerFunc
	opts    WorkerOptions

	mu       sync.Mutex
	running  bool
	stop     chan struct{}
	pollDone chan struct{}
	done     chan struct{}
}

// NewWorker builds the bot API client and the middleware chain. It fails when
// the token is rejected.
func NewWorker(opts WorkerOptions) (*Worker, error) {
	if opts.Token == "" && !opts.Offline {
		return nil, fmt.Errorf("telegram: empty token for %q", opts.Name)
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("telegram: nil handler for %q", opts.Name)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	longPoller := BuildPoller(opts.Poller)
	var poller tele.Poller = longPoller
	if opts.Source != nil {
		poller = opts.Source
	}

	start := time.Now()
	bot, err := tele.NewBot(tele.Settings{
		Token:       opts.Token,
		Poller:      poller,
		Client:      opts.Client,
		Synchronous: true,
		Offline:     opts.Offline,
		OnError: func(err error, c tele.Context) {
			logger.TG.Warn("bot error",
				slog.String("event", "tg.error"),
				slog.String("bot", opts.Name),
				logger.Err(err),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: bot %q initialization failed: %w", opts.Name, err)
	}

	h := opts.Handler(bot)
	for i := len(opts.Middlewares) - 1; i >= 0; i-- {
		if mw := opts.Middlewares[i]; mw.Use != nil {
			h = mw.Use(h)
		}
	}

	logger.TWire.Info("worker built",
		slog.String("event", "worker.built"),
		slog.String("bot", opts.Name),
		slog.Int("queue_size", opts.QueueSize),
		slog.Duration("timeout", longPoller.Timeout),
		slog.Duration("duration", logger.Took(start)),
	)

	return &Worker{
		name:    opts.Name,
		bot:     bot,
		poller:  poller,
		queue:   make(chan tele.Update, opts.QueueSize),
		handler: h,
		opts:    opts,
	}, nil
}

// Name returns the bot username the worker serves.
func (w *Worker) Name() string {
	return w.name
}

// Bot exposes the bot API client.
func (w *Worker) Bot() *tele.Bot {
	return w.bot
}

// Start removes a stale webhook, publishes the command menu and begins polling.
// It returns immediately; Stop ends the worker.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return fmt.Errorf("telegram: worker %q already running", w.name)
	}

	if !w.opts.Offline {
		if !w.opts.SkipWebhookCleanup {
			if err := w.bot.RemoveWebhook(false); err != nil {
				logger.Warn(ctx, "tg", "webhook.delete_failed", slog.String("bot", w.name), logger.Err(err))
			}
		}
		if w.opts.Registry != nil {
			PublishCommands(w.bot, w.opts.Registry, w.opts.OperatorID)
		}
	}

	w.stop = make(chan struct{})
	w.pollDone = make(chan struct{})
	w.done = make(chan struct{})
	w.running = true

	go func(stop, pollDone chan struct{}) {
		defer close(pollDone)
		w.poller.Poll(w.bot, w.queue, stop)
	}(w.stop, w.pollDone)
	go w.drain(w.queue, w.pollDone, w.done)

	logger.Info(ctx, "tg", "worker.started", slog.String("bot", w.name))
	return nil
}

// drain handles updates one at a time until the poller has exited and the
// queue is empty.
func (w *Worker) drain(queue chan tele.Update, pollDone, done chan struct{}) {
	defer close(done)
	for {
		select {
		case upd := <-queue:
			w.handle(upd)
		case <-pollDone:
			for {
				select {
				case upd := <-queue:
					w.handle(upd)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) handle(upd tele.Update) {
	if err := w.handler(w.bot.NewContext(upd)); err != nil {
		logger.TG.Debug("update handler returned error",
			slog.String("event", "update.error"),
			slog.String("bot", w.name),
			slog.Int("update_id", upd.ID),
			logger.Err(err),
		)
	}
}

// Push injects an update as if the poller had received it. Used by tests and
// by callers that source updates elsewhere.
func (w *Worker) Push(ctx context.Context, upd tele.Update) error {
	select {
	case w.queue <- upd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the poller and waits for queued updates to be handled. A long
// poll in flight can delay the return by up to the poll timeout; ctx bounds
// the wait.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stop)
	done := w.done
	w.mu.Unlock()

	select {
	case <-done:
		logger.Info(ctx, "tg", "worker.stopped", slog.String("bot", w.name))
		return nil
	case <-ctx.Done():
		err := ctx.Err()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("telegram: worker %q stop: %w", w.name, err)
	}
}
