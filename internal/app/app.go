package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/core/telegram"
	"github.com/m3rciful/relaybot/core/telegram/commands"
	"github.com/m3rciful/relaybot/core/telegram/sender"
	"github.com/m3rciful/relaybot/internal/access"
	"github.com/m3rciful/relaybot/internal/botreg"
	"github.com/m3rciful/relaybot/internal/correlation"
	"github.com/m3rciful/relaybot/internal/metrics"
	"github.com/m3rciful/relaybot/internal/relay"
	"github.com/m3rciful/relaybot/internal/supervisor"
	"github.com/m3rciful/relaybot/internal/sweeper"
	"github.com/m3rciful/relaybot/internal/tgrelay"
	"github.com/m3rciful/relaybot/internal/topics"
	"github.com/m3rciful/relaybot/internal/verify"

	tele "gopkg.in/telebot.v4"
)

const (
	component       = "app"
	shutdownTimeout = 10 * time.Second
)

// App holds the process-wide stores shared by every bot.
type App struct {
	cfg   *Config
	store *database.Store

	Bots         *botreg.Registry
	Gate         *verify.Gate
	Blocklist    *access.List
	Correlations *correlation.Store

	sender   *sender.Dispatcher
	client   *http.Client
	commands *telegram.Registry
	gatherer *prometheus.Registry
	metrics  *metrics.Recorder

	supervisor *supervisor.Supervisor
	sweeper    *sweeper.Sweeper
	factory    supervisor.Factory

	mu    sync.Mutex
	known map[string]time.Time
}

// Option customizes New.
type Option func(*App)

// WithFactory replaces the Telegram worker factory, used by tests.
func WithFactory(f supervisor.Factory) Option {
	return func(a *App) { a.factory = f }
}

// New builds the shared stores on top of store. Nothing runs until Run.
func New(cfg *Config, store *database.Store, opts ...Option) (*App, error) {
	if cfg == nil || store == nil {
		return nil, errors.New("app: config and store are required")
	}
	gatherer := prometheus.NewRegistry()
	gatherer.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rec, err := metrics.NewRecorder(gatherer)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	a := &App{
		cfg:          cfg,
		store:        store,
		Bots:         botreg.NewRegistry(store),
		Gate:         verify.NewGate(verify.NewRepository(store), nil),
		Blocklist:    access.NewList(store),
		Correlations: correlation.NewStore(correlation.NewRepository(store)),
		sender: sender.NewDispatcher(sender.Options{
			QueueSize:    cfg.Sender.QueueSize,
			Workers:      cfg.Sender.Workers,
			MaxRetries:   cfg.Sender.MaxRetries,
			RetryBackoff: cfg.Sender.RetryBackoff,
			OnFailure: func(ctx context.Context, _, kind string) {
				rec.Failure(logger.BotFrom(ctx), "sender_"+kind)
			},
		}),
		client: telegram.BuildHTTPClient(telegram.HTTPClientOptions{
			LongPollTimeout: time.Duration(cfg.Telegram.LongPollTimeoutSeconds) * time.Second,
		}),
		commands: OperatorMenu(),
		gatherer: gatherer,
		metrics:  rec,
		known:    make(map[string]time.Time),
	}
	a.factory = a.buildWorker
	for _, opt := range opts {
		opt(a)
	}
	a.supervisor = supervisor.New(func(ctx context.Context, b botreg.Bot) (supervisor.Worker, error) {
		return a.factory(ctx, b)
	}, rec.SetWorkers)
	a.sweeper = sweeper.New(
		sweeper.Target{Name: "challenges", MaxAge: cfg.Relay.ChallengeTTL, Sweep: a.Gate.Sweep},
		sweeper.Target{Name: "correlations", MaxAge: cfg.Relay.MappingTTL, Sweep: a.Correlations.Sweep},
	)
	a.sweeper.OnSwept = rec.Swept
	return a, nil
}

// OperatorMenu lists the operator commands for the per-bot command menu.
func OperatorMenu() *telegram.Registry {
	reg := telegram.NewRegistry()
	for _, c := range relay.OperatorCommands {
		reg.RegisterCommand("/"+c.Name, commands.Command{
			Description:  c.Description,
			OperatorOnly: true,
			Aliases:      c.Aliases,
		})
	}
	return reg
}

// Gatherer exposes the metrics registry.
func (a *App) Gatherer() prometheus.Gatherer {
	return a.gatherer
}

// Supervisor exposes the running worker set.
func (a *App) Supervisor() *supervisor.Supervisor {
	return a.supervisor
}

// Sweep runs one expiry pass over challenges and correlation rows.
func (a *App) Sweep(ctx context.Context) (map[string]int64, error) {
	return a.sweeper.RunOnce(ctx)
}

// Run starts every registered bot, the sweeps and the metrics listener, then
// blocks until ctx is cancelled. SIGHUP reconciles the running bots with the
// registry.
func (a *App) Run(ctx context.Context) error {
	start := time.Now()
	metricsDone := make(chan error, 1)
	go func() { metricsDone <- metrics.Serve(ctx, a.cfg.Metrics.Listen, a.gatherer) }()

	if _, err := a.Sweep(ctx); err != nil {
		logger.Warn(ctx, component, "sweep.startup_failed", logger.Err(err))
	}
	if err := a.Reconcile(ctx); err != nil {
		logger.Warn(ctx, component, "bots.partial_start", logger.Err(err))
	}
	if err := a.sweeper.Start(ctx, a.cfg.Relay.SweepSchedule); err != nil {
		return err
	}
	logger.Info(ctx, component, "ready",
		slog.Any("bots", a.supervisor.Running()),
		slog.Duration("startup_duration", logger.Took(start)),
	)

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-hup:
			if err := a.Reconcile(ctx); err != nil {
				logger.Warn(ctx, component, "bots.reload_failed", logger.Err(err))
			}
		case err := <-metricsDone:
			if err != nil {
				runErr = err
				break loop
			}
			metricsDone = nil
		}
	}

	logger.Info(ctx, component, "shutdown")
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(stopCtx))
}

// Shutdown stops the sweeps, every worker and the outbound queue.
func (a *App) Shutdown(ctx context.Context) error {
	a.sweeper.Stop(ctx)
	err := a.supervisor.Stop(ctx)
	a.sender.Close()
	a.mu.Lock()
	a.known = make(map[string]time.Time)
	a.mu.Unlock()
	return err
}

// Reconcile aligns the running workers with the registry: new bots start,
// removed bots stop and bots whose row changed restart with the new identity.
func (a *App) Reconcile(ctx context.Context) error {
	bots, err := a.Bots.List(ctx)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	if len(bots) == 0 {
		logger.Warn(ctx, component, "bots.none_registered")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	wanted := make(map[string]botreg.Bot, len(bots))
	for _, b := range bots {
		wanted[b.Username] = b
	}
	var errs []error
	for _, name := range a.supervisor.Running() {
		if _, ok := wanted[name]; ok {
			continue
		}
		if _, err := a.supervisor.StopBot(ctx, name); err != nil {
			errs = append(errs, err)
		}
		a.forget(name)
	}
	running := make(map[string]struct{})
	for _, name := range a.supervisor.Running() {
		running[name] = struct{}{}
	}
	for _, b := range bots {
		_, isRunning := running[b.Username]
		switch {
		case !isRunning:
			err = a.supervisor.StartBot(ctx, b)
		case !a.known[b.Username].Equal(b.UpdatedAt):
			err = a.supervisor.Restart(ctx, b)
		default:
			continue
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		a.known[b.Username] = b.UpdatedAt
	}
	return errors.Join(errs...)
}

func (a *App) forget(name string) {
	delete(a.known, name)
	a.Correlations.Forget(name)
	a.Gate.Forget(name)
	a.Blocklist.Forget(name)
}

func (a *App) buildWorker(ctx context.Context, b botreg.Bot) (supervisor.Worker, error) {
	if err := a.Correlations.Rehydrate(ctx, b.Username); err != nil {
		return nil, err
	}
	onLimited := func(c tele.Context) error {
		kind := "message"
		if c.Callback() != nil {
			kind = "callback"
		}
		a.metrics.Event(b.Username, kind, "rate_limited")
		return nil
	}
	w, err := telegram.NewWorker(telegram.WorkerOptions{
		Name:   b.Username,
		Token:  b.Token,
		Client: a.client,
		Poller: telegram.PollerOptions{
			LongPollTimeoutSeconds: a.cfg.Telegram.LongPollTimeoutSeconds,
			AllowedUpdates:         a.cfg.Telegram.AllowedUpdates,
		},
		QueueSize:          a.cfg.Telegram.QueueSize,
		SkipWebhookCleanup: a.cfg.Telegram.SkipWebhookCleanup,
		OperatorID:         b.OwnerID,
		Registry:           a.commands,
		Middlewares:        telegram.DefaultMiddlewares(&a.cfg.Config, b.Username, b.OwnerID, onLimited, a.metrics.UpdateObserver(b.Username)),
		Handler: func(bot *tele.Bot) tele.HandlerFunc {
			return tgrelay.Handler(a.Dispatcher(b, tgrelay.NewTransport(bot)))
		},
	})
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Dispatcher builds the relay dispatcher of b on top of tr.
func (a *App) Dispatcher(b botreg.Bot, tr relay.Transport) *relay.Dispatcher {
	return relay.New(b, relay.Deps{
		Transport: tr,
		Scheduler: a.sender,
		Gate:      a.Gate,
		Access:    a.Blocklist,
		Mapper:    a.Correlations.ForBot(b.Username),
		Topics:    topics.NewManager(tr),
		Welcome:   a.Bots,
		Metrics:   a.metrics,
	}, relay.Options{
		AckDelay:       a.cfg.Relay.AckDelay,
		NoticeDelay:    a.cfg.Relay.NoticeDelay,
		DefaultWelcome: a.cfg.Relay.DefaultWelcome,
	})
}
