// Package supervisor keeps one running relay worker per bot identity.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/botreg"
)

const component = "supervisor"

// Worker is one bot's update loop.
type Worker interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Factory builds the worker of a bot. It is called again on restart so the
// new worker sees the bot's current identity.
type Factory func(ctx context.Context, bot botreg.Bot) (Worker, error)

// Supervisor owns the set of running workers keyed by bot username.
type Supervisor struct {
	factory Factory
	// OnChange receives the number of running workers after every change.
	onChange func(running int)

	mu      sync.Mutex
	workers map[string]Worker
}

// New builds an empty supervisor.
func New(factory Factory, onChange func(running int)) *Supervisor {
	if onChange == nil {
		onChange = func(int) {}
	}
	return &Supervisor{
		factory:  factory,
		onChange: onChange,
		workers:  make(map[string]Worker),
	}
}

// Start starts one worker per bot. A bot that fails to start is logged and
// skipped; the others keep running. The error joins every failure.
func (s *Supervisor) Start(ctx context.Context, bots []botreg.Bot) error {
	var errs []error
	for _, b := range bots {
		if err := s.StartBot(ctx, b); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Info(ctx, component, "supervisor.started",
		slog.Int("count", len(s.Running())),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// StartBot builds and starts the worker of b. Starting a running bot is an error.
func (s *Supervisor) StartBot(ctx context.Context, b botreg.Bot) error {
	ctx = logger.WithBot(ctx, b.Username)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[b.Username]; ok {
		return fmt.Errorf("supervisor: bot %q already running", b.Username)
	}

	w, err := s.factory(ctx, b)
	if err != nil {
		logger.Error(ctx, component, "worker.build_failed", logger.Err(err))
		return fmt.Errorf("supervisor: build %q: %w", b.Username, err)
	}
	if err := w.Start(ctx); err != nil {
		logger.Error(ctx, component, "worker.start_failed", logger.Err(err))
		return fmt.Errorf("supervisor: start %q: %w", b.Username, err)
	}
	s.workers[b.Username] = w
	s.onChange(len(s.workers))
	logger.Info(ctx, component, "worker.running",
		slog.String("topology", string(b.Topology)),
		slog.Int("count", len(s.workers)),
	)
	return nil
}

// StopBot stops the worker of username. It reports whether one was running.
func (s *Supervisor) StopBot(ctx context.Context, username string) (bool, error) {
	s.mu.Lock()
	w, ok := s.workers[username]
	if ok {
		delete(s.workers, username)
		s.onChange(len(s.workers))
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	ctx = logger.WithBot(ctx, username)
	if err := w.Stop(ctx); err != nil {
		logger.Warn(ctx, component, "worker.stop_failed", logger.Err(err))
		return true, fmt.Errorf("supervisor: stop %q: %w", username, err)
	}
	logger.Info(ctx, component, "worker.stopped")
	return true, nil
}

// Restart replaces the worker of b, used after its identity changed.
func (s *Supervisor) Restart(ctx context.Context, b botreg.Bot) error {
	if _, err := s.StopBot(ctx, b.Username); err != nil {
		return err
	}
	return s.StartBot(ctx, b)
}

// Stop stops every worker concurrently and waits for all of them.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	workers := s.workers
	s.workers = make(map[string]Worker)
	s.onChange(0)
	s.mu.Unlock()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for name, w := range workers {
		wg.Add(1)
		go func(name string, w Worker) {
			defer wg.Done()
			if err := w.Stop(logger.WithBot(ctx, name)); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("supervisor: stop %q: %w", name, err))
				mu.Unlock()
			}
		}(name, w)
	}
	wg.Wait()
	logger.Info(ctx, component, "supervisor.stopped",
		slog.Int("count", len(workers)),
		slog.Int("failed", len(errs)),
	)
	return errors.Join(errs...)
}

// Running returns the usernames of running bots, sorted.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
