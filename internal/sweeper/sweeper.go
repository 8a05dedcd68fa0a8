// Package sweeper expires stale pending challenges and correlation rows on a
// cron schedule.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/m3rciful/relaybot/core/logger"
)

const component = "sweeper"

// SweepFunc removes rows older than maxAge and returns how many went away.
type SweepFunc func(ctx context.Context, maxAge time.Duration) (int64, error)

// Target is one expiring data set.
type Target struct {
	Name   string
	MaxAge time.Duration
	Sweep  SweepFunc
}

// Parser accepts standard five-field expressions, an optional seconds field
// and descriptors such as "@hourly".
var Parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate reports whether spec parses.
func Validate(spec string) error {
	if _, err := Parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// Sweeper runs every target once per tick.
type Sweeper struct {
	targets []Target
	// OnSwept, when set, receives the per-target removal count.
	OnSwept func(target string, removed int64)

	mu   sync.Mutex
	cron *cron.Cron
}

// New builds a sweeper over targets. Targets with a non-positive MaxAge are skipped.
func New(targets ...Target) *Sweeper {
	kept := make([]Target, 0, len(targets))
	for _, t := range targets {
		if t.MaxAge > 0 && t.Sweep != nil {
			kept = append(kept, t)
		}
	}
	return &Sweeper{targets: kept}
}

// RunOnce sweeps every target. A failing target does not stop the others.
func (s *Sweeper) RunOnce(ctx context.Context) (map[string]int64, error) {
	start := time.Now()
	counts := make(map[string]int64, len(s.targets))
	var errs []error
	for _, t := range s.targets {
		n, err := t.Sweep(ctx, t.MaxAge)
		if err != nil {
			logger.Error(ctx, component, "sweep.failed",
				slog.String("target", t.Name),
				logger.Err(err),
			)
			errs = append(errs, fmt.Errorf("sweep %s: %w", t.Name, err))
			continue
		}
		counts[t.Name] = n
		if s.OnSwept != nil {
			s.OnSwept(t.Name, n)
		}
	}
	logger.Info(ctx, component, "sweep.completed",
		slog.Any("counts", counts),
		slog.Duration("duration", logger.Took(start)),
	)
	return counts, errors.Join(errs...)
}

// Start schedules RunOnce on spec. Ticks run detached from ctx cancellation
// but keep its values.
func (s *Sweeper) Start(ctx context.Context, spec string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return errors.New("sweeper: already started")
	}
	c := cron.New(cron.WithParser(Parser), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	base := context.WithoutCancel(ctx)
	if _, err := c.AddFunc(spec, func() {
		_, _ = s.RunOnce(base)
	}); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	c.Start()
	s.cron = c
	logger.Info(ctx, component, "sweeper.scheduled", slog.String("schedule", spec))
	return nil
}

// Stop halts the schedule and waits for a running tick to finish or ctx to end.
func (s *Sweeper) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
