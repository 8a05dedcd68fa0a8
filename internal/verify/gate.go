package verify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
)

const component = "verify"

// Result is the outcome of checking an answer.
type Result int

const (
	NoChallenge Result = iota
	Incorrect
	Correct
)

func (r Result) String() string {
	switch r {
	case Correct:
		return "correct"
	case Incorrect:
		return "incorrect"
	default:
		return "no_challenge"
	}
}

type userKey struct {
	bot  string
	user int64
}

// Gate tracks the unverified -> challenged -> verified progression of senders.
// Pending challenges and verified principals are cached in memory in front of
// the durable repository.
type Gate struct {
	repo *Repository
	gen  *Generator
	now  func() time.Time

	mu       sync.RWMutex
	pending  map[userKey]Pending
	verified map[userKey]struct{}
}

// NewGate builds a Gate. gen may be nil.
func NewGate(repo *Repository, gen *Generator) *Gate {
	if gen == nil {
		gen = NewGenerator(nil)
	}
	return &Gate{
		repo:     repo,
		gen:      gen,
		now:      time.Now,
		pending:  make(map[userKey]Pending),
		verified: make(map[userKey]struct{}),
	}
}

// SetClock overrides the time source, used by tests.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// IsVerified reports whether the sender already passed verification.
func (g *Gate) IsVerified(ctx context.Context, bot string, userID int64) (bool, error) {
	k := userKey{bot, userID}
	g.mu.RLock()
	_, ok := g.verified[k]
	g.mu.RUnlock()
	if ok {
		return true, nil
	}
	ok, err := g.repo.IsVerified(ctx, bot, userID)
	if err != nil {
		return false, err
	}
	if ok {
		g.mu.Lock()
		g.verified[k] = struct{}{}
		g.mu.Unlock()
	}
	return ok, nil
}

// Issue generates a new challenge for the sender, replacing any pending one.
func (g *Gate) Issue(ctx context.Context, bot string, userID int64) (Challenge, error) {
	c := g.gen.Next()
	p := Pending{
		Bot:      bot,
		UserID:   userID,
		Category: c.Category,
		Prompt:   c.Prompt,
		Answer:   c.Answer,
		IssuedAt: g.now().UTC(),
	}
	if err := g.repo.SavePending(ctx, p); err != nil {
		return Challenge{}, err
	}
	g.mu.Lock()
	g.pending[userKey{bot, userID}] = p
	g.mu.Unlock()

	logger.Info(ctx, component, "challenge.issued",
		slog.String("category", string(c.Category)),
		slog.Int64("target_user", userID),
	)
	return c, nil
}

// Pending returns the outstanding challenge, checking the cache before the
// durable store so a restart shows the same question again.
func (g *Gate) Pending(ctx context.Context, bot string, userID int64) (Challenge, bool, error) {
	k := userKey{bot, userID}
	g.mu.RLock()
	p, ok := g.pending[k]
	g.mu.RUnlock()
	if ok {
		return p.Challenge(), true, nil
	}
	p, ok, err := g.repo.GetPending(ctx, bot, userID)
	if err != nil || !ok {
		return Challenge{}, false, err
	}
	g.mu.Lock()
	g.pending[k] = p
	g.mu.Unlock()
	return p.Challenge(), true, nil
}

// Check compares input against the pending challenge. A correct answer marks
// the sender verified and clears the challenge; a wrong one leaves it intact.
func (g *Gate) Check(ctx context.Context, p Principal, input string) (Result, error) {
	c, ok, err := g.Pending(ctx, p.Bot, p.UserID)
	if err != nil {
		return NoChallenge, err
	}
	if !ok {
		return NoChallenge, nil
	}
	if !c.Matches(input) {
		logger.Debug(ctx, component, "challenge.mismatch",
			slog.String("category", string(c.Category)),
			slog.Int64("target_user", p.UserID),
		)
		return Incorrect, nil
	}

	p.VerifiedAt = g.now().UTC()
	if err := g.repo.MarkVerified(ctx, p); err != nil {
		return NoChallenge, err
	}
	k := userKey{p.Bot, p.UserID}
	g.mu.Lock()
	delete(g.pending, k)
	g.verified[k] = struct{}{}
	g.mu.Unlock()

	logger.Info(ctx, component, "user.verified",
		slog.String("category", string(c.Category)),
		slog.Int64("target_user", p.UserID),
	)
	return Correct, nil
}

// Unverify returns the sender to the unverified state.
func (g *Gate) Unverify(ctx context.Context, bot string, userID int64) (bool, error) {
	removed, err := g.repo.Unverify(ctx, bot, userID)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	delete(g.verified, userKey{bot, userID})
	g.mu.Unlock()
	return removed, nil
}

// CountVerified returns the number of verified principals of bot.
func (g *Gate) CountVerified(ctx context.Context, bot string) (int, error) {
	return g.repo.CountVerified(ctx, bot)
}

// Forget drops every cached entry of bot.
func (g *Gate) Forget(bot string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for k := range g.pending {
		if k.bot == bot {
			delete(g.pending, k)
		}
	}
	for k := range g.verified {
		if k.bot == bot {
			delete(g.verified, k)
		}
	}
}

// Sweep discards challenges issued more than maxAge ago.
func (g *Gate) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := g.now().Add(-maxAge)
	n, err := g.repo.SweepPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	pruned := 0
	g.mu.Lock()
	for k, p := range g.pending {
		if p.IssuedAt.Before(cutoff) {
			delete(g.pending, k)
			pruned++
		}
	}
	g.mu.Unlock()

	logger.Info(ctx, component, "sweep.done",
		slog.Int64("count", n),
		slog.Int("cache_pruned", pruned),
		slog.Duration("max_age", maxAge),
	)
	return n, nil
}
