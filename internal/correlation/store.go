package correlation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/m3rciful/relaybot/core/logger"
)

const component = "correlation"

// Store owns one in-memory cache per bot on top of the durable Repository.
// The durable rows are authoritative: caches are rebuilt from them on start.
type Store struct {
	repo *Repository
	now  func() time.Time

	mu     sync.Mutex
	caches map[string]*cache
}

// NewStore builds an empty Store. Call Rehydrate for every bot before serving it.
func NewStore(repo *Repository) *Store {
	return &Store{
		repo:   repo,
		now:    time.Now,
		caches: make(map[string]*cache),
	}
}

// SetClock overrides the time source, used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Rehydrate replaces the cache of bot with the full content of every namespace.
func (s *Store) Rehydrate(ctx context.Context, bot string) error {
	start := time.Now()
	c := newCache()
	total := 0
	for _, ns := range Namespaces {
		recs, err := s.repo.All(ctx, bot, ns)
		if err != nil {
			return fmt.Errorf("rehydrate %s/%s: %w", bot, ns, err)
		}
		for _, rec := range recs {
			c.put(ns, rec.Key, entry{value: rec.Value, userID: rec.UserID.Int64, createdAt: rec.CreatedAt})
		}
		total += len(recs)
	}

	s.mu.Lock()
	s.caches[bot] = c
	s.mu.Unlock()

	logger.Info(logger.WithBot(ctx, bot), component, "cache.rehydrated",
		slog.Int("count", total),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// ForBot returns the typed view of bot's correlations, creating an empty cache if needed.
func (s *Store) ForBot(bot string) *Mapper {
	s.mu.Lock()
	c, ok := s.caches[bot]
	if !ok {
		c = newCache()
		s.caches[bot] = c
	}
	s.mu.Unlock()
	return &Mapper{bot: bot, store: s, cache: c}
}

// Forget drops the cache of bot.
func (s *Store) Forget(bot string) {
	s.mu.Lock()
	delete(s.caches, bot)
	s.mu.Unlock()
}

// CachedCount reports how many entries are cached for bot.
func (s *Store) CachedCount(bot string) int {
	s.mu.Lock()
	c, ok := s.caches[bot]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return c.size()
}

// Sweep removes rows older than maxAge from the durable store and every cache.
func (s *Store) Sweep(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := s.now().Add(-maxAge)
	n, err := s.repo.SweepOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	caches := make([]*cache, 0, len(s.caches))
	for _, c := range s.caches {
		caches = append(caches, c)
	}
	s.mu.Unlock()
	pruned := 0
	for _, c := range caches {
		pruned += c.prune(cutoff)
	}
	logger.Info(ctx, component, "sweep.done",
		slog.Int64("count", n),
		slog.Int("cache_pruned", pruned),
		slog.Duration("max_age", maxAge),
	)
	return n, nil
}

// Mapper is the per-bot, namespace-typed view used by the dispatcher.
type Mapper struct {
	bot   string
	store *Store
	cache *cache
}

// Bot returns the bot username the mapper is bound to.
func (m *Mapper) Bot() string {
	return m.bot
}

// Set writes the cache first and then the durable row. The two steps are not atomic.
func (m *Mapper) Set(ctx context.Context, ns Namespace, key, value string, userID int64) error {
	if !ns.Valid() {
		return fmt.Errorf("correlation: unknown namespace %q", ns)
	}
	now := m.store.now().UTC()
	m.cache.put(ns, key, entry{value: value, userID: userID, createdAt: now})

	rec := Record{
		Bot:       m.bot,
		Namespace: ns,
		Key:       key,
		Value:     value,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if userID != 0 {
		rec.UserID = sql.NullInt64{Int64: userID, Valid: true}
	}
	if err := m.store.repo.Upsert(ctx, rec); err != nil {
		logger.Error(logger.WithBot(ctx, m.bot), component, "set.persist_failed",
			slog.String("namespace", string(ns)),
			slog.String("key", key),
			logger.Err(err),
		)
		return fmt.Errorf("persist %s/%s: %w", ns, key, err)
	}
	return nil
}

// Get returns the current value for key. A cache miss falls back to the durable
// store and backfills the cache.
func (m *Mapper) Get(ctx context.Context, ns Namespace, key string) (string, bool) {
	e, ok := m.lookup(ctx, ns, key)
	return e.value, ok
}

func (m *Mapper) lookup(ctx context.Context, ns Namespace, key string) (entry, bool) {
	if e, ok := m.cache.get(ns, key); ok {
		return e, true
	}
	rec, ok, err := m.store.repo.Get(ctx, m.bot, ns, key)
	if err != nil {
		logger.Warn(logger.WithBot(ctx, m.bot), component, "get.db_failed",
			slog.String("namespace", string(ns)),
			slog.String("key", key),
			logger.Err(err),
		)
		return entry{}, false
	}
	if !ok {
		return entry{}, false
	}
	e := entry{value: rec.Value, userID: rec.UserID.Int64, createdAt: rec.CreatedAt}
	m.cache.put(ns, key, e)
	return e, true
}

// RecordDelivery stores the direct, user_forward and forward_user trio for a
// sender message that was delivered to the operator side.
func (m *Mapper) RecordDelivery(ctx context.Context, origin MessageKey, delivered int, sender int64) error {
	d := strconv.Itoa(delivered)
	return errors.Join(
		m.Set(ctx, Direct, d, idKey(sender), sender),
		m.Set(ctx, UserForward, origin.String(), d, sender),
		m.Set(ctx, ForwardUser, d, origin.String(), sender),
	)
}

// SenderOf resolves the sender behind a message delivered to the operator.
func (m *Mapper) SenderOf(ctx context.Context, delivered int) (int64, bool) {
	v, ok := m.Get(ctx, Direct, strconv.Itoa(delivered))
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(v, 10, 64)
	return id, err == nil
}

// DeliveredCopy returns the id of the operator-side copy of a sender message.
func (m *Mapper) DeliveredCopy(ctx context.Context, origin MessageKey) (int, bool) {
	return m.intValue(ctx, UserForward, origin.String())
}

// OriginOf returns the sender message behind an operator-side copy.
func (m *Mapper) OriginOf(ctx context.Context, delivered int) (MessageKey, bool) {
	v, ok := m.Get(ctx, ForwardUser, strconv.Itoa(delivered))
	if !ok {
		return MessageKey{}, false
	}
	key, err := ParseMessageKey(v)
	return key, err == nil
}

// RecordReply stores the owner_user record for an operator message copied to a sender.
func (m *Mapper) RecordReply(ctx context.Context, origin MessageKey, delivered int, sender int64) error {
	return m.Set(ctx, OwnerUser, origin.String(), strconv.Itoa(delivered), sender)
}

// ReplyCopy returns the sender-side copy of an operator message and the sender it went to.
func (m *Mapper) ReplyCopy(ctx context.Context, origin MessageKey) (int, int64, bool) {
	e, ok := m.lookup(ctx, OwnerUser, origin.String())
	if !ok {
		return 0, 0, false
	}
	id, err := strconv.Atoi(e.value)
	if err != nil {
		return 0, 0, false
	}
	return id, e.userID, true
}

// SetThread stores the thread assigned to a sender.
func (m *Mapper) SetThread(ctx context.Context, sender int64, thread int) error {
	return m.Set(ctx, Topic, idKey(sender), strconv.Itoa(thread), sender)
}

// ThreadOf returns the thread assigned to a sender.
func (m *Mapper) ThreadOf(ctx context.Context, sender int64) (int, bool) {
	return m.intValue(ctx, Topic, idKey(sender))
}

// SenderOfThread reverse-resolves a thread id to the sender it belongs to.
func (m *Mapper) SenderOfThread(ctx context.Context, thread int) (int64, bool) {
	t := strconv.Itoa(thread)
	if key, ok := m.cache.userByThread(t); ok {
		id, err := strconv.ParseInt(key, 10, 64)
		return id, err == nil
	}
	recs, err := m.store.repo.All(ctx, m.bot, Topic)
	if err != nil {
		logger.Warn(logger.WithBot(ctx, m.bot), component, "thread_scan.db_failed",
			slog.Int("thread_id", thread),
			logger.Err(err),
		)
		return 0, false
	}
	var (
		found int64
		ok    bool
	)
	// rows come oldest first; the last match is the current owner
	for _, rec := range recs {
		if rec.Value != t {
			continue
		}
		if id, err := strconv.ParseInt(rec.Key, 10, 64); err == nil {
			found, ok = id, true
		}
	}
	return found, ok
}

func (m *Mapper) intValue(ctx context.Context, ns Namespace, key string) (int, bool) {
	v, ok := m.Get(ctx, ns, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
