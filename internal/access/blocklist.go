// Package access keeps the per-bot block list. A block vetoes every relay
// decision regardless of verification state.
package access

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
)

const component = "access"

// Entry is one blocked sender.
type Entry struct {
	Bot       string    `db:"bot_username"`
	UserID    int64     `db:"user_id"`
	Reason    string    `db:"reason"`
	BlockedAt time.Time `db:"blocked_at"`
}

// List is the block list of every bot, backed by the blocklist table.
type List struct {
	store *database.Store
	now   func() time.Time

	mu     sync.RWMutex
	loaded map[string]map[int64]struct{}
}

// NewList builds a List. Bots are loaded lazily on first check.
func NewList(store *database.Store) *List {
	return &List{
		store:  store,
		now:    time.Now,
		loaded: make(map[string]map[int64]struct{}),
	}
}

func (l *List) members(ctx context.Context, bot string) (map[int64]struct{}, error) {
	l.mu.RLock()
	set, ok := l.loaded[bot]
	l.mu.RUnlock()
	if ok {
		return set, nil
	}

	var ids []int64
	db := l.store.DB()
	if err := db.SelectContext(ctx, &ids, db.Rebind(
		`SELECT user_id FROM blocklist WHERE bot_username = ?`), bot,
	); err != nil {
		return nil, fmt.Errorf("load blocklist: %w", err)
	}
	set = make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if existing, ok := l.loaded[bot]; ok {
		return existing, nil
	}
	l.loaded[bot] = set
	return set, nil
}

// IsBlocked reports whether userID is blocked on bot.
func (l *List) IsBlocked(ctx context.Context, bot string, userID int64) (bool, error) {
	set, err := l.members(ctx, bot)
	if err != nil {
		return false, err
	}
	l.mu.RLock()
	_, ok := set[userID]
	l.mu.RUnlock()
	return ok, nil
}

// Block adds userID to the list and reports whether it was not already there.
func (l *List) Block(ctx context.Context, bot string, userID int64, reason string) (bool, error) {
	set, err := l.members(ctx, bot)
	if err != nil {
		return false, err
	}
	var added bool
	err = l.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO blocklist (bot_username, user_id, reason, blocked_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT (bot_username, user_id) DO NOTHING`),
			bot, userID, reason, l.now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("insert blocklist: %w", err)
		}
		n, _ := res.RowsAffected()
		added = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	set[userID] = struct{}{}
	l.mu.Unlock()

	logger.Info(logger.WithBot(ctx, bot), component, "user.blocked",
		slog.Int64("target_user", userID),
		slog.Bool("changed", added),
	)
	return added, nil
}

// Unblock removes userID from the list and reports whether it was there.
func (l *List) Unblock(ctx context.Context, bot string, userID int64) (bool, error) {
	set, err := l.members(ctx, bot)
	if err != nil {
		return false, err
	}
	var removed bool
	err = l.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM blocklist WHERE bot_username = ? AND user_id = ?`), bot, userID)
		if err != nil {
			return fmt.Errorf("delete blocklist: %w", err)
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	l.mu.Lock()
	delete(set, userID)
	l.mu.Unlock()

	logger.Info(logger.WithBot(ctx, bot), component, "user.unblocked",
		slog.Int64("target_user", userID),
		slog.Bool("changed", removed),
	)
	return removed, nil
}

// Entries returns every block entry of bot, most recent first.
func (l *List) Entries(ctx context.Context, bot string) ([]Entry, error) {
	var entries []Entry
	db := l.store.DB()
	if err := db.SelectContext(ctx, &entries, db.Rebind(
		`SELECT bot_username, user_id, reason, blocked_at FROM blocklist
		 WHERE bot_username = ? ORDER BY blocked_at DESC, user_id`), bot,
	); err != nil {
		return nil, fmt.Errorf("list blocklist: %w", err)
	}
	return entries, nil
}

// Count returns how many senders bot blocks.
func (l *List) Count(ctx context.Context, bot string) (int, error) {
	var n int
	db := l.store.DB()
	if err := db.GetContext(ctx, &n, db.Rebind(
		`SELECT COUNT(*) FROM blocklist WHERE bot_username = ?`), bot,
	); err != nil {
		return 0, fmt.Errorf("count blocklist: %w", err)
	}
	return n, nil
}

// Forget drops the cached set of bot.
func (l *List) Forget(bot string) {
	l.mu.Lock()
	delete(l.loaded, bot)
	l.mu.Unlock()
}
