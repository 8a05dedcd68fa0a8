package verify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/relaybot/core/database"
)

// Principal is a sender that passed verification.
type Principal struct {
	Bot         string    `db:"bot_username"`
	UserID      int64     `db:"user_id"`
	DisplayName string    `db:"display_name"`
	Handle      string    `db:"handle"`
	VerifiedAt  time.Time `db:"verified_at"`
}

// Pending is an outstanding challenge for one sender.
type Pending struct {
	Bot      string    `db:"bot_username"`
	UserID   int64     `db:"user_id"`
	Category Category  `db:"category"`
	Prompt   string    `db:"prompt"`
	Answer   string    `db:"answer"`
	IssuedAt time.Time `db:"issued_at"`
}

// Challenge returns the question part of p.
func (p Pending) Challenge() Challenge {
	return Challenge{Category: p.Category, Prompt: p.Prompt, Answer: p.Answer}
}

// Repository persists verified principals and pending challenges.
type Repository struct {
	store *database.Store
}

// NewRepository builds a Repository on top of the shared store.
func NewRepository(store *database.Store) *Repository {
	return &Repository{store: store}
}

// SavePending replaces the pending challenge of (bot, user).
func (r *Repository) SavePending(ctx context.Context, p Pending) error {
	return r.store.Write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO pending_challenges (bot_username, user_id, category, prompt, answer, issued_at)
			 VALUES (?, ?, ?, ?, ?, ?)
			 ON CONFLICT (bot_username, user_id) DO UPDATE
			 SET category = excluded.category, prompt = excluded.prompt,
			     answer = excluded.answer, issued_at = excluded.issued_at`),
			p.Bot, p.UserID, p.Category, p.Prompt, p.Answer, p.IssuedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("save pending challenge: %w", err)
		}
		return nil
	})
}

// GetPending loads the pending challenge of (bot, user).
func (r *Repository) GetPending(ctx context.Context, bot string, userID int64) (Pending, bool, error) {
	var p Pending
	db := r.store.DB()
	err := db.GetContext(ctx, &p, db.Rebind(
		`SELECT bot_username, user_id, category, prompt, answer, issued_at
		 FROM pending_challenges WHERE bot_username = ? AND user_id = ?`),
		bot, userID,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Pending{}, false, nil
	}
	if err != nil {
		return Pending{}, false, fmt.Errorf("get pending challenge: %w", err)
	}
	return p, true, nil
}

// MarkVerified records principal as verified and drops its pending challenge
// in the same transaction.
func (r *Repository) MarkVerified(ctx context.Context, p Principal) error {
	return r.store.Write(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO verified_users (bot_username, user_id, display_name, handle, verified_at)
			 VALUES (?, ?, ?, ?, ?)
			 ON CONFLICT (bot_username, user_id) DO UPDATE
			 SET display_name = excluded.display_name, handle = excluded.handle, verified_at = excluded.verified_at`),
			p.Bot, p.UserID, p.DisplayName, p.Handle, p.VerifiedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert verified user: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM pending_challenges WHERE bot_username = ? AND user_id = ?`),
			p.Bot, p.UserID,
		); err != nil {
			return fmt.Errorf("clear pending challenge: %w", err)
		}
		return nil
	})
}

// IsVerified reports whether (bot, user) has a verified row.
func (r *Repository) IsVerified(ctx context.Context, bot string, userID int64) (bool, error) {
	var n int
	db := r.store.DB()
	if err := db.GetContext(ctx, &n, db.Rebind(
		`SELECT COUNT(*) FROM verified_users WHERE bot_username = ? AND user_id = ?`), bot, userID,
	); err != nil {
		return false, fmt.Errorf("check verified user: %w", err)
	}
	return n > 0, nil
}

// Unverify removes the verified row and reports whether one existed.
func (r *Repository) Unverify(ctx context.Context, bot string, userID int64) (bool, error) {
	var removed bool
	err := r.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM verified_users WHERE bot_username = ? AND user_id = ?`), bot, userID)
		if err != nil {
			return fmt.Errorf("delete verified user: %w", err)
		}
		n, _ := res.RowsAffected()
		removed = n > 0
		return nil
	})
	return removed, err
}

// CountVerified returns the number of verified principals of bot.
func (r *Repository) CountVerified(ctx context.Context, bot string) (int, error) {
	var n int
	db := r.store.DB()
	if err := db.GetContext(ctx, &n, db.Rebind(
		`SELECT COUNT(*) FROM verified_users WHERE bot_username = ?`), bot,
	); err != nil {
		return 0, fmt.Errorf("count verified users: %w", err)
	}
	return n, nil
}

// SweepPendingOlderThan deletes challenges issued before cutoff.
func (r *Repository) SweepPendingOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM pending_challenges WHERE issued_at < ?`), cutoff.UTC())
		if err != nil {
			return fmt.Errorf("sweep pending challenges: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
