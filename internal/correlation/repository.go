package correlation

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/relaybot/core/database"
)

// Record is one durable correlation row.
type Record struct {
	Bot       string        `db:"bot_username"`
	Namespace Namespace     `db:"namespace"`
	Key       string        `db:"map_key"`
	Value     string        `db:"map_value"`
	UserID    sql.NullInt64 `db:"user_id"`
	CreatedAt time.Time     `db:"created_at"`
	UpdatedAt time.Time     `db:"updated_at"`
}

// Repository persists correlation rows.
type Repository struct {
	store *database.Store
}

// NewRepository builds a Repository on top of the shared store.
func NewRepository(store *database.Store) *Repository {
	return &Repository{store: store}
}

// Upsert replaces any row for (bot, namespace, key) with rec.
func (r *Repository) Upsert(ctx context.Context, rec Record) error {
	if !rec.Namespace.Valid() {
		return fmt.Errorf("correlation: unknown namespace %q", rec.Namespace)
	}
	return r.store.Write(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`DELETE FROM correlations WHERE bot_username = ? AND namespace = ? AND map_key = ?`),
			rec.Bot, rec.Namespace, rec.Key,
		); err != nil {
			return fmt.Errorf("delete correlation: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO correlations (bot_username, namespace, map_key, map_value, user_id, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`),
			rec.Bot, rec.Namespace, rec.Key, rec.Value, rec.UserID, rec.CreatedAt.UTC(), rec.UpdatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert correlation: %w", err)
		}
		return nil
	})
}

// Get returns the most recently updated row for the key.
func (r *Repository) Get(ctx context.Context, bot string, ns Namespace, key string) (Record, bool, error) {
	var rec Record
	db := r.store.DB()
	err := db.GetContext(ctx, &rec, db.Rebind(
		`SELECT bot_username, namespace, map_key, map_value, user_id, created_at, updated_at
		 FROM correlations WHERE bot_username = ? AND namespace = ? AND map_key = ?
		 ORDER BY updated_at DESC LIMIT 1`),
		bot, ns, key,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get correlation: %w", err)
	}
	return rec, true, nil
}

// All returns the whole namespace for bot, oldest update first.
func (r *Repository) All(ctx context.Context, bot string, ns Namespace) ([]Record, error) {
	var recs []Record
	db := r.store.DB()
	err := db.SelectContext(ctx, &recs, db.Rebind(
		`SELECT bot_username, namespace, map_key, map_value, user_id, created_at, updated_at
		 FROM correlations WHERE bot_username = ? AND namespace = ?
		 ORDER BY updated_at ASC`),
		bot, ns,
	)
	if err != nil {
		return nil, fmt.Errorf("list correlations: %w", err)
	}
	return recs, nil
}

// Count returns the number of rows stored for bot.
func (r *Repository) Count(ctx context.Context, bot string) (int, error) {
	var n int
	db := r.store.DB()
	if err := db.GetContext(ctx, &n, db.Rebind(`SELECT COUNT(*) FROM correlations WHERE bot_username = ?`), bot); err != nil {
		return 0, fmt.Errorf("count correlations: %w", err)
	}
	return n, nil
}

// DeleteBot removes every row of bot.
func (r *Repository) DeleteBot(ctx context.Context, bot string) (int64, error) {
	var n int64
	err := r.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM correlations WHERE bot_username = ?`), bot)
		if err != nil {
			return fmt.Errorf("delete bot correlations: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// SweepOlderThan deletes rows created before cutoff across all bots.
func (r *Repository) SweepOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := r.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM correlations WHERE created_at < ?`), cutoff.UTC())
		if err != nil {
			return fmt.Errorf("sweep correlations: %w", err)
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}
