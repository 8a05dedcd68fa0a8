// Package botreg stores bot identities and process-wide settings.
package botreg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
)

const component = "botreg"

// Topology is the delivery shape of a bot.
type Topology string

const (
	Direct  Topology = "direct"
	Grouped Topology = "grouped"
)

// ParseTopology accepts "direct" or "grouped" in any case.
func ParseTopology(s string) (Topology, error) {
	switch t := Topology(strings.ToLower(strings.TrimSpace(s))); t {
	case Direct, Grouped:
		return t, nil
	case "":
		return Direct, nil
	default:
		return "", fmt.Errorf("invalid topology %q; allowed: direct, grouped", s)
	}
}

// ErrNotFound is returned when a bot is not registered.
var ErrNotFound = errors.New("bot not registered")

const globalWelcomeKey = "global_welcome"

// Bot is one registered bot identity.
type Bot struct {
	Username    string        `db:"bot_username"`
	Token       string        `db:"token"`
	OwnerID     int64         `db:"owner_id"`
	Topology    Topology      `db:"topology"`
	GroupChatID sql.NullInt64 `db:"group_chat_id"`
	WelcomeText string        `db:"welcome_text"`
	CreatedAt   time.Time     `db:"created_at"`
	UpdatedAt   time.Time     `db:"updated_at"`
}

// GroupID returns the operator group of a grouped bot, or 0 when none is set.
func (b Bot) GroupID() int64 {
	if !b.GroupChatID.Valid {
		return 0
	}
	return b.GroupChatID.Int64
}

// Stats summarizes the stored state of one bot.
type Stats struct {
	Verified int
	Pending  int
	Blocked  int
	Mappings int
}

// Registry persists bots in the bots table.
type Registry struct {
	store *database.Store
	now   func() time.Time
}

// NewRegistry builds a Registry on top of the shared store.
func NewRegistry(store *database.Store) *Registry {
	return &Registry{store: store, now: time.Now}
}

const botColumns = `bot_username, token, owner_id, topology, group_chat_id, welcome_text, created_at, updated_at`

// List returns every bot ordered by username.
func (r *Registry) List(ctx context.Context) ([]Bot, error) {
	var bots []Bot
	if err := r.store.DB().SelectContext(ctx, &bots,
		`SELECT `+botColumns+` FROM bots ORDER BY bot_username`); err != nil {
		return nil, fmt.Errorf("list bots: %w", err)
	}
	return bots, nil
}

// Get loads one bot by username.
func (r *Registry) Get(ctx context.Context, username string) (Bot, error) {
	var b Bot
	db := r.store.DB()
	err := db.GetContext(ctx, &b, db.Rebind(`SELECT `+botColumns+` FROM bots WHERE bot_username = ?`), username)
	if errors.Is(err, sql.ErrNoRows) {
		return Bot{}, fmt.Errorf("%s: %w", username, ErrNotFound)
	}
	if err != nil {
		return Bot{}, fmt.Errorf("get bot: %w", err)
	}
	return b, nil
}

// Upsert inserts b or updates every mutable column of an existing row.
func (r *Registry) Upsert(ctx context.Context, b Bot) error {
	if b.Username == "" || b.Token == "" || b.OwnerID <= 0 {
		return fmt.Errorf("bot username, token and owner id are required")
	}
	topo, err := ParseTopology(string(b.Topology))
	if err != nil {
		return err
	}
	now := r.now().UTC()
	return r.store.Write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO bots (`+botColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (bot_username) DO UPDATE
			 SET token = excluded.token, owner_id = excluded.owner_id, topology = excluded.topology,
			     group_chat_id = excluded.group_chat_id, welcome_text = excluded.welcome_text,
			     updated_at = excluded.updated_at`),
			b.Username, b.Token, b.OwnerID, topo, b.GroupChatID, b.WelcomeText, now, now,
		)
		if err != nil {
			return fmt.Errorf("upsert bot: %w", err)
		}
		return nil
	})
}

// SetTopology switches the delivery shape. Correlation rows of the previous
// topology are left in place.
func (r *Registry) SetTopology(ctx context.Context, username string, topo Topology, groupChatID int64) error {
	group := sql.NullInt64{Int64: groupChatID, Valid: groupChatID != 0}
	return r.update(ctx, username,
		`UPDATE bots SET topology = ?, group_chat_id = ?, updated_at = ? WHERE bot_username = ?`,
		topo, group, r.now().UTC(), username)
}

// SetWelcome replaces the bot specific welcome text. Empty falls back to the global one.
func (r *Registry) SetWelcome(ctx context.Context, username, text string) error {
	return r.update(ctx, username,
		`UPDATE bots SET welcome_text = ?, updated_at = ? WHERE bot_username = ?`,
		text, r.now().UTC(), username)
}

func (r *Registry) update(ctx context.Context, username, query string, args ...any) error {
	return r.store.Write(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return fmt.Errorf("update bot: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("%s: %w", username, ErrNotFound)
		}
		return nil
	})
}

// Delete removes the bot and every row that depends on it.
func (r *Registry) Delete(ctx context.Context, username string) error {
	start := time.Now()
	removed := make(map[string]int64, 5)
	err := r.store.Write(ctx, func(tx *sqlx.Tx) error {
		for _, table := range []string{"correlations", "pending_challenges", "verified_users", "blocklist", "bots"} {
			res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM `+table+` WHERE bot_username = ?`), username)
			if err != nil {
				return fmt.Errorf("delete %s: %w", table, err)
			}
			removed[table], _ = res.RowsAffected()
		}
		if removed["bots"] == 0 {
			return fmt.Errorf("%s: %w", username, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		return err
	}
	logger.Info(logger.WithBot(ctx, username), component, "bot.deleted",
		slog.Int64("correlations", removed["correlations"]),
		slog.Int64("pending", removed["pending_challenges"]),
		slog.Int64("verified", removed["verified_users"]),
		slog.Int64("blocked", removed["blocklist"]),
		slog.Duration("duration", logger.Took(start)),
	)
	return nil
}

// Stats counts the stored state of one bot.
func (r *Registry) Stats(ctx context.Context, username string) (Stats, error) {
	var s Stats
	db := r.store.DB()
	counts := []struct {
		dst   *int
		table string
	}{
		{&s.Verified, "verified_users"},
		{&s.Pending, "pending_challenges"},
		{&s.Blocked, "blocklist"},
		{&s.Mappings, "correlations"},
	}
	for _, c := range counts {
		if err := db.GetContext(ctx, c.dst, db.Rebind(
			`SELECT COUNT(*) FROM `+c.table+` WHERE bot_username = ?`), username); err != nil {
			return Stats{}, fmt.Errorf("count %s: %w", c.table, err)
		}
	}
	return s, nil
}

// GlobalWelcome returns the process-wide welcome text, empty when unset.
func (r *Registry) GlobalWelcome(ctx context.Context) (string, error) {
	var v string
	db := r.store.DB()
	err := db.GetContext(ctx, &v, db.Rebind(`SELECT value FROM global_settings WHERE name = ?`), globalWelcomeKey)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get global welcome: %w", err)
	}
	return v, nil
}

// SetGlobalWelcome stores the process-wide welcome text.
func (r *Registry) SetGlobalWelcome(ctx context.Context, text string) error {
	return r.store.Write(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, tx.Rebind(
			`INSERT INTO global_settings (name, value, updated_at) VALUES (?, ?, ?)
			 ON CONFLICT (name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`),
			globalWelcomeKey, text, r.now().UTC(),
		)
		if err != nil {
			return fmt.Errorf("set global welcome: %w", err)
		}
		return nil
	})
}

// Welcome resolves the text sent after verification: the bot's own text, then
// the global one, then fallback.
func (r *Registry) Welcome(ctx context.Context, b Bot, fallback string) string {
	if strings.TrimSpace(b.WelcomeText) != "" {
		return b.WelcomeText
	}
	global, err := r.GlobalWelcome(ctx)
	if err != nil {
		logger.Warn(logger.WithBot(ctx, b.Username), component, "welcome.global_failed", logger.Err(err))
	}
	if strings.TrimSpace(global) != "" {
		return global
	}
	return fallback
}
