package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/m3rciful/relaybot/core/bootstrap"
	"github.com/m3rciful/relaybot/core/database"
	"github.com/m3rciful/relaybot/core/logger"
	"github.com/m3rciful/relaybot/internal/botreg"
)

// Seeders upserts the configured bots and the global welcome text.
func Seeders(cfg *Config) []bootstrap.Seeder {
	return []bootstrap.Seeder{
		bootstrap.SeederFunc(func(ctx context.Context, store *database.Store) error {
			return SeedBots(ctx, botreg.NewRegistry(store), cfg)
		}),
	}
}

// SeedBots writes every configured bot into reg. Bots already registered but
// absent from the config are left alone.
func SeedBots(ctx context.Context, reg *botreg.Registry, cfg *Config) error {
	for _, s := range cfg.Bots {
		if err := reg.Upsert(ctx, s.Bot()); err != nil {
			return fmt.Errorf("seed bot %s: %w", s.Username, err)
		}
		logger.LogEvent(logger.WithBot(ctx, s.Username), logger.SEED, slog.LevelInfo, "bot.seeded",
			slog.String("topology", s.Topology),
			slog.Int64("owner_id", s.OwnerID),
		)
	}
	if w := strings.TrimSpace(cfg.Relay.GlobalWelcome); w != "" {
		if err := reg.SetGlobalWelcome(ctx, w); err != nil {
			return fmt.Errorf("seed global welcome: %w", err)
		}
	}
	return nil
}
