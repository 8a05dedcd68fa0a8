package bootstrap

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/jmoiron/sqlx"

	coreconfig "github.com/m3rciful/relaybot/core/config"
	coredatabase "github.com/m3rciful/relaybot/core/database"
)

func noLogger(*coreconfig.Config) error { return nil }

func TestRunOrderAndSeeders(t *testing.T) {
	dbCfg := coredatabase.Config{Driver: coredatabase.DriverSQLite, Path: filepath.Join(t.TempDir(), "relay.db")}
	var steps []string
	res, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		Database:   dbCfg,
		LoggerInit: func(*coreconfig.Config) error { steps = append(steps, "logger"); return nil },
		Migrate: func(c coredatabase.Config) error {
			steps = append(steps, "migrate")
			return coredatabase.RunMigrations(c)
		},
		Connect: func(c coredatabase.Config) (*sqlx.DB, error) {
			steps = append(steps, "connect")
			return coredatabase.Connect(c)
		},
		Modules: Modules{Seeders: []Seeder{
			SeederFunc(func(ctx context.Context, store *coredatabase.Store) error {
				steps = append(steps, "seed")
				return store.Write(ctx, func(tx *sqlx.Tx) error {
					_, err := tx.ExecContext(ctx, `INSERT INTO global_settings (name, value) VALUES ('k', 'v')`)
					return err
				})
			}),
		}},
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	t.Cleanup(func() { _ = res.Store.Close() })

	want := []string{"logger", "migrate", "connect", "seed"}
	if len(steps) != len(want) {
		t.Fatalf("steps = %v", steps)
	}
	for i := range want {
		if steps[i] != want[i] {
			t.Fatalf("steps = %v, want %v", steps, want)
		}
	}
}

func TestRunStopsOnFailures(t *testing.T) {
	if _, err := Run(context.Background(), Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}

	boom := errors.New("boom")
	_, err := Run(context.Background(), Options{
		Config:     &coreconfig.Config{},
		LoggerInit: noLogger,
		Migrate:    func(coredatabase.Config) error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}
