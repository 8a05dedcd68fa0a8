// Package testutil opens throwaway databases for package tests.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/m3rciful/relaybot/core/database"
)

// SQLiteConfig returns a database config pointing at a fresh file in t's temp dir.
func SQLiteConfig(t testing.TB) database.Config {
	t.Helper()
	return database.Config{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "relay.db"),
	}
}

// OpenStore migrates a fresh SQLite database and wraps it in a Store that is
// closed when the test ends.
func OpenStore(t testing.TB) *database.Store {
	t.Helper()
	return OpenStoreAt(t, SQLiteConfig(t))
}

// OpenStoreAt migrates and opens cfg. Reopening the same path simulates a restart.
func OpenStoreAt(t testing.TB, cfg database.Config) *database.Store {
	t.Helper()
	if err := database.RunMigrations(cfg); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	db, err := database.Connect(cfg)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	store := database.NewStore(db)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
