package database

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/relaybot/migrations"
)

func TestListMigrationFilesPerDriver(t *testing.T) {
	for _, driver := range []string{DriverPostgres, DriverSQLite} {
		files := listMigrationFiles(migrations.FS, driver)
		require.NotEmpty(t, files, driver)
		assert.Equal(t, "000001_init.up.sql", files[0])
	}
}

func TestSelectApplied(t *testing.T) {
	files := []string{"000001_init.up.sql", "000002_more.up.sql", "000003_last.up.sql"}
	assert.Equal(t, []string{"000002_more.up.sql", "000003_last.up.sql"}, selectApplied(files, 1, 3))
	assert.Empty(t, selectApplied(files, 3, 3))
}

func TestConfigNormalize(t *testing.T) {
	cfg := Config{Driver: "SQLite"}
	assert.Error(t, cfg.Normalize())

	cfg = Config{Driver: "sqlite", Path: "relay.db"}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, DriverSQLite, cfg.Driver)
	assert.Equal(t, 4, cfg.MaxConnections)
	assert.Equal(t, "sqlite://relay.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", cfg.MigrateURL())

	cfg = Config{Host: "db", Name: "relay", User: "u", Password: "p@ss"}
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, DriverPostgres, cfg.Driver)
	assert.Equal(t, "postgres://u:p%40ss@db:5432/relay?sslmode=disable", cfg.MigrateURL())

	cfg = Config{Driver: "mysql"}
	assert.Error(t, cfg.Normalize())
}

func TestSQLiteMigrateAndWrite(t *testing.T) {
	cfg := Config{Driver: DriverSQLite, Path: filepath.Join(t.TempDir(), "relay.db")}
	require.NoError(t, RunMigrations(cfg))
	require.NoError(t, RunMigrations(cfg), "second run is a no-op")

	db, err := Connect(cfg)
	require.NoError(t, err)
	store := NewStore(db)
	t.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.Write(ctx, func(tx *sqlx.Tx) error {
				_, err := tx.ExecContext(ctx, tx.Rebind(`INSERT INTO global_settings (name, value) VALUES (?, ?)`),
					"k"+string(rune('a'+i)), "v")
				return err
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	var n int
	require.NoError(t, store.DB().GetContext(ctx, &n, `SELECT COUNT(*) FROM global_settings`))
	assert.Equal(t, 8, n)
}
