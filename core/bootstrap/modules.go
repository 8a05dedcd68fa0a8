package bootstrap

import (
	"context"

	coredatabase "github.com/m3rciful/relaybot/core/database"
)

// Seeder loads reference data into the store after migrations.
type Seeder interface {
	Seed(ctx context.Context, store *coredatabase.Store) error
}

// SeederFunc adapts a bare function to the Seeder interface.
type SeederFunc func(ctx context.Context, store *coredatabase.Store) error

// Seed executes the underlying function.
func (f SeederFunc) Seed(ctx context.Context, store *coredatabase.Store) error {
	return f(ctx, store)
}

// Modules groups optional bootstrapping hooks.
type Modules struct {
	Seeders []Seeder
}
