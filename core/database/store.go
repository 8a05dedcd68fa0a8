package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
)

// Store pairs a connection with the single process-wide write lock.
// Reads go straight to the connection; every mutation goes through Write.
type Store struct {
	db *sqlx.DB
	mu *sync.Mutex
}

// NewStore wraps db. All repositories built from the same Store share one lock.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db, mu: &sync.Mutex{}}
}

// DB exposes the connection for unlocked reads.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Write runs fn inside a transaction while holding the write lock.
func (s *Store) Write(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}
