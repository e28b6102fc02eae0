package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
)

// Store provides methods for storing and retrieving data from the cache
type Store struct {
	cache  *Cache
	logger *logrus.Logger
}

// NewStore creates a new store instance
func NewStore(cache *Cache, logger *logrus.Logger) *Store {
	return &Store{
		cache:  cache,
		logger: logger,
	}
}

// Queries runs the cache's statements against either the database or one transaction
type Queries struct {
	ext sqlx.ExtContext
}

// Q returns queries that run outside any transaction.
// Never call it from inside an InTx callback: the cache holds a single
// connection and the call would wait on the open transaction.
func (s *Store) Q() *Queries {
	return &Queries{ext: s.cache.db}
}

// InTx runs fn inside one transaction, committing when fn returns nil
func (s *Store) InTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := s.cache.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := fn(&Queries{ext: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Close closes the underlying cache
func (s *Store) Close() error {
	return s.cache.Close()
}

func (q *Queries) get(ctx context.Context, dest interface{}, query string, args ...interface{}) (bool, error) {
	err := sqlx.GetContext(ctx, q.ext, dest, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (q *Queries) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	result, err := q.ext.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (q *Queries) insert(ctx context.Context, query string, arg interface{}) (int64, error) {
	result, err := sqlx.NamedExecContext(ctx, q.ext, query, arg)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// Now returns the current time in the cache's unix millisecond representation
func Now() int64 {
	return time.Now().UnixMilli()
}
