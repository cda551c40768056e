package store

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"time"

	"grocery-order-service/config"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is the Postgres-backed repository. Its embedded Queries run outside
// of a transaction; use InTx for units of work that must commit atomically.
type Store struct {
	*Queries
	db         *sqlx.DB
	timeout    time.Duration
	maxRetries int
}

// NewStore creates a new database store
func NewStore(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sqlx.Connect("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return New(db, cfg.StatementTimeout), nil
}

// New wraps an existing connection. A zero timeout leaves units of work
// bounded only by the caller's context.
func New(db *sqlx.DB, timeout time.Duration) *Store {
	return &Store{
		Queries:    &Queries{q: db},
		db:         db,
		timeout:    timeout,
		maxRetries: 3,
	}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks connectivity for the readiness check
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a single read-committed transaction. fn may be invoked
// more than once when Postgres reports a serialization failure, deadlock or
// lock timeout, so it must not keep state across attempts.
func (s *Store) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	backoff := 50 * time.Millisecond
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err := s.runTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			return err
		}
		lastErr = err
		if attempt == s.maxRetries {
			break
		}

		jitter := time.Duration(rand.Int63n(int64(backoff / 4)))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}

	return fmt.Errorf("max retries (%d) exceeded: %w", s.maxRetries, lastErr)
}

func (s *Store) runTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&Queries{q: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
