// Package sqlite provides a SQLite-backed QuotaStore for single-node
// deployments that need counters to survive restarts.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ineyio/llmgate"
)

// Store is a SQLite-backed QuotaStore.
type Store struct {
	db *sql.DB
}

var (
	_ llmgate.QuotaStore = (*Store)(nil)
	_ llmgate.Pinger     = (*Store)(nil)
)

// Open opens (or creates) the database at path and migrates it.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("llmgate/sqlite: open: %w", err)
	}
	// One writer at a time; the conditional UPDATE does the rest.
	db.SetMaxOpenConns(1)

	s := New(db)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing database handle. Call Migrate before use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the usage table if it doesn't exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS usage (
		user_id TEXT NOT NULL,
		period TEXT NOT NULL,
		count INTEGER NOT NULL,
		tier TEXT NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, period)
	)`)
	if err != nil {
		return fmt.Errorf("llmgate/sqlite: migrate: %w", err)
	}
	return nil
}

// Get returns the record for (userID, period).
func (s *Store) Get(ctx context.Context, userID, period string) (llmgate.UsageRecord, error) {
	rec := llmgate.UsageRecord{UserID: userID, Period: period}
	var updatedAt int64
	err := s.db.QueryRowContext(ctx,
		"SELECT count, tier, updated_at FROM usage WHERE user_id = ? AND period = ?",
		userID, period,
	).Scan(&rec.Count, &rec.Tier, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return llmgate.UsageRecord{}, llmgate.ErrRecordNotFound
	}
	if err != nil {
		return llmgate.UsageRecord{}, fmt.Errorf("llmgate/sqlite: get: %w", err)
	}
	rec.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return rec, nil
}

// CreateIfAbsent stores rec unless its key is taken.
func (s *Store) CreateIfAbsent(ctx context.Context, rec llmgate.UsageRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO usage (user_id, period, count, tier, updated_at) VALUES (?, ?, ?, ?, ?)",
		rec.UserID, rec.Period, rec.Count, rec.Tier, updatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("llmgate/sqlite: create: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("llmgate/sqlite: create: %w", err)
	}
	if n == 0 {
		return llmgate.ErrAlreadyExists
	}
	return nil
}

// ConditionalUpdate swaps the count from expected to next.
func (s *Store) ConditionalUpdate(ctx context.Context, userID, period string, expected, next int64, tier string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE usage SET count = ?, tier = ?, updated_at = ? WHERE user_id = ? AND period = ? AND count = ?",
		next, tier, time.Now().UnixNano(), userID, period, expected,
	)
	if err != nil {
		return fmt.Errorf("llmgate/sqlite: update: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("llmgate/sqlite: update: %w", err)
	}
	if n == 0 {
		return llmgate.ErrConcurrentModification
	}
	return nil
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
