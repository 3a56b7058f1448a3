// Package postgres provides a PostgreSQL-backed QuotaStore for llmgate.
//
// Usage records live in one table keyed by (user_id, period). Creation uses
// INSERT ... ON CONFLICT DO NOTHING and updates are guarded by the expected
// count in the WHERE clause, so concurrent writers never lose an increment.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ineyio/llmgate"
)

// Store is a PostgreSQL-backed QuotaStore.
type Store struct {
	pool        *pgxpool.Pool
	tablePrefix string
}

var (
	_ llmgate.QuotaStore = (*Store)(nil)
	_ llmgate.Pinger     = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithTablePrefix sets the table name prefix (default "llmgate_").
func WithTablePrefix(prefix string) Option {
	return func(s *Store) { s.tablePrefix = prefix }
}

// New creates a new PostgreSQL-backed QuotaStore.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	s := &Store{
		pool:        pool,
		tablePrefix: "llmgate_",
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageTable() string { return s.tablePrefix + "usage" }

// EnsureSchema creates the usage table if it doesn't exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	q := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT NOT NULL,
			period TEXT NOT NULL,
			count BIGINT NOT NULL CHECK (count >= 0),
			tier TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, period)
		);
	`, s.usageTable())
	if _, err := s.pool.Exec(ctx, q); err != nil {
		return fmt.Errorf("llmgate/postgres: ensure schema: %w", err)
	}
	return nil
}

// Get returns the record for (userID, period).
func (s *Store) Get(ctx context.Context, userID, period string) (llmgate.UsageRecord, error) {
	rec := llmgate.UsageRecord{UserID: userID, Period: period}
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT count, tier, updated_at FROM %s WHERE user_id = $1 AND period = $2`, s.usageTable()),
		userID, period,
	).Scan(&rec.Count, &rec.Tier, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return llmgate.UsageRecord{}, llmgate.ErrRecordNotFound
	}
	if err != nil {
		return llmgate.UsageRecord{}, fmt.Errorf("llmgate/postgres: get: %w", err)
	}
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// CreateIfAbsent stores rec unless its key is taken.
func (s *Store) CreateIfAbsent(ctx context.Context, rec llmgate.UsageRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (user_id, period, count, tier, updated_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (user_id, period) DO NOTHING`, s.usageTable()),
		rec.UserID, rec.Period, rec.Count, rec.Tier, updatedAt,
	)
	if err != nil {
		return fmt.Errorf("llmgate/postgres: create: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return llmgate.ErrAlreadyExists
	}
	return nil
}

// ConditionalUpdate swaps the count from expected to next.
func (s *Store) ConditionalUpdate(ctx context.Context, userID, period string, expected, next int64, tier string) error {
	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET count = $1, tier = $2, updated_at = now()
			WHERE user_id = $3 AND period = $4 AND count = $5`, s.usageTable()),
		next, tier, userID, period, expected,
	)
	if err != nil {
		return fmt.Errorf("llmgate/postgres: update: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return llmgate.ErrConcurrentModification
	}
	return nil
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("llmgate/postgres: ping: %w", err)
	}
	return nil
}
