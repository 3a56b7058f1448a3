// Package redis provides a Redis-backed QuotaStore for llmgate.
//
// Each usage record is a Redis hash. Create and conditional update run as
// Lua scripts so the compare and the write happen in one step, which makes
// the store safe for multi-instance deployments.
package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/llmgate"
)

// Store is a Redis-backed QuotaStore.
type Store struct {
	client    goredis.Cmdable
	keyPrefix string
	now       func() time.Time
}

var (
	_ llmgate.QuotaStore = (*Store)(nil)
	_ llmgate.Pinger     = (*Store)(nil)
)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "llmgate:usage:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed QuotaStore.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, opts ...Option) *Store {
	s := &Store{
		client:    client,
		keyPrefix: "llmgate:usage:",
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the hash key holding the record for (userID, period).
// The user ID is a hash tag so a user's records share one cluster slot.
func (s *Store) Key(userID, period string) string {
	return s.keyPrefix + "{" + userID + "}:" + period
}

// createScript inserts a record unless the key exists.
// KEYS[1] = record hash key
// ARGV[1] = count, ARGV[2] = tier, ARGV[3] = updated_at (unix nanos)
//
// Returns 1 on insert, 0 if the record already exists.
var createScript = goredis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 1 then
    return 0
end
redis.call("HSET", KEYS[1], "count", ARGV[1], "tier", ARGV[2], "updated_at", ARGV[3])
return 1
`)

// updateScript swaps the count if it still equals the expected value.
// KEYS[1] = record hash key
// ARGV[1] = expected, ARGV[2] = next, ARGV[3] = tier, ARGV[4] = updated_at
//
// Returns 1 on success, 0 on count mismatch, -1 if the record is missing.
var updateScript = goredis.NewScript(`
local current = redis.call("HGET", KEYS[1], "count")
if not current then
    return -1
end
if tonumber(current) ~= tonumber(ARGV[1]) then
    return 0
end
redis.call("HSET", KEYS[1], "count", ARGV[2], "tier", ARGV[3], "updated_at", ARGV[4])
return 1
`)

// Get returns the record for (userID, period).
func (s *Store) Get(ctx context.Context, userID, period string) (llmgate.UsageRecord, error) {
	vals, err := s.client.HMGet(ctx, s.Key(userID, period), "count", "tier", "updated_at").Result()
	if err != nil {
		return llmgate.UsageRecord{}, fmt.Errorf("llmgate/redis: get: %w", err)
	}
	if vals[0] == nil {
		return llmgate.UsageRecord{}, llmgate.ErrRecordNotFound
	}

	count, err := strconv.ParseInt(asString(vals[0]), 10, 64)
	if err != nil {
		return llmgate.UsageRecord{}, fmt.Errorf("llmgate/redis: get: bad count: %w", err)
	}
	rec := llmgate.UsageRecord{
		UserID: userID,
		Period: period,
		Count:  count,
		Tier:   asString(vals[1]),
	}
	if nanos, err := strconv.ParseInt(asString(vals[2]), 10, 64); err == nil {
		rec.UpdatedAt = time.Unix(0, nanos).UTC()
	}
	return rec, nil
}

// CreateIfAbsent stores rec unless its key is taken.
func (s *Store) CreateIfAbsent(ctx context.Context, rec llmgate.UsageRecord) error {
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now()
	}
	result, err := createScript.Run(ctx, s.client,
		[]string{s.Key(rec.UserID, rec.Period)},
		rec.Count, rec.Tier, updatedAt.UnixNano(),
	).Int64()
	if err != nil {
		return fmt.Errorf("llmgate/redis: create: %w", err)
	}
	if result == 0 {
		return llmgate.ErrAlreadyExists
	}
	return nil
}

// ConditionalUpdate swaps the count from expected to next.
func (s *Store) ConditionalUpdate(ctx context.Context, userID, period string, expected, next int64, tier string) error {
	result, err := updateScript.Run(ctx, s.client,
		[]string{s.Key(userID, period)},
		expected, next, tier, s.now().UnixNano(),
	).Int64()
	if err != nil {
		return fmt.Errorf("llmgate/redis: update: %w", err)
	}

	switch result {
	case 1:
		return nil
	case 0, -1:
		return llmgate.ErrConcurrentModification
	default:
		return fmt.Errorf("llmgate/redis: unexpected update result: %d", result)
	}
}

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("llmgate/redis: ping: %w", err)
	}
	return nil
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
