// Package quotatest holds the behavioral contract every QuotaStore must
// satisfy. Store packages run it from their own tests.
package quotatest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/llmgate"
)

// RunContract runs the QuotaStore contract against stores built by newStore.
// Each subtest gets a fresh store.
func RunContract(t *testing.T, newStore func(t *testing.T) llmgate.QuotaStore) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), "u1", "2024-06")
		assert.ErrorIs(t, err, llmgate.ErrRecordNotFound)
	})

	t.Run("CreateThenGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		at := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

		require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{
			UserID: "u1", Period: "2024-06", Count: 1, Tier: "basic", UpdatedAt: at,
		}))

		rec, err := s.Get(ctx, "u1", "2024-06")
		require.NoError(t, err)
		assert.Equal(t, "u1", rec.UserID)
		assert.Equal(t, "2024-06", rec.Period)
		assert.Equal(t, int64(1), rec.Count)
		assert.Equal(t, "basic", rec.Tier)
		assert.True(t, rec.UpdatedAt.Equal(at), "updated_at %v", rec.UpdatedAt)
	})

	t.Run("CreateTwice", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 1, Tier: "basic"}))
		err := s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 7, Tier: "pro"})
		assert.ErrorIs(t, err, llmgate.ErrAlreadyExists)

		rec, err := s.Get(ctx, "u1", "2024-06")
		require.NoError(t, err)
		assert.Equal(t, int64(1), rec.Count, "second create must not overwrite")
		assert.Equal(t, "basic", rec.Tier)
	})

	t.Run("ConditionalUpdate", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 1, Tier: "basic"}))
		require.NoError(t, s.ConditionalUpdate(ctx, "u1", "2024-06", 1, 2, "pro"))

		rec, err := s.Get(ctx, "u1", "2024-06")
		require.NoError(t, err)
		assert.Equal(t, int64(2), rec.Count)
		assert.Equal(t, "pro", rec.Tier)
	})

	t.Run("ConditionalUpdateStale", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 3, Tier: "basic"}))
		err := s.ConditionalUpdate(ctx, "u1", "2024-06", 2, 3, "basic")
		assert.ErrorIs(t, err, llmgate.ErrConcurrentModification)

		rec, err := s.Get(ctx, "u1", "2024-06")
		require.NoError(t, err)
		assert.Equal(t, int64(3), rec.Count)
	})

	t.Run("ConditionalUpdateMissing", func(t *testing.T) {
		s := newStore(t)
		err := s.ConditionalUpdate(context.Background(), "ghost", "2024-06", 0, 1, "basic")
		assert.ErrorIs(t, err, llmgate.ErrConcurrentModification)
	})

	t.Run("KeysAreIsolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-01", Count: 50, Tier: "free"}))
		require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-02", Count: 1, Tier: "free"}))
		require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u2", Period: "2024-01", Count: 5, Tier: "pro"}))

		jan, err := s.Get(ctx, "u1", "2024-01")
		require.NoError(t, err)
		feb, err := s.Get(ctx, "u1", "2024-02")
		require.NoError(t, err)
		other, err := s.Get(ctx, "u2", "2024-01")
		require.NoError(t, err)

		assert.Equal(t, int64(50), jan.Count)
		assert.Equal(t, int64(1), feb.Count)
		assert.Equal(t, int64(5), other.Count)
	})

	t.Run("ConcurrentCASOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 10, Tier: "basic"}))

		var wg sync.WaitGroup
		var wins atomic.Int64
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.ConditionalUpdate(ctx, "u1", "2024-06", 10, 11, "basic"); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), wins.Load(), "exactly one writer may swap from the same count")
		rec, err := s.Get(ctx, "u1", "2024-06")
		require.NoError(t, err)
		assert.Equal(t, int64(11), rec.Count)
	})

	t.Run("ConcurrentCreateOneWinner", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		var wins atomic.Int64
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 1, Tier: "basic"})
				if err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(1), wins.Load())
	})

	t.Run("LedgerCountsEveryAdmission", func(t *testing.T) {
		s := newStore(t)
		now := time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)
		const workers = 8
		ledger, err := llmgate.NewLedger(s,
			llmgate.WithClock(func() time.Time { return now }),
			llmgate.WithMaxAttempts(workers),
		)
		require.NoError(t, err)

		var wg sync.WaitGroup
		var admitted atomic.Int64
		for range workers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := ledger.Admit(context.Background(), "u1", "basic", 500)
				if assert.NoError(t, err) && res.Allowed {
					admitted.Add(1)
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, int64(workers), admitted.Load())
		rec, err := s.Get(context.Background(), "u1", "2024-06")
		require.NoError(t, err)
		assert.Equal(t, int64(workers), rec.Count)
	})
}
