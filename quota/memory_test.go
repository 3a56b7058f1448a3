package quota_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/llmgate"
	"github.com/ineyio/llmgate/quota"
	"github.com/ineyio/llmgate/quota/quotatest"
)

func TestMemoryStore_Contract(t *testing.T) {
	quotatest.RunContract(t, func(t *testing.T) llmgate.QuotaStore {
		return quota.NewMemoryStore()
	})
}

func TestMemoryStore_CanceledContext(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Get(ctx, "u1", "2024-06")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, llmgate.ErrRecordNotFound)

	err = s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, s.Len())
}

func TestMemoryStore_SetsUpdatedAt(t *testing.T) {
	s := quota.NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateIfAbsent(ctx, llmgate.UsageRecord{UserID: "u1", Period: "2024-06", Count: 1, Tier: "free"}))
	rec, err := s.Get(ctx, "u1", "2024-06")
	require.NoError(t, err)
	assert.False(t, rec.UpdatedAt.IsZero())
	assert.Equal(t, 1, s.Len())
}
