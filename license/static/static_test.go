package static_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ineyio/llmgate"
	"github.com/ineyio/llmgate/license/static"
)

func TestValidator(t *testing.T) {
	v := static.New(llmgate.TierPro)

	lic, err := v.Validate(context.Background(), "anything")
	require.NoError(t, err)
	assert.True(t, lic.Valid)
	assert.Equal(t, llmgate.TierPro, lic.Tier)
	assert.Equal(t, int64(2000), lic.QuotaLimit)

	lic, err = v.Validate(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, lic.Valid)
}
