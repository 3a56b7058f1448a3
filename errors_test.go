package llmgate_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ineyio/llmgate"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
		msg  string
	}{
		{nil, http.StatusOK, ""},
		{llmgate.ErrAuthMissing, http.StatusUnauthorized, "Missing authentication headers"},
		{llmgate.ErrAuthInvalid, http.StatusUnauthorized, "Invalid or expired license"},
		{fmt.Errorf("wrapped: %w", llmgate.ErrQuotaExceeded), http.StatusTooManyRequests, "Monthly quota exceeded"},
		{fmt.Errorf("%w: bad json", llmgate.ErrInvalidRequest), http.StatusBadRequest, "Invalid request body"},
		{&llmgate.AdmissionError{Err: llmgate.ErrStoreUnavailable}, http.StatusInternalServerError, "Internal server error"},
		{&llmgate.AdmissionError{Err: llmgate.ErrConcurrentModification}, http.StatusInternalServerError, "Internal server error"},
		{&llmgate.UpstreamError{StatusCode: 429}, http.StatusInternalServerError, "Internal server error"},
		{llmgate.ErrSecretNotFound, http.StatusInternalServerError, "Internal server error"},
		{errors.New("anything else"), http.StatusInternalServerError, "Internal server error"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, llmgate.StatusFor(tc.err), "%v", tc.err)
		if tc.err != nil {
			assert.Equal(t, tc.msg, llmgate.PublicMessage(tc.err), "%v", tc.err)
		}
	}
}

func TestErrorHelpers(t *testing.T) {
	assert.True(t, llmgate.IsConflict(llmgate.ErrConcurrentModification))
	assert.True(t, llmgate.IsConflict(fmt.Errorf("redis: %w", llmgate.ErrAlreadyExists)))
	assert.False(t, llmgate.IsConflict(llmgate.ErrStoreUnavailable))
	assert.False(t, llmgate.IsConflict(nil))

	up := &llmgate.UpstreamError{StatusCode: 503, Body: "overloaded"}
	assert.ErrorIs(t, up, llmgate.ErrUpstream)
	assert.Contains(t, up.Error(), "503")

	adm := &llmgate.AdmissionError{Err: llmgate.ErrInvalidLimit, UserID: "u1", Period: "2024-06", Attempts: 1}
	assert.ErrorIs(t, adm, llmgate.ErrInvalidLimit)
	assert.Contains(t, adm.Error(), "user=u1")
	assert.Contains(t, adm.Error(), "period=2024-06")
}

func TestLimits_Resolve(t *testing.T) {
	limits := llmgate.DefaultLimits()

	tier, limit := limits.Resolve(llmgate.TierPro)
	assert.Equal(t, llmgate.TierPro, tier)
	assert.Equal(t, int64(2000), limit)

	tier, limit = limits.Resolve("gold")
	assert.Equal(t, llmgate.TierFree, tier)
	assert.Equal(t, int64(50), limit)

	tier, limit = limits.Resolve("")
	assert.Equal(t, llmgate.TierFree, tier)
	assert.Equal(t, int64(50), limit)
}

func TestDefaultLimits(t *testing.T) {
	limits := llmgate.DefaultLimits()
	assert.NoError(t, limits.Validate())
	assert.Equal(t, int64(50), limits[llmgate.TierFree])
	assert.Equal(t, int64(500), limits[llmgate.TierBasic])
	assert.Equal(t, int64(2000), limits[llmgate.TierPro])
	assert.Equal(t, int64(10000), limits[llmgate.TierEnterprise])
}

func TestCompletionRequest(t *testing.T) {
	req := llmgate.CompletionRequest{
		Model:     "m",
		MaxTokens: 10,
		Messages:  []llmgate.Message{{Role: "user", Content: json.RawMessage(`"12345678"`)}},
	}
	assert.NoError(t, req.Validate())
	assert.Equal(t, int64(2+4+3), req.EstimatedPromptTokens())

	req.Messages = []llmgate.Message{{
		Role:    "user",
		Content: json.RawMessage(`[{"type":"text","text":"1234"},{"type":"image","source":{}},{"type":"text","text":"5678"}]`),
	}}
	assert.NoError(t, req.Validate())
	assert.Equal(t, int64(2+4+3), req.EstimatedPromptTokens(), "text blocks are summed")

	req.MaxTokens = 0
	assert.ErrorIs(t, req.Validate(), llmgate.ErrInvalidRequest)
}
