package meter

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ineyio/llmgate"
)

func newTestTracker() (*HealthTracker, *time.Time) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	h := NewHealthTracker()
	h.now = func() time.Time { return now }
	return h, &now
}

func TestHealthState_String(t *testing.T) {
	assert.Equal(t, "healthy", HealthHealthy.String())
	assert.Equal(t, "unhealthy", HealthUnhealthy.String())
	assert.Equal(t, "half_open", HealthHalfOpen.String())
	assert.Equal(t, "unknown", HealthState(99).String())
}

func TestHealthTracker_OpensAfterFailures(t *testing.T) {
	h, _ := newTestTracker()

	h.RecordFailure(ComponentUpstream)
	h.RecordFailure(ComponentUpstream)
	assert.Equal(t, HealthHealthy, h.State(ComponentUpstream))

	h.RecordFailure(ComponentUpstream)
	assert.Equal(t, HealthUnhealthy, h.State(ComponentUpstream))
	assert.Equal(t, HealthHealthy, h.State(ComponentStore))
}

func TestHealthTracker_FailuresOutsideWindowExpire(t *testing.T) {
	h, now := newTestTracker()

	h.RecordFailure(ComponentStore)
	h.RecordFailure(ComponentStore)
	*now = now.Add(6 * time.Minute)
	h.RecordFailure(ComponentStore)

	assert.Equal(t, HealthHealthy, h.State(ComponentStore))
}

func TestHealthTracker_HalfOpenRecovery(t *testing.T) {
	h, now := newTestTracker()
	for range 3 {
		h.RecordFailure(ComponentUpstream)
	}

	*now = now.Add(31 * time.Second)
	assert.Equal(t, HealthHalfOpen, h.State(ComponentUpstream))

	h.RecordSuccess(ComponentUpstream)
	assert.Equal(t, HealthHealthy, h.State(ComponentUpstream))
}

func TestHealthTracker_HalfOpenFailureReopens(t *testing.T) {
	h, now := newTestTracker()
	for range 3 {
		h.RecordFailure(ComponentUpstream)
	}

	*now = now.Add(31 * time.Second)
	h.RecordFailure(ComponentUpstream)
	assert.Equal(t, HealthUnhealthy, h.State(ComponentUpstream))
}

func TestHealthTracker_FromEvents(t *testing.T) {
	h, _ := newTestTracker()
	storeErr := &llmgate.AdmissionError{Err: fmt.Errorf("%w: timeout", llmgate.ErrStoreUnavailable)}

	for range 3 {
		h.OnAdmission(llmgate.AdmissionEvent{Outcome: llmgate.OutcomeError, Error: storeErr})
		h.OnForward(llmgate.ForwardEvent{Error: &llmgate.UpstreamError{StatusCode: 400}})
	}
	assert.Equal(t, HealthUnhealthy, h.State(ComponentStore))
	assert.Equal(t, HealthHealthy, h.State(ComponentUpstream), "client errors do not count")

	for range 3 {
		h.OnForward(llmgate.ForwardEvent{Error: errors.New("connection reset")})
	}
	assert.Equal(t, map[string]string{
		ComponentStore:    "unhealthy",
		ComponentUpstream: "unhealthy",
	}, h.Snapshot())
}

func TestHealthTracker_ContentionIsNotStoreFailure(t *testing.T) {
	h, _ := newTestTracker()
	for range 5 {
		h.OnAdmission(llmgate.AdmissionEvent{
			Outcome: llmgate.OutcomeError,
			Error:   &llmgate.AdmissionError{Err: llmgate.ErrConcurrentModification},
		})
	}
	assert.Equal(t, HealthHealthy, h.State(ComponentStore))
}
