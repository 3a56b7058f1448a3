package meter

import (
	"errors"
	"sync"
	"time"

	"github.com/ineyio/llmgate"
)

const (
	healthFailureThreshold = 3
	healthFailureWindow    = 5 * time.Minute
	healthUnhealthyPeriod  = 30 * time.Second
)

// Components tracked by HealthTracker.
const (
	ComponentStore    = "store"
	ComponentUpstream = "upstream"
)

// HealthState is the circuit state of a dependency.
type HealthState int

const (
	HealthHealthy HealthState = iota
	HealthUnhealthy
	HealthHalfOpen
)

func (s HealthState) String() string {
	switch s {
	case HealthHealthy:
		return "healthy"
	case HealthUnhealthy:
		return "unhealthy"
	case HealthHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// HealthTracker derives store and upstream health from gateway events.
// Three failures within five minutes mark a component unhealthy; after
// thirty seconds it is half-open until the next success or failure.
// It only reports state, admission never consults it.
type HealthTracker struct {
	mu         sync.Mutex
	components map[string]*componentHealth
	now        func() time.Time
}

type componentHealth struct {
	state       HealthState
	failures    []time.Time
	unhealthyAt time.Time
}

var _ llmgate.Meter = (*HealthTracker)(nil)

// NewHealthTracker creates a HealthTracker.
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{
		components: make(map[string]*componentHealth),
		now:        time.Now,
	}
}

func (h *HealthTracker) OnAdmission(e llmgate.AdmissionEvent) {
	switch {
	case e.Outcome != llmgate.OutcomeError:
		h.RecordSuccess(ComponentStore)
	case errors.Is(e.Error, llmgate.ErrStoreUnavailable):
		h.RecordFailure(ComponentStore)
	}
}

func (h *HealthTracker) OnForward(e llmgate.ForwardEvent) {
	if e.Success {
		h.RecordSuccess(ComponentUpstream)
		return
	}
	var upErr *llmgate.UpstreamError
	// 4xx replies mean the request was bad, not that upstream is down.
	if errors.As(e.Error, &upErr) && upErr.StatusCode < 500 && upErr.StatusCode != 429 {
		return
	}
	h.RecordFailure(ComponentUpstream)
}

// State returns the current state of component.
func (h *HealthTracker) State(component string) HealthState {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.components[component]
	if !ok {
		return HealthHealthy
	}
	if c.state == HealthUnhealthy && h.now().Sub(c.unhealthyAt) >= healthUnhealthyPeriod {
		c.state = HealthHalfOpen
	}
	return c.state
}

// Snapshot returns the state of every tracked component.
func (h *HealthTracker) Snapshot() map[string]string {
	return map[string]string{
		ComponentStore:    h.State(ComponentStore).String(),
		ComponentUpstream: h.State(ComponentUpstream).String(),
	}
}

// RecordSuccess closes the circuit for component.
func (h *HealthTracker) RecordSuccess(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.getOrCreate(component)
	c.state = HealthHealthy
	c.failures = c.failures[:0]
}

// RecordFailure counts a failure against component.
func (h *HealthTracker) RecordFailure(component string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c := h.getOrCreate(component)
	now := h.now()
	if c.state == HealthUnhealthy && now.Sub(c.unhealthyAt) >= healthUnhealthyPeriod {
		c.state = HealthHalfOpen
	}
	if c.state == HealthUnhealthy {
		return
	}

	cutoff := now.Add(-healthFailureWindow)
	valid := c.failures[:0]
	for _, t := range c.failures {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	c.failures = append(valid, now)

	if c.state == HealthHalfOpen || len(c.failures) >= healthFailureThreshold {
		c.state = HealthUnhealthy
		c.unhealthyAt = now
	}
}

func (h *HealthTracker) getOrCreate(component string) *componentHealth {
	c, ok := h.components[component]
	if !ok {
		c = &componentHealth{state: HealthHealthy}
		h.components[component] = c
	}
	return c
}
