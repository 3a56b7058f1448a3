package llmgate

import "time"

// Meter observes gateway events for monitoring/logging.
type Meter interface {
	// OnAdmission is called after every admission decision, including failed ones.
	OnAdmission(event AdmissionEvent)

	// OnForward is called when an upstream call finishes.
	OnForward(event ForwardEvent)
}

// Admission outcomes.
const (
	OutcomeAdmitted = "admitted"
	OutcomeDenied   = "denied"
	OutcomeError    = "error"
)

// AdmissionEvent describes one ledger decision.
type AdmissionEvent struct {
	UserID   string
	Tier     string
	Period   string
	Outcome  string
	Count    int64
	Limit    int64
	Attempts int
	Duration time.Duration
	Error    error
}

// ForwardEvent describes the outcome of an upstream call.
type ForwardEvent struct {
	UserID          string
	Tier            string
	Model           string
	EstimatedTokens int64
	StatusCode      int
	Success         bool
	Duration        time.Duration
	Error           error
}

// noopMeter is a meter that does nothing.
type noopMeter struct{}

func (m *noopMeter) OnAdmission(AdmissionEvent) {}
func (m *noopMeter) OnForward(ForwardEvent)     {}
