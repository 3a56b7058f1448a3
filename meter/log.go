package meter

import (
	"log/slog"

	"github.com/ineyio/llmgate"
)

// LogMeter logs gateway events using slog.
type LogMeter struct {
	Logger *slog.Logger
}

var _ llmgate.Meter = (*LogMeter)(nil)

// NewLogMeter creates a LogMeter with the given logger.
// If logger is nil, slog.Default() is used.
func NewLogMeter(logger *slog.Logger) *LogMeter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMeter{Logger: logger}
}

func (m *LogMeter) OnAdmission(e llmgate.AdmissionEvent) {
	attrs := []any{
		"user", e.UserID,
		"tier", e.Tier,
		"period", e.Period,
		"outcome", e.Outcome,
		"count", e.Count,
		"limit", e.Limit,
		"attempts", e.Attempts,
		"duration_ms", e.Duration.Milliseconds(),
	}
	switch e.Outcome {
	case llmgate.OutcomeError:
		m.Logger.Warn("admission_error", append(attrs, "error", e.Error)...)
	case llmgate.OutcomeDenied:
		m.Logger.Info("admission_denied", attrs...)
	default:
		m.Logger.Info("admission", attrs...)
	}
}

func (m *LogMeter) OnForward(e llmgate.ForwardEvent) {
	if e.Success {
		m.Logger.Info("forward",
			"user", e.UserID,
			"tier", e.Tier,
			"model", e.Model,
			"status", e.StatusCode,
			"duration_ms", e.Duration.Milliseconds(),
			"estimated_tokens", e.EstimatedTokens,
		)
	} else {
		m.Logger.Warn("forward_error",
			"user", e.UserID,
			"tier", e.Tier,
			"model", e.Model,
			"status", e.StatusCode,
			"duration_ms", e.Duration.Milliseconds(),
			"error", e.Error,
		)
	}
}
