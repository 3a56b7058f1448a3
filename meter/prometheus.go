package meter

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ineyio/llmgate"
)

// PrometheusMeter exports gateway events as Prometheus metrics.
type PrometheusMeter struct {
	admissions        *prometheus.CounterVec
	admissionAttempts prometheus.Histogram
	admissionDuration prometheus.Histogram
	forwards          *prometheus.CounterVec
	forwardDuration   *prometheus.HistogramVec
}

var _ llmgate.Meter = (*PrometheusMeter)(nil)

// NewPrometheusMeter creates and registers the gateway metrics.
func NewPrometheusMeter(reg prometheus.Registerer) (*PrometheusMeter, error) {
	m := &PrometheusMeter{
		admissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_admissions_total",
				Help: "Admission decisions by tier and outcome",
			},
			[]string{"tier", "outcome"},
		),
		admissionAttempts: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "llmgate_admission_attempts",
				Help:    "Store read/write rounds per admission decision",
				Buckets: []float64{1, 2, 3, 5, 8},
			},
		),
		admissionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "llmgate_admission_duration_seconds",
				Help:    "Admission decision latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		forwards: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llmgate_upstream_requests_total",
				Help: "Upstream completion calls by status",
			},
			[]string{"status"},
		),
		forwardDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llmgate_upstream_duration_seconds",
				Help:    "Upstream completion latency in seconds",
				Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),
	}

	for _, c := range []prometheus.Collector{
		m.admissions, m.admissionAttempts, m.admissionDuration, m.forwards, m.forwardDuration,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMeter) OnAdmission(e llmgate.AdmissionEvent) {
	m.admissions.WithLabelValues(e.Tier, e.Outcome).Inc()
	if e.Attempts > 0 {
		m.admissionAttempts.Observe(float64(e.Attempts))
	}
	m.admissionDuration.Observe(e.Duration.Seconds())
}

func (m *PrometheusMeter) OnForward(e llmgate.ForwardEvent) {
	status := "error"
	if e.StatusCode > 0 {
		status = strconv.Itoa(e.StatusCode)
	}
	m.forwards.WithLabelValues(status).Inc()
	m.forwardDuration.WithLabelValues(e.Model).Observe(e.Duration.Seconds())
}
