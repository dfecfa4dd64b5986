package flow

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records attempt outcomes. A nil *Metrics is a no-op.
type Metrics struct {
	attempts *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics registers the flow collectors on reg.
// A nil reg keeps the collectors unregistered (useful in tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lexion",
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Credential acquisition attempts by method and outcome.",
		}, []string{"method", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lexion",
			Subsystem: "auth",
			Name:      "attempt_duration_seconds",
			Help:      "Wall time of credential acquisition attempts.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"method"}),
	}
	if reg != nil {
		reg.MustRegister(m.attempts, m.duration)
	}
	return m
}

// Observe records one finished attempt.
func (m *Metrics) Observe(method Method, outcome string, started time.Time) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(string(method), outcome).Inc()
	if !started.IsZero() {
		m.duration.WithLabelValues(string(method)).Observe(time.Since(started).Seconds())
	}
}

// Attempts exposes the counter for tests and diagnostics.
func (m *Metrics) Attempts() *prometheus.CounterVec {
	if m == nil {
		return nil
	}
	return m.attempts
}
