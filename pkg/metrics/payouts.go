package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PayoutMetrics records saga outcomes and submission behavior.
type PayoutMetrics struct {
	outcomes      *prometheus.CounterVec
	duration      prometheus.Histogram
	submitRetries prometheus.Counter
}

// NewPayoutMetrics registers the payout metrics on the provided registerer.
func NewPayoutMetrics(reg prometheus.Registerer) *PayoutMetrics {
	if reg == nil {
		return &PayoutMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payout_saga_outcomes_total",
		Help: "Terminal payout saga states.",
	}, []string{"state"})
	duration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "payout_saga_duration_seconds",
		Help:    "Wall time from request acceptance to terminal state.",
		Buckets: prometheus.DefBuckets,
	})
	submitRetries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payout_submit_sequence_retries_total",
		Help: "Ledger submissions retried after a bad sequence response.",
	})
	reg.MustRegister(outcomes, duration, submitRetries)
	return &PayoutMetrics{
		outcomes:      outcomes,
		duration:      duration,
		submitRetries: submitRetries,
	}
}

// ObserveOutcome records one terminal saga state and its duration.
func (m *PayoutMetrics) ObserveOutcome(state string, elapsed time.Duration) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(state)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

// IncSequenceRetry counts a bad-sequence refresh+retry on submit.
func (m *PayoutMetrics) IncSequenceRetry() {
	if m == nil || m.submitRetries == nil {
		return
	}
	m.submitRetries.Inc()
}

// SweepMetrics records metadata for reconciliation sweep jobs.
type SweepMetrics struct {
	duration *prometheus.HistogramVec
	success  *prometheus.CounterVec
	failure  *prometheus.CounterVec
}

// NewSweepMetrics registers the sweep metrics on the provided registerer.
func NewSweepMetrics(reg prometheus.Registerer) *SweepMetrics {
	if reg == nil {
		return &SweepMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sweep_duration_seconds",
		Help:    "Duration of reconciliation sweep jobs in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"job"})
	success := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_success",
		Help: "Successful sweep job executions.",
	}, []string{"job"})
	failure := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sweep_failure",
		Help: "Failed sweep job executions.",
	}, []string{"job"})
	reg.MustRegister(duration, success, failure)
	return &SweepMetrics{
		duration: duration,
		success:  success,
		failure:  failure,
	}
}

// ObserveDuration records the duration for the named job.
func (s *SweepMetrics) ObserveDuration(job string, duration time.Duration) {
	if s == nil || s.duration == nil {
		return
	}
	s.duration.WithLabelValues(normalizeLabel(job)).Observe(duration.Seconds())
}

// IncSuccess increments the success counter for the named job.
func (s *SweepMetrics) IncSuccess(job string) {
	if s == nil || s.success == nil {
		return
	}
	s.success.WithLabelValues(normalizeLabel(job)).Inc()
}

// IncFailure increments the failure counter for the named job.
func (s *SweepMetrics) IncFailure(job string) {
	if s == nil || s.failure == nil {
		return
	}
	s.failure.WithLabelValues(normalizeLabel(job)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
