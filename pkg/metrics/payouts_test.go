package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPayoutMetricsNilSafe(t *testing.T) {
	var m *PayoutMetrics
	m.ObserveOutcome("settled", time.Second)
	m.IncSequenceRetry()

	unregistered := NewPayoutMetrics(nil)
	unregistered.ObserveOutcome("cancelled", time.Second)
	unregistered.IncSequenceRetry()
}

func TestPayoutMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPayoutMetrics(reg)
	m.ObserveOutcome("settled", 250*time.Millisecond)
	m.IncSequenceRetry()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected registered metric families")
	}
}

func TestSweepMetricsRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := NewSweepMetrics(reg)
	s.ObserveDuration("complete_retry", time.Second)
	s.IncSuccess("complete_retry")
	s.IncFailure("")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) != 3 {
		t.Fatalf("expected 3 metric families, got %d", len(families))
	}
}
