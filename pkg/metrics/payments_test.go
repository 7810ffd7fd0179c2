package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPaymentSessionMetricsExports(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPaymentSessionMetrics(reg)

	m.SessionOpened()
	m.ObserveTransition("POLLING")
	m.ObserveTransition("CONFIRMED")
	m.ObservePoll(PollOutcomeTransient, 20*time.Millisecond)
	m.ObservePoll(PollOutcomeStatus, 30*time.Millisecond)
	m.ObservePoll(PollOutcomeStatus, 30*time.Millisecond)
	m.ObserveRemoteCancel(false)
	m.SessionFinished("CONFIRMED", 42*time.Second)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "payment_poll_requests_total", "outcome", PollOutcomeStatus); err != nil || got != 2 {
		t.Fatalf("expected 2 status polls, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "payment_session_transitions_total", "phase", "CONFIRMED"); err != nil || got != 1 {
		t.Fatalf("expected 1 confirmed transition, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "payment_remote_cancel_total", "result", "failed"); err != nil || got != 1 {
		t.Fatalf("expected 1 failed cancel, got %f (%v)", got, err)
	}
	if got, err := fetchHistogramSum(mfs, "payment_session_duration_seconds", "outcome", "CONFIRMED"); err != nil || got != 42 {
		t.Fatalf("expected duration sum 42, got %f (%v)", got, err)
	}
	active := findMetricFamily(mfs, "payment_sessions_active")
	if active == nil || active.GetMetric()[0].GetGauge().GetValue() != 0 {
		t.Fatalf("expected active gauge back at zero")
	}
}

func TestPaymentSessionMetricsNilSafe(t *testing.T) {
	var m *PaymentSessionMetrics
	m.SessionOpened()
	m.ObserveTransition("OPEN")
	m.ObservePoll(PollOutcomeError, time.Second)
	m.ObserveRemoteCancel(true)
	m.SessionFinished("EXPIRED", time.Second)
}
