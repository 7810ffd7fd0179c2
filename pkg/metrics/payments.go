package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Poll outcomes.
const (
	PollOutcomeStatus    = "status"
	PollOutcomeTransient = "transient"
	PollOutcomeError     = "error"
	PollOutcomeDiscarded = "discarded"
)

// PaymentSessionMetrics instruments payment sessions and their polling loops.
type PaymentSessionMetrics struct {
	transitions   *prometheus.CounterVec
	polls         *prometheus.CounterVec
	pollLatency   prometheus.Histogram
	active        prometheus.Gauge
	outcomes      *prometheus.HistogramVec
	remoteCancels *prometheus.CounterVec
}

func NewPaymentSessionMetrics(reg prometheus.Registerer) *PaymentSessionMetrics {
	if reg == nil {
		return &PaymentSessionMetrics{}
	}
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_session_transitions_total",
		Help: "Payment session phase transitions, by target phase.",
	}, []string{"phase"})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_poll_requests_total",
		Help: "Verify calls issued by polling loops, by outcome.",
	}, []string{"outcome"})
	pollLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "payment_poll_duration_seconds",
		Help:    "Latency of verify calls issued by polling loops.",
		Buckets: prometheus.DefBuckets,
	})
	active := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "payment_sessions_active",
		Help: "Payment sessions currently open or polling.",
	})
	outcomes := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_session_duration_seconds",
		Help:    "Time from open to terminal phase, by outcome.",
		Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 900, 1200},
	}, []string{"outcome"})
	remoteCancels := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_remote_cancel_total",
		Help: "Best-effort provider cancellations, by result.",
	}, []string{"result"})
	reg.MustRegister(transitions, polls, pollLatency, active, outcomes, remoteCancels)
	return &PaymentSessionMetrics{
		transitions:   transitions,
		polls:         polls,
		pollLatency:   pollLatency,
		active:        active,
		outcomes:      outcomes,
		remoteCancels: remoteCancels,
	}
}

func (m *PaymentSessionMetrics) ObserveTransition(phase string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(normalizeLabel(phase)).Inc()
}

// ObservePoll records one verify call issued by a polling loop.
func (m *PaymentSessionMetrics) ObservePoll(outcome string, latency time.Duration) {
	if m == nil || m.polls == nil {
		return
	}
	m.polls.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.pollLatency.Observe(latency.Seconds())
}

func (m *PaymentSessionMetrics) SessionOpened() {
	if m == nil || m.active == nil {
		return
	}
	m.active.Inc()
}

// SessionFinished decrements the active gauge and records how long the
// session took to reach outcome.
func (m *PaymentSessionMetrics) SessionFinished(outcome string, elapsed time.Duration) {
	if m == nil || m.active == nil {
		return
	}
	m.active.Dec()
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Observe(elapsed.Seconds())
}

func (m *PaymentSessionMetrics) ObserveRemoteCancel(ok bool) {
	if m == nil || m.remoteCancels == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "failed"
	}
	m.remoteCancels.WithLabelValues(result).Inc()
}
