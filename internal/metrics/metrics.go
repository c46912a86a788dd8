// Package metrics holds the Prometheus collectors for call setup and
// transcript delivery.
//
// Every method is safe on a nil *Metrics, so components can run without
// instrumentation in tests.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// CallsStarted counts dispatched calls. Labels: persona
	CallsStarted *prometheus.CounterVec

	// CallFailures counts fatal setup failures. Labels: kind (connection|dial|agent_start|dispatch)
	CallFailures *prometheus.CounterVec

	// CallsEnded counts sessions reaching Ended. Labels: outcome
	CallsEnded *prometheus.CounterVec

	GreetingsFailed prometheus.Counter

	// ActiveCalls is the number of orchestrator runs in flight.
	ActiveCalls prometheus.Gauge

	// WebhookDeliveries counts finished deliveries. Labels: result (delivered|rejected|exhausted|suppressed|error)
	WebhookDeliveries *prometheus.CounterVec

	// WebhookAttempts observes HTTP attempts per delivery.
	WebhookAttempts prometheus.Histogram

	RateLimited prometheus.Counter
}

// New registers all collectors with reg. Pass prometheus.NewRegistry() in
// tests to keep them isolated.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CallsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chamada_calls_started_total",
			Help: "Outbound calls dispatched, by persona",
		}, []string{"persona"}),
		CallFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chamada_call_failures_total",
			Help: "Fatal call setup failures, by kind",
		}, []string{"kind"}),
		CallsEnded: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chamada_calls_ended_total",
			Help: "Calls that reached the ended state, by outcome",
		}, []string{"outcome"}),
		GreetingsFailed: f.NewCounter(prometheus.CounterOpts{
			Name: "chamada_greetings_failed_total",
			Help: "Greetings that could not be dispatched",
		}),
		ActiveCalls: f.NewGauge(prometheus.GaugeOpts{
			Name: "chamada_active_calls",
			Help: "Calls currently being orchestrated",
		}),
		WebhookDeliveries: f.NewCounterVec(prometheus.CounterOpts{
			Name: "chamada_webhook_deliveries_total",
			Help: "Transcript webhook deliveries, by result",
		}, []string{"result"}),
		WebhookAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "chamada_webhook_attempts",
			Help:    "HTTP attempts made per transcript delivery",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		RateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "chamada_rate_limited_total",
			Help: "Call requests rejected by the rate limiter",
		}),
	}
}

func (m *Metrics) CallStarted(persona string) {
	if m == nil {
		return
	}
	m.CallsStarted.WithLabelValues(persona).Inc()
}

func (m *Metrics) CallFailed(kind string) {
	if m == nil {
		return
	}
	m.CallFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) CallEnded(outcome string) {
	if m == nil {
		return
	}
	m.CallsEnded.WithLabelValues(outcome).Inc()
}

func (m *Metrics) GreetingFailed() {
	if m == nil {
		return
	}
	m.GreetingsFailed.Inc()
}

// TrackActive increments the active gauge and returns the matching decrement.
func (m *Metrics) TrackActive() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveCalls.Inc()
	return m.ActiveCalls.Dec
}

func (m *Metrics) WebhookDelivery(result string, attempts int) {
	if m == nil {
		return
	}
	m.WebhookDeliveries.WithLabelValues(result).Inc()
	if attempts > 0 {
		m.WebhookAttempts.Observe(float64(attempts))
	}
}

func (m *Metrics) RateLimitHit() {
	if m == nil {
		return
	}
	m.RateLimited.Inc()
}
