package client

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds Prometheus metrics for the transport
type Metrics struct {
	requestsTotal   *prometheus.CounterVec
	failoversTotal  prometheus.Counter
	attemptDuration prometheus.Histogram
}

// NewMetrics creates transport metrics and registers them with reg. A nil
// reg registers with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hawthorn_client_requests_total",
				Help: "Chat requests by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		failoversTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "hawthorn_client_failovers_total",
				Help: "Times a request moved on to the next chat server",
			},
		),
		attemptDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hawthorn_client_attempt_duration_seconds",
				Help:    "Time taken by single attempts against one chat server",
				Buckets: []float64{.01, .05, .1, .5, 1, 5, 10, 20, 30, 60},
			},
		),
	}

	reg.MustRegister(m.requestsTotal, m.failoversTotal, m.attemptDuration)
	return m
}

// RecordRequest counts a finished request
func (m *Metrics) RecordRequest(op, outcome string) {
	m.requestsTotal.WithLabelValues(op, outcome).Inc()
}

// RecordFailover counts a move to the next server
func (m *Metrics) RecordFailover() {
	m.failoversTotal.Inc()
}

// RecordAttemptDuration records how long one attempt took
func (m *Metrics) RecordAttemptDuration(seconds float64) {
	m.attemptDuration.Observe(seconds)
}
