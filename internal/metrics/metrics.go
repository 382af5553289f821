// Package metrics exposes the node's Prometheus instruments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "splitledger"

// Run outcomes.
const (
	OutcomeDone     = "done"
	OutcomeRejected = "rejected"
	OutcomePartial  = "partial"
	OutcomeFailed   = "failed"
	OutcomeAccepted = "accepted"
)

// Metrics holds the instruments. A nil *Metrics is valid and records nothing.
type Metrics struct {
	flowRuns            *prometheus.CounterVec
	flowRunDuration     *prometheus.HistogramVec
	received            *prometheus.CounterVec
	propagationFailures prometheus.Counter
}

// New registers the instruments with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		flowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_runs_total",
			Help:      "Protocol runs by protocol and outcome.",
		}, []string{"protocol", "outcome"}),
		flowRunDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flow_run_duration_seconds",
			Help:      "Wall time of protocol runs.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"protocol"}),
		received: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "received_transactions_total",
			Help:      "Transactions received from counterparties by command and outcome.",
		}, []string{"command", "outcome"}),
		propagationFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "propagation_failures_total",
			Help:      "Counterparties that could not be reached after finality.",
		}),
	}
}

// ObserveRun records one finished protocol run.
func (m *Metrics) ObserveRun(protocol, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.flowRuns.WithLabelValues(protocol, outcome).Inc()
	m.flowRunDuration.WithLabelValues(protocol).Observe(d.Seconds())
}

// ObserveReceived records one transaction handled as a responder.
func (m *Metrics) ObserveReceived(command, outcome string) {
	if m == nil {
		return
	}
	m.received.WithLabelValues(command, outcome).Inc()
}

// PropagationFailed adds n unreachable counterparties.
func (m *Metrics) PropagationFailed(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.propagationFailures.Add(float64(n))
}
