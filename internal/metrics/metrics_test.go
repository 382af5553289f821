package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRun("Approve", OutcomeDone, 20*time.Millisecond)
	m.ObserveRun("Approve", OutcomeDone, 30*time.Millisecond)
	m.ObserveRun("Approve", OutcomeRejected, time.Millisecond)
	m.ObserveReceived("Split", OutcomeAccepted)
	m.PropagationFailed(2)
	m.PropagationFailed(0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.flowRuns.WithLabelValues("Approve", OutcomeDone)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flowRuns.WithLabelValues("Approve", OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.received.WithLabelValues("Split", OutcomeAccepted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.propagationFailures))
	assert.Equal(t, 1, testutil.CollectAndCount(m.flowRunDuration))
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRun("Propose", OutcomeDone, time.Second)
		m.ObserveReceived("CreateBill", OutcomeAccepted)
		m.PropagationFailed(1)
	})
}
