package observability

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	m.ActionTransition("click", "SUCCEEDED")
	m.ActionTransition("click", "SUCCEEDED")
	m.PollAttempt("refresh")
	m.ProcessStarted()
	m.ProcessStarted()
	m.ProcessFinished("failed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.actionTransitions.WithLabelValues("click", "SUCCEEDED")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.pollAttempts.WithLabelValues("refresh")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runningProcesses))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.processes.WithLabelValues("failed")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "flowreplay_supervisor_running_processes 1")
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ActionTransition("fill", "FAILED")
		m.ActionDuration("fill", "failed", 1)
		m.PollAttempt("tab")
		m.ProcessStarted()
		m.ProcessFinished("completed")
		m.SubscriberAdded()
		m.SubscriberRemoved()
	})
	assert.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	assert.Equal(t, 404, rec.Code)
}
