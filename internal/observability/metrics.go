package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "flowreplay"

// Metrics holds the Prometheus collectors shared by the interpreter and the
// supervisor. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	actionTransitions *prometheus.CounterVec
	actionDuration    *prometheus.HistogramVec
	pollAttempts      *prometheus.CounterVec
	processes         *prometheus.CounterVec
	runningProcesses  prometheus.Gauge
	subscribers       prometheus.Gauge
}

// NewMetrics creates and registers the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		actionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "interpreter",
			Name:      "action_transitions_total",
			Help:      "Action state machine transitions by verb and target state",
		}, []string{"verb", "state"}),

		actionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "interpreter",
			Name:      "action_duration_seconds",
			Help:      "Wall time spent executing one action",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 150},
		}, []string{"verb", "outcome"}),

		pollAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "interpreter",
			Name:      "poll_attempts_total",
			Help:      "Predicate evaluations made by bounded polling loops",
		}, []string{"loop"}),

		processes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "supervisor",
			Name:      "processes_total",
			Help:      "Worker processes by terminal report status",
		}, []string{"status"}),

		runningProcesses: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "supervisor",
			Name:      "running_processes",
			Help:      "Worker processes currently alive",
		}),

		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "stream",
			Name:      "subscribers",
			Help:      "Live stream subscribers across all reports",
		}),
	}

	m.registry.MustRegister(
		m.actionTransitions,
		m.actionDuration,
		m.pollAttempts,
		m.processes,
		m.runningProcesses,
		m.subscribers,
		prometheus.NewGoCollector(),
	)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ActionTransition(verb, state string) {
	if m == nil {
		return
	}
	m.actionTransitions.WithLabelValues(verb, state).Inc()
}

func (m *Metrics) ActionDuration(verb, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.actionDuration.WithLabelValues(verb, outcome).Observe(seconds)
}

func (m *Metrics) PollAttempt(loop string) {
	if m == nil {
		return
	}
	m.pollAttempts.WithLabelValues(loop).Inc()
}

func (m *Metrics) ProcessStarted() {
	if m == nil {
		return
	}
	m.runningProcesses.Inc()
}

func (m *Metrics) ProcessFinished(status string) {
	if m == nil {
		return
	}
	m.runningProcesses.Dec()
	m.processes.WithLabelValues(status).Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}
