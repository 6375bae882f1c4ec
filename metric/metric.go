// Package metric exposes Prometheus collectors for task dispatch, agent
// responses, clarification rounds, workflow runs and reconciled events.
//
// Every method is safe on a nil *Metrics, so components take metrics as an
// optional dependency.
package metric

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "legion"

// Metrics holds the collectors registered on one registry.
type Metrics struct {
	registry *prometheus.Registry

	tasksDispatched  *prometheus.CounterVec
	responses        *prometheus.CounterVec
	clarifications   *prometheus.CounterVec
	workflows        *prometheus.CounterVec
	eventsApplied    *prometheus.CounterVec
	workflowsActive  prometheus.Gauge
	workflowDuration prometheus.Histogram
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Tasks issued to agents.",
		}, []string{"agent", "task_type"}),
		responses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "responses_total",
			Help:      "Agent responses by status.",
		}, []string{"agent", "status"}),
		clarifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clarifications_total",
			Help:      "Clarification rounds requested by agents.",
		}, []string{"agent"}),
		workflows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Finished workflow runs by outcome.",
		}, []string{"status"}),
		eventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Progress events merged into chat state.",
		}, []string{"kind"}),
		workflowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_active",
			Help:      "Workflow runs in flight.",
		}),
		workflowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Wall time of finished workflow runs.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}

	m.registry.MustRegister(
		m.tasksDispatched,
		m.responses,
		m.clarifications,
		m.workflows,
		m.eventsApplied,
		m.workflowsActive,
		m.workflowDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TaskDispatched counts a task sent to an agent.
func (m *Metrics) TaskDispatched(agentName, taskType string) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(agentName, taskType).Inc()
}

// ResponseReceived counts an agent response.
func (m *Metrics) ResponseReceived(agentName, status string) {
	if m == nil {
		return
	}
	m.responses.WithLabelValues(agentName, status).Inc()
}

// ClarificationRequested counts a clarification round.
func (m *Metrics) ClarificationRequested(agentName string) {
	if m == nil {
		return
	}
	m.clarifications.WithLabelValues(agentName).Inc()
}

// WorkflowStarted marks a run as in flight.
func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.workflowsActive.Inc()
}

// WorkflowFinished records a run's outcome and duration.
func (m *Metrics) WorkflowFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.workflowsActive.Dec()
	m.workflows.WithLabelValues(status).Inc()
	m.workflowDuration.Observe(elapsed.Seconds())
}

// EventApplied counts a reconciled event. It satisfies state.Recorder.
func (m *Metrics) EventApplied(kind string) {
	if m == nil {
		return
	}
	m.eventsApplied.WithLabelValues(kind).Inc()
}
