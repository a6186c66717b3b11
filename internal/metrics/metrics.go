// Package metrics exposes pipeline counters for Prometheus.
//
// All methods are safe on a nil *Metrics so components can be built without
// instrumentation in tests and one-shot CLI commands.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the counters of one process. It owns a private registry so
// several instances (tests, embedded use) never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	PollCycles       *prometheus.CounterVec
	PollErrors       *prometheus.CounterVec
	PollDuration     *prometheus.HistogramVec
	TriggersEnqueued *prometheus.CounterVec
	Conflicts        *prometheus.CounterVec
	Deliveries       *prometheus.CounterVec
	SpawnTransitions *prometheus.CounterVec
	SessionsRecorded *prometheus.CounterVec
	CorruptDocuments *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		PollCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_poll_cycles_total",
			Help: "Completed poll cycles by task",
		}, []string{"task"}),
		PollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_poll_errors_total",
			Help: "Poll cycles that returned an error, by task",
		}, []string{"task"}),
		PollDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "switchyard_poll_duration_seconds",
			Help:    "Poll cycle duration by task",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"task"}),
		TriggersEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_triggers_enqueued_total",
			Help: "Forward triggers enqueued by the chat relay, by agent",
		}, []string{"agent"}),
		Conflicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_queue_conflicts_total",
			Help: "Status precondition conflicts observed, by queue",
		}, []string{"queue"}),
		Deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_deliveries_total",
			Help: "Dispatcher delivery attempts by outcome",
		}, []string{"outcome"}),
		SpawnTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_spawn_transitions_total",
			Help: "Spawn request transitions by target status",
		}, []string{"status"}),
		SessionsRecorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_usage_sessions_recorded_total",
			Help: "Sessions folded into the usage baseline, by agent",
		}, []string{"agent"}),
		CorruptDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "switchyard_corrupt_documents_total",
			Help: "Documents that failed to parse and were treated as empty",
		}, []string{"component"}),
	}
	reg.MustRegister(
		m.PollCycles, m.PollErrors, m.PollDuration, m.TriggersEnqueued, m.Conflicts,
		m.Deliveries, m.SpawnTransitions, m.SessionsRecorded, m.CorruptDocuments,
	)
	return m
}

// Registry returns the registry holding every collector.
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

func (m *Metrics) ObservePoll(task string, seconds float64, err error) {
	if m == nil {
		return
	}
	m.PollCycles.WithLabelValues(task).Inc()
	m.PollDuration.WithLabelValues(task).Observe(seconds)
	if err != nil {
		m.PollErrors.WithLabelValues(task).Inc()
	}
}

func (m *Metrics) TriggerEnqueued(agent string) {
	if m == nil {
		return
	}
	m.TriggersEnqueued.WithLabelValues(agent).Inc()
}

func (m *Metrics) Conflict(queue string) {
	if m == nil {
		return
	}
	m.Conflicts.WithLabelValues(queue).Inc()
}

func (m *Metrics) Delivery(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) SpawnTransition(status string) {
	if m == nil {
		return
	}
	m.SpawnTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) SessionRecorded(agent string) {
	if m == nil {
		return
	}
	m.SessionsRecorded.WithLabelValues(agent).Inc()
}

func (m *Metrics) CorruptDocument(component string) {
	if m == nil {
		return
	}
	m.CorruptDocuments.WithLabelValues(component).Inc()
}
