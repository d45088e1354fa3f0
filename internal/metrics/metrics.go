// Package metrics exposes orchestrator state to Prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	WorkersDesired   *prometheus.GaugeVec
	WorkersRunning   *prometheus.GaugeVec
	QueueDepth       *prometheus.GaugeVec
	ScaleEvents      *prometheus.CounterVec
	WorkerFailures   *prometheus.CounterVec
	BrokerPollErrors *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		WorkersDesired: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentmq_workers_desired",
			Help: "Desired worker count per agent type.",
		}, []string{"agent_type"}),
		WorkersRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentmq_workers_running",
			Help: "Live (starting, running or draining) worker count per agent type.",
		}, []string{"agent_type"}),
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentmq_queue_depth",
			Help: "Last observed message count per queue.",
		}, []string{"queue"}),
		ScaleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentmq_scale_events_total",
			Help: "Scaling actions applied, by agent type and direction.",
		}, []string{"agent_type", "direction"}),
		WorkerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentmq_worker_failures_total",
			Help: "Worker FAILED transitions, by agent type and reason.",
		}, []string{"agent_type", "reason"}),
		BrokerPollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "agentmq_broker_poll_errors_total",
			Help: "Failed queue depth polls, by queue.",
		}, []string{"queue"}),
	}

	m.registry.MustRegister(
		m.WorkersDesired,
		m.WorkersRunning,
		m.QueueDepth,
		m.ScaleEvents,
		m.WorkerFailures,
		m.BrokerPollErrors,
	)
	return m
}

// Handler serves the /metrics endpoint for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
