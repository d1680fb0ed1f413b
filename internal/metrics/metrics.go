// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/GoCodeAlone/agency/batch"
)

const namespace = "agency"

// Metrics groups the agency collectors. The zero value is not usable; call New.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests    *prometheus.CounterVec
	agentHealth    *prometheus.GaugeVec
	toolCalls      *prometheus.CounterVec
	batchFlushes   *prometheus.CounterVec
	providerErrors prometheus.Counter
}

// New creates the collectors on a fresh registry together with the Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "api_requests_total",
			Help:      "Total API requests.",
		}, []string{"endpoint"}),
		agentHealth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_health",
			Help:      "Agent health status (1 healthy, 0 not).",
		}, []string{"agent_name"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Tool operations executed, by outcome.",
		}, []string{"tool", "operation", "outcome"}),
		batchFlushes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_flushes_total",
			Help:      "Update batches flushed, by reason.",
		}, []string{"reason"}),
		providerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Failed chat provider calls.",
		}),
	}
	m.registry.MustRegister(
		m.apiRequests,
		m.agentHealth,
		m.toolCalls,
		m.batchFlushes,
		m.providerErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// APIRequest counts one request to endpoint.
func (m *Metrics) APIRequest(endpoint string) {
	m.apiRequests.WithLabelValues(endpoint).Inc()
}

// AgentHealth records whether an agent is healthy.
func (m *Metrics) AgentHealth(name string, healthy bool) {
	v := 0.0
	if healthy {
		v = 1
	}
	m.agentHealth.WithLabelValues(name).Set(v)
}

// ResetAgentHealth sets every known agent to unhealthy.
func (m *Metrics) ResetAgentHealth(names ...string) {
	for _, n := range names {
		m.agentHealth.WithLabelValues(n).Set(0)
	}
}

// ToolCall counts one tool operation. Its signature matches tools.Observer.
func (m *Metrics) ToolCall(tool, operation string, success bool) {
	outcome := "error"
	if success {
		outcome = "success"
	}
	m.toolCalls.WithLabelValues(tool, operation, outcome).Inc()
}

// BatchFlushed implements batch.Notifier.
func (m *Metrics) BatchFlushed(_ context.Context, b batch.ArchivedBatch, _ string) {
	m.batchFlushes.WithLabelValues(string(b.Reason)).Inc()
}

// ProviderError counts one failed provider call.
func (m *Metrics) ProviderError(error) {
	m.providerErrors.Inc()
}
