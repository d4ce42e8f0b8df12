package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics is the process metric set. One instance lives for the whole
// daemon; the recorder methods satisfy the small recorder interfaces
// the core packages accept.
type Metrics struct {
	registry *prometheus.Registry

	// Messages counts inbound transport events by kind
	// (invocation, chatter, reminder).
	Messages *prometheus.CounterVec

	// Invocations counts finished agent runs by outcome
	// (completed, error, rejected).
	Invocations *prometheus.CounterVec

	// InvocationDuration observes full run latency.
	InvocationDuration prometheus.Histogram

	// LLMRequests and LLMRequestDuration track gateway calls per role
	// and provider.
	LLMRequests        *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec

	// ToolExecutions and ToolExecutionDuration track dispatched tool
	// calls.
	ToolExecutions        *prometheus.CounterVec
	ToolExecutionDuration *prometheus.HistogramVec

	// NodeDuration observes per-node graph latency.
	NodeDuration *prometheus.HistogramVec

	// SchedulerFires counts reminder deliveries by status.
	SchedulerFires *prometheus.CounterVec

	// TrendFollows counts trend emissions by kind
	// (content, emoji, reaction).
	TrendFollows *prometheus.CounterVec

	// Errors counts failures by component and error kind.
	Errors *prometheus.CounterVec
}

// NewMetrics builds and registers the metric set on a fresh registry,
// alongside the standard Go and process collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		Messages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_messages_total",
			Help: "Inbound transport events by kind.",
		}, []string{"kind"}),

		Invocations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_invocations_total",
			Help: "Finished agent runs by outcome.",
		}, []string{"outcome"}),

		InvocationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prism_invocation_duration_seconds",
			Help:    "Latency of full agent runs.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		LLMRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_llm_requests_total",
			Help: "Model gateway calls by role, provider, and status.",
		}, []string{"role", "provider", "status"}),

		LLMRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_llm_request_duration_seconds",
			Help:    "Latency of model gateway calls.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"role", "provider"}),

		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_tool_executions_total",
			Help: "Dispatched tool calls by tool and status.",
		}, []string{"tool", "status"}),

		ToolExecutionDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_tool_execution_duration_seconds",
			Help:    "Latency of tool executions.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"tool"}),

		NodeDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prism_graph_node_duration_seconds",
			Help:    "Latency of graph node executions.",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"node"}),

		SchedulerFires: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_scheduler_fires_total",
			Help: "Reminder deliveries by status.",
		}, []string{"status"}),

		TrendFollows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_trend_follows_total",
			Help: "Trend-following emissions by kind.",
		}, []string{"kind"}),

		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prism_errors_total",
			Help: "Failures by component and error kind.",
		}, []string{"component", "kind"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// RecordMessage counts one inbound transport event.
func (m *Metrics) RecordMessage(kind string) {
	m.Messages.WithLabelValues(kind).Inc()
}

// RecordInvocation counts one finished agent run.
func (m *Metrics) RecordInvocation(outcome string, elapsed time.Duration) {
	m.Invocations.WithLabelValues(outcome).Inc()
	m.InvocationDuration.Observe(elapsed.Seconds())
}

// RecordLLMRequest counts one model gateway call.
func (m *Metrics) RecordLLMRequest(role, provider, status string, elapsed time.Duration) {
	m.LLMRequests.WithLabelValues(role, provider, status).Inc()
	m.LLMRequestDuration.WithLabelValues(role, provider).Observe(elapsed.Seconds())
}

// RecordToolExecution counts one dispatched tool call.
func (m *Metrics) RecordToolExecution(tool, status string, elapsed time.Duration) {
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(tool).Observe(elapsed.Seconds())
}

// ObserveNode records one graph node execution.
func (m *Metrics) ObserveNode(node string, elapsed time.Duration) {
	m.NodeDuration.WithLabelValues(node).Observe(elapsed.Seconds())
}

// RecordSchedulerFire counts one reminder delivery.
func (m *Metrics) RecordSchedulerFire(status string) {
	m.SchedulerFires.WithLabelValues(status).Inc()
}

// RecordTrendFollow counts one trend emission.
func (m *Metrics) RecordTrendFollow(kind string) {
	m.TrendFollows.WithLabelValues(kind).Inc()
}

// RecordError counts one failure.
func (m *Metrics) RecordError(component, kind string) {
	m.Errors.WithLabelValues(component, kind).Inc()
}
