package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the daemon.
type Metrics struct {
	registry      *prometheus.Registry
	AskRequests   *prometheus.CounterVec
	AskDuration   *prometheus.HistogramVec
	EventsEmitted *prometheus.CounterVec
	ActiveStreams *prometheus.GaugeVec
	TransportErrs *prometheus.CounterVec
	ToolCalls     *prometheus.CounterVec
}

// NewMetrics constructs a metrics registry with streaming collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	asks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_ask_requests_total",
		Help: "Total ask requests by outcome",
	}, []string{"outcome"})

	durs := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nimbus_ask_duration_seconds",
		Help:    "Ask stream duration in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_stream_events_total",
		Help: "Wire events emitted by type",
	}, []string{"type"})

	active := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nimbus_active_streams",
		Help: "Active ask streams by transport",
	}, []string{"transport"})

	trErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_transport_errors_total",
		Help: "Transport-level errors by transport and reason",
	}, []string{"transport", "reason"})

	toolCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "nimbus_tool_invocations_total",
		Help: "Backend tool invocations by tool and status",
	}, []string{"tool", "status"})

	reg.MustRegister(asks, durs, events, active, trErrors, toolCalls)

	return &Metrics{
		registry:      reg,
		AskRequests:   asks,
		AskDuration:   durs,
		EventsEmitted: events,
		ActiveStreams: active,
		TransportErrs: trErrors,
		ToolCalls:     toolCalls,
	}
}

// Registry returns the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordAsk records one completed ask request.
func (m *Metrics) RecordAsk(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.AskRequests.WithLabelValues(outcome).Inc()
	m.AskDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordEvent counts an emitted wire event.
func (m *Metrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.EventsEmitted.WithLabelValues(eventType).Inc()
}

// IncActiveStreams increments the active stream gauge.
func (m *Metrics) IncActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(transport).Inc()
}

// DecActiveStreams decrements the active stream gauge.
func (m *Metrics) DecActiveStreams(transport string) {
	if m == nil {
		return
	}
	m.ActiveStreams.WithLabelValues(transport).Dec()
}

// RecordTransportError records a transport-level error.
func (m *Metrics) RecordTransportError(transport, reason string) {
	if m == nil {
		return
	}
	if transport == "" {
		transport = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	m.TransportErrs.WithLabelValues(transport, reason).Inc()
}

// RecordToolCall records a backend tool invocation.
func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	if tool == "" {
		tool = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}
