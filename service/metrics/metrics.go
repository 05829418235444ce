package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Transfer Metrics
	transfersTotal      *prometheus.CounterVec
	transferAmountTotal *prometheus.CounterVec
	nodeBalance         *prometheus.GaugeVec

	// Command Console Metrics
	commandsSubmittedTotal *prometheus.CounterVec
	commandsCompletedTotal *prometheus.CounterVec

	// Network Metrics
	nodesConnected    prometheus.Gauge
	activeConnections prometheus.Gauge
	syncProgress      prometheus.Gauge
	nodeLatency       *prometheus.GaugeVec
	feedState         *prometheus.GaugeVec
	feedReconnects    prometheus.Counter

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec
	streamActiveClients *prometheus.GaugeVec
	streamEventsSent    *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Transfer Metrics
		transfersTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodedash_transfers_total",
				Help: "Total number of transfer attempts by origin and outcome",
			},
			[]string{"origin", "status"},
		),
		transferAmountTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodedash_transfer_amount_total",
				Help: "Sum of applied transfer amounts",
			},
			[]string{"origin"},
		),
		nodeBalance: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nodedash_node_balance",
				Help: "Current simulated balance per node",
			},
			[]string{"node"},
		),

		// Command Console Metrics
		commandsSubmittedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodedash_commands_submitted_total",
				Help: "Total number of console commands submitted",
			},
			[]string{"command"},
		),
		commandsCompletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodedash_commands_completed_total",
				Help: "Total number of console commands resolved by terminal status",
			},
			[]string{"command", "status"},
		),

		// Network Metrics
		nodesConnected: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodedash_nodes_connected",
				Help: "Number of nodes flagged connected",
			},
		),
		activeConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodedash_active_connections",
				Help: "Active connections reported by the network monitor",
			},
		),
		syncProgress: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "nodedash_sync_progress_percent",
				Help: "Simulated blockchain sync progress",
			},
		),
		nodeLatency: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nodedash_node_latency_ms",
				Help: "Simulated latency per node in milliseconds",
			},
			[]string{"node"},
		),
		feedState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nodedash_feed_state",
				Help: "Transaction feed connection state (1 for the current state)",
			},
			[]string{"state"},
		),
		feedReconnects: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "nodedash_feed_connects_total",
				Help: "Total number of successful transaction feed connections",
			},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),
		streamActiveClients: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "nodedash_stream_active_clients",
				Help: "Number of connected WebSocket and SSE clients",
			},
			[]string{"transport"},
		),
		streamEventsSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nodedash_stream_events_sent_total",
				Help: "Total number of events pushed to stream clients",
			},
			[]string{"transport", "event_type"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"status"},
		),
	}
}

// Transfer metric helpers

// RecordTransfer records a transfer attempt. amount is only added on success.
func (m *Metrics) RecordTransfer(origin, status string, amount float64) {
	m.transfersTotal.WithLabelValues(origin, status).Inc()
	if status == "success" {
		m.transferAmountTotal.WithLabelValues(origin).Add(amount)
	}
}

// SetNodeBalance records the balance of a node.
func (m *Metrics) SetNodeBalance(node string, balance float64) {
	m.nodeBalance.WithLabelValues(node).Set(balance)
}

// Command metric helpers

// RecordCommandSubmitted records a submitted command by its base verb.
func (m *Metrics) RecordCommandSubmitted(command string) {
	m.commandsSubmittedTotal.WithLabelValues(command).Inc()
}

// RecordCommandCompleted records a command reaching a terminal status.
func (m *Metrics) RecordCommandCompleted(command, status string) {
	m.commandsCompletedTotal.WithLabelValues(command, status).Inc()
}

// Network metric helpers

// RecordNetworkStatus records a monitor snapshot.
func (m *Metrics) RecordNetworkStatus(connected, active int, syncProgress float64) {
	m.nodesConnected.Set(float64(connected))
	m.activeConnections.Set(float64(active))
	m.syncProgress.Set(syncProgress)
}

// SetNodeLatency records the latency of a node.
func (m *Metrics) SetNodeLatency(node string, ms int) {
	m.nodeLatency.WithLabelValues(node).Set(float64(ms))
}

// RecordFeedState marks state as the current feed state.
func (m *Metrics) RecordFeedState(state string) {
	for _, s := range []string{"disconnected", "connecting", "connected"} {
		v := 0.0
		if s == state {
			v = 1
		}
		m.feedState.WithLabelValues(s).Set(v)
	}
	if state == "connected" {
		m.feedReconnects.Inc()
	}
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// RecordStreamClientChange records a change in stream client count.
func (m *Metrics) RecordStreamClientChange(transport string, delta float64) {
	m.streamActiveClients.WithLabelValues(transport).Add(delta)
}

// RecordStreamEventSent records an event pushed to a stream client.
func (m *Metrics) RecordStreamEventSent(transport, eventType string) {
	m.streamEventsSent.WithLabelValues(transport, eventType).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(status).Inc()
	m.natsPublishDuration.WithLabelValues(status).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
