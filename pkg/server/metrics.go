package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects server counters for the internal /metrics endpoint. Each
// server owns its own prometheus registry so multiple instances (tests) never
// collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	activeSessions     prometheus.Gauge
	onlineUsers        prometheus.Gauge
	sessionsTotal      prometheus.Counter
	framesReceived     *prometheus.CounterVec
	framesSent         *prometheus.CounterVec
	messagesDelivered  prometheus.Counter
	messagesQueued     prometheus.Counter
	pendingDelivered   prometheus.Counter
	protocolErrors     prometheus.Counter
	presenceBroadcasts prometheus.Counter
}

// NewMetrics creates the metric set on a fresh registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "causerie_active_connections",
			Help: "Number of open client connections.",
		}),
		onlineUsers: factory.NewGauge(prometheus.GaugeOpts{
			Name: "causerie_online_users",
			Help: "Number of authenticated users currently registered.",
		}),
		sessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "causerie_sessions_total",
			Help: "Total number of client connections accepted.",
		}),
		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "causerie_frames_received_total",
			Help: "Frames received from clients, by command.",
		}, []string{"command"}),
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "causerie_frames_sent_total",
			Help: "Frames sent to clients, by response.",
		}, []string{"response"}),
		messagesDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "causerie_messages_delivered_total",
			Help: "Messages pushed to an online recipient at send time.",
		}),
		messagesQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "causerie_messages_queued_total",
			Help: "Messages stored for offline delivery at send time.",
		}),
		pendingDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "causerie_pending_delivered_total",
			Help: "Queued messages delivered when their recipient logged in.",
		}),
		protocolErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "causerie_protocol_errors_total",
			Help: "Malformed or rejected client frames.",
		}),
		presenceBroadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "causerie_presence_broadcasts_total",
			Help: "USER_STATUS_CHANGE fan-outs performed.",
		}),
	}
}

// Handler returns the HTTP handler serving this metric set.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordConnectionOpened(active int) {
	m.sessionsTotal.Inc()
	m.activeSessions.Set(float64(active))
}

func (m *Metrics) RecordConnectionClosed(active int) {
	m.activeSessions.Set(float64(active))
}

func (m *Metrics) RecordOnlineUsers(online int) {
	m.onlineUsers.Set(float64(online))
}

func (m *Metrics) RecordFrameReceived(command string) {
	m.framesReceived.WithLabelValues(command).Inc()
}

func (m *Metrics) RecordFrameSent(response string) {
	m.framesSent.WithLabelValues(response).Inc()
}

func (m *Metrics) RecordImmediateDelivery() {
	m.messagesDelivered.Inc()
}

func (m *Metrics) RecordQueuedMessage() {
	m.messagesQueued.Inc()
}

func (m *Metrics) RecordPendingDelivered() {
	m.pendingDelivered.Inc()
}

func (m *Metrics) RecordProtocolError() {
	m.protocolErrors.Inc()
}

func (m *Metrics) RecordPresenceBroadcast() {
	m.presenceBroadcasts.Inc()
}
