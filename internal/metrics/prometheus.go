package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the time server
type Metrics struct {
	// UDP receiver metrics
	DatagramsReceived *prometheus.CounterVec
	ReceiveErrors     prometheus.Counter

	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionEvents   *prometheus.CounterVec
	SessionsCleared prometheus.Counter

	// Broadcast metrics
	Ticks          prometheus.Counter
	SendsTotal     *prometheus.CounterVec
	TickDuration   prometheus.Histogram
	TickRecipients prometheus.Histogram

	// Server lifecycle
	ServerState *prometheus.GaugeVec
	PortChanges prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// UDP receiver metrics
		DatagramsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timeserver_datagrams_received_total",
			Help: "Total number of control datagrams received, by command",
		}, []string{"command"}),
		ReceiveErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "timeserver_receive_errors_total",
			Help: "Total number of failed receive iterations",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "timeserver_active_sessions",
			Help: "Current number of active client sessions",
		}),
		SessionEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timeserver_session_events_total",
			Help: "Session lifecycle transitions, by event",
		}, []string{"event"}),
		SessionsCleared: factory.NewCounter(prometheus.CounterOpts{
			Name: "timeserver_sessions_cleared_total",
			Help: "Total number of active sessions dropped by server shutdown",
		}),

		// Broadcast metrics
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Name: "timeserver_broadcast_ticks_total",
			Help: "Total number of broadcast ticks",
		}),
		SendsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timeserver_broadcast_sends_total",
			Help: "Per-client time sends, by result",
		}, []string{"result"}),
		TickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeserver_broadcast_tick_duration_seconds",
			Help:    "Time spent delivering one broadcast tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8), // 100µs to ~1.6s
		}),
		TickRecipients: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeserver_broadcast_tick_recipients",
			Help:    "Number of active sessions targeted per tick",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 to 512
		}),

		// Server lifecycle
		ServerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timeserver_server_state",
			Help: "1 for the current server lifecycle state, 0 otherwise",
		}, []string{"state"}),
		PortChanges: factory.NewCounter(prometheus.CounterOpts{
			Name: "timeserver_port_changes_total",
			Help: "Total number of listen port reconfigurations",
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timeserver_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timeserver_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "timeserver_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagram increments the received counter for the given command label
func (m *Metrics) RecordDatagram(command string) {
	m.DatagramsReceived.WithLabelValues(command).Inc()
}

// RecordReceiveError increments the receive error counter
func (m *Metrics) RecordReceiveError() {
	m.ReceiveErrors.Inc()
}

// RecordSessionEvent counts a session transition (created, reconnected, disconnected)
func (m *Metrics) RecordSessionEvent(event string) {
	m.SessionEvents.WithLabelValues(event).Inc()
}

// SetActiveSessions sets the current number of active sessions
func (m *Metrics) SetActiveSessions(count int) {
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionsCleared adds the sessions dropped by a shutdown
func (m *Metrics) RecordSessionsCleared(count int) {
	m.SessionsCleared.Add(float64(count))
}

// RecordTick records one broadcast tick
func (m *Metrics) RecordTick(recipients, failures int, durationSeconds float64) {
	m.Ticks.Inc()
	m.SendsTotal.WithLabelValues("ok").Add(float64(recipients - failures))
	m.SendsTotal.WithLabelValues("failed").Add(float64(failures))
	m.TickDuration.Observe(durationSeconds)
	if recipients > 0 {
		m.TickRecipients.Observe(float64(recipients))
	}
}

// SetServerState marks state as the current lifecycle state
func (m *Metrics) SetServerState(state string, all []string) {
	for _, s := range all {
		value := 0.0
		if s == state {
			value = 1
		}
		m.ServerState.WithLabelValues(s).Set(value)
	}
}

// RecordPortChange increments the port reconfiguration counter
func (m *Metrics) RecordPortChange() {
	m.PortChanges.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
