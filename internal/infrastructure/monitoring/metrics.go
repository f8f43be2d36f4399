package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the sandbox host.
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsDestroyed prometheus.Counter

	// Bridge metrics
	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	BytesTransferred prometheus.Counter
	Reconnects       prometheus.Counter

	// Execution metrics
	ModulesLoaded    prometheus.Counter
	ModuleRejections *prometheus.CounterVec
	FunctionCalls    *prometheus.CounterVec
	FunctionDuration *prometheus.HistogramVec

	registry  *prometheus.Registry
	startTime time.Time
}

// NewMetrics creates a metrics collector registered on its own registry to
// keep tests independent; Handler exposes it.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

// NewMetricsOn registers the collectors on the given registry.
func NewMetricsOn(reg *prometheus.Registry) *Metrics {
	return newMetrics(reg)
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sandbox_sessions_active",
			Help: "Number of live sandbox sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_sessions_created_total",
			Help: "Total sandbox sessions created",
		}),
		SessionsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_sessions_destroyed_total",
			Help: "Total sandbox sessions destroyed",
		}),

		MessagesSent: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_messages_sent_total",
				Help: "Messages sent across the bridge",
			},
			[]string{"type"},
		),
		MessagesReceived: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_messages_received_total",
				Help: "Messages received across the bridge",
			},
			[]string{"type"},
		),
		BytesTransferred: factory.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_bytes_transferred_total",
			Help: "Bytes moved across the bridge in either direction",
		}),
		Reconnects: factory.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_bridge_reconnects_total",
			Help: "Successful bridge reconnections",
		}),

		ModulesLoaded: factory.NewCounter(prometheus.CounterOpts{
			Name: "sandbox_modules_loaded_total",
			Help: "Modules admitted into sandboxes",
		}),
		ModuleRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_module_rejections_total",
				Help: "Module loads denied by policy",
			},
			[]string{"dimension"},
		),
		FunctionCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sandbox_function_calls_total",
				Help: "Function calls dispatched into sandboxes",
			},
			[]string{"status"},
		),
		FunctionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sandbox_function_duration_seconds",
				Help:    "Sandbox function call duration in seconds",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"module"},
		),
	}
	return m
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSessionCreated records a new session.
func (m *Metrics) RecordSessionCreated() {
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

// RecordSessionDestroyed records a torn-down session.
func (m *Metrics) RecordSessionDestroyed() {
	m.SessionsDestroyed.Inc()
	m.SessionsActive.Dec()
}

// RecordMessageSent mirrors one outbound bridge message.
func (m *Metrics) RecordMessageSent(msgType string, bytes int) {
	m.MessagesSent.WithLabelValues(msgType).Inc()
	m.BytesTransferred.Add(float64(bytes))
}

// RecordMessageReceived mirrors one inbound bridge message.
func (m *Metrics) RecordMessageReceived(msgType string, bytes int) {
	m.MessagesReceived.WithLabelValues(msgType).Inc()
	m.BytesTransferred.Add(float64(bytes))
}

// RecordReconnect counts one successful bridge reconnection.
func (m *Metrics) RecordReconnect() {
	m.Reconnects.Inc()
}

// RecordFunctionCall records one dispatched call.
func (m *Metrics) RecordFunctionCall(module, status string, duration time.Duration) {
	m.FunctionCalls.WithLabelValues(status).Inc()
	m.FunctionDuration.WithLabelValues(module).Observe(duration.Seconds())
}

// Registry returns the registry holding these collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Uptime returns time since metrics creation.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}
