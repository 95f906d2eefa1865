// Package metrics provides Prometheus metrics for the netweb server,
// router/executor layer, and protocol clients.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "netweb"
)

// Metrics contains all Prometheus metrics exposed by a netweb process. All
// methods are nil-receiver safe: calling them on a nil *Metrics is a no-op,
// so callers that run without a metrics endpoint configured don't need to
// guard every call site.
type Metrics struct {
	// HTTP session metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPSessionsActive  prometheus.Gauge
	HTTPQueueDepth      prometheus.Histogram

	// WebSocket session metrics
	WSSessionsActive        prometheus.Gauge
	WSMessagesSentTotal     prometheus.Counter
	WSMessagesReceivedTotal prometheus.Counter
	WSSendQueueDepth        prometheus.Histogram

	// Executor metrics
	ExecutorRejectionsTotal *prometheus.CounterVec

	// Protocol client metrics
	ConnectDuration    *prometheus.HistogramVec
	ConnectErrorsTotal *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the default metrics instance, registered against the
// global Prometheus registry.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

// New creates a new Metrics instance registered against the default
// Prometheus registerer.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance registered against reg,
// useful for tests that want an isolated registry.
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		HTTPRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests dispatched, by method and status class",
		}, []string{"method", "status"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Handler latency from dispatch to response ready",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		HTTPSessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_sessions_active",
			Help:      "HTTP sessions currently open",
		}),
		HTTPQueueDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_queue_depth",
			Help:      "Pending-response queue depth observed at enqueue time",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		WSSessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ws_sessions_active",
			Help:      "WebSocket sessions currently open",
		}),
		WSMessagesSentTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_sent_total",
			Help:      "Total WebSocket messages written to peers",
		}),
		WSMessagesReceivedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_received_total",
			Help:      "Total WebSocket messages read from peers",
		}),
		WSSendQueueDepth: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ws_send_queue_depth",
			Help:      "Per-connection send queue depth observed at enqueue time",
			Buckets:   []float64{0, 1, 2, 4, 8, 16, 32},
		}),
		ExecutorRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executor_rejections_total",
			Help:      "Handler submissions rejected by the executor, by reason",
		}, []string{"reason"}),
		ConnectDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connect_duration_seconds",
			Help:      "Time from dial start to a usable protocol session, by protocol",
			Buckets:   prometheus.DefBuckets,
		}, []string{"proto"}),
		ConnectErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connect_errors_total",
			Help:      "Client connect failures, by protocol",
		}, []string{"proto"}),
	}
}

// RecordRequest records a completed HTTP request's method, status class, and
// handler latency in seconds.
func (m *Metrics) RecordRequest(method, statusClass string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, statusClass).Inc()
	m.HTTPRequestDuration.WithLabelValues(method).Observe(seconds)
}

// SessionOpened increments the active HTTP session gauge.
func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.HTTPSessionsActive.Inc()
}

// SessionClosed decrements the active HTTP session gauge.
func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.HTTPSessionsActive.Dec()
}

// ObserveQueueDepth records the PendingResponse queue depth at enqueue time.
func (m *Metrics) ObserveQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.HTTPQueueDepth.Observe(float64(depth))
}

// WSSessionOpened increments the active WebSocket session gauge.
func (m *Metrics) WSSessionOpened() {
	if m == nil {
		return
	}
	m.WSSessionsActive.Inc()
}

// WSSessionClosed decrements the active WebSocket session gauge.
func (m *Metrics) WSSessionClosed() {
	if m == nil {
		return
	}
	m.WSSessionsActive.Dec()
}

// RecordWSSend counts a WebSocket message written to a peer and records the
// send queue depth observed when it was enqueued.
func (m *Metrics) RecordWSSend(queueDepth int) {
	if m == nil {
		return
	}
	m.WSMessagesSentTotal.Inc()
	m.WSSendQueueDepth.Observe(float64(queueDepth))
}

// RecordWSReceive counts a WebSocket message read from a peer.
func (m *Metrics) RecordWSReceive() {
	if m == nil {
		return
	}
	m.WSMessagesReceivedTotal.Inc()
}

// RecordExecutorRejection counts a handler submission rejected by the
// executor. reason is typically "pool_full" or "channel_full".
func (m *Metrics) RecordExecutorRejection(reason string) {
	if m == nil {
		return
	}
	m.ExecutorRejectionsTotal.WithLabelValues(reason).Inc()
}

// RecordConnect records a successful client connect's duration for the given
// protocol ("http", "wss", "smtp", "stomp").
func (m *Metrics) RecordConnect(proto string, seconds float64) {
	if m == nil {
		return
	}
	m.ConnectDuration.WithLabelValues(proto).Observe(seconds)
}

// RecordConnectError counts a client connect failure for the given protocol.
func (m *Metrics) RecordConnectError(proto string) {
	if m == nil {
		return
	}
	m.ConnectErrorsTotal.WithLabelValues(proto).Inc()
}
