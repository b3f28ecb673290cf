// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// APIRequestDuration tracks REST call duration from the client side.
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_api_request_duration_seconds",
			Help:    "REST request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestsTotal tracks total REST calls issued by the client.
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_api_requests_total",
			Help: "Total REST requests",
		},
		[]string{"method", "path", "status"},
	)

	// WSConnected reports whether the realtime connection is up.
	WSConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chat_ws_connected",
			Help: "1 when the websocket session is established",
		},
	)

	// WSReconnectsTotal tracks automatic reconnect attempts.
	WSReconnectsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_reconnects_total",
			Help: "Total websocket reconnect attempts",
		},
	)

	// WSFramesTotal tracks inbound frames by destination.
	WSFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_frames_total",
			Help: "Total inbound websocket frames",
		},
		[]string{"destination"},
	)

	// WSDroppedPayloadsTotal tracks inbound payloads dropped as malformed.
	WSDroppedPayloadsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chat_ws_dropped_payloads_total",
			Help: "Total malformed inbound payloads dropped",
		},
	)

	// MessagesSentTotal tracks outbound chat messages by path.
	MessagesSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_messages_sent_total",
			Help: "Total chat messages sent",
		},
		[]string{"path"},
	)

	// WSSessionsActive tracks active websocket sessions on the dev server.
	WSSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "devserver_ws_sessions_active",
			Help: "Number of active websocket sessions",
		},
	)
)

// RecordAPIRequest records metrics for one REST call.
func RecordAPIRequest(method, path, status string, duration float64) {
	APIRequestDuration.WithLabelValues(method, path, status).Observe(duration)
	APIRequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordMessageSent records one outbound chat message. Path is "rest" for
// repository sends and "ws" for transport publishes.
func RecordMessageSent(path string) {
	MessagesSentTotal.WithLabelValues(path).Inc()
}
