package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging service.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "messaging_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_events_total",
			Help: "Total number of websocket events by type.",
		},
		[]string{"event"},
	)
	feedPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_feed_publish_errors_total",
			Help: "Total number of change-feed publish errors.",
		},
	)
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_uploads_total",
			Help: "Total number of blob upload attempts by outcome.",
		},
		[]string{"outcome"},
	)
	recordingsCancelledTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_recordings_cancelled_total",
			Help: "Total number of cancelled media captures.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		feedPublishErrorsTotal,
		uploadsTotal,
		recordingsCancelledTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

// WSActiveGauge exposes the active-connection gauge so tests can assert
// its bookkeeping.
func WSActiveGauge() prometheus.Gauge {
	return wsActiveConnections
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncFeedPublishError() {
	feedPublishErrorsTotal.Inc()
}

func IncUpload(outcome string) {
	uploadsTotal.WithLabelValues(outcome).Inc()
}

func IncRecordingCancelled() {
	recordingsCancelledTotal.Inc()
}
