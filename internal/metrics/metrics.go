package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsubuyaki_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsubuyaki_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Business metrics
	MessagesChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsubuyaki_messages_changed_total",
			Help: "Messages created, updated and deleted",
		},
		[]string{"op"},
	)

	BotReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsubuyaki_bot_replies_total",
			Help: "Replies posted by bots",
		},
		[]string{"bot"},
	)

	WebSocketClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsubuyaki_websocket_clients",
			Help: "Connected websocket clients",
		},
	)

	RateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tsubuyaki_rate_limit_hits_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	// Infrastructure metrics
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsubuyaki_store_latency_seconds",
			Help:    "Message store operation latency",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
		[]string{"op"},
	)
)

// ObserveStore records the time elapsed since start for op.
// Use as: defer metrics.ObserveStore("insert", time.Now())
func ObserveStore(op string, start time.Time) {
	StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
