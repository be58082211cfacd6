package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RedisErrorRate counts Redis errors by operation type.
	RedisErrorRate = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_redis_error_rate_total",
		Help: "Total number of Redis errors by operation type",
	}, []string{"operation"})

	// DatabaseQueryLatency records database query latency by operation and table.
	DatabaseQueryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tripchat_database_query_latency_seconds",
		Help:    "Database query latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	// BusPublished counts events published per backend and event name.
	BusPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_bus_published_total",
		Help: "Total number of events published to the bus",
	}, []string{"backend", "event"})

	// BusPublishFailures counts publish calls that returned an error.
	BusPublishFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_bus_publish_failures_total",
		Help: "Total number of failed bus publishes",
	}, []string{"backend", "event"})

	// BusDrops counts events dropped before reaching a subscriber handler.
	BusDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_bus_drops_total",
		Help: "Total number of events dropped by the bus",
	}, []string{"backend", "reason"})

	// BusSubscriptions is the gauge of live bus subscriptions.
	BusSubscriptions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "tripchat_bus_subscriptions",
		Help: "Number of live bus subscriptions",
	}, []string{"backend"})

	// DeliveryOperations counts PersistAndPublish operations by outcome.
	DeliveryOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_delivery_operations_total",
		Help: "Total number of delivery operations by operation and outcome",
	}, []string{"operation", "outcome"})

	// DeliveryLatency records persist+publish latency by operation.
	DeliveryLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "tripchat_delivery_latency_seconds",
		Help:    "Latency of delivery operations in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// WebSocketConnectionsTotal is the gauge of total WebSocket connections.
	WebSocketConnectionsTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tripchat_websocket_connections_total",
		Help: "Total number of active WebSocket connections",
	})

	// WebSocketEventsTotal counts WebSocket frames by type.
	WebSocketEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_websocket_events_total",
		Help: "Total WebSocket events by type",
	}, []string{"event_type"})

	// WebSocketBackpressureDrops counts messages dropped due to backpressure by hub and reason.
	WebSocketBackpressureDrops = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_websocket_backpressure_drops_total",
		Help: "Total number of WebSocket messages dropped due to backpressure",
	}, []string{"hub", "reason"})

	// RetentionPurged counts rows removed or scrubbed by the retention sweeper.
	RetentionPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tripchat_retention_purged_total",
		Help: "Total number of rows purged by retention",
	}, []string{"kind"})
)

// ObserveQuery records the latency of a database query started at start.
func ObserveQuery(operation, table string, start time.Time) {
	DatabaseQueryLatency.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
}

// TrackQuery returns a func that records latency when called.
func TrackQuery(operation, table string) func() {
	start := time.Now()
	return func() {
		ObserveQuery(operation, table, start)
	}
}

// TrackDelivery returns a func that records operation latency and its outcome.
func TrackDelivery(operation string) func(err *error) {
	start := time.Now()
	return func(err *error) {
		DeliveryLatency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		outcome := "ok"
		if err != nil && *err != nil {
			outcome = "error"
		}
		DeliveryOperations.WithLabelValues(operation, outcome).Inc()
	}
}
