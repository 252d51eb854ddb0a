package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Outbox relay metrics
	outboxPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_messages_published_total",
			Help: "Total number of outbox messages published to RabbitMQ",
		},
		[]string{"queue"},
	)

	outboxPublishFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Total number of failed outbox publish attempts",
		},
		[]string{"queue"},
	)

	outboxBatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "outbox_batch_duration_seconds",
			Help:    "Outbox batch drain duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"queue"},
	)

	// Inbox consumer metrics
	inboxProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_processed_total",
			Help: "Total number of inbox messages processed successfully",
		},
		[]string{"queue"},
	)

	inboxDuplicatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_duplicate_messages_total",
			Help: "Total number of duplicate messages dropped by the inbox fence",
		},
		[]string{"queue"},
	)

	inboxFailedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inbox_messages_failed_total",
			Help: "Total number of inbox messages that failed processing",
		},
		[]string{"queue", "reason"},
	)

	inboxProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inbox_processing_duration_seconds",
			Help:    "Inbox message processing duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"queue"},
	)

	// Realtime delivery metrics
	realtimeUpdatesPublishedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_updates_published_total",
			Help: "Total number of order updates published to Redis",
		},
	)

	realtimeUpdatesForwardedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_updates_forwarded_total",
			Help: "Total number of order updates forwarded from Redis to local sockets",
		},
	)

	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections",
			Help: "Number of currently open WebSocket connections",
		},
	)

	// Gateway proxy metrics
	proxyRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_proxy_requests_total",
			Help: "Total number of requests proxied to backend services",
		},
		[]string{"service", "status"},
	)

	proxyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_proxy_request_duration_seconds",
			Help:    "Proxied request duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"service"},
	)

	// Worker pool metrics
	workerPoolJobsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_jobs_active",
			Help: "Number of active jobs in worker pool",
		},
	)

	workerPoolJobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_pool_jobs_queued",
			Help: "Number of queued jobs in worker pool",
		},
	)
)

// RecordOutboxPublished records a batch of successfully published outbox messages
func RecordOutboxPublished(queue string, count int) {
	outboxPublishedTotal.WithLabelValues(queue).Add(float64(count))
}

// RecordOutboxPublishFailed records a failed outbox publish attempt
func RecordOutboxPublishFailed(queue string) {
	outboxPublishFailedTotal.WithLabelValues(queue).Inc()
}

// RecordOutboxBatch records the duration of one outbox drain pass
func RecordOutboxBatch(queue string, duration time.Duration) {
	outboxBatchDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordInboxProcessed records a successfully processed inbox message
func RecordInboxProcessed(queue string, duration time.Duration) {
	inboxProcessedTotal.WithLabelValues(queue).Inc()
	inboxProcessingDuration.WithLabelValues(queue).Observe(duration.Seconds())
}

// RecordInboxDuplicate records a duplicate message dropped by the inbox fence
func RecordInboxDuplicate(queue string) {
	inboxDuplicatesTotal.WithLabelValues(queue).Inc()
}

// RecordInboxFailed records a message that failed processing
func RecordInboxFailed(queue, reason string) {
	inboxFailedTotal.WithLabelValues(queue, reason).Inc()
}

// RecordRealtimePublished records an order update published to Redis
func RecordRealtimePublished() {
	realtimeUpdatesPublishedTotal.Inc()
}

// RecordRealtimeForwarded records an update forwarded from Redis to local sockets
func RecordRealtimeForwarded() {
	realtimeUpdatesForwardedTotal.Inc()
}

// WebsocketConnected increments the open connection gauge
func WebsocketConnected() {
	websocketConnections.Inc()
}

// WebsocketDisconnected decrements the open connection gauge
func WebsocketDisconnected() {
	websocketConnections.Dec()
}

// RecordProxyRequest records a proxied request with its upstream status
func RecordProxyRequest(service, status string, duration time.Duration) {
	proxyRequestsTotal.WithLabelValues(service, status).Inc()
	proxyRequestDuration.WithLabelValues(service).Observe(duration.Seconds())
}

// SetWorkerPoolJobsActive sets the number of active jobs
func SetWorkerPoolJobsActive(count int) {
	workerPoolJobsActive.Set(float64(count))
}

// SetWorkerPoolJobsQueued sets the number of queued jobs
func SetWorkerPoolJobsQueued(count int) {
	workerPoolJobsQueued.Set(float64(count))
}

// MetricsHandler returns the Prometheus metrics handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
