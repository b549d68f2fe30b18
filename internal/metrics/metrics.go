package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "highlight_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Client pipeline metrics
	AnalyticsEventsSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_analytics_events_sent_total",
			Help: "Analytics events handed to the transport, by event type and delivery mode",
		},
		[]string{"event_type", "mode"},
	)

	AnalyticsDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_analytics_deliveries_total",
			Help: "Analytics delivery requests, by kind and outcome",
		},
		[]string{"kind", "status"},
	)

	AnalyticsEventsDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_analytics_events_dropped_total",
			Help: "Analytics events lost to delivery failures",
		},
		[]string{"kind"},
	)

	AnalyticsBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "highlight_analytics_batch_size",
			Help:    "Number of events in each flushed batch",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
		},
	)

	// Collector metrics
	AnalyticsEventsIngestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_analytics_events_ingested_total",
			Help: "Analytics events accepted by the collector",
		},
		[]string{"category", "event_type"},
	)

	// Upload Metrics
	VideoUploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_video_uploads_total",
			Help: "Video uploads by lifecycle stage",
		},
		[]string{"stage"},
	)

	VideoUploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "highlight_video_upload_size_bytes",
			Help:    "Size of uploaded videos in bytes",
			Buckets: prometheus.ExponentialBuckets(256*1024, 2, 12), // 256KB to 512MB
		},
	)

	// Engagement Metrics
	EngagementUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_engagement_updates_total",
			Help: "Engagement counter changes",
		},
		[]string{"action"},
	)

	EngagementSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "highlight_engagement_subscribers",
			Help: "Open realtime engagement subscriptions",
		},
	)

	// Queue Metrics
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "highlight_queue_depth",
			Help: "Messages waiting in each queue",
		},
		[]string{"queue"},
	)

	// Storage Metrics
	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "highlight_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)

	// Database Metrics
	DatabaseOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_database_operations_total",
			Help: "Total number of database operations",
		},
		[]string{"operation", "status"},
	)

	DatabaseOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "highlight_database_operation_duration_seconds",
			Help:    "Database operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Error Metrics
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "highlight_errors_total",
			Help: "Total number of errors",
		},
		[]string{"component", "error_type"},
	)
)

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordEventSent records an analytics event leaving the client, mode is
// "immediate" or "batched"
func RecordEventSent(eventType, mode string) {
	AnalyticsEventsSentTotal.WithLabelValues(eventType, mode).Inc()
}

// RecordDelivery records one delivery request and, on failure, the events it lost
func RecordDelivery(kind string, events int, ok bool) {
	if ok {
		AnalyticsDeliveriesTotal.WithLabelValues(kind, "success").Inc()
		return
	}
	AnalyticsDeliveriesTotal.WithLabelValues(kind, "failure").Inc()
	AnalyticsEventsDroppedTotal.WithLabelValues(kind).Add(float64(events))
}

// RecordBatchFlush records the size of a flushed batch
func RecordBatchFlush(size int) {
	AnalyticsBatchSize.Observe(float64(size))
}

// RecordIngest records events accepted by the collector
func RecordIngest(category, eventType string, count int) {
	AnalyticsEventsIngestedTotal.WithLabelValues(category, eventType).Add(float64(count))
}

// RecordUpload records an upload lifecycle stage
func RecordUpload(stage string, sizeBytes int64) {
	VideoUploadsTotal.WithLabelValues(stage).Inc()
	if stage == "completed" && sizeBytes > 0 {
		VideoUploadSizeBytes.Observe(float64(sizeBytes))
	}
}

// RecordEngagement records a counter change
func RecordEngagement(action string) {
	EngagementUpdatesTotal.WithLabelValues(action).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation, status string, duration float64) {
	StorageOperationsTotal.WithLabelValues(operation, status).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}

// RecordDatabaseOperation records a database operation
func RecordDatabaseOperation(operation, status string, duration float64) {
	DatabaseOperationsTotal.WithLabelValues(operation, status).Inc()
	DatabaseOperationDuration.WithLabelValues(operation).Observe(duration)
}

// SetQueueDepth records the number of messages waiting in queue
func SetQueueDepth(queue string, depth int) {
	QueueDepth.WithLabelValues(queue).Set(float64(depth))
}

// RecordError records an error
func RecordError(component, errorType string) {
	ErrorsTotal.WithLabelValues(component, errorType).Inc()
}

// Status maps an error to the status label used above
func Status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
