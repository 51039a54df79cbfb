package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload-API Metrics
var (
	// Request counters
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// Request duration histogram
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"method", "endpoint"},
	)

	// Upload initiations by transfer mode
	InitiationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "initiations_total",
			Help:      "Total upload initiations",
		},
		[]string{"mode", "status"},
	)

	// Finalize outcomes
	FinalizesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "finalizes_total",
			Help:      "Total finalize requests by resulting status",
		},
		[]string{"status"},
	)

	// Verified upload bytes counter
	UploadBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "upload_bytes_total",
			Help:      "Total bytes verified in storage",
		},
		[]string{"content_type"},
	)

	// Analysis trigger dispatches
	AnalysisDispatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "analysis_dispatches_total",
			Help:      "Total analysis trigger dispatch attempts",
		},
		[]string{"status"},
	)

	// Analysis queue depth
	AnalysisQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "analysis_queue_depth",
			Help:      "Analysis triggers waiting for dispatch",
		},
	)

	// S3 operations counter
	S3OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "s3_operations_total",
			Help:      "Total S3 operations",
		},
		[]string{"operation", "status"},
	)

	// S3 operation duration
	S3Duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jan",
			Subsystem: "upload_api",
			Name:      "s3_duration_seconds",
			Help:      "S3 operation duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"operation"},
	)
)

// RecordRequest records an HTTP request
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint).Observe(durationSec)
}

// RecordInitiation records an upload initiation
func RecordInitiation(mode, status string) {
	InitiationsTotal.WithLabelValues(mode, status).Inc()
}

// RecordFinalize records a finalize outcome
func RecordFinalize(status string, contentType string, bytes int64) {
	FinalizesTotal.WithLabelValues(status).Inc()
	if status == "uploaded" || status == "processing" {
		UploadBytesTotal.WithLabelValues(contentType).Add(float64(bytes))
	}
}

// RecordAnalysisDispatch records an analysis trigger dispatch attempt
func RecordAnalysisDispatch(status string) {
	AnalysisDispatchesTotal.WithLabelValues(status).Inc()
}

// RecordS3Operation records an S3 operation
func RecordS3Operation(operation, status string, durationSec float64) {
	S3OperationsTotal.WithLabelValues(operation, status).Inc()
	S3Duration.WithLabelValues(operation).Observe(durationSec)
}

// SetAnalysisQueueDepth updates the queue depth gauge
func SetAnalysisQueueDepth(depth int64) {
	AnalysisQueueDepth.Set(float64(depth))
}
