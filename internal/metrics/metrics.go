package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Encoding metrics
var (
	EncodeAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_encode_attempts_total",
			Help: "Total number of single-format encode attempts",
		},
		[]string{"format", "status"},
	)

	EncodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelpress_encode_duration_seconds",
			Help:    "Duration of single-format encode attempts in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"format"},
	)

	EncodeFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_encode_fallbacks_total",
			Help: "Encodes that landed on a different format than requested",
		},
		[]string{"requested", "used"},
	)
)

// Target-size search metrics
var (
	SearchIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pixelpress_search_iterations",
			Help:    "Encode attempts consumed per target-size search",
			Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 12, 16, 24, 32},
		},
	)

	SearchResizesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixelpress_search_resizes_total",
			Help: "Times the target-size search fell back to a smaller resolution",
		},
	)

	SearchOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_search_outcomes_total",
			Help: "Target-size search outcomes",
		},
		[]string{"outcome"}, // "converged", "best_effort"
	)
)

// Worker pool metrics
var (
	PoolUnits = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelpress_pool_units",
			Help: "Number of live worker units in the pool",
		},
	)

	PoolPendingCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelpress_pool_pending_calls",
			Help: "Dispatched tasks awaiting a reply",
		},
	)

	PoolFaultsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixelpress_pool_faults_total",
			Help: "Worker unit faults that forced a replacement",
		},
	)

	PoolTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_pool_tasks_total",
			Help: "Tasks dispatched through the pool",
		},
		[]string{"mode", "status"},
	)
)

// Batch metrics
var (
	BatchItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_batch_items_total",
			Help: "Batch items by outcome",
		},
		[]string{"outcome"}, // "succeeded", "failed", "skipped"
	)

	BytesSavedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pixelpress_bytes_saved_total",
			Help: "Cumulative bytes saved across successful optimizations",
		},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelpress_memory_usage_ratio",
			Help: "Current heap usage as a fraction of the configured memory limit",
		},
	)
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pixelpress_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pixelpress_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pixelpress_http_requests_in_flight",
			Help: "HTTP requests currently being processed",
		},
	)
)
