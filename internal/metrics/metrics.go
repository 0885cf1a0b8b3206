package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Index metrics
var (
	IndexBuildDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_filter_index_build_duration_seconds",
			Help: "Duration of the last index build in seconds",
		},
	)

	IndexImagesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_filter_index_images_total",
			Help: "Number of images in the current index",
		},
	)
)

// Decode metrics
var (
	DecodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "image_filter_decode_duration_seconds",
			Help:    "Image decode duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"mode"},
	)

	DecodeFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_filter_decode_failures_total",
			Help: "Total number of failed decodes by reason",
		},
		[]string{"reason"},
	)
)

// Thumbnail cache metrics
var (
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "image_filter_cache_hits_total",
			Help: "Total number of thumbnail cache hits by tier",
		},
		[]string{"tier"}, // "memory" or "disk"
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_filter_cache_misses_total",
			Help: "Total number of thumbnail cache misses",
		},
	)

	CacheCoalescedWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_filter_cache_coalesced_waits_total",
			Help: "Total number of requests that waited on an in-flight decode for the same key",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_filter_cache_entries",
			Help: "Number of entries in the in-memory cache tier",
		},
	)

	CacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_filter_cache_bytes",
			Help: "Approximate size of the in-memory cache tier in bytes",
		},
	)

	CacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_filter_cache_evictions_total",
			Help: "Total number of entries evicted from the in-memory cache tier",
		},
	)

	CachePersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "image_filter_cache_persist_duration_seconds",
			Help:    "Duration of disk-tier flushes in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	CachePersistErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_filter_cache_persist_errors_total",
			Help: "Total number of disk-tier persistence failures",
		},
	)
)

// Viewport scheduler metrics
var (
	SchedulerRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_filter_scheduler_requests_total",
			Help: "Total number of thumbnail load requests issued by the viewport scheduler",
		},
	)

	SchedulerCancellations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_filter_scheduler_cancellations_total",
			Help: "Total number of in-flight requests cancelled after leaving the viewport",
		},
	)

	SchedulerQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_filter_scheduler_queue_depth",
			Help: "Number of requests waiting for a decode worker",
		},
	)
)

// Preloader metrics
var (
	PreloadWindowReady = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "image_filter_preload_window_ready",
			Help: "Number of preload window slots in the Ready state",
		},
	)

	PreloadSyncFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "image_filter_preload_sync_fallbacks_total",
			Help: "Total number of synchronous decodes performed because the preloader had not finished",
		},
	)
)
