package bundle

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	cacheHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mfhost_entry_cache_hits_total",
		Help: "Total number of remote entry cache hits",
	})

	cacheMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mfhost_entry_cache_misses_total",
		Help: "Total number of remote entry cache misses",
	})

	cacheEvictionsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mfhost_entry_cache_evictions_total",
		Help: "Total number of remote entry cache evictions",
	})

	cacheEntriesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mfhost_entry_cache_entries",
		Help: "Current number of entries in the remote entry cache",
	})

	cacheSizeBytesGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mfhost_entry_cache_size_bytes",
		Help: "Current size of the remote entry cache in bytes",
	})

	// Fetch metrics
	fetchDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "mfhost_bundle_fetch_duration_seconds",
		Help:    "Duration of bundle fetch operations",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
	}, []string{"type", "status"})

	fetchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mfhost_bundle_fetch_total",
		Help: "Total number of bundle fetch operations",
	}, []string{"type", "status"})
)

func init() {
	metrics.Registry.MustRegister(
		cacheHitsTotal,
		cacheMissesTotal,
		cacheEvictionsTotal,
		cacheEntriesGauge,
		cacheSizeBytesGauge,
		fetchDuration,
		fetchTotal,
	)
}

// RecordCacheHit records a cache hit
func RecordCacheHit() {
	cacheHitsTotal.Inc()
}

// RecordCacheMiss records a cache miss
func RecordCacheMiss() {
	cacheMissesTotal.Inc()
}

// RecordCacheEviction records a cache eviction
func RecordCacheEviction() {
	cacheEvictionsTotal.Inc()
}

// UpdateCacheStats updates the cache size gauges
func UpdateCacheStats(entries int, sizeBytes int64) {
	cacheEntriesGauge.Set(float64(entries))
	cacheSizeBytesGauge.Set(float64(sizeBytes))
}

// RecordFetch records a fetch operation
func RecordFetch(fetcherType, status string, durationSeconds float64) {
	fetchTotal.WithLabelValues(fetcherType, status).Inc()
	fetchDuration.WithLabelValues(fetcherType, status).Observe(durationSeconds)
}
