package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TopicsSynced counts topics written to the cache by sync batches.
	TopicsSynced = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookcache_topics_synced_total",
		Help: "Number of topics persisted by sync batches.",
	})

	// SyncErrors counts skipped forums and topics during sync.
	SyncErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bookcache_sync_errors_total",
		Help: "Number of forum or topic sync failures that were skipped.",
	})

	// SyncDuration observes wall time of full sync runs.
	SyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookcache_sync_duration_seconds",
		Help:    "Duration of full sync runs.",
		Buckets: prometheus.ExponentialBuckets(1, 4, 10),
	})

	// SearchDuration observes search query latency.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bookcache_search_duration_seconds",
		Help:    "Duration of search queries.",
		Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
	})

	// CachedBooks tracks the current number of cached records.
	CachedBooks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bookcache_cached_books",
		Help: "Number of audiobook records currently cached.",
	})
)
