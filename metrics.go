package offlinecache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// cacheHits tracks requests answered from the current generation
	cacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_cache_hits_total",
			Help: "Total number of requests served from the cache",
		},
	)

	// cacheMisses tracks GET requests forwarded to the origin by request kind
	cacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"kind"}, // "navigation", "resource"
	)

	// networkFailures tracks origin failures by the fallback that was served
	networkFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_network_failures_total",
			Help: "Total number of failed origin requests by fallback",
		},
		[]string{"fallback"}, // "offline_page", "timeout"
	)

	// cacheStores tracks responses written to the current generation
	cacheStores = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_stores_total",
			Help: "Total number of responses stored in the cache",
		},
		[]string{"kind"}, // "navigation", "resource"
	)

	// installs tracks install attempts by result
	installs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "offline_cache_installs_total",
			Help: "Total number of install attempts",
		},
		[]string{"result"}, // "ok", "failed"
	)

	// generationsDeleted tracks stale generations removed on activation
	generationsDeleted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_cache_generations_deleted_total",
			Help: "Total number of stale cache generations deleted",
		},
	)
)
