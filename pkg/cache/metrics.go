package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh cache reads by resource
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glpi_cache_hits_total",
			Help: "Total number of cache hits by resource",
		},
		[]string{"resource"},
	)

	// CacheMisses tracks absent or stale reads by resource
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glpi_cache_misses_total",
			Help: "Total number of cache misses by resource",
		},
		[]string{"resource"},
	)

	// CacheErrors tracks cache operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glpi_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "decode"
	)
)
