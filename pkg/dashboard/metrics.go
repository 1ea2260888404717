package dashboard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fallbackTotal counts snapshots where an axis used the synthetic dataset.
	// Labels: axis (level, status)
	fallbackTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "glpi_dashboard_fallback_total",
			Help: "Dashboard snapshots that substituted synthetic data",
		},
		[]string{"axis"},
	)

	// degradedQueriesTotal counts count queries that failed and were read as zero.
	degradedQueriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "glpi_dashboard_degraded_queries_total",
			Help: "Dashboard count queries that failed and counted as zero",
		},
	)
)
