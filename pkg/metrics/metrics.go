// Package metrics exposes the Prometheus metrics of the GLPI client.
// Collectors are defined with promauto in the package that records them
// (retry, session, client, cache, dashboard, ranking) to avoid circular
// dependencies; this package serves them and documents the catalogue.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every collector of this module uses.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the gatherer matching Registry.
var Gatherer = prometheus.DefaultGatherer

// Names lists the metric families registered by this module.
var Names = []string{
	"glpi_requests_total",
	"glpi_request_duration_seconds",
	"glpi_errors_total",
	"glpi_reauth_total",
	"glpi_retries_total",
	"glpi_retry_backoff_seconds",
	"glpi_retry_exhausted_total",
	"glpi_auth_attempts_total",
	"glpi_session_valid",
	"glpi_cache_hits_total",
	"glpi_cache_misses_total",
	"glpi_cache_errors_total",
	"glpi_dashboard_fallback_total",
	"glpi_dashboard_degraded_queries_total",
	"glpi_ranking_fallback_total",
}

// Handler serves the registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - glpi_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - glpi_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - glpi_errors_total{class} (Counter): Failures by class (unauthorized, client, server, network)
//   - glpi_reauth_total{outcome} (Counter): Re-authentications triggered by 401
//
// Retry Metrics (pkg/retry):
//   - glpi_retries_total{operation} (Counter): Retry attempts
//   - glpi_retry_backoff_seconds{operation} (Histogram): Backoff waits
//   - glpi_retry_exhausted_total{operation} (Counter): Operations that used every attempt
//
// Session Metrics (pkg/session):
//   - glpi_auth_attempts_total{outcome} (Counter): Logins by outcome (success, failure, config_error)
//   - glpi_session_valid (Gauge): 1 while a session token is held
//
// Cache Metrics (pkg/cache):
//   - glpi_cache_hits_total{resource} (Counter): Fresh entries served
//   - glpi_cache_misses_total{resource} (Counter): Missing or stale entries
//   - glpi_cache_errors_total{operation} (Counter): Backend or codec errors
//
// Engine Metrics (pkg/dashboard, pkg/ranking):
//   - glpi_dashboard_fallback_total{axis} (Counter): Snapshots using synthetic data (level, status)
//   - glpi_dashboard_degraded_queries_total (Counter): Count queries read as zero after failing
//   - glpi_ranking_fallback_total (Counter): Rankings built from all active users
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(glpi_cache_hits_total[5m])) /
//   (sum(rate(glpi_cache_hits_total[5m])) + sum(rate(glpi_cache_misses_total[5m])))
//
//   # Session churn
//   rate(glpi_reauth_total[5m])
//
//   # Request Error Rate
//   rate(glpi_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(glpi_request_duration_seconds_bucket[5m]))
