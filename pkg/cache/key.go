package cache

import (
	"net/url"
	"strings"
	"time"
)

// Resource names a cached operation result.
type Resource string

const (
	ResourceTechnicianRanking        Resource = "technician_ranking"
	ResourceActiveTechnicians        Resource = "active_technicians"
	ResourceFieldIDs                 Resource = "field_ids"
	ResourceDashboardMetrics         Resource = "dashboard_metrics"
	ResourceDashboardMetricsFiltered Resource = "dashboard_metrics_filtered"
)

// DefaultTTLs are the per-resource lifetimes.
var DefaultTTLs = map[Resource]time.Duration{
	ResourceTechnicianRanking:        300 * time.Second,
	ResourceActiveTechnicians:        600 * time.Second,
	ResourceFieldIDs:                 1800 * time.Second,
	ResourceDashboardMetrics:         180 * time.Second,
	ResourceDashboardMetricsFiltered: 180 * time.Second,
}

// fallbackTTL applies to resources without a configured lifetime.
const fallbackTTL = 300 * time.Second

// Key identifies a cache slot: a resource plus an optional subkey, usually a
// filter Signature.
type Key struct {
	Resource Resource
	Subkey   string
}

// NewKey builds a key.
func NewKey(resource Resource, subkey string) Key {
	return Key{Resource: resource, Subkey: subkey}
}

// String generates a deterministic cache key string.
// Format: glpi:resource[:subkey]
//
// Example:
//
//	glpi:dashboard_metrics_filtered:end=2024-01-31&start=2024-01-01
func (k Key) String() string {
	parts := []string{"glpi", string(k.Resource)}
	if k.Subkey != "" {
		parts = append(parts, k.Subkey)
	}
	return strings.Join(parts, ":")
}

// Signature builds a deterministic subkey from filter parameters. Keys are
// sorted, values escaped and empty values dropped, so equivalent filters
// share a slot and distinct ones never collide.
func Signature(params map[string]string) string {
	values := url.Values{}
	for key, value := range params {
		if value == "" {
			continue
		}
		values.Set(key, value)
	}
	return values.Encode()
}
