// Package cache provides the tiered time-to-live cache used by the GLPI
// engines.
//
// Each Resource has its own lifetime (see DefaultTTLs). Results that depend
// on caller filters are stored under a subkey built with Signature, so every
// distinct filter combination gets its own slot. Entries are never purged:
// a stale entry is ignored by Get and replaced by the next Set.
//
// Two backends are available:
//
//   - MemoryBackend (default): process-local map guarded by a RWMutex
//   - RedisBackend: shares entries between processes; Redis expires keys
//     after the entry TTL
//
// # Basic Usage
//
//	manager := cache.NewManager(nil, logger)
//
//	key := cache.NewKey(cache.ResourceDashboardMetricsFiltered,
//		cache.Signature(map[string]string{"start": "2024-01-01", "end": "2024-01-31"}))
//
//	var snap dashboard.Snapshot
//	if manager.Get(ctx, key, &snap) {
//		return snap
//	}
//	// ... compute snap ...
//	_ = manager.Set(ctx, key, snap, 0) // 0 = resource lifetime (180s)
//
// # Redis Backend
//
//	redisClient := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
//	manager := cache.NewManager(cache.NewRedisBackend(redisClient, "dashboard:"), logger)
//
// # Metrics
//
//   - glpi_cache_hits_total{resource}
//   - glpi_cache_misses_total{resource}
//   - glpi_cache_errors_total{operation}
package cache
