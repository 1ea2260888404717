package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Manager is the tiered TTL cache: each resource has its own lifetime and
// parametrized results live under a filter signature subkey.
type Manager struct {
	backend Backend
	ttls    map[Resource]time.Duration
	now     func() time.Time
	logger  zerolog.Logger
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock replaces the time source (tests).
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithTTL overrides the lifetime of one resource.
func WithTTL(resource Resource, ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.ttls[resource] = ttl
		}
	}
}

// NewManager creates a cache manager. A nil backend uses a MemoryBackend.
func NewManager(backend Backend, logger zerolog.Logger, opts ...Option) *Manager {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	ttls := make(map[Resource]time.Duration, len(DefaultTTLs))
	for r, ttl := range DefaultTTLs {
		ttls[r] = ttl
	}

	m := &Manager{
		backend: backend,
		ttls:    ttls,
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TTL returns the lifetime used for resource.
func (m *Manager) TTL(resource Resource) time.Duration {
	if ttl, ok := m.ttls[resource]; ok {
		return ttl
	}
	return fallbackTTL
}

// Get decodes a fresh entry into dst and reports whether it did. Misses,
// stale entries and backend errors all report false.
func (m *Manager) Get(ctx context.Context, key Key, dst any) bool {
	entry, ok := m.load(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal(entry.Data, dst); err != nil {
		CacheErrors.WithLabelValues("decode").Inc()
		m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache entry could not be decoded")
		return false
	}

	CacheHits.WithLabelValues(string(key.Resource)).Inc()
	m.logger.Debug().
		Str("resource", string(key.Resource)).
		Str("subkey", key.Subkey).
		Dur("remaining", entry.Remaining(m.now())).
		Msg("Cache hit")
	return true
}

// IsValid reports whether a fresh entry exists for key.
func (m *Manager) IsValid(ctx context.Context, key Key) bool {
	_, ok := m.load(ctx, key)
	return ok
}

func (m *Manager) load(ctx context.Context, key Key) (*Entry, bool) {
	entry, err := m.backend.Load(ctx, key.String())
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues("get").Inc()
			m.logger.Warn().Err(err).Str("key", key.String()).Msg("Cache get error")
		}
		CacheMisses.WithLabelValues(string(key.Resource)).Inc()
		return nil, false
	}
	if !entry.IsValid(m.now()) {
		CacheMisses.WithLabelValues(string(key.Resource)).Inc()
		return nil, false
	}
	return entry, true
}

// Set stores value under key. A non-positive ttl uses the resource lifetime.
func (m *Manager) Set(ctx context.Context, key Key, value any, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.TTL(key.Resource)
	}

	data, err := json.Marshal(value)
	if err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("marshal cache value: %w", err)
	}

	entry := &Entry{
		Data:     data,
		StoredAt: m.now(),
		TTL:      ttl,
	}
	if err := m.backend.Store(ctx, key.String(), entry); err != nil {
		CacheErrors.WithLabelValues("set").Inc()
		return fmt.Errorf("cache set %s: %w", key, err)
	}

	m.logger.Debug().
		Str("resource", string(key.Resource)).
		Str("subkey", key.Subkey).
		Dur("ttl", ttl).
		Msg("Cached value")
	return nil
}
