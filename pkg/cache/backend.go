package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrCacheMiss indicates the requested key was not found in cache
	ErrCacheMiss = errors.New("cache miss")

	// ErrInvalidEntry indicates the cache entry is invalid or corrupted
	ErrInvalidEntry = errors.New("invalid cache entry")
)

// Backend stores entries by key string. Implementations replace entries
// atomically: a Load sees either the previous or the new entry in full.
type Backend interface {
	Load(ctx context.Context, key string) (*Entry, error)
	Store(ctx context.Context, key string, entry *Entry) error
}

// MemoryBackend is the default process-local store. Stale entries are kept
// until overwritten; the Manager ignores them.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{entries: make(map[string]Entry)}
}

// Load returns a copy of the entry stored under key.
func (b *MemoryBackend) Load(_ context.Context, key string) (*Entry, error) {
	b.mu.RLock()
	entry, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}
	entry.Data = append(json.RawMessage(nil), entry.Data...)
	return &entry, nil
}

// Store replaces the entry under key.
func (b *MemoryBackend) Store(_ context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	stored := *entry
	stored.Data = append(json.RawMessage(nil), entry.Data...)

	b.mu.Lock()
	b.entries[key] = stored
	b.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, stale ones included.
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// RedisBackend shares the cache between processes through Redis. Redis
// expires keys after the entry TTL.
type RedisBackend struct {
	redis  *redis.Client
	prefix string
}

// NewRedisBackend creates a Redis-backed store. prefix namespaces the keys
// (e.g. "dashboard:").
func NewRedisBackend(redisClient *redis.Client, prefix string) *RedisBackend {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	return &RedisBackend{redis: redisClient, prefix: prefix}
}

// Load retrieves an entry. Returns ErrCacheMiss if the key doesn't exist.
func (b *RedisBackend) Load(ctx context.Context, key string) (*Entry, error) {
	data, err := b.redis.Get(ctx, b.prefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEntry, err)
	}
	return &entry, nil
}

// Store writes an entry with the entry TTL as Redis expiration.
func (b *RedisBackend) Store(ctx context.Context, key string, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.TTL <= 0 {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	if err := b.redis.Set(ctx, b.prefix+key, data, entry.TTL).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
