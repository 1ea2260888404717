package cache

import (
	"encoding/json"
	"time"
)

// Entry is a stored value with the time it was written and its lifetime.
// Values are kept JSON-encoded so every backend holds the same bytes and a
// reader never shares memory with a writer.
type Entry struct {
	// Data is the JSON-encoded value
	Data json.RawMessage `json:"data"`

	// StoredAt is when the value was written
	StoredAt time.Time `json:"stored_at"`

	// TTL is how long the value stays valid after StoredAt
	TTL time.Duration `json:"ttl"`
}

// IsValid reports whether the entry is still fresh at now.
func (e *Entry) IsValid(now time.Time) bool {
	if e == nil {
		return false
	}
	return now.Sub(e.StoredAt) < e.TTL
}

// Remaining returns the time left before the entry goes stale, or 0.
func (e *Entry) Remaining(now time.Time) time.Duration {
	if e == nil {
		return 0
	}
	left := e.TTL - now.Sub(e.StoredAt)
	if left < 0 {
		return 0
	}
	return left
}
