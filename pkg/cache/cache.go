// Package cache provides an in-memory LRU+TTL cache for query
// embeddings. Repeated questions skip the embedding sidecar entirely.
package cache

import (
	"errors"
	"time"

	"github.com/docsage/docsage/pkg/types"
)

// Common errors.
var (
	ErrNotFound = errors.New("key not found")
)

// Stats holds cache performance metrics.
type Stats struct {
	// Hits is the number of successful cache retrievals.
	Hits int64

	// Misses is the number of cache misses.
	Misses int64

	// Sets is the number of cache writes.
	Sets int64

	// Evictions is the number of entries evicted due to size limits.
	Evictions int64

	// Expirations is the number of entries expired due to TTL.
	Expirations int64

	// Size is the current number of entries.
	Size int64

	// MaxSize is the maximum number of entries allowed.
	MaxSize int64
}

// HitRate returns the cache hit rate as a percentage.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}

// Config holds cache configuration.
type Config struct {
	// MaxSize is the maximum number of entries (0 = default).
	MaxSize int64

	// DefaultTTL is the expiration time for entries without explicit TTL.
	DefaultTTL time.Duration

	// CleanupInterval is how often to run expiration cleanup.
	CleanupInterval time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxSize:         10000,
		DefaultTTL:      time.Hour,
		CleanupInterval: time.Minute,
	}
}

// Entry represents a cached embedding.
type Entry struct {
	Key       string
	Vector    types.HybridVector
	CreatedAt time.Time
	ExpiresAt time.Time
}

// IsExpired checks if the entry has expired.
func (e Entry) IsExpired() bool {
	if e.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(e.ExpiresAt)
}
