// Package cache provides the TTL cache tier used in front of relay lookups.
package cache

import (
	"context"
	"time"
)

// CacheBackend defines the interface for cache implementations
type CacheBackend interface {
	// Get retrieves a value from the cache
	// Returns (value, found, error)
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores a value in the cache with the given TTL
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	Delete(ctx context.Context, key string) error

	// GetMultiple returns a map of found keys to values
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)

	SetMultiple(ctx context.Context, items map[string][]byte, ttl time.Duration) error

	Close() error
}

// Backend kinds reported on /health
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
)

// New returns a Redis backend when redisURL is set and reachable, otherwise
// an in-memory backend. The second return value names the backend in use.
func New(redisURL string, cfg CacheConfig) (CacheBackend, string) {
	if redisURL != "" {
		rc, err := NewRedisCache(redisURL, cfg.KeyPrefix)
		if err == nil {
			return rc, BackendRedis
		}
		logRedisFallback(err)
	}
	return NewMemoryCache(cfg.MaxEntries, cfg.CleanupInterval), BackendMemory
}
