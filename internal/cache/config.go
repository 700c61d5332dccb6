package cache

import "time"

// CacheConfig holds cache TTL configuration
type CacheConfig struct {
	ProfileTTL         time.Duration
	ProfileNotFoundTTL time.Duration
	RelayInfoTTL       time.Duration
	RelayInfoFailTTL   time.Duration
	MaxEntries         int
	CleanupInterval    time.Duration
	KeyPrefix          string
}

// DefaultCacheConfig returns sensible defaults
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		ProfileTTL:         1 * time.Hour,
		ProfileNotFoundTTL: 30 * time.Second, // short so a later request can retry the ladder
		RelayInfoTTL:       24 * time.Hour,
		RelayInfoFailTTL:   10 * time.Minute,
		MaxEntries:         10000,
		CleanupInterval:    2 * time.Minute,
		KeyPrefix:          "nostrfeed:",
	}
}
