package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"nostr-feed/internal/metrics"
	"nostr-feed/internal/types"
)

// ProfileStore provides typed access to cached profiles.
// A nil Profile with NotFound set records a negative lookup.
type ProfileStore struct {
	backend CacheBackend
	config  CacheConfig
}

func NewProfileStore(backend CacheBackend, config CacheConfig) *ProfileStore {
	return &ProfileStore{backend: backend, config: config}
}

func profileKey(pubkey string) string {
	return "profile:" + pubkey
}

// Get returns the cached entry for pubkey and whether one exists
func (s *ProfileStore) Get(ctx context.Context, pubkey string) (*types.CachedProfile, bool) {
	data, found, err := s.backend.Get(ctx, profileKey(pubkey))
	if err != nil {
		slog.Debug("profile cache get failed", "pubkey", pubkey, "error", err)
	}
	if err != nil || !found {
		metrics.IncrementCacheMiss("profile")
		return nil, false
	}

	var cached types.CachedProfile
	if err := json.Unmarshal(data, &cached); err != nil {
		metrics.IncrementCacheMiss("profile")
		return nil, false
	}
	metrics.IncrementCacheHit("profile")
	return &cached, true
}

// GetMultiple returns cached entries keyed by pubkey
func (s *ProfileStore) GetMultiple(ctx context.Context, pubkeys []string) map[string]*types.CachedProfile {
	keys := make([]string, len(pubkeys))
	for i, pk := range pubkeys {
		keys[i] = profileKey(pk)
	}
	raw, err := s.backend.GetMultiple(ctx, keys)
	if err != nil {
		slog.Debug("profile cache batch get failed", "count", len(keys), "error", err)
		return nil
	}

	result := make(map[string]*types.CachedProfile, len(raw))
	for i, key := range keys {
		data, ok := raw[key]
		if !ok {
			metrics.IncrementCacheMiss("profile")
			continue
		}
		var cached types.CachedProfile
		if err := json.Unmarshal(data, &cached); err != nil {
			continue
		}
		metrics.IncrementCacheHit("profile")
		result[pubkeys[i]] = &cached
	}
	return result
}

// Set stores a resolved profile
func (s *ProfileStore) Set(ctx context.Context, pubkey string, profile *types.ProfileInfo, evt *types.Event) {
	s.put(ctx, pubkey, types.CachedProfile{
		Profile:   profile,
		Event:     evt,
		FetchedAt: time.Now().Unix(),
	}, s.config.ProfileTTL)
}

// SetNotFound records that pubkey has no reachable profile
func (s *ProfileStore) SetNotFound(ctx context.Context, pubkey string) {
	s.put(ctx, pubkey, types.CachedProfile{
		FetchedAt: time.Now().Unix(),
		NotFound:  true,
	}, s.config.ProfileNotFoundTTL)
}

func (s *ProfileStore) Delete(ctx context.Context, pubkey string) {
	s.backend.Delete(ctx, profileKey(pubkey))
}

func (s *ProfileStore) put(ctx context.Context, pubkey string, cached types.CachedProfile, ttl time.Duration) {
	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	if err := s.backend.Set(ctx, profileKey(pubkey), data, ttl); err != nil {
		slog.Debug("profile cache set failed", "pubkey", pubkey, "error", err)
	}
}

// RelayInfoStore caches NIP-11 relay information documents
type RelayInfoStore struct {
	backend CacheBackend
	config  CacheConfig
}

func NewRelayInfoStore(backend CacheBackend, config CacheConfig) *RelayInfoStore {
	return &RelayInfoStore{backend: backend, config: config}
}

// Get returns (info, failed, inCache)
func (s *RelayInfoStore) Get(ctx context.Context, relayURL string) (*types.RelayInfo, bool, bool) {
	data, found, err := s.backend.Get(ctx, "relayinfo:"+relayURL)
	if err != nil || !found {
		metrics.IncrementCacheMiss("relayinfo")
		return nil, false, false
	}
	var cached types.CachedRelayInfo
	if err := json.Unmarshal(data, &cached); err != nil {
		metrics.IncrementCacheMiss("relayinfo")
		return nil, false, false
	}
	metrics.IncrementCacheHit("relayinfo")
	return cached.Info, cached.Failed, true
}

// Set stores a fetched document; a nil info is cached as a failure
func (s *RelayInfoStore) Set(ctx context.Context, relayURL string, info *types.RelayInfo) {
	cached := types.CachedRelayInfo{
		Info:      info,
		FetchedAt: time.Now().Unix(),
		Failed:    info == nil,
	}
	data, err := json.Marshal(cached)
	if err != nil {
		return
	}
	ttl := s.config.RelayInfoTTL
	if info == nil {
		ttl = s.config.RelayInfoFailTTL
	}
	s.backend.Set(ctx, "relayinfo:"+relayURL, data, ttl)
}
