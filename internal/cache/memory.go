package cache

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryCache implements CacheBackend using sync.Map
type MemoryCache struct {
	data            sync.Map
	maxSize         int
	cleanupInterval time.Duration
	stopCh          chan struct{}
	stopOnce        sync.Once
	now             func() time.Time
}

type memoryCacheEntry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache creates a new in-memory cache
func NewMemoryCache(maxSize int, cleanupInterval time.Duration) *MemoryCache {
	if cleanupInterval <= 0 {
		cleanupInterval = 2 * time.Minute
	}
	mc := &MemoryCache{
		maxSize:         maxSize,
		cleanupInterval: cleanupInterval,
		stopCh:          make(chan struct{}),
		now:             time.Now,
	}
	go mc.cleanupLoop()
	return mc
}

func (m *MemoryCache) load(key string, now time.Time) ([]byte, bool) {
	val, ok := m.data.Load(key)
	if !ok {
		return nil, false
	}
	entry := val.(*memoryCacheEntry)
	if now.After(entry.expiresAt) {
		m.data.CompareAndDelete(key, val)
		return nil, false
	}
	return entry.value, true
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := m.load(key, m.now())
	return v, ok, nil
}

func (m *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.data.Store(key, &memoryCacheEntry{value: value, expiresAt: m.now().Add(ttl)})
	return nil
}

func (m *MemoryCache) Delete(_ context.Context, key string) error {
	m.data.Delete(key)
	return nil
}

func (m *MemoryCache) GetMultiple(_ context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	now := m.now()
	for _, key := range keys {
		if v, ok := m.load(key, now); ok {
			result[key] = v
		}
	}
	return result, nil
}

func (m *MemoryCache) SetMultiple(_ context.Context, items map[string][]byte, ttl time.Duration) error {
	expiresAt := m.now().Add(ttl)
	for key, value := range items {
		m.data.Store(key, &memoryCacheEntry{value: value, expiresAt: expiresAt})
	}
	return nil
}

// Close stops the cleanup loop. Safe to call more than once.
func (m *MemoryCache) Close() error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	return nil
}

func (m *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

type expiringKey struct {
	key       string
	expiresAt time.Time
}

// cleanup drops expired entries, then evicts the soonest-expiring ones
// while over maxSize.
func (m *MemoryCache) cleanup() {
	now := m.now()
	var live []expiringKey

	m.data.Range(func(key, value interface{}) bool {
		k := key.(string)
		entry := value.(*memoryCacheEntry)
		if now.After(entry.expiresAt) {
			m.data.Delete(k)
		} else {
			live = append(live, expiringKey{k, entry.expiresAt})
		}
		return true
	})

	if m.maxSize <= 0 || len(live) <= m.maxSize {
		return
	}
	sort.Slice(live, func(i, j int) bool {
		return live[i].expiresAt.Before(live[j].expiresAt)
	})
	for _, e := range live[:len(live)-m.maxSize] {
		m.data.Delete(e.key)
	}
}
