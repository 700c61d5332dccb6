package profiles

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nostr-feed/internal/cache"
	"nostr-feed/internal/config"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
)

var (
	alice = strings.Repeat("a", 64)
	bob   = strings.Repeat("b", 64)
)

type fakeFetcher struct {
	mu     sync.Mutex
	calls  [][]string
	onLoad func(ctx context.Context, req relay.Request) error
}

func (f *fakeFetcher) Load(ctx context.Context, req relay.Request) error {
	f.mu.Lock()
	f.calls = append(f.calls, req.Relays)
	f.mu.Unlock()
	if f.onLoad != nil {
		return f.onLoad(ctx, req)
	}
	<-ctx.Done()
	return nil
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func profileEvent(pubkey, name string, createdAt int64) types.Event {
	return types.Event{
		ID:        fmt.Sprintf("%s-%d", pubkey[:8], createdAt),
		PubKey:    pubkey,
		Kind:      0,
		CreatedAt: createdAt,
		Content:   fmt.Sprintf(`{"name":%q}`, name),
	}
}

func candidates() []string {
	urls := make([]string, 10)
	for i := range urls {
		urls[i] = fmt.Sprintf("wss://relay%d.example.com", i)
	}
	return urls
}

func testConfig() *config.LoaderConfig {
	cfg := config.DefaultLoaderConfig()
	cfg.BatchWindowMs = 10
	cfg.Ladder = []config.LadderStep{
		{Relays: 1, Timeout: 20 * time.Millisecond},
		{Relays: 2, Timeout: 30 * time.Millisecond},
		{Relays: 3, Timeout: 40 * time.Millisecond},
		{Relays: 0, Timeout: 50 * time.Millisecond},
	}
	return cfg
}

func newTestLoader(t *testing.T, repo *repository.Repository, fetcher Fetcher) *Loader {
	mc := cache.NewMemoryCache(100, time.Hour)
	t.Cleanup(func() { mc.Close() })
	l := NewLoader(repo, fetcher, candidates, cache.NewProfileStore(mc, cache.DefaultCacheConfig()), testConfig())
	t.Cleanup(l.Close)
	return l
}

func TestRequestLocalHit(t *testing.T) {
	repo := repository.New()
	repo.Add(profileEvent(alice, "alice", 100))
	fetcher := &fakeFetcher{}
	loader := newTestLoader(t, repo, fetcher)

	res, err := loader.Request(context.Background(), ProfileRequest{PubKey: alice})
	require.NoError(t, err)
	require.Equal(t, "alice", res.Profile.Name)
	require.Equal(t, alice, res.PubKey)
	require.Zero(t, fetcher.callCount())
}

func TestRequestCoalesced(t *testing.T) {
	repo := repository.New()
	fetcher := &fakeFetcher{onLoad: func(ctx context.Context, req relay.Request) error {
		time.Sleep(20 * time.Millisecond)
		repo.Add(profileEvent(bob, "bob", 100))
		return nil
	}}
	loader := newTestLoader(t, repo, fetcher)

	var wg sync.WaitGroup
	results := make([]*types.ProfileResult, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := loader.Request(context.Background(), ProfileRequest{PubKey: bob})
			require.NoError(t, err)
			results[i] = res
		}(i)
	}
	wg.Wait()

	require.Same(t, results[0], results[1])
	require.Equal(t, 1, fetcher.callCount())
}

func TestLadderExhaustion(t *testing.T) {
	fetcher := &fakeFetcher{}
	loader := newTestLoader(t, repository.New(), fetcher)

	start := time.Now()
	_, err := loader.Request(context.Background(), ProfileRequest{PubKey: alice})
	elapsed := time.Since(start)

	require.ErrorIs(t, err, ErrProfileNotFound)
	require.Equal(t, 4, fetcher.callCount())
	require.Less(t, elapsed, 140*time.Millisecond+500*time.Millisecond)

	fetcher.mu.Lock()
	sizes := []int{}
	for _, relays := range fetcher.calls {
		sizes = append(sizes, len(relays))
	}
	fetcher.mu.Unlock()
	require.Equal(t, []int{1, 2, 3, 10}, sizes)

	// The miss is cached, so a repeat request fails without relay traffic
	_, err = loader.Request(context.Background(), ProfileRequest{PubKey: alice})
	require.ErrorIs(t, err, ErrProfileNotFound)
	require.Equal(t, 4, fetcher.callCount())
}

func TestLadderStopsAtFirstHit(t *testing.T) {
	repo := repository.New()
	fetcher := &fakeFetcher{}
	fetcher.onLoad = func(ctx context.Context, req relay.Request) error {
		if len(req.Relays) == 2 {
			repo.Add(profileEvent(alice, "alice", 100))
			return nil
		}
		<-ctx.Done()
		return nil
	}
	loader := newTestLoader(t, repo, fetcher)

	res, err := loader.Request(context.Background(), ProfileRequest{PubKey: alice})
	require.NoError(t, err)
	require.Equal(t, "alice", res.Profile.Name)
	require.Equal(t, 2, fetcher.callCount())
}

func TestRequestHintsFirst(t *testing.T) {
	repo := repository.New()
	fetcher := &fakeFetcher{onLoad: func(ctx context.Context, req relay.Request) error {
		repo.Add(profileEvent(bob, "bob", 100))
		return nil
	}}
	loader := newTestLoader(t, repo, fetcher)

	_, err := loader.Request(context.Background(), ProfileRequest{PubKey: bob, Relays: []string{"wss://hint.example.com"}})
	require.NoError(t, err)
	require.Equal(t, []string{"wss://hint.example.com", "wss://relay0.example.com"}, fetcher.calls[0])
}

func TestRequestCachedProfile(t *testing.T) {
	mc := cache.NewMemoryCache(100, time.Hour)
	defer mc.Close()
	store := cache.NewProfileStore(mc, cache.DefaultCacheConfig())
	store.Set(context.Background(), bob, &types.ProfileInfo{Name: "cached bob"}, nil)

	fetcher := &fakeFetcher{}
	loader := NewLoader(repository.New(), fetcher, candidates, store, testConfig())
	defer loader.Close()

	res, err := loader.Request(context.Background(), ProfileRequest{PubKey: bob})
	require.NoError(t, err)
	require.Equal(t, "cached bob", res.Profile.Name)
	require.Zero(t, fetcher.callCount())
}

func TestRequestInvalidPubKey(t *testing.T) {
	loader := newTestLoader(t, repository.New(), &fakeFetcher{})
	_, err := loader.Request(context.Background(), ProfileRequest{PubKey: "npub-not-hex"})
	require.ErrorIs(t, err, ErrInvalidPubKey)
}

func TestRequestCallerCancelled(t *testing.T) {
	loader := newTestLoader(t, repository.New(), &fakeFetcher{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := loader.Request(ctx, ProfileRequest{PubKey: alice})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseFailsInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	fetcher := &fakeFetcher{onLoad: func(ctx context.Context, _ relay.Request) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}}
	cfg := testConfig()
	cfg.Ladder = []config.LadderStep{{Relays: 1, Timeout: 5 * time.Second}}
	loader := NewLoader(repository.New(), fetcher, candidates, nil, cfg)

	errCh := make(chan error, 1)
	go func() {
		_, err := loader.Request(context.Background(), ProfileRequest{PubKey: alice})
		errCh <- err
	}()

	<-started
	loader.Close()
	require.ErrorIs(t, <-errCh, ErrLoaderClosed)

	_, err := loader.Request(context.Background(), ProfileRequest{PubKey: bob})
	require.ErrorIs(t, err, ErrLoaderClosed)
}

func TestBatcherGroupsKeys(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	b := NewBatcher("test", func(ctx context.Context, keys []string, deliver func(string, int)) {
		mu.Lock()
		batches = append(batches, keys)
		mu.Unlock()
		for _, k := range keys {
			deliver(k, len(k))
		}
	}, 20*time.Millisecond, 0)
	defer b.Close()

	var wg sync.WaitGroup
	for _, key := range []string{"a", "bb", "ccc"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			v, err := b.Get(context.Background(), key)
			require.NoError(t, err)
			require.Equal(t, len(key), v)
		}(key)
	}
	wg.Wait()

	require.Len(t, batches, 1)
	require.ElementsMatch(t, []string{"a", "bb", "ccc"}, batches[0])
}

func TestBatcherFlushesAtMaxBatch(t *testing.T) {
	b := NewBatcher("test", func(ctx context.Context, keys []string, deliver func(string, bool)) {
		for _, k := range keys {
			deliver(k, true)
		}
	}, time.Hour, 2)
	defer b.Close()

	var wg sync.WaitGroup
	for _, key := range []string{"x", "y"} {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			v, err := b.Get(context.Background(), key)
			require.NoError(t, err)
			require.True(t, v)
		}(key)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not flushed at max size")
	}
}

func TestBatcherUndeliveredKeysGetZero(t *testing.T) {
	b := NewBatcher("test", func(ctx context.Context, keys []string, deliver func(string, string)) {}, time.Millisecond, 0)
	defer b.Close()

	v, err := b.Get(context.Background(), "k")
	require.NoError(t, err)
	require.Empty(t, v)
}
