package relay

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"nostr-feed/internal/cache"
	"nostr-feed/internal/config"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
)

func testRelaysConfig() *config.RelaysConfig {
	return &config.RelaysConfig{
		DefaultRelays: []string{"wss://default.example.com"},
		SearchRelays:  []string{"wss://search1.example.com", "wss://both.example.com", "wss://search2.example.com"},
		IndexRelays:   []string{"wss://index1.example.com", "wss://both.example.com"},
		PublishRelays: []string{"wss://publish.example.com"},
	}
}

func TestRelayURLs(t *testing.T) {
	router := NewRouter(testRelaysConfig(), nil, nil, 8)

	tests := []struct {
		name string
		opts SelectOptions
		want []string
	}{
		{
			name: "prefer search",
			opts: SelectOptions{PreferSearch: true},
			want: []string{
				"wss://both.example.com",
				"wss://search1.example.com",
				"wss://search2.example.com",
				"wss://index1.example.com",
			},
		},
		{
			name: "prefer index",
			opts: SelectOptions{},
			want: []string{
				"wss://both.example.com",
				"wss://index1.example.com",
				"wss://search1.example.com",
				"wss://search2.example.com",
			},
		},
		{
			name: "limited",
			opts: SelectOptions{PreferSearch: true, Limit: 2},
			want: []string{"wss://both.example.com", "wss://search1.example.com"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, router.RelayURLs(tt.opts))
			require.Equal(t, tt.want, router.RelayURLs(tt.opts), "selection must be deterministic")
		})
	}
}

func TestRouterSetConfig(t *testing.T) {
	router := NewRouter(testRelaysConfig(), nil, nil, 8)
	require.Equal(t, []string{"wss://default.example.com"}, router.Default().URLs())

	router.SetConfig(&config.RelaysConfig{
		DefaultRelays: []string{"wss://reloaded.example.com"},
		PublishRelays: []string{"wss://publish.example.com"},
	})
	require.Equal(t, []string{"wss://reloaded.example.com"}, router.Default().URLs())
	require.Empty(t, router.Index().URLs())
}

func TestMergeScenarios(t *testing.T) {
	a := NewScenario([]string{"wss://a.example.com", "wss://b.example.com"}).Weight(0.5)
	b := NewScenario([]string{"wss://c.example.com", "wss://b.example.com/"}).Weight(0.4)

	merged := Merge(a, b)
	require.Equal(t, []string{"wss://b.example.com", "wss://a.example.com", "wss://c.example.com"}, merged.URLs())
	require.Equal(t, []string{"wss://b.example.com"}, merged.Limit(1).URLs())
}

func TestRouterUserRelayList(t *testing.T) {
	repo := repository.New()
	repo.Add(types.Event{
		ID:        "list",
		PubKey:    "me",
		Kind:      10002,
		CreatedAt: 100,
		Tags: [][]string{
			{"r", "wss://both-ways.example.com"},
			{"r", "wss://inbox.example.com", "read"},
			{"r", "wss://outbox.example.com", "write"},
		},
	})

	router := NewRouter(testRelaysConfig(), repo, func() string { return "me" }, 8)
	require.Equal(t, []string{"wss://both-ways.example.com", "wss://outbox.example.com"}, router.FromUser().URLs())
	require.Equal(t, []string{"wss://both-ways.example.com", "wss://inbox.example.com"}, router.ForUser().URLs())

	publish := router.Publish().URLs()
	require.Equal(t, "wss://publish.example.com", publish[0])
	require.Contains(t, publish, "wss://outbox.example.com")

	loggedOut := NewRouter(testRelaysConfig(), repo, nil, 8)
	require.Empty(t, loggedOut.FromUser().URLs())
}

func TestInfoClientRefreshSearchCapability(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "application/nostr+json" {
			http.Error(w, "not a NIP-11 request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/nostr+json")
		w.Write([]byte(`{"name":"test","supported_nips":[1,11,50]}`))
	}))
	defer server.Close()

	relayURL := "ws" + strings.TrimPrefix(server.URL, "http")
	cfg := &config.RelaysConfig{DefaultRelays: []string{relayURL}}
	router := NewRouter(cfg, nil, nil, 8)
	require.Empty(t, router.Search().URLs())

	mc := cache.NewMemoryCache(10, time.Hour)
	defer mc.Close()
	client := NewInfoClient(cache.NewRelayInfoStore(mc, cache.DefaultCacheConfig()))
	defer client.Close()

	require.NoError(t, client.RefreshSearchCapability(context.Background(), router))
	require.Equal(t, []string{relayURL}, router.Search().URLs())

	info, err := client.Fetch(context.Background(), relayURL)
	require.NoError(t, err)
	require.Equal(t, "test", info.Name)
}
