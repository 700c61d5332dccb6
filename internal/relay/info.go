package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"resty.dev/v3"

	"nostr-feed/internal/cache"
	"nostr-feed/internal/types"
)

// NIPSearch is the NIP number for full-text search support
const NIPSearch = 50

// InfoClient fetches NIP-11 relay information documents
type InfoClient struct {
	client *resty.Client
	store  *cache.RelayInfoStore
}

// NewInfoClient returns a NIP-11 client caching documents in store (may be nil)
func NewInfoClient(store *cache.RelayInfoStore) *InfoClient {
	client := resty.NewWithTransportSettings(&resty.TransportSettings{
		DialerTimeout:         3 * time.Second,
		TLSHandshakeTimeout:   3 * time.Second,
		ResponseHeaderTimeout: 5 * time.Second,
		IdleConnTimeout:       30 * time.Second,
	})
	client.SetHeader("Accept", "application/nostr+json")
	return &InfoClient{client: client, store: store}
}

func (c *InfoClient) Close() error {
	return c.client.Close()
}

// infoURL maps ws(s):// to http(s):// as NIP-11 requires
func infoURL(relayURL string) string {
	switch {
	case strings.HasPrefix(relayURL, "wss://"):
		return "https://" + strings.TrimPrefix(relayURL, "wss://")
	case strings.HasPrefix(relayURL, "ws://"):
		return "http://" + strings.TrimPrefix(relayURL, "ws://")
	}
	return relayURL
}

// Fetch returns the relay's information document, from cache when possible
func (c *InfoClient) Fetch(ctx context.Context, relayURL string) (*types.RelayInfo, error) {
	if c.store != nil {
		if info, failed, ok := c.store.Get(ctx, relayURL); ok {
			if failed {
				return nil, fmt.Errorf("relay info for %s: cached failure", relayURL)
			}
			return info, nil
		}
	}

	res, err := c.client.R().
		WithContext(ctx).
		SetResult(&types.RelayInfo{}).
		Get(infoURL(relayURL))
	if err == nil && res.IsError() {
		err = fmt.Errorf("relay info for %s: status %d", relayURL, res.StatusCode())
	}
	if err != nil {
		if c.store != nil && ctx.Err() == nil {
			c.store.Set(ctx, relayURL, nil)
		}
		return nil, err
	}

	info, _ := res.Result().(*types.RelayInfo)
	if c.store != nil {
		c.store.Set(ctx, relayURL, info)
	}
	return info, nil
}

// RefreshSearchCapability fetches the documents of every configured relay and
// marks the ones advertising NIP-50 as search capable on the router
func (c *InfoClient) RefreshSearchCapability(ctx context.Context, router *Router) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)

	for _, relayURL := range router.All() {
		g.Go(func() error {
			info, err := c.Fetch(ctx, relayURL)
			if err != nil {
				slog.Debug("relay info unavailable", "relay", relayURL, "error", err)
				return nil
			}
			router.SetSearchCapable(relayURL, info.Supports(NIPSearch))
			return nil
		})
	}
	return g.Wait()
}
