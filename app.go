package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"nostr-feed/internal/cache"
	"nostr-feed/internal/comments"
	"nostr-feed/internal/config"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/profiles"
	"nostr-feed/internal/reactions"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/rooms"
	"nostr-feed/internal/session"
	"nostr-feed/internal/types"
)

// appOptions come from persistent flags and the environment
type appOptions struct {
	DBPath   string
	RedisURL string
}

// App holds the wired client core
type App struct {
	repo     *repository.Repository
	pool     *relay.Pool
	fetcher  *relay.Fetcher
	router   *relay.Router
	info     *relay.InfoClient
	sessions *session.Manager
	cache    cache.CacheBackend

	comments  *comments.Aggregator
	profiles  *profiles.Loader
	reactions *reactions.Service
	rooms     *rooms.Service
}

func newApp(ctx context.Context, opts appOptions) (*App, error) {
	loaderCfg := config.LoadLoaderConfig(config.LoaderConfigPath())

	repo := repository.New()
	if opts.DBPath != "" {
		store, err := repository.OpenSQLite(opts.DBPath)
		if err != nil {
			return nil, fmt.Errorf("opening event database: %w", err)
		}
		if repo, err = repository.Open(ctx, store); err != nil {
			store.Close()
			return nil, err
		}
	}

	sessions := session.NewManager()
	signer, err := session.LoadSigner()
	switch {
	case err == nil:
		sessions.Login(signer)
		slog.Debug("session restored", "pubkey", nostr.ShortID(signer.PubKey()))
	case !errors.Is(err, session.ErrNoSession):
		slog.Warn("could not restore session", "error", err)
	}

	pool := relay.NewPool()
	pool.SetPublishTimeout(loaderCfg.PublishTimeout())
	fetcher := relay.NewFetcher(pool, repo, loaderCfg)
	router := relay.NewRouter(config.GetRelaysConfig(), repo, sessions.PubKey, loaderCfg.SelectLimit)

	cacheCfg := cache.DefaultCacheConfig()
	backend, backendName := cache.New(opts.RedisURL, cacheCfg)
	slog.Debug("cache backend ready", "backend", backendName)

	readRelays := func() []string { return router.Read(0) }
	publishRelays := func() []string { return router.Publish().URLs() }

	a := &App{
		repo:     repo,
		pool:     pool,
		fetcher:  fetcher,
		router:   router,
		info:     relay.NewInfoClient(cache.NewRelayInfoStore(backend, cacheCfg)),
		sessions: sessions,
		cache:    backend,

		comments:  comments.NewAggregator(repo, fetcher, readRelays),
		profiles:  profiles.NewLoader(repo, fetcher, router.ProfileRelays, cache.NewProfileStore(backend, cacheCfg), loaderCfg),
		reactions: reactions.NewService(repo, fetcher, pool, sessions, readRelays, publishRelays),
		rooms:     rooms.NewService(repo, fetcher, readRelays),
	}
	a.reactions.OnAuthRequired = func() {
		slog.Warn("login required, run `nostr-feed login` or set " + session.SecretKeyEnv)
	}
	return a, nil
}

// loadUserRelays fetches the session user's NIP-65 relay list so the router
// can read from and publish to their relays
func (a *App) loadUserRelays(ctx context.Context) {
	pubkey := a.sessions.PubKey()
	if pubkey == "" {
		return
	}
	err := a.fetcher.Load(ctx, relay.Request{
		Filters: []types.Filter{{Kinds: []int{nostr.KindRelayList}, Authors: []string{pubkey}, Limit: 1}},
		Relays:  relay.Merge(a.router.Index(), a.router.Default()).URLs(),
		CompleteOn: func(evt types.Event) bool {
			return evt.Kind == nostr.KindRelayList && evt.PubKey == pubkey
		},
	})
	if err != nil {
		slog.Debug("user relay list unavailable", "error", err)
	}
}

// reloadRelays rereads the relays config file and swaps the router's pools
func (a *App) reloadRelays() {
	config.ReloadRelaysConfig()
	a.router.SetConfig(config.GetRelaysConfig())
}

func (a *App) Close() {
	a.profiles.Close()
	a.pool.Close()
	if err := a.info.Close(); err != nil {
		slog.Debug("closing relay info client", "error", err)
	}
	if err := a.cache.Close(); err != nil {
		slog.Debug("closing cache", "error", err)
	}
	if err := a.repo.Close(); err != nil {
		slog.Warn("closing repository", "error", err)
	}
}
