// Package profiles resolves kind 0 profile metadata with request batching,
// coalescing and an escalating relay ladder.
package profiles

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"nostr-feed/internal/cache"
	"nostr-feed/internal/config"
	"nostr-feed/internal/metrics"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
)

var (
	ErrProfileNotFound = errors.New("profile not found")
	ErrInvalidPubKey   = errors.New("invalid pubkey")
	ErrLoaderClosed    = errors.New("profile loader closed")
)

// Fetcher loads events from relays into the repository
type Fetcher interface {
	Load(ctx context.Context, req relay.Request) error
}

// ProfileRequest asks for one pubkey's profile. Relays are hints tried first.
type ProfileRequest struct {
	PubKey string
	Relays []string
}

type outcome struct {
	result *types.ProfileResult
	err    error
}

// Loader resolves profiles: repository first, then the cache tier, then the
// relay ladder. Concurrent requests for a pubkey share one resolution.
type Loader struct {
	repo       *repository.Repository
	fetcher    Fetcher
	candidates func() []string
	store      *cache.ProfileStore
	ladder     []config.LadderStep

	batcher *Batcher[outcome]
	group   singleflight.Group

	hintsMu sync.Mutex
	hints   map[string][]string

	closeOnce sync.Once
}

// NewLoader builds a loader. candidates returns every relay usable for
// profile lookups in preference order; store may be nil.
func NewLoader(repo *repository.Repository, fetcher Fetcher, candidates func() []string, store *cache.ProfileStore, cfg *config.LoaderConfig) *Loader {
	l := &Loader{
		repo:       repo,
		fetcher:    fetcher,
		candidates: candidates,
		store:      store,
		ladder:     cfg.Ladder,
		hints:      make(map[string][]string),
	}
	l.batcher = NewBatcher("profiles", l.resolveBatch, cfg.BatchWindow(), cfg.MaxBatch)
	return l
}

// Request resolves a single profile. Requests for the same pubkey made while
// one is in flight share its result.
func (l *Loader) Request(ctx context.Context, req ProfileRequest) (*types.ProfileResult, error) {
	if !validPubKey(req.PubKey) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPubKey, req.PubKey)
	}

	if len(req.Relays) > 0 {
		l.hintsMu.Lock()
		l.hints[req.PubKey] = lo.Uniq(append(l.hints[req.PubKey], req.Relays...))
		l.hintsMu.Unlock()
	}

	ch := l.group.DoChan(req.PubKey, func() (interface{}, error) {
		// Detached from any one caller so a cancelled caller does not fail the others
		out, err := l.batcher.Get(context.Background(), req.PubKey)
		l.hintsMu.Lock()
		delete(l.hints, req.PubKey)
		l.hintsMu.Unlock()
		if err != nil {
			return nil, ErrLoaderClosed
		}
		if out.err != nil {
			return nil, out.err
		}
		if out.result == nil {
			return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, nostr.ShortID(req.PubKey))
		}
		return out.result, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*types.ProfileResult), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops batching; pending requests fail with ErrLoaderClosed
func (l *Loader) Close() {
	l.closeOnce.Do(l.batcher.Close)
}

func validPubKey(pk string) bool {
	if len(pk) != 64 {
		return false
	}
	_, err := hex.DecodeString(pk)
	return err == nil
}

// resolveBatch is the batch function: one repository query for the whole
// batch, one cache lookup for the misses, then a parallel ladder per pubkey
func (l *Loader) resolveBatch(ctx context.Context, pubkeys []string, deliver func(string, outcome)) {
	local := l.fromRepository(pubkeys...)
	var misses []string
	for _, pk := range pubkeys {
		if res, ok := local[pk]; ok {
			metrics.ProfileResolutions.WithLabelValues("repository").Inc()
			deliver(pk, outcome{result: res})
			continue
		}
		misses = append(misses, pk)
	}

	if l.store != nil && len(misses) > 0 {
		cached := l.store.GetMultiple(ctx, misses)
		remaining := misses[:0]
		for _, pk := range misses {
			entry, ok := cached[pk]
			switch {
			case !ok:
				remaining = append(remaining, pk)
			case entry.NotFound:
				metrics.ProfileResolutions.WithLabelValues("not_found").Inc()
				deliver(pk, outcome{err: fmt.Errorf("%w: %s (cached)", ErrProfileNotFound, nostr.ShortID(pk))})
			default:
				metrics.ProfileResolutions.WithLabelValues("cache").Inc()
				deliver(pk, outcome{result: &types.ProfileResult{PubKey: pk, Profile: entry.Profile, Event: entry.Event}})
			}
		}
		misses = remaining
	}

	if len(misses) == 0 {
		return
	}

	var g errgroup.Group
	for _, pk := range misses {
		g.Go(func() error {
			res, err := l.climbLadder(ctx, pk)
			if err != nil && ctx.Err() != nil {
				// only Close cancels the batch context
				err = ErrLoaderClosed
			}
			deliver(pk, outcome{result: res, err: err})
			return nil
		})
	}
	g.Wait()
}

// climbLadder tries progressively wider relay sets with longer timeouts,
// stopping at the first attempt after which the repository holds a profile
func (l *Loader) climbLadder(ctx context.Context, pubkey string) (*types.ProfileResult, error) {
	start := time.Now()
	for i, step := range l.ladder {
		relays := l.relaySet(pubkey, step.Relays)
		metrics.ProfileLadderAttempts.WithLabelValues(strconv.Itoa(i + 1)).Inc()

		attemptCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		err := l.fetcher.Load(attemptCtx, relay.Request{
			Filters:   []types.Filter{{Kinds: []int{nostr.KindProfile}, Authors: []string{pubkey}, Limit: 1}},
			Relays:    relays,
			AutoClose: true,
			Threshold: 1,
			CompleteOn: func(evt types.Event) bool {
				return evt.Kind == nostr.KindProfile && evt.PubKey == pubkey
			},
		})
		cancel()
		if err != nil {
			slog.Debug("profile attempt failed", "pubkey", nostr.ShortID(pubkey), "attempt", i+1, "error", err)
		}

		if res, ok := l.fromRepository(pubkey)[pubkey]; ok {
			metrics.ProfileResolutions.WithLabelValues("relay").Inc()
			if l.store != nil {
				l.store.Set(ctx, pubkey, res.Profile, res.Event)
			}
			slog.Debug("profile resolved", "pubkey", nostr.ShortID(pubkey), "attempt", i+1, "relays", len(relays))
			return res, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	metrics.ProfileResolutions.WithLabelValues("not_found").Inc()
	if l.store != nil {
		l.store.SetNotFound(ctx, pubkey)
	}
	slog.Debug("profile not found", "pubkey", nostr.ShortID(pubkey), "attempts", len(l.ladder), "elapsed_ms", time.Since(start).Milliseconds())
	return nil, fmt.Errorf("%w: %s", ErrProfileNotFound, nostr.ShortID(pubkey))
}

// relaySet returns request hints followed by the first n candidates (n <= 0 = all)
func (l *Loader) relaySet(pubkey string, n int) []string {
	l.hintsMu.Lock()
	hints := append([]string(nil), l.hints[pubkey]...)
	l.hintsMu.Unlock()

	candidates := l.candidates()
	if n > 0 && len(candidates) > n {
		candidates = candidates[:n]
	}
	return nostr.NormalizeRelayURLs(append(hints, candidates...))
}

// fromRepository returns parsed profiles for the pubkeys held locally
func (l *Loader) fromRepository(pubkeys ...string) map[string]*types.ProfileResult {
	events := l.repo.Query(types.Filter{Kinds: []int{nostr.KindProfile}, Authors: pubkeys})
	results := make(map[string]*types.ProfileResult, len(events))
	for i := range events {
		evt := events[i]
		if _, done := results[evt.PubKey]; done {
			continue
		}
		profile, err := ParseProfile(evt.Content)
		if err != nil {
			slog.Debug("malformed profile content", "pubkey", nostr.ShortID(evt.PubKey), "error", err)
			continue
		}
		results[evt.PubKey] = &types.ProfileResult{PubKey: evt.PubKey, Profile: profile, Event: &evt}
	}
	return results
}

// ParseProfile decodes kind 0 content
func ParseProfile(content string) (*types.ProfileInfo, error) {
	var profile types.ProfileInfo
	if err := json.Unmarshal([]byte(content), &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}
