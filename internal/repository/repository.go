// Package repository holds the local event store every derived view is computed from.
package repository

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/samber/lo"

	"nostr-feed/internal/metrics"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

// Repository is an in-memory, deduplicating event store.
// Replaceable and addressable kinds keep only their newest version, and
// kind 5 deletions hide the referenced events of the same author.
type Repository struct {
	mu      sync.RWMutex
	events  map[string]*types.Event
	latest  map[string]string      // replaceable/addressable key -> event id
	deleted map[string]struct{}    // ids removed by a deletion
	pending map[string]string      // deletion target id -> deleting pubkey, target not seen yet
	buried  map[string]types.Event // replaceable/addressable key -> newest deleted version

	subMu  sync.RWMutex
	subs   map[int]*subscription
	nextID int

	store Store
}

type subscription struct {
	filters []types.Filter
	fn      func(types.Event)
}

// New returns an empty in-memory repository
func New() *Repository {
	return &Repository{
		events:  make(map[string]*types.Event),
		latest:  make(map[string]string),
		deleted: make(map[string]struct{}),
		pending: make(map[string]string),
		buried:  make(map[string]types.Event),
		subs:    make(map[int]*subscription),
	}
}

// Open returns a repository backed by store, preloaded with its events
func Open(ctx context.Context, store Store) (*Repository, error) {
	events, err := store.LoadAll(ctx)
	if err != nil {
		return nil, err
	}
	r := New()
	r.insert(events)
	r.store = store
	slog.Info("repository loaded from store", "events", r.Len())
	return r, nil
}

// Add stores events, returning how many were new. Subscribers are notified
// for each newly stored event.
func (r *Repository) Add(events ...types.Event) int {
	added, removed := r.insert(events)
	if len(added) == 0 && len(removed) == 0 {
		return 0
	}

	if r.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := r.store.Save(ctx, added); err != nil {
			slog.Warn("failed to persist events", "count", len(added), "error", err)
		}
		if len(removed) > 0 {
			if err := r.store.Delete(ctx, removed); err != nil {
				slog.Warn("failed to delete persisted events", "count", len(removed), "error", err)
			}
		}
		cancel()
	}

	r.notify(added)
	return len(added)
}

func (r *Repository) insert(events []types.Event) (added []types.Event, removed []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range events {
		evt := events[i]
		if evt.ID == "" {
			continue
		}
		if existing, ok := r.events[evt.ID]; ok {
			existing.RelaysSeen = mergeRelays(existing.RelaysSeen, evt.RelaysSeen)
			continue
		}
		if _, gone := r.deleted[evt.ID]; gone {
			continue
		}
		if deleter, ok := r.pending[evt.ID]; ok && deleter == evt.PubKey {
			delete(r.pending, evt.ID)
			r.deleted[evt.ID] = struct{}{}
			if key := replaceKey(&evt); key != "" {
				r.bury(key, &evt)
			}
			continue
		}

		if key := replaceKey(&evt); key != "" {
			// Versions older than a deleted one stay hidden
			if tomb, ok := r.buried[key]; ok && !newer(&evt, &tomb) {
				continue
			}
			if oldID, ok := r.latest[key]; ok {
				old := r.events[oldID]
				if old != nil && !newer(&evt, old) {
					continue
				}
				delete(r.events, oldID)
				removed = append(removed, oldID)
			}
			r.latest[key] = evt.ID
		}

		evt.RelaysSeen = append([]string(nil), evt.RelaysSeen...)
		r.events[evt.ID] = &evt
		added = append(added, evt)

		if evt.Kind == nostr.KindDelete {
			removed = append(removed, r.applyDeletion(&evt)...)
		}
	}

	if len(removed) > 0 {
		added = lo.Reject(added, func(e types.Event, _ int) bool {
			return lo.Contains(removed, e.ID)
		})
	}
	metrics.RepositoryEvents.Set(float64(len(r.events)))
	return added, removed
}

// applyDeletion must be called with mu held
func (r *Repository) applyDeletion(del *types.Event) []string {
	var removed []string
	for _, id := range util.GetTagValues(del.Tags, "e") {
		target, ok := r.events[id]
		if !ok {
			if _, gone := r.deleted[id]; !gone {
				r.pending[id] = del.PubKey
			}
			continue
		}
		if target.PubKey != del.PubKey {
			continue
		}
		delete(r.events, id)
		if key := replaceKey(target); key != "" && r.latest[key] == id {
			delete(r.latest, key)
			r.bury(key, target)
		}
		r.deleted[id] = struct{}{}
		removed = append(removed, id)
	}
	return removed
}

// bury must be called with mu held
func (r *Repository) bury(key string, evt *types.Event) {
	if tomb, ok := r.buried[key]; !ok || newer(evt, &tomb) {
		r.buried[key] = types.Event{ID: evt.ID, CreatedAt: evt.CreatedAt}
	}
}

func (r *Repository) notify(added []types.Event) {
	r.subMu.RLock()
	subs := make([]*subscription, 0, len(r.subs))
	for _, s := range r.subs {
		subs = append(subs, s)
	}
	r.subMu.RUnlock()

	for _, evt := range added {
		for _, s := range subs {
			if nostr.MatchAny(s.filters, &evt) {
				s.fn(evt)
			}
		}
	}
}

// Query returns the union of events matching any filter, newest first.
// Each filter's Limit caps its own contribution.
func (r *Repository) Query(filters ...types.Filter) []types.Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	var result []types.Event
	for _, f := range filters {
		var matched []*types.Event
		for _, evt := range r.events {
			if nostr.MatchFilter(f, evt) {
				matched = append(matched, evt)
			}
		}
		sortNewestFirst(matched)
		matched = util.LimitSlice(matched, f.Limit)

		for _, evt := range matched {
			if _, dup := seen[evt.ID]; dup {
				continue
			}
			seen[evt.ID] = struct{}{}
			result = append(result, copyEvent(evt))
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		return less(&result[i], &result[j])
	})
	return result
}

// Subscribe invokes fn for every event added after the call that matches any
// of filters. The returned func removes the subscription.
func (r *Repository) Subscribe(filters []types.Filter, fn func(types.Event)) func() {
	r.subMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = &subscription{filters: filters, fn: fn}
	r.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, id)
			r.subMu.Unlock()
		})
	}
}

// Get returns the event with the given id
func (r *Repository) Get(id string) (types.Event, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	evt, ok := r.events[id]
	if !ok {
		return types.Event{}, false
	}
	return copyEvent(evt), true
}

func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// IsDeleted reports whether id was removed by a kind 5 deletion
func (r *Repository) IsDeleted(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.deleted[id]
	return ok
}

// Close closes the backing store, if any
func (r *Repository) Close() error {
	if r.store == nil {
		return nil
	}
	return r.store.Close()
}

func replaceKey(evt *types.Event) string {
	switch {
	case nostr.IsReplaceable(evt.Kind):
		return evt.PubKey + ":" + strconv.Itoa(evt.Kind)
	case nostr.IsAddressable(evt.Kind):
		return evt.PubKey + ":" + strconv.Itoa(evt.Kind) + ":" + util.GetTagValue(evt.Tags, "d")
	}
	return ""
}

// newer reports whether a supersedes b; equal timestamps keep the lowest id
func newer(a, b *types.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

func less(a, b *types.Event) bool {
	if a.CreatedAt != b.CreatedAt {
		return a.CreatedAt > b.CreatedAt
	}
	return a.ID < b.ID
}

func sortNewestFirst(events []*types.Event) {
	sort.Slice(events, func(i, j int) bool {
		return less(events[i], events[j])
	})
}

func copyEvent(evt *types.Event) types.Event {
	c := *evt
	c.RelaysSeen = append([]string(nil), evt.RelaysSeen...)
	return c
}

func mergeRelays(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	return lo.Union(existing, incoming)
}
