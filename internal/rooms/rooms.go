// Package rooms lists NIP-28 public chat rooms and their message counts.
package rooms

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

const (
	DefaultLimit = 1000
	countWorkers = 4
)

// Loader fetches events from relays into the repository
type Loader interface {
	Load(ctx context.Context, req relay.Request) error
}

// metadata is the JSON content of kind 40 and 41 events
type metadata struct {
	Name    string `json:"name"`
	About   string `json:"about"`
	Picture string `json:"picture"`
}

// Service lists rooms from the repository, fetching through loader first
type Service struct {
	repo   *repository.Repository
	loader Loader
	relays func() []string

	mu     sync.RWMutex
	listed []types.Room
}

func NewService(repo *repository.Repository, loader Loader, relays func() []string) *Service {
	return &Service{repo: repo, loader: loader, relays: relays}
}

func (s *Service) load(ctx context.Context, filters ...types.Filter) {
	if s.loader == nil {
		return
	}
	err := s.loader.Load(ctx, relay.Request{Filters: filters, Relays: s.relays(), AutoClose: true})
	if err != nil {
		slog.Warn("room fetch failed, using local events", "error", err)
	}
}

func parseMetadata(evt *types.Event) (metadata, bool) {
	var md metadata
	if err := json.Unmarshal([]byte(evt.Content), &md); err != nil {
		slog.Debug("skipping room with malformed metadata", "event_id", nostr.ShortID(evt.ID), "kind", evt.Kind, "error", err)
		return md, false
	}
	return md, true
}

// Rooms fetches kind 40 rooms and their kind 41 updates and returns them
// newest activity first. Rooms sharing an id or a case-insensitive name are
// collapsed into the one created first.
func (s *Service) Rooms(ctx context.Context, limit int) []types.Room {
	if limit <= 0 {
		limit = DefaultLimit
	}
	create := types.Filter{Kinds: []int{nostr.KindRoomCreate}, Limit: limit}
	s.load(ctx, create)

	creations := s.repo.Query(create)
	sort.SliceStable(creations, func(i, j int) bool {
		if creations[i].CreatedAt != creations[j].CreatedAt {
			return creations[i].CreatedAt < creations[j].CreatedAt
		}
		return creations[i].ID < creations[j].ID
	})

	ids := lo.Map(creations, func(e types.Event, _ int) string { return e.ID })
	updates := map[string]types.Event{}
	if len(ids) > 0 {
		updateFilter := types.Filter{Kinds: []int{nostr.KindRoomMetadata}}.TagFilter("e", ids...)
		s.load(ctx, updateFilter)
		updates = latestUpdates(s.repo.Query(updateFilter))
	}

	rooms := Build(creations, updates)
	s.mu.Lock()
	s.listed = rooms
	s.mu.Unlock()
	return rooms
}

// latestUpdates keys the newest kind 41 per (room, author)
func latestUpdates(events []types.Event) map[string]types.Event {
	latest := make(map[string]types.Event)
	for _, evt := range events {
		roomID := util.GetTagValue(evt.Tags, "e")
		if roomID == "" {
			continue
		}
		key := roomID + ":" + evt.PubKey
		if prev, ok := latest[key]; !ok || evt.CreatedAt > prev.CreatedAt {
			latest[key] = evt
		}
	}
	return latest
}

// Build turns creation events, oldest first, into rooms. updates holds the
// newest kind 41 keyed by "<room id>:<author>"; only the creator's update
// applies.
func Build(creations []types.Event, updates map[string]types.Event) []types.Room {
	seenIDs := make(map[string]bool)
	seenNames := make(map[string]bool)
	rooms := make([]types.Room, 0, len(creations))

	for i := range creations {
		evt := &creations[i]
		if seenIDs[evt.ID] {
			continue
		}
		md, ok := parseMetadata(evt)
		if !ok {
			continue
		}

		room := types.Room{
			ID:           evt.ID,
			Name:         md.Name,
			Description:  md.About,
			Picture:      md.Picture,
			Creator:      evt.PubKey,
			CreatedAt:    evt.CreatedAt,
			LastActivity: evt.CreatedAt,
			Tags:         evt.Tags,
		}
		if upd, ok := updates[evt.ID+":"+evt.PubKey]; ok {
			if umd, ok := parseMetadata(&upd); ok {
				if umd.Name != "" {
					room.Name = umd.Name
				}
				if umd.About != "" {
					room.Description = umd.About
				}
				if umd.Picture != "" {
					room.Picture = umd.Picture
				}
				room.LastActivity = max(room.LastActivity, upd.CreatedAt)
			}
		}

		name := strings.ToLower(strings.TrimSpace(room.Name))
		if name != "" && seenNames[name] {
			continue
		}
		seenIDs[evt.ID] = true
		if name != "" {
			seenNames[name] = true
		}
		rooms = append(rooms, room)
	}

	sortByActivity(rooms)
	return rooms
}

func sortByActivity(rooms []types.Room) {
	sort.SliceStable(rooms, func(i, j int) bool {
		if rooms[i].LastActivity != rooms[j].LastActivity {
			return rooms[i].LastActivity > rooms[j].LastActivity
		}
		return rooms[i].ID < rooms[j].ID
	})
}

// messageFilters matches kind 42 messages tagging the room with h or r
func messageFilters(roomID string) []types.Filter {
	base := types.Filter{Kinds: []int{nostr.KindRoomMessage}}
	return []types.Filter{base.TagFilter("h", roomID), base.TagFilter("r", roomID)}
}

// messages returns the room's messages, each once
func (s *Service) messages(ctx context.Context, roomID string) []types.Event {
	filters := messageFilters(roomID)
	s.load(ctx, filters...)
	return lo.UniqBy(s.repo.Query(filters...), func(e types.Event) string { return e.ID })
}

// MessageCount returns how many messages reference roomID through either
// an h or an r tag
func (s *Service) MessageCount(ctx context.Context, roomID string) int {
	return len(s.messages(ctx, roomID))
}

// PopulateMessageCounts fills MessageCount and LastActivity for each room in
// place. onUpdate, if set, is called once per room as its count arrives.
func (s *Service) PopulateMessageCounts(ctx context.Context, rooms []types.Room, onUpdate func(types.Room)) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countWorkers)

	for i := range rooms {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			msgs := s.messages(gctx, rooms[i].ID)

			mu.Lock()
			defer mu.Unlock()
			rooms[i].MessageCount = len(msgs)
			for _, m := range msgs {
				rooms[i].LastActivity = max(rooms[i].LastActivity, m.CreatedAt)
			}
			if onUpdate != nil {
				onUpdate(rooms[i])
			}
			return nil
		})
	}
	return g.Wait()
}

type roomSource []types.Room

func (r roomSource) String(i int) string {
	return strings.ToLower(r[i].Name + " " + r[i].Description)
}

func (r roomSource) Len() int { return len(r) }

// Search fuzzy-matches term against the names and descriptions of the
// listed rooms, best match first. Rooms are listed first if needed.
func (s *Service) Search(ctx context.Context, term string, limit int) []types.Room {
	s.mu.RLock()
	listed := s.listed
	s.mu.RUnlock()
	if listed == nil {
		listed = s.Rooms(ctx, DefaultLimit)
	}

	term = strings.ToLower(strings.TrimSpace(term))
	var results []types.Room
	if term == "" {
		results = append(results, listed...)
	} else {
		for _, m := range fuzzy.FindFrom(term, roomSource(listed)) {
			results = append(results, listed[m.Index])
		}
	}
	return util.LimitSlice(results, limit)
}
