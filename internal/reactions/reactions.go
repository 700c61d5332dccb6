// Package reactions groups NIP-25 emoji reactions and toggles the session
// user's own reaction.
package reactions

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"


	"nostr-feed/internal/config"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/session"
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

var ErrInvalidEmoji = errors.New("not a single emoji")

// ToggleResult says what a Toggle call published
type ToggleResult int

const (
	ToggleNone ToggleResult = iota
	ToggleAdded
	ToggleRemoved
)

func (r ToggleResult) String() string {
	switch r {
	case ToggleAdded:
		return "added"
	case ToggleRemoved:
		return "removed"
	default:
		return "none"
	}
}

// Loader fetches events from relays into the repository
type Loader interface {
	Load(ctx context.Context, req relay.Request) error
}

// Service reads reaction groups from the repository and publishes toggles
type Service struct {
	repo      *repository.Repository
	loader    Loader
	publisher relay.Publisher
	sessions  *session.Manager
	client    *config.ClientConfig

	readRelays    func() []string
	publishRelays func() []string

	// OnAuthRequired is called when Toggle runs without a session
	OnAuthRequired func()
	// PublishDelay is passed through to the publisher
	PublishDelay time.Duration

	locksMu sync.Mutex
	locks   map[string]*keyedMutex
	now     func() time.Time
}

// NewService wires a reaction service. readRelays is used for fetching and
// publishRelays for toggles.
func NewService(repo *repository.Repository, loader Loader, publisher relay.Publisher, sessions *session.Manager,
	readRelays, publishRelays func() []string) *Service {
	return &Service{
		repo:          repo,
		loader:        loader,
		publisher:     publisher,
		sessions:      sessions,
		client:        config.GetClientConfig(),
		readRelays:    readRelays,
		publishRelays: publishRelays,
		locks:         make(map[string]*keyedMutex),
		now:           time.Now,
	}
}

// SetClientConfig overrides the client tag configuration
func (s *Service) SetClientConfig(cfg *config.ClientConfig) {
	s.client = cfg
}

func reactionFilter(eventID string) types.Filter {
	return types.Filter{Kinds: []int{nostr.KindReaction}}.TagFilter("e", eventID)
}

// targetOf returns the reacted-to event id: the last e tag
func targetOf(evt *types.Event) string {
	return util.GetLastTagValue(evt.Tags, "e")
}

// local returns the reactions to eventID held in the repository, oldest first
func (s *Service) local(eventID string) []types.Event {
	events := s.repo.Query(reactionFilter(eventID))
	out := events[:0]
	for _, evt := range events {
		if targetOf(&evt) == eventID {
			out = append(out, evt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// EmojiReactions returns the grouped reactions to eventID. With load set,
// relays are queried first; fetch errors fall back to local events.
func (s *Service) EmojiReactions(ctx context.Context, eventID string, load bool) types.EmojiReactionGroup {
	if load && s.loader != nil {
		err := s.loader.Load(ctx, relay.Request{
			Filters:   []types.Filter{reactionFilter(eventID)},
			Relays:    s.readRelays(),
			AutoClose: true,
		})
		if err != nil {
			slog.Warn("reaction fetch failed, using local events", "event_id", nostr.ShortID(eventID), "error", err)
		}
	}
	return Group(eventID, s.local(eventID), s.sessions.PubKey())
}

// Group builds the reaction group for eventID from reactions ordered oldest
// first. Each pubkey counts once per emoji. Groups are ordered by count, then
// by when the emoji was first used.
func Group(eventID string, reactions []types.Event, userPubKey string) types.EmojiReactionGroup {
	group := types.EmojiReactionGroup{EventID: eventID, Reactions: []types.EmojiReaction{}}
	seen := make(map[string]map[string]bool)
	order := make(map[string]int)

	for _, evt := range reactions {
		e, ok := Normalize(evt.Content)
		if !ok {
			continue
		}
		users, exists := seen[e]
		if !exists {
			users = make(map[string]bool)
			seen[e] = users
			order[e] = len(group.Reactions)
			group.Reactions = append(group.Reactions, types.EmojiReaction{Emoji: e, Users: []string{}})
		}
		if users[evt.PubKey] {
			continue
		}
		users[evt.PubKey] = true

		r := &group.Reactions[order[e]]
		r.Count++
		r.Users = append(r.Users, evt.PubKey)
		if userPubKey != "" && evt.PubKey == userPubKey {
			r.UserReacted = true
		}
		group.TotalCount++
	}

	sort.SliceStable(group.Reactions, func(i, j int) bool {
		return group.Reactions[i].Count > group.Reactions[j].Count
	})
	return group
}

// keyedMutex is dropped from the lock table once nobody holds or waits on it
type keyedMutex struct {
	mu   sync.Mutex
	refs int
}

func (s *Service) lock(key string) func() {
	s.locksMu.Lock()
	km := s.locks[key]
	if km == nil {
		km = &keyedMutex{}
		s.locks[key] = km
	}
	km.refs++
	s.locksMu.Unlock()

	km.mu.Lock()
	return func() {
		km.mu.Unlock()
		s.locksMu.Lock()
		km.refs--
		if km.refs == 0 {
			delete(s.locks, key)
		}
		s.locksMu.Unlock()
	}
}

// ownReactions returns the user's reactions to eventID that count as emoji
func (s *Service) ownReactions(eventID, pubkey, emoji string) []types.Event {
	var own []types.Event
	for _, evt := range s.local(eventID) {
		if evt.PubKey != pubkey {
			continue
		}
		if e, ok := Normalize(evt.Content); ok && e == emoji {
			own = append(own, evt)
		}
	}
	return own
}

// Toggle adds the user's emoji reaction to eventID, or retracts it with a
// kind 5 deletion when the repository already holds one. Without a session
// OnAuthRequired is called and nothing is published.
func (s *Service) Toggle(ctx context.Context, eventID, emoji string) (ToggleResult, error) {
	sess := s.sessions.Current()
	if sess == nil {
		if s.OnAuthRequired != nil {
			s.OnAuthRequired()
		}
		return ToggleNone, nil
	}

	normalized, ok := Normalize(emoji)
	if !ok {
		return ToggleNone, ErrInvalidEmoji
	}

	unlock := s.lock(sess.PubKey + ":" + eventID)
	defer unlock()

	var evt types.Event
	result := ToggleAdded
	if own := s.ownReactions(eventID, sess.PubKey, normalized); len(own) > 0 {
		evt = s.deletion(own)
		result = ToggleRemoved
	} else {
		evt = s.reaction(eventID, normalized)
	}

	if err := sess.Signer.Sign(&evt); err != nil {
		return ToggleNone, err
	}

	res, err := s.publisher.Publish(ctx, evt, s.publishRelays(), s.PublishDelay)
	if err != nil {
		return ToggleNone, err
	}
	slog.Debug("reaction toggled", "event_id", nostr.ShortID(eventID), "result", result.String(),
		"accepted_by", len(res.AcceptedBy()))

	s.repo.Add(evt)
	return result, nil
}

func (s *Service) reaction(eventID, emoji string) types.Event {
	tags := [][]string{{"e", eventID}}
	if target, ok := s.repo.Get(eventID); ok {
		tags = append(tags, []string{"p", target.PubKey}, []string{"k", strconv.Itoa(target.Kind)})
	} else {
		tags = append(tags, []string{"k", strconv.Itoa(nostr.KindNote)})
	}
	if clientTag := s.client.ClientTag(nostr.KindReaction); clientTag != nil {
		tags = append(tags, clientTag)
	}
	return types.Event{
		Kind:      nostr.KindReaction,
		Content:   emoji,
		Tags:      tags,
		CreatedAt: s.now().Unix(),
	}
}

func (s *Service) deletion(own []types.Event) types.Event {
	tags := make([][]string, 0, len(own)+1)
	for _, evt := range own {
		tags = append(tags, []string{"e", evt.ID})
	}
	tags = append(tags, []string{"k", strconv.Itoa(nostr.KindReaction)})
	return types.Event{
		Kind:      nostr.KindDelete,
		Tags:      tags,
		CreatedAt: s.now().Unix(),
	}
}
