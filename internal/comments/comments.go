// Package comments reconstructs comment threads around a root event from the
// repository's tag-linked events.
package comments

import (
	"context"
	"log/slog"
	"sort"

	"nostr-feed/internal/nostr"
	"nostr-feed/internal/relay"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
)

const (
	DefaultLimit   = 3
	PreviewReplies = 3
)

// Loader fetches events from relays into the repository
type Loader interface {
	Load(ctx context.Context, req relay.Request) error
}

// Aggregator derives comment views from the repository
type Aggregator struct {
	repo   *repository.Repository
	loader Loader
	relays func() []string
}

// NewAggregator returns an aggregator reading from repo and fetching through
// loader from the relays returned by relays
func NewAggregator(repo *repository.Repository, loader Loader, relays func() []string) *Aggregator {
	return &Aggregator{repo: repo, loader: loader, relays: relays}
}

func referencingFilters(eventID string) []types.Filter {
	base := types.Filter{Kinds: nostr.CommentKinds}
	return []types.Filter{
		base.TagFilter("e", eventID),
		base.TagFilter("E", eventID),
	}
}

// local returns the repository comments referencing eventID, excluding eventID itself
func (a *Aggregator) local(eventID string) []types.Event {
	events := a.repo.Query(referencingFilters(eventID)...)
	out := events[:0]
	for _, evt := range events {
		if evt.ID != eventID {
			out = append(out, evt)
		}
	}
	return out
}

func (a *Aggregator) fetch(ctx context.Context, eventID string) {
	err := a.loader.Load(ctx, relay.Request{
		Filters:   referencingFilters(eventID),
		Relays:    a.relays(),
		AutoClose: true,
	})
	if err != nil {
		slog.Warn("comment fetch failed, using local events", "event_id", nostr.ShortID(eventID), "error", err)
	}
}

// LocalCommentCount counts repository comments referencing eventID without any I/O
func (a *Aggregator) LocalCommentCount(eventID string) int {
	return len(a.local(eventID))
}

// TopLevelComments fetches the comments on eventID and returns the top
// threads ranked by direct reply count, then recency
func (a *Aggregator) TopLevelComments(ctx context.Context, eventID string, limit int) types.CommentData {
	if limit <= 0 {
		limit = DefaultLimit
	}
	a.fetch(ctx, eventID)
	return BuildThreads(eventID, a.local(eventID), limit)
}

// AllComments returns every comment on eventID, oldest first. Relays are
// only queried when nothing is held locally.
func (a *Aggregator) AllComments(ctx context.Context, eventID string) []types.Event {
	comments := a.local(eventID)
	if len(comments) == 0 {
		a.fetch(ctx, eventID)
		comments = a.local(eventID)
	}
	sortOldestFirst(comments)
	return comments
}

// BuildThreads partitions comments into threads under rootID.
// A comment is top-level when its parent is rootID.
func BuildThreads(rootID string, comments []types.Event, limit int) types.CommentData {
	children := make(map[string][]types.Event)
	var topLevel []types.Event
	for _, c := range comments {
		parent := nostr.ParentID(&c)
		if parent == rootID {
			topLevel = append(topLevel, c)
			continue
		}
		if parent != "" {
			children[parent] = append(children[parent], c)
		}
	}

	threads := make([]types.CommentThread, 0, len(topLevel))
	for _, c := range topLevel {
		direct := append([]types.Event(nil), children[c.ID]...)
		sortOldestFirst(direct)
		preview := direct
		if len(preview) > PreviewReplies {
			preview = preview[:PreviewReplies]
		}
		threads = append(threads, types.CommentThread{
			Comment:      c,
			Replies:      preview,
			ReplyCount:   len(direct),
			TotalReplies: countDescendants(c.ID, children, map[string]bool{c.ID: true}),
		})
	}

	sort.Slice(threads, func(i, j int) bool {
		a, b := threads[i], threads[j]
		if a.ReplyCount != b.ReplyCount {
			return a.ReplyCount > b.ReplyCount
		}
		if a.Comment.CreatedAt != b.Comment.CreatedAt {
			return a.Comment.CreatedAt > b.Comment.CreatedAt
		}
		return a.Comment.ID < b.Comment.ID
	})
	if len(threads) > limit {
		threads = threads[:limit]
	}

	return types.CommentData{
		TopLevelComments:  threads,
		TotalCommentCount: len(comments),
	}
}

// countDescendants counts every reply below id; visited guards against tag cycles
func countDescendants(id string, children map[string][]types.Event, visited map[string]bool) int {
	total := 0
	for _, child := range children[id] {
		if visited[child.ID] {
			continue
		}
		visited[child.ID] = true
		total += 1 + countDescendants(child.ID, children, visited)
	}
	return total
}

func sortOldestFirst(events []types.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].CreatedAt != events[j].CreatedAt {
			return events[i].CreatedAt < events[j].CreatedAt
		}
		return events[i].ID < events[j].ID
	})
}
