package comments

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"nostr-feed/internal/relay"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
)

// fakeLoader adds its events to the repository on every Load
type fakeLoader struct {
	repo   *repository.Repository
	events []types.Event
	err    error
	calls  int
}

func (f *fakeLoader) Load(_ context.Context, req relay.Request) error {
	f.calls++
	if f.err != nil {
		return f.err
	}
	f.repo.Add(f.events...)
	return nil
}

func note(id string, createdAt int64, tags ...[]string) types.Event {
	return types.Event{ID: id, PubKey: "pk", Kind: 1, CreatedAt: createdAt, Tags: tags}
}

func comment(id string, createdAt int64, root, parent string) types.Event {
	return types.Event{ID: id, PubKey: "pk", Kind: 1111, CreatedAt: createdAt,
		Tags: [][]string{{"E", root}, {"e", parent}}}
}

func reply(id string, createdAt int64, root, parent string) types.Event {
	return note(id, createdAt, []string{"e", root, "", "root"}, []string{"e", parent, "", "reply"})
}

func newAggregator(repo *repository.Repository, loader Loader) *Aggregator {
	return NewAggregator(repo, loader, func() []string { return []string{"wss://relay.example.com"} })
}

func TestTopLevelCommentsScenario(t *testing.T) {
	repo := repository.New()
	repo.Add(
		note("r1", 1),
		note("c10", 10, []string{"e", "r1"}),
		note("c20", 20, []string{"e", "r1"}),
		note("c30", 30, []string{"e", "r1"}),
	)
	agg := newAggregator(repo, &fakeLoader{repo: repo})

	data := agg.TopLevelComments(context.Background(), "r1", 3)
	require.Equal(t, 3, data.TotalCommentCount)
	require.Len(t, data.TopLevelComments, 3)
	for i, want := range []string{"c30", "c20", "c10"} {
		require.Equal(t, want, data.TopLevelComments[i].Comment.ID)
		require.Zero(t, data.TopLevelComments[i].ReplyCount)
	}
}

func TestTopLevelCommentsRanking(t *testing.T) {
	events := []types.Event{
		note("c1", 100, []string{"e", "root"}),
		note("c2", 200, []string{"e", "root"}),
		reply("c1a", 110, "root", "c1"),
		reply("c1b", 120, "root", "c1"),
		reply("c2a", 210, "root", "c2"),
		reply("c2b", 220, "root", "c2"),
		note("c3", 300, []string{"e", "root"}),
	}

	data := BuildThreads("root", events, 3)
	ids := []string{}
	for _, th := range data.TopLevelComments {
		ids = append(ids, th.Comment.ID)
	}
	require.Equal(t, []string{"c2", "c1", "c3"}, ids)
	require.Equal(t, 7, data.TotalCommentCount)

	data = BuildThreads("root", events, 1)
	require.Len(t, data.TopLevelComments, 1)
	require.Equal(t, "c2", data.TopLevelComments[0].Comment.ID)
}

func TestReplyCountsNested(t *testing.T) {
	events := []types.Event{
		comment("c", 10, "root", "root"),
		comment("r1", 20, "root", "c"),
		comment("r2", 30, "root", "c"),
		comment("r1a", 40, "root", "r1"),
	}

	data := BuildThreads("root", events, 3)
	require.Len(t, data.TopLevelComments, 1)
	thread := data.TopLevelComments[0]
	require.Equal(t, 2, thread.ReplyCount)
	require.Equal(t, 3, thread.TotalReplies)
	require.Equal(t, "r1", thread.Replies[0].ID)
	require.Equal(t, "r2", thread.Replies[1].ID)
}

func TestReplyPreviewCapped(t *testing.T) {
	events := []types.Event{note("c", 10, []string{"e", "root"})}
	for i, id := range []string{"a", "b", "c2", "d", "e"} {
		events = append(events, reply(id, int64(20+i), "root", "c"))
	}

	thread := BuildThreads("root", events, 1).TopLevelComments[0]
	require.Len(t, thread.Replies, PreviewReplies)
	require.Equal(t, 5, thread.ReplyCount)
	require.Equal(t, "a", thread.Replies[0].ID)
}

func TestReplyCycleTerminates(t *testing.T) {
	events := []types.Event{
		note("c", 10, []string{"e", "root"}),
		reply("x", 20, "root", "y"),
		reply("y", 30, "root", "x"),
	}
	data := BuildThreads("root", events, 3)
	require.Len(t, data.TopLevelComments, 1)
	require.Zero(t, data.TopLevelComments[0].TotalReplies)
}

func TestLocalCommentCount(t *testing.T) {
	repo := repository.New()
	repo.Add(
		note("r1", 1),
		note("a", 10, []string{"e", "r1"}),
		comment("b", 20, "r1", "r1"),
		types.Event{ID: "like", PubKey: "pk", Kind: 7, CreatedAt: 30, Tags: [][]string{{"e", "r1"}}},
		note("self", 40, []string{"e", "self"}),
	)
	agg := newAggregator(repo, &fakeLoader{repo: repo})

	first := agg.LocalCommentCount("r1")
	require.Equal(t, 2, first)
	require.Equal(t, first, agg.LocalCommentCount("r1"))
	require.Zero(t, agg.LocalCommentCount("self"))
}

func TestAllCommentsLazyFetch(t *testing.T) {
	repo := repository.New()
	loader := &fakeLoader{repo: repo, events: []types.Event{
		note("b", 20, []string{"e", "r1"}),
		note("a", 10, []string{"e", "r1"}),
	}}
	agg := newAggregator(repo, loader)

	all := agg.AllComments(context.Background(), "r1")
	require.Equal(t, 1, loader.calls)
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "b", all[1].ID)

	agg.AllComments(context.Background(), "r1")
	require.Equal(t, 1, loader.calls, "local hits must not trigger a fetch")
}

func TestFetchFailureFallsBackToLocal(t *testing.T) {
	repo := repository.New()
	repo.Add(note("a", 10, []string{"e", "r1"}))
	agg := newAggregator(repo, &fakeLoader{repo: repo, err: errors.New("relay down")})

	data := agg.TopLevelComments(context.Background(), "r1", 0)
	require.Equal(t, 1, data.TotalCommentCount)
	require.Equal(t, "a", data.TopLevelComments[0].Comment.ID)
}
