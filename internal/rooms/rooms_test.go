package rooms

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"nostr-feed/internal/relay"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
)

type fakeLoader struct {
	repo   *repository.Repository
	events []types.Event
	err    error

	mu    sync.Mutex
	calls int
}

func (f *fakeLoader) Load(context.Context, relay.Request) error {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.repo.Add(f.events...)
	return nil
}

func create(id, pubkey string, createdAt int64, content string) types.Event {
	return types.Event{ID: id, PubKey: pubkey, Kind: 40, CreatedAt: createdAt, Content: content}
}

func update(id, pubkey string, createdAt int64, roomID, content string) types.Event {
	return types.Event{ID: id, PubKey: pubkey, Kind: 41, CreatedAt: createdAt, Content: content,
		Tags: [][]string{{"e", roomID}}}
}

func message(id string, createdAt int64, tags ...[]string) types.Event {
	return types.Event{ID: id, PubKey: "pk", Kind: 42, CreatedAt: createdAt, Tags: tags}
}

func newService(events ...types.Event) (*Service, *repository.Repository) {
	repo := repository.New()
	loader := &fakeLoader{repo: repo, events: events}
	return NewService(repo, loader, func() []string { return []string{"wss://relay.example.com"} }), repo
}

func TestRoomsDedupByName(t *testing.T) {
	svc, _ := newService(
		create("b", "pk1", 20, `{"name":"Go Nostr"}`),
		create("a", "pk2", 10, `{"name":"go nostr "}`),
		create("c", "pk3", 30, `{"name":"Bitcoin"}`),
	)

	rooms := svc.Rooms(context.Background(), 0)
	require.Len(t, rooms, 2)
	require.Equal(t, "c", rooms[0].ID)
	require.Equal(t, "a", rooms[1].ID)
	require.Equal(t, "go nostr ", rooms[1].Name)
}

func TestRoomsSkipMalformed(t *testing.T) {
	svc, _ := newService(
		create("a", "pk1", 10, `{"name":"ok"}`),
		create("b", "pk1", 20, `not json`),
	)

	rooms := svc.Rooms(context.Background(), 0)
	require.Len(t, rooms, 1)
	require.Equal(t, "a", rooms[0].ID)
}

func TestRoomsApplyCreatorUpdates(t *testing.T) {
	svc, _ := newService(
		create("a", "creator", 10, `{"name":"old","about":"first"}`),
		update("u1", "creator", 50, "a", `{"name":"new"}`),
		update("u2", "someone-else", 60, "a", `{"name":"hijacked"}`),
		create("b", "pk2", 40, `{"name":"other"}`),
	)

	rooms := svc.Rooms(context.Background(), 0)
	require.Len(t, rooms, 2)
	require.Equal(t, "a", rooms[0].ID)
	require.Equal(t, "new", rooms[0].Name)
	require.Equal(t, "first", rooms[0].Description)
	require.Equal(t, int64(50), rooms[0].LastActivity)
}

func TestMessageCountMergesTagStyles(t *testing.T) {
	svc, _ := newService(
		message("m1", 1, []string{"h", "room"}),
		message("m2", 2, []string{"r", "room"}),
		message("m3", 3, []string{"h", "room"}, []string{"r", "room"}),
		message("m4", 4, []string{"h", "elsewhere"}),
	)

	require.Equal(t, 3, svc.MessageCount(context.Background(), "room"))
}

func TestMessageCountFetchFailure(t *testing.T) {
	repo := repository.New()
	repo.Add(message("m1", 1, []string{"h", "room"}))
	svc := NewService(repo, &fakeLoader{err: errors.New("offline")}, func() []string { return nil })

	require.Equal(t, 1, svc.MessageCount(context.Background(), "room"))
}

func TestPopulateMessageCounts(t *testing.T) {
	svc, _ := newService(
		create("a", "pk1", 10, `{"name":"one"}`),
		create("b", "pk2", 20, `{"name":"two"}`),
		message("m1", 100, []string{"h", "a"}),
		message("m2", 90, []string{"r", "a"}),
	)
	ctx := context.Background()
	rooms := svc.Rooms(ctx, 0)

	var mu sync.Mutex
	updated := map[string]int{}
	err := svc.PopulateMessageCounts(ctx, rooms, func(r types.Room) {
		mu.Lock()
		updated[r.ID] = r.MessageCount
		mu.Unlock()
	})
	require.NoError(t, err)
	require.Equal(t, map[string]int{"a": 2, "b": 0}, updated)

	for _, r := range rooms {
		if r.ID == "a" {
			require.Equal(t, int64(100), r.LastActivity)
		}
	}
}

func TestSearch(t *testing.T) {
	svc, _ := newService(
		create("a", "pk1", 10, `{"name":"Golang","about":"gophers"}`),
		create("b", "pk2", 20, `{"name":"Bitcoin","about":"sound money"}`),
		create("c", "pk3", 30, `{"name":"Cooking","about":"recipes"}`),
	)
	ctx := context.Background()

	results := svc.Search(ctx, "golang", 10)
	require.NotEmpty(t, results)
	require.Equal(t, "a", results[0].ID)

	results = svc.Search(ctx, "MONEY", 10)
	require.NotEmpty(t, results)
	require.Equal(t, "b", results[0].ID)

	require.Len(t, svc.Search(ctx, "", 2), 2)
	require.Empty(t, svc.Search(ctx, "zzzzqqq", 10))
}
