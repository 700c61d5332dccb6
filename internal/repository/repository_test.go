package repository

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"nostr-feed/internal/types"
)

func evt(id, pubkey string, kind int, createdAt int64, tags ...[]string) types.Event {
	return types.Event{ID: id, PubKey: pubkey, Kind: kind, CreatedAt: createdAt, Tags: tags}
}

func TestAddDeduplicatesByID(t *testing.T) {
	repo := New()

	first := evt("a", "pk", 1, 100)
	first.RelaysSeen = []string{"wss://one.example"}
	dup := evt("a", "pk", 1, 100)
	dup.RelaysSeen = []string{"wss://two.example"}

	require.Equal(t, 1, repo.Add(first))
	require.Equal(t, 0, repo.Add(dup))
	require.Equal(t, 1, repo.Len())

	got, ok := repo.Get("a")
	require.True(t, ok)
	require.Equal(t, []string{"wss://one.example", "wss://two.example"}, got.RelaysSeen)
}

func TestReplaceableKeepsNewest(t *testing.T) {
	repo := New()

	repo.Add(evt("new", "pk", 0, 200))
	require.Equal(t, 0, repo.Add(evt("old", "pk", 0, 100)))

	profiles := repo.Query(types.Filter{Kinds: []int{0}, Authors: []string{"pk"}})
	require.Len(t, profiles, 1)
	require.Equal(t, "new", profiles[0].ID)

	require.Equal(t, 1, repo.Add(evt("newer", "pk", 0, 300)))
	profiles = repo.Query(types.Filter{Kinds: []int{0}})
	require.Len(t, profiles, 1)
	require.Equal(t, "newer", profiles[0].ID)
}

func TestAddressableKeyedByDTag(t *testing.T) {
	repo := New()

	repo.Add(
		evt("a1", "pk", 30023, 100, []string{"d", "post-a"}),
		evt("b1", "pk", 30023, 100, []string{"d", "post-b"}),
		evt("a2", "pk", 30023, 200, []string{"d", "post-a"}),
	)

	ids := []string{}
	for _, e := range repo.Query(types.Filter{Kinds: []int{30023}}) {
		ids = append(ids, e.ID)
	}
	require.ElementsMatch(t, []string{"a2", "b1"}, ids)
}

func TestDeletionHidesAuthorsEvent(t *testing.T) {
	repo := New()

	repo.Add(evt("r1", "alice", 7, 100, []string{"e", "target"}))
	repo.Add(evt("r2", "bob", 7, 100, []string{"e", "target"}))

	// Bob cannot delete Alice's reaction
	repo.Add(evt("d1", "bob", 5, 110, []string{"e", "r1"}))
	require.False(t, repo.IsDeleted("r1"))

	repo.Add(evt("d2", "alice", 5, 120, []string{"e", "r1"}))
	require.True(t, repo.IsDeleted("r1"))

	reactions := repo.Query(types.Filter{Kinds: []int{7}}.TagFilter("e", "target"))
	require.Len(t, reactions, 1)
	require.Equal(t, "r2", reactions[0].ID)

	// A relay re-sending the deleted event does not resurrect it
	require.Equal(t, 0, repo.Add(evt("r1", "alice", 7, 100, []string{"e", "target"})))
}

func TestDeletionBeforeTarget(t *testing.T) {
	repo := New()

	repo.Add(evt("d1", "alice", 5, 120, []string{"e", "late"}))
	require.Equal(t, 0, repo.Add(evt("late", "alice", 1, 100)))
	require.True(t, repo.IsDeleted("late"))
}

func TestDeletedVersionHidesOlderVersions(t *testing.T) {
	tests := []struct {
		name string
		add  []types.Event
		want []string
	}{
		{
			name: "deleted newest",
			add: []types.Event{
				evt("new", "pk", 30023, 20, []string{"d", "post"}),
				evt("del", "pk", 5, 30, []string{"e", "new"}),
				evt("old", "pk", 30023, 10, []string{"d", "post"}),
			},
			want: nil,
		},
		{
			name: "deletion before target",
			add: []types.Event{
				evt("del", "pk", 5, 30, []string{"e", "new"}),
				evt("new", "pk", 30023, 20, []string{"d", "post"}),
				evt("old", "pk", 30023, 10, []string{"d", "post"}),
			},
			want: nil,
		},
		{
			name: "newer version after deletion",
			add: []types.Event{
				evt("new", "pk", 30023, 20, []string{"d", "post"}),
				evt("del", "pk", 5, 30, []string{"e", "new"}),
				evt("newest", "pk", 30023, 40, []string{"d", "post"}),
			},
			want: []string{"newest"},
		},
		{
			name: "other address unaffected",
			add: []types.Event{
				evt("new", "pk", 30023, 20, []string{"d", "post"}),
				evt("del", "pk", 5, 30, []string{"e", "new"}),
				evt("other", "pk", 30023, 10, []string{"d", "draft"}),
			},
			want: []string{"other"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := New()
			for _, e := range tt.add {
				repo.Add(e)
			}
			var ids []string
			for _, e := range repo.Query(types.Filter{Kinds: []int{30023}}) {
				ids = append(ids, e.ID)
			}
			require.Equal(t, tt.want, ids)
		})
	}
}

func TestQueryOrderAndLimit(t *testing.T) {
	repo := New()
	repo.Add(
		evt("a", "pk", 1, 100),
		evt("b", "pk", 1, 300),
		evt("c", "pk", 1, 200),
		evt("d", "pk", 7, 400),
	)

	notes := repo.Query(types.Filter{Kinds: []int{1}, Limit: 2})
	require.Equal(t, []string{"b", "c"}, []string{notes[0].ID, notes[1].ID})

	all := repo.Query(types.Filter{Kinds: []int{1}, Limit: 1}, types.Filter{Kinds: []int{7}}, types.Filter{IDs: []string{"b"}})
	require.Len(t, all, 2)
	require.Equal(t, "d", all[0].ID)
	require.Equal(t, "b", all[1].ID)
}

func TestSubscribe(t *testing.T) {
	repo := New()

	var got []string
	unsubscribe := repo.Subscribe([]types.Filter{{Kinds: []int{7}}}, func(e types.Event) {
		got = append(got, e.ID)
	})

	repo.Add(evt("n", "pk", 1, 100), evt("r", "pk", 7, 100))
	repo.Add(evt("r", "pk", 7, 100))
	unsubscribe()
	unsubscribe()
	repo.Add(evt("r2", "pk", 7, 100))

	require.Equal(t, []string{"r"}, got)
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	store, err := OpenSQLite(path)
	require.NoError(t, err)

	repo, err := Open(context.Background(), store)
	require.NoError(t, err)
	repo.Add(
		evt("p1", "pk", 0, 100, []string{"client", "x"}),
		evt("p2", "pk", 0, 200),
		evt("n1", "pk", 1, 150),
		evt("d1", "pk", 5, 160, []string{"e", "n1"}),
	)
	require.NoError(t, repo.Close())

	store, err = OpenSQLite(path)
	require.NoError(t, err)
	reopened, err := Open(context.Background(), store)
	require.NoError(t, err)
	defer reopened.Close()

	_, ok := reopened.Get("p1")
	require.False(t, ok, "superseded profile should not be persisted")
	_, ok = reopened.Get("n1")
	require.False(t, ok, "deleted note should not be persisted")

	p2, ok := reopened.Get("p2")
	require.True(t, ok)
	require.Equal(t, [][]string{}, p2.Tags)
	require.Equal(t, 2, reopened.Len())

	require.Equal(t, 0, reopened.Add(evt("n1", "pk", 1, 150)))
}
