package nostr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"nostr-feed/internal/types"
)

const testSecret = "edc90d06fee17615229c8526dc005d959e4af3bdc0b48c5776c951bcafedec85"

func TestSignEventRoundTrip(t *testing.T) {
	evt := &types.Event{
		CreatedAt: 1764776086,
		Kind:      KindReaction,
		Tags:      [][]string{{"e", "abc"}, {"p", "def"}},
		Content:   "🤙",
	}
	require.NoError(t, SignEvent(evt, testSecret))

	require.Equal(t, "bbde6a0e8847e1cdb2ba5ec021cc949eb3cef125b8304a748fe11c0407990eec", evt.PubKey)
	require.Equal(t, ComputeEventID(evt), evt.ID)
	require.True(t, ValidateEventSignature(evt))

	evt.Content = "tampered"
	require.NotEqual(t, ComputeEventID(evt), evt.ID)
}

func TestSignEventRejectsBadKey(t *testing.T) {
	err := SignEvent(&types.Event{}, "not-hex")
	require.ErrorIs(t, err, ErrInvalidSecretKey)
}

func TestParseEventFromInterface(t *testing.T) {
	evt := &types.Event{CreatedAt: 100, Kind: KindNote, Tags: [][]string{{"e", "root"}}, Content: "hi <b>"}
	require.NoError(t, SignEvent(evt, testSecret))

	raw := map[string]interface{}{
		"id":         evt.ID,
		"pubkey":     evt.PubKey,
		"created_at": float64(evt.CreatedAt),
		"kind":       float64(evt.Kind),
		"tags":       []interface{}{[]interface{}{"e", "root"}},
		"content":    evt.Content,
		"sig":        evt.Sig,
	}
	parsed, ok := ParseEventFromInterface(raw)
	require.True(t, ok)
	require.Equal(t, evt.ID, parsed.ID)
	require.Equal(t, [][]string{{"e", "root"}}, parsed.Tags)

	raw["content"] = "changed"
	_, ok = ParseEventFromInterface(raw)
	require.False(t, ok)
}

func TestParentID(t *testing.T) {
	tests := []struct {
		name string
		evt  types.Event
		want string
	}{
		{
			name: "single positional e tag",
			evt:  types.Event{Kind: KindNote, Tags: [][]string{{"e", "root"}}},
			want: "root",
		},
		{
			name: "positional uses last e tag",
			evt:  types.Event{Kind: KindNote, Tags: [][]string{{"e", "root"}, {"e", "parent"}}},
			want: "parent",
		},
		{
			name: "reply marker wins over position",
			evt:  types.Event{Kind: KindNote, Tags: [][]string{{"e", "parent", "", "reply"}, {"e", "root", "", "root"}}},
			want: "parent",
		},
		{
			name: "root marker only",
			evt:  types.Event{Kind: KindNote, Tags: [][]string{{"e", "root", "", "root"}, {"e", "other", "", "mention"}}},
			want: "root",
		},
		{
			name: "nip22 comment uses lowercase e",
			evt:  types.Event{Kind: KindComment, Tags: [][]string{{"E", "root"}, {"e", "parent"}}},
			want: "parent",
		},
		{
			name: "no e tags",
			evt:  types.Event{Kind: KindNote},
			want: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ParentID(&tt.evt))
		})
	}
}

func TestMatchFilter(t *testing.T) {
	since := int64(50)
	evt := &types.Event{ID: "id1", PubKey: "pk1", Kind: KindRoomMessage, CreatedAt: 100, Tags: [][]string{{"h", "room"}}, Content: "Hello World"}

	require.True(t, MatchFilter(types.Filter{Kinds: []int{KindRoomMessage}}, evt))
	require.True(t, MatchFilter(types.Filter{}.TagFilter("h", "room"), evt))
	require.False(t, MatchFilter(types.Filter{}.TagFilter("r", "room"), evt))
	require.True(t, MatchFilter(types.Filter{Since: &since, Search: "world"}, evt))
	require.False(t, MatchFilter(types.Filter{Authors: []string{"pk2"}}, evt))
	require.True(t, MatchAny([]types.Filter{{IDs: []string{"nope"}}, {IDs: []string{"id1"}}}, evt))
}

func TestNormalizeRelayURL(t *testing.T) {
	require.Equal(t, "wss://relay.damus.io", NormalizeRelayURL("  WSS://Relay.Damus.io/ "))
	require.Equal(t, "ws://localhost:7777", NormalizeRelayURL("ws://localhost:7777"))
	require.Equal(t, "", NormalizeRelayURL("https://relay.damus.io"))
	require.Equal(t, "", NormalizeRelayURL("wss://relay.onion"))
}
