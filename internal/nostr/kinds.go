package nostr

// Event kinds consumed by the client core
const (
	KindProfile           = 0
	KindNote              = 1
	KindFollows           = 3
	KindDirectMessage     = 4
	KindDelete            = 5
	KindReaction          = 7
	KindDirectMessageFile = 15
	KindRoomCreate        = 40
	KindRoomMetadata      = 41
	KindRoomMessage       = 42
	KindComment           = 1111
	KindRelayList         = 10002
	KindLongForm          = 30023
)

// CommentKinds are the kinds treated as comments on another event
var CommentKinds = []int{KindNote, KindComment}

// IsReplaceable reports whether only the newest event per (pubkey, kind) is kept
func IsReplaceable(kind int) bool {
	return kind == KindProfile || kind == KindFollows || (kind >= 10000 && kind < 20000)
}

// IsAddressable reports whether only the newest event per (pubkey, kind, d-tag) is kept
func IsAddressable(kind int) bool {
	return kind >= 30000 && kind < 40000
}
