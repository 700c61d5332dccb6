package nostr

import (
	"nostr-feed/internal/types"
	"nostr-feed/internal/util"
)

// ParentID returns the id of the event that evt directly replies to, or "".
//
// NIP-22 comments (kind 1111) name the parent in the lowercase "e" tag and the
// root in "E". For NIP-10 notes the parent is the "reply"-marked e tag, then the
// "root"-marked one, then the last positional e tag.
func ParentID(evt *types.Event) string {
	if evt.Kind == KindComment {
		if parent := util.GetTagValue(evt.Tags, "e"); parent != "" {
			return parent
		}
		return util.GetTagValue(evt.Tags, "E")
	}
	if reply := util.GetMarkedTagValue(evt.Tags, "e", "reply"); reply != "" {
		return reply
	}
	if root := util.GetMarkedTagValue(evt.Tags, "e", "root"); root != "" {
		return root
	}
	var parent string
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "e" && !(len(tag) >= 4 && tag[3] == "mention") {
			parent = tag[1]
		}
	}
	return parent
}
