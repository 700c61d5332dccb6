package reactions

import (
	"strings"

	"github.com/kyokomi/emoji/v2"
	"github.com/rivo/uniseg"
)

// Heart is what "+" and empty reactions count as
const Heart = "❤️"

var repostMarkers = map[string]bool{
	"repost":  true,
	"🔁":       true,
	"retweet": true,
	"share":   true,
	"📤":       true,
}

// emojiRanges covers the code points that start an emoji grapheme
var emojiRanges = [][2]rune{
	{0x00A9, 0x00A9},
	{0x00AE, 0x00AE},
	{0x203C, 0x203C},
	{0x2049, 0x2049},
	{0x2122, 0x2122},
	{0x2139, 0x2139},
	{0x2194, 0x21FF},
	{0x231A, 0x23FF},
	{0x24C2, 0x24C2},
	{0x25AA, 0x25FE},
	{0x2600, 0x27BF},
	{0x2934, 0x2935},
	{0x2B00, 0x2BFF},
	{0x3030, 0x3030},
	{0x303D, 0x303D},
	{0x3297, 0x3297},
	{0x3299, 0x3299},
	{0x1F000, 0x1FAFF},
}

const keycap = '⃣'

func isEmojiRune(r rune) bool {
	for _, rg := range emojiRanges {
		if r >= rg[0] && r <= rg[1] {
			return true
		}
	}
	return false
}

// IsEmoji reports whether s is exactly one emoji grapheme
func IsEmoji(s string) bool {
	if s == "" || uniseg.GraphemeClusterCount(s) != 1 {
		return false
	}
	// Keycaps start with an ASCII digit, # or *
	if strings.ContainsRune(s, keycap) {
		return true
	}
	return isEmojiRune([]rune(s)[0])
}

// IsRepostMarker reports whether content is a repost rather than a reaction
func IsRepostMarker(content string) bool {
	return repostMarkers[strings.ToLower(strings.TrimSpace(content))]
}

// Normalize maps reaction content to the emoji it is counted as.
// It returns false for repost markers and anything that is not a single emoji.
func Normalize(content string) (string, bool) {
	content = strings.TrimSpace(content)
	if IsRepostMarker(content) {
		return "", false
	}
	if content == "" || content == "+" {
		return Heart, true
	}
	if strings.HasPrefix(content, ":") && strings.HasSuffix(content, ":") && len(content) > 2 {
		code, ok := emoji.CodeMap()[strings.ToLower(content)]
		if !ok {
			return "", false
		}
		content = strings.TrimSpace(code)
	}
	if !IsEmoji(content) {
		return "", false
	}
	return content, true
}
