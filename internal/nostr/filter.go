package nostr

import (
	"strings"

	"nostr-feed/internal/types"
)

// MatchFilter reports whether evt satisfies every constraint of the filter.
// Limit is not considered here; callers apply it to the result set.
func MatchFilter(f types.Filter, evt *types.Event) bool {
	if len(f.IDs) > 0 && !containsString(f.IDs, evt.ID) {
		return false
	}
	if len(f.Authors) > 0 && !containsString(f.Authors, evt.PubKey) {
		return false
	}
	if len(f.Kinds) > 0 && !containsInt(f.Kinds, evt.Kind) {
		return false
	}
	if f.Since != nil && evt.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && evt.CreatedAt > *f.Until {
		return false
	}
	for name, values := range f.Tags {
		if len(values) == 0 {
			continue
		}
		if !hasAnyTagValue(evt.Tags, name, values) {
			return false
		}
	}
	if f.Search != "" && !strings.Contains(strings.ToLower(evt.Content), strings.ToLower(f.Search)) {
		return false
	}
	return true
}

// MatchAny reports whether evt satisfies at least one of the filters
func MatchAny(filters []types.Filter, evt *types.Event) bool {
	for _, f := range filters {
		if MatchFilter(f, evt) {
			return true
		}
	}
	return false
}

func hasAnyTagValue(tags [][]string, name string, values []string) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name && containsString(values, tag[1]) {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func containsInt(list []int, n int) bool {
	for _, v := range list {
		if v == n {
			return true
		}
	}
	return false
}
