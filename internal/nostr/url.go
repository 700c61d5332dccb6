package nostr

import (
	"net/url"
	"strings"

	"github.com/samber/lo"

	"nostr-feed/internal/util"
)

// NormalizeRelayURL validates and normalizes a relay URL from config, NIP-65 lists
// or request hints. Returns empty string if the URL is unusable.
func NormalizeRelayURL(relayURL string) string {
	relayURL = strings.TrimSpace(relayURL)
	if relayURL == "" || !strings.Contains(relayURL, "://") {
		return ""
	}

	// Garbage text pasted as a URL, or double protocols (wss://https://...)
	if strings.Contains(relayURL, "%20") || strings.Contains(relayURL, "+") || strings.Count(relayURL, "://") > 1 {
		return ""
	}

	parsed, err := url.Parse(relayURL)
	if err != nil {
		return ""
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return ""
	}

	host := strings.ToLower(parsed.Hostname())
	if len(host) < 3 || strings.Contains(host, " ") {
		return ""
	}
	if !strings.Contains(host, ".") && host != "localhost" {
		return ""
	}
	if util.IsInternalHost(host) && !util.IsLoopbackHost(host) {
		return ""
	}

	result := parsed.Scheme + "://" + host
	if parsed.Port() != "" {
		result += ":" + parsed.Port()
	}
	if parsed.Path != "" && parsed.Path != "/" {
		result += strings.TrimSuffix(parsed.Path, "/")
	}
	return result
}

// NormalizeRelayURLs normalizes a list, dropping invalid entries and duplicates
// while keeping first-seen order.
func NormalizeRelayURLs(relays []string) []string {
	normalized := lo.FilterMap(relays, func(r string, _ int) (string, bool) {
		n := NormalizeRelayURL(r)
		return n, n != ""
	})
	return lo.Uniq(normalized)
}
