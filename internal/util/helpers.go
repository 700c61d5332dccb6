package util

import (
	"strings"
)

// =============================================================================
// Tag Extraction Helpers
// =============================================================================

// GetTagValue returns the first value for the given tag name, or empty string if not found.
// Example: GetTagValue(tags, "e") returns the first event ID tag value.
func GetTagValue(tags [][]string, tagName string) string {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == tagName {
			return tag[1]
		}
	}
	return ""
}

// GetLastTagValue returns the last value for the given tag name, or empty string if not found.
// Useful for "e" tags in replies where the last e-tag is typically the direct parent.
func GetLastTagValue(tags [][]string, tagName string) string {
	var result string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == tagName {
			result = tag[1]
		}
	}
	return result
}

// GetTagValues returns all values for the given tag name.
// Example: GetTagValues(tags, "p") returns all mentioned pubkeys.
func GetTagValues(tags [][]string, tagName string) []string {
	var results []string
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == tagName {
			results = append(results, tag[1])
		}
	}
	return results
}

// GetMarkedTagValue returns the value of the first tag with the given name whose
// NIP-10 marker (4th element) equals marker.
func GetMarkedTagValue(tags [][]string, tagName, marker string) string {
	for _, tag := range tags {
		if len(tag) >= 4 && tag[0] == tagName && tag[3] == marker {
			return tag[1]
		}
	}
	return ""
}

// =============================================================================
// Slice Helpers
// =============================================================================

// LimitSlice returns at most n elements from the slice.
// If n <= 0 or n >= len(slice), returns the original slice.
func LimitSlice[T any](slice []T, n int) []T {
	if n <= 0 || n >= len(slice) {
		return slice
	}
	return slice[:n]
}

// =============================================================================
// String Helpers
// =============================================================================

// ParseStringList splits a comma separated list, dropping empty entries.
func ParseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			result = append(result, p)
		}
	}
	return result
}

// =============================================================================
// Host Validation Helpers
// =============================================================================

// IsInternalHost checks if a hostname is internal/private and should not be accessed.
func IsInternalHost(host string) bool {
	host = strings.ToLower(host)
	return strings.HasSuffix(host, ".local") ||
		strings.HasSuffix(host, ".internal") ||
		strings.HasSuffix(host, ".onion") ||
		strings.HasSuffix(host, ".localhost")
}

// IsLoopbackHost checks if a hostname resolves to localhost.
func IsLoopbackHost(host string) bool {
	host = strings.ToLower(host)
	return host == "localhost" ||
		host == "127.0.0.1" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		host == "[::1]"
}
