package types

// CachedProfile wraps profile data for serialization
type CachedProfile struct {
	Profile   *ProfileInfo `json:"profile,omitempty"`
	Event     *Event       `json:"event,omitempty"`
	FetchedAt int64        `json:"fetched_at"`
	NotFound  bool         `json:"not_found"`
}

// CachedRelayInfo wraps a NIP-11 document for serialization
type CachedRelayInfo struct {
	Info      *RelayInfo `json:"info,omitempty"`
	FetchedAt int64      `json:"fetched_at"`
	Failed    bool       `json:"failed"`
}
