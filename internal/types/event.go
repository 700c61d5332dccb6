// Package types provides shared type definitions used across internal packages.
package types

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID         string     `json:"id"`
	PubKey     string     `json:"pubkey"`
	CreatedAt  int64      `json:"created_at"`
	Kind       int        `json:"kind"`
	Tags       [][]string `json:"tags"`
	Content    string     `json:"content"`
	Sig        string     `json:"sig"`
	RelaysSeen []string   `json:"-"`
}

// Filter represents a Nostr subscription filter (NIP-01)
type Filter struct {
	IDs     []string
	Authors []string
	Kinds   []int
	Tags    map[string][]string // single-letter tag filters, e.g. "e" -> ["<id>"] for #e
	Limit   int
	Since   *int64
	Until   *int64
	Search  string // NIP-50 search query
}

// TagFilter returns a copy of f with the given #tag filter set.
func (f Filter) TagFilter(name string, values ...string) Filter {
	tags := make(map[string][]string, len(f.Tags)+1)
	for k, v := range f.Tags {
		tags[k] = v
	}
	tags[name] = values
	f.Tags = tags
	return f
}

// ToMap builds the NIP-01 REQ filter object
func (f Filter) ToMap() map[string]interface{} {
	m := make(map[string]interface{})
	if len(f.IDs) > 0 {
		m["ids"] = f.IDs
	}
	if len(f.Authors) > 0 {
		m["authors"] = f.Authors
	}
	if len(f.Kinds) > 0 {
		m["kinds"] = f.Kinds
	}
	for name, values := range f.Tags {
		if len(values) > 0 {
			m["#"+name] = values
		}
	}
	if f.Limit > 0 {
		m["limit"] = f.Limit
	}
	if f.Since != nil {
		m["since"] = *f.Since
	}
	if f.Until != nil {
		m["until"] = *f.Until
	}
	if f.Search != "" {
		m["search"] = f.Search
	}
	return m
}

// NostrMessage represents a raw Nostr protocol message
type NostrMessage []interface{}
