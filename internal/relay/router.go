package relay

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"nostr-feed/internal/config"
	"nostr-feed/internal/nostr"
	"nostr-feed/internal/repository"
	"nostr-feed/internal/types"
)

// Selection weights for RelayURLs
const (
	PreferredWeight = 0.8
	FallbackWeight  = 0.2
)

// Scenario is a weighted, optionally limited set of relay URLs
type Scenario struct {
	urls   []string
	weight float64
	limit  int
}

// NewScenario returns a scenario over urls with weight 1 and no limit
func NewScenario(urls []string) Scenario {
	return Scenario{urls: nostr.NormalizeRelayURLs(urls), weight: 1}
}

func (s Scenario) Weight(w float64) Scenario {
	s.weight = w
	return s
}

func (s Scenario) Limit(n int) Scenario {
	s.limit = n
	return s
}

func (s Scenario) URLs() []string {
	urls := append([]string(nil), s.urls...)
	if s.limit > 0 && len(urls) > s.limit {
		urls = urls[:s.limit]
	}
	return urls
}

// Merge combines scenarios: each URL scores the sum of the weights of the
// scenarios containing it, and URLs are ordered by score, ties keeping the
// order in which they first appear.
func Merge(scenarios ...Scenario) Scenario {
	type scored struct {
		url   string
		score float64
		pos   int
	}
	index := make(map[string]*scored)
	var order []*scored

	for _, s := range scenarios {
		for _, u := range s.URLs() {
			if e, ok := index[u]; ok {
				e.score += s.weight
				continue
			}
			e := &scored{url: u, score: s.weight, pos: len(order)}
			index[u] = e
			order = append(order, e)
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		if order[i].score != order[j].score {
			return order[i].score > order[j].score
		}
		return order[i].pos < order[j].pos
	})

	return Scenario{
		urls:   lo.Map(order, func(e *scored, _ int) string { return e.url }),
		weight: 1,
	}
}

// SelectOptions tunes RelayURLs
type SelectOptions struct {
	PreferSearch bool
	Limit        int
}

// Router picks relay URLs for each kind of request from the configured pools
// and the session user's NIP-65 relay list
type Router struct {
	mu            sync.RWMutex
	cfg           *config.RelaysConfig
	searchCapable map[string]bool

	repo        *repository.Repository
	userPubKey  func() string
	selectLimit int
}

// NewRouter builds a router. userPubKey may return "" when logged out.
func NewRouter(cfg *config.RelaysConfig, repo *repository.Repository, userPubKey func() string, selectLimit int) *Router {
	if selectLimit <= 0 {
		selectLimit = 8
	}
	if userPubKey == nil {
		userPubKey = func() string { return "" }
	}
	return &Router{
		cfg:           cfg,
		searchCapable: make(map[string]bool),
		repo:          repo,
		userPubKey:    userPubKey,
		selectLimit:   selectLimit,
	}
}

// SetConfig swaps the relay pools, e.g. after a config reload
func (r *Router) SetConfig(cfg *config.RelaysConfig) {
	r.mu.Lock()
	r.cfg = cfg
	r.mu.Unlock()
}

// SetSearchCapable records whether relayURL advertises NIP-50 search
func (r *Router) SetSearchCapable(relayURL string, ok bool) {
	r.mu.Lock()
	r.searchCapable[relayURL] = ok
	r.mu.Unlock()
}

// Search returns the configured search relays plus any configured relay
// whose NIP-11 document advertises NIP-50
func (r *Router) Search() Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()

	urls := append([]string(nil), r.cfg.SearchRelays...)
	for _, u := range r.cfg.AllRelays() {
		if r.searchCapable[u] {
			urls = append(urls, u)
		}
	}
	return NewScenario(urls)
}

func (r *Router) Index() Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return NewScenario(r.cfg.IndexRelays)
}

func (r *Router) Default() Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return NewScenario(r.cfg.DefaultRelays)
}

func (r *Router) Profile() Scenario {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return NewScenario(append(append([]string(nil), r.cfg.ProfileRelays...), r.cfg.IndexRelays...))
}

// Publish returns the configured publish relays followed by the user's write relays
func (r *Router) Publish() Scenario {
	r.mu.RLock()
	publish := NewScenario(r.cfg.PublishRelays)
	r.mu.RUnlock()
	return Merge(publish, r.FromUser().Weight(0.5))
}

// FromUser returns the relays the session user writes to (NIP-65 outbox)
func (r *Router) FromUser() Scenario {
	return NewScenario(r.RelayList(r.userPubKey()).Write)
}

// ForUser returns the relays the session user reads from (NIP-65 inbox)
func (r *Router) ForUser() Scenario {
	return NewScenario(r.RelayList(r.userPubKey()).Read)
}

// RelayList parses the newest kind 10002 event of pubkey held in the repository
func (r *Router) RelayList(pubkey string) types.RelayList {
	var list types.RelayList
	if pubkey == "" || r.repo == nil {
		return list
	}
	events := r.repo.Query(types.Filter{Kinds: []int{nostr.KindRelayList}, Authors: []string{pubkey}, Limit: 1})
	if len(events) == 0 {
		return list
	}
	for _, tag := range events[0].Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}
		marker := ""
		if len(tag) >= 3 {
			marker = tag[2]
		}
		switch marker {
		case "read":
			list.Read = append(list.Read, tag[1])
		case "write":
			list.Write = append(list.Write, tag[1])
		default:
			list.Read = append(list.Read, tag[1])
			list.Write = append(list.Write, tag[1])
		}
	}
	return list
}

// RelayURLs merges the search and index pools, weighting the preferred one
func (r *Router) RelayURLs(opts SelectOptions) []string {
	limit := opts.Limit
	if limit <= 0 {
		limit = r.selectLimit
	}

	search, index := r.Search(), r.Index()
	var merged Scenario
	if opts.PreferSearch {
		merged = Merge(search.Weight(PreferredWeight), index.Weight(FallbackWeight))
	} else {
		merged = Merge(index.Weight(PreferredWeight), search.Weight(FallbackWeight))
	}
	return merged.Limit(limit).URLs()
}

// Read returns relays for general reads: defaults, the user's inbox, then the index pool
func (r *Router) Read(limit int) []string {
	if limit <= 0 {
		limit = r.selectLimit
	}
	return Merge(r.Default(), r.ForUser().Weight(0.5), r.Index().Weight(0.25)).Limit(limit).URLs()
}

// All returns every configured relay
func (r *Router) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.AllRelays()
}

// ProfileRelays orders every known relay for profile lookups: profile and
// index pools first, then the rest
func (r *Router) ProfileRelays() []string {
	return Merge(r.Profile(), NewScenario(r.All()).Weight(0.1)).URLs()
}
