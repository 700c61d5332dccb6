package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"sync"

	"nostr-feed/internal/nostr"
)

// RelaysConfig represents the JSON configuration for relay pools
type RelaysConfig struct {
	DefaultRelays []string `json:"defaultRelays"`
	SearchRelays  []string `json:"searchRelays"` // NIP-50 capable
	IndexRelays   []string `json:"indexRelays"`  // profile/relay-list indexers
	ProfileRelays []string `json:"profileRelays"`
	PublishRelays []string `json:"publishRelays"`
}

var (
	relaysConfig     *RelaysConfig
	relaysConfigMu   sync.RWMutex
	relaysConfigOnce sync.Once
)

// GetRelaysConfig returns the current relays configuration (thread-safe)
func GetRelaysConfig() *RelaysConfig {
	relaysConfigOnce.Do(func() {
		relaysConfigMu.Lock()
		defer relaysConfigMu.Unlock()
		if relaysConfig == nil {
			relaysConfig = LoadRelaysConfig(getEnvOrDefault("RELAYS_CONFIG", "config/relays.json"))
		}
	})

	relaysConfigMu.RLock()
	defer relaysConfigMu.RUnlock()
	return relaysConfig
}

// ReloadRelaysConfig reloads the configuration from file
func ReloadRelaysConfig() {
	newConfig := LoadRelaysConfig(getEnvOrDefault("RELAYS_CONFIG", "config/relays.json"))
	relaysConfigMu.Lock()
	defer relaysConfigMu.Unlock()
	relaysConfig = newConfig
	slog.Info("relays configuration reloaded")
}

// LoadRelaysConfig reads a relays JSON file, falling back to defaults for a
// missing file, bad JSON, or empty pools.
func LoadRelaysConfig(configPath string) *RelaysConfig {
	defaults := DefaultRelaysConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("config file not found, using defaults", "path", configPath)
		} else {
			slog.Warn("could not read config, using defaults", "path", configPath, "error", err)
		}
		return defaults
	}

	var config RelaysConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Error("invalid JSON in config, using defaults", "path", configPath, "error", err)
		return defaults
	}

	config.DefaultRelays = orDefault(config.DefaultRelays, defaults.DefaultRelays)
	config.SearchRelays = orDefault(config.SearchRelays, defaults.SearchRelays)
	config.IndexRelays = orDefault(config.IndexRelays, defaults.IndexRelays)
	config.ProfileRelays = orDefault(config.ProfileRelays, defaults.ProfileRelays)
	config.PublishRelays = orDefault(config.PublishRelays, defaults.PublishRelays)

	slog.Info("loaded relays configuration",
		"path", configPath,
		"default", len(config.DefaultRelays),
		"search", len(config.SearchRelays),
		"index", len(config.IndexRelays),
		"profile", len(config.ProfileRelays),
		"publish", len(config.PublishRelays))
	return &config
}

func orDefault(relays, fallback []string) []string {
	if normalized := nostr.NormalizeRelayURLs(relays); len(normalized) > 0 {
		return normalized
	}
	return fallback
}

// DefaultRelaysConfig returns the embedded default configuration
func DefaultRelaysConfig() *RelaysConfig {
	return &RelaysConfig{
		DefaultRelays: []string{
			"wss://relay.damus.io",
			"wss://relay.primal.net",
			"wss://nos.lol",
			"wss://nostr.mom",
			"wss://relay.nostr.band",
		},
		SearchRelays: []string{
			"wss://relay.nostr.band",
			"wss://search.nos.today",
			"wss://nostr.wine",
		},
		IndexRelays: []string{
			"wss://purplepag.es",
			"wss://relay.nostr.band",
			"wss://indexer.coracle.social",
			"wss://relay.damus.io",
			"wss://relay.primal.net",
			"wss://nos.lol",
		},
		ProfileRelays: []string{
			"wss://purplepag.es",
			"wss://relay.nostr.band",
		},
		PublishRelays: []string{
			"wss://relay.damus.io",
			"wss://relay.primal.net",
			"wss://nos.lol",
		},
	}
}

// AllRelays returns every configured relay once, in pool order
func (c *RelaysConfig) AllRelays() []string {
	var all []string
	all = append(all, c.ProfileRelays...)
	all = append(all, c.IndexRelays...)
	all = append(all, c.DefaultRelays...)
	all = append(all, c.SearchRelays...)
	all = append(all, c.PublishRelays...)
	return nostr.NormalizeRelayURLs(all)
}
