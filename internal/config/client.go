package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"
)

// ClientConfig controls the NIP-89 client tag added to published events
type ClientConfig struct {
	Enabled   bool   `json:"enabled"`
	Name      string `json:"name"`
	Pubkey    string `json:"pubkey"`    // Hex pubkey of the handler announcement
	Dtag      string `json:"dtag"`      // d-tag value for the 31990 event
	RelayHint string `json:"relayHint"` // Optional relay hint
	TagKinds  []int  `json:"tagKinds"`  // Which kinds get the client tag
}

var (
	clientConfig     *ClientConfig
	clientConfigOnce sync.Once
)

// GetClientConfig returns the client configuration, loading it on first use
func GetClientConfig() *ClientConfig {
	clientConfigOnce.Do(func() {
		clientConfig = LoadClientConfig(getEnvOrDefault("CLIENT_CONFIG", "config/client.json"))
	})
	return clientConfig
}

// LoadClientConfig reads the client tag configuration, defaulting to disabled
func LoadClientConfig(configPath string) *ClientConfig {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read client config, using defaults", "path", configPath, "error", err)
		}
		return DefaultClientConfig()
	}

	var config ClientConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Error("invalid JSON in client config, using defaults", "path", configPath, "error", err)
		return DefaultClientConfig()
	}

	if config.Enabled && config.Pubkey == "" {
		slog.Warn("client identification enabled but pubkey not configured")
	}
	return &config
}

// DefaultClientConfig returns a disabled client tag configuration
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Enabled:  false,
		Name:     "nostr-feed",
		Dtag:     "nostr-feed",
		TagKinds: []int{1, 7, 1111},
	}
}

// ShouldTagKind returns true if the given kind should have a client tag added
func (c *ClientConfig) ShouldTagKind(kind int) bool {
	if c == nil || !c.Enabled || c.Pubkey == "" {
		return false
	}
	return slices.Contains(c.TagKinds, kind)
}

// ClientTag returns the client tag for the given kind, or nil if none applies.
// Format: ["client", "<name>", "31990:<pubkey>:<dtag>", "<relay-hint>"]
func (c *ClientConfig) ClientTag(kind int) []string {
	if !c.ShouldTagKind(kind) {
		return nil
	}

	tag := []string{"client", c.Name, fmt.Sprintf("31990:%s:%s", c.Pubkey, c.Dtag)}
	if c.RelayHint != "" {
		tag = append(tag, c.RelayHint)
	}
	return tag
}
