package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"time"
)

// Fetch strategies for the relay fetch adapter
const (
	StrategyLoad    = "load"    // batch: wait for relays to settle, then store
	StrategyRequest = "request" // stream: store and report each event as it arrives
)

// LadderStep is one rung of the profile escalation ladder.
// Relays <= 0 means every known relay.
type LadderStep struct {
	Relays  int           `json:"relays"`
	Timeout time.Duration `json:"-"`
	// TimeoutMs is the JSON form of Timeout
	TimeoutMs int64 `json:"timeoutMs"`
}

// LoaderConfig tunes batching, fetching and publishing
type LoaderConfig struct {
	BatchWindowMs    int64        `json:"batchWindowMs"`
	MaxBatch         int          `json:"maxBatch"`
	Ladder           []LadderStep `json:"ladder"`
	FetchThreshold   float64      `json:"fetchThreshold"`
	FetchStrategy    string       `json:"fetchStrategy"`
	FetchMaxWaitMs   int64        `json:"fetchMaxWaitMs"`
	PublishTimeoutMs int64        `json:"publishTimeoutMs"`
	SelectLimit      int          `json:"selectLimit"`
}

// BatchWindow is the profile request buffering window
func (c *LoaderConfig) BatchWindow() time.Duration {
	return time.Duration(c.BatchWindowMs) * time.Millisecond
}

// FetchMaxWait bounds a relay fetch when the caller set no deadline
func (c *LoaderConfig) FetchMaxWait() time.Duration {
	return time.Duration(c.FetchMaxWaitMs) * time.Millisecond
}

// PublishTimeout bounds waiting for relay OK messages
func (c *LoaderConfig) PublishTimeout() time.Duration {
	return time.Duration(c.PublishTimeoutMs) * time.Millisecond
}

// DefaultLoaderConfig returns the defaults used by the client core
func DefaultLoaderConfig() *LoaderConfig {
	cfg := &LoaderConfig{
		BatchWindowMs: 50,
		MaxBatch:      20,
		Ladder: []LadderStep{
			{Relays: 4, TimeoutMs: 3000},
			{Relays: 6, TimeoutMs: 5000},
			{Relays: 8, TimeoutMs: 7000},
			{Relays: 0, TimeoutMs: 10000},
		},
		FetchThreshold:   0.1,
		FetchStrategy:    StrategyLoad,
		FetchMaxWaitMs:   15000,
		PublishTimeoutMs: 5000,
		SelectLimit:      8,
	}
	cfg.resolveDurations()
	return cfg
}

// LoadLoaderConfig reads loader tuning from a JSON file, keeping defaults for
// anything missing or invalid.
func LoadLoaderConfig(configPath string) *LoaderConfig {
	cfg := DefaultLoaderConfig()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("could not read loader config, using defaults", "path", configPath, "error", err)
		}
		return cfg
	}

	var fileCfg LoaderConfig
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		slog.Error("invalid JSON in loader config, using defaults", "path", configPath, "error", err)
		return cfg
	}

	if fileCfg.BatchWindowMs > 0 {
		cfg.BatchWindowMs = fileCfg.BatchWindowMs
	}
	if fileCfg.MaxBatch > 0 {
		cfg.MaxBatch = fileCfg.MaxBatch
	}
	if len(fileCfg.Ladder) > 0 {
		cfg.Ladder = fileCfg.Ladder
	}
	if fileCfg.FetchThreshold > 0 && fileCfg.FetchThreshold <= 1 {
		cfg.FetchThreshold = fileCfg.FetchThreshold
	}
	switch fileCfg.FetchStrategy {
	case StrategyLoad, StrategyRequest:
		cfg.FetchStrategy = fileCfg.FetchStrategy
	case "":
	default:
		slog.Warn("unknown fetch strategy, using default", "strategy", fileCfg.FetchStrategy)
	}
	if fileCfg.FetchMaxWaitMs > 0 {
		cfg.FetchMaxWaitMs = fileCfg.FetchMaxWaitMs
	}
	if fileCfg.PublishTimeoutMs > 0 {
		cfg.PublishTimeoutMs = fileCfg.PublishTimeoutMs
	}
	if fileCfg.SelectLimit > 0 {
		cfg.SelectLimit = fileCfg.SelectLimit
	}
	cfg.resolveDurations()

	slog.Info("loaded loader configuration",
		"path", configPath,
		"batch_window_ms", cfg.BatchWindowMs,
		"max_batch", cfg.MaxBatch,
		"ladder_steps", len(cfg.Ladder),
		"strategy", cfg.FetchStrategy)
	return cfg
}

func (c *LoaderConfig) resolveDurations() {
	for i := range c.Ladder {
		c.Ladder[i].Timeout = time.Duration(c.Ladder[i].TimeoutMs) * time.Millisecond
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// LoaderConfigPath returns the loader config path from LOADER_CONFIG or the default
func LoaderConfigPath() string {
	return getEnvOrDefault("LOADER_CONFIG", "config/loader.json")
}
