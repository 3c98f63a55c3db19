// Package config - feed.go holds Tier A's configuration: the broker feed
// poller, candle persistence, and the market-data read API. Kept separate
// from ExecConfig the same way the feed service runs as its own process
// in the pipeline.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// FeedConfig controls the Tier A feed binary.
type FeedConfig struct {
	// DatabaseURL is the Postgres DSN candles and option chains are
	// persisted to.
	DatabaseURL string `json:"database_url"`

	// PollSeconds is the broker quote/option-chain poll cadence. Clamped
	// to [0.25, 5] the way the feed loop always has been.
	PollSeconds float64 `json:"poll_seconds"`

	// WatchlistPath points at the YAML index watchlist. Empty means the
	// built-in default set.
	WatchlistPath string `json:"watchlist_path"`

	// ListenAddr is where the market-data read API and tick stream are
	// served.
	ListenAddr string `json:"listen_addr"`

	// DhanClientID and DhanAccessToken authenticate the quote poller.
	DhanClientID    string `json:"dhan_client_id"`
	DhanAccessToken string `json:"dhan_access_token"`
}

// PollInterval returns the clamped poll cadence as a duration.
func (c *FeedConfig) PollInterval() time.Duration {
	p := c.PollSeconds
	if p < 0.25 {
		p = 0.25
	}
	if p > 5.0 {
		p = 5.0
	}
	return time.Duration(p * float64(time.Second))
}

// LoadFeed reads a FeedConfig from a JSON file with environment variable
// overrides for credentials and the database URL.
func LoadFeed(path string) (*FeedConfig, error) {
	var cfg FeedConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read feed config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse feed config json: %w", err)
		}
	}

	if v := os.Getenv("DHAN_CLIENT_ID"); v != "" {
		cfg.DhanClientID = v
	}
	if v := os.Getenv("DHAN_ACCESS_TOKEN"); v != "" {
		cfg.DhanAccessToken = v
	}
	if v := os.Getenv("ALGO_DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}

	if cfg.PollSeconds == 0 {
		cfg.PollSeconds = 1.0
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8090"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: feed config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the feed binary's startup requirements.
func (c *FeedConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if c.DhanClientID == "" || c.DhanAccessToken == "" {
		return fmt.Errorf("dhan_client_id and dhan_access_token are required for the feed poller")
	}
	return nil
}
