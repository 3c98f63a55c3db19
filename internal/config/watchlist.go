// Package config - watchlist.go loads the option-index watchlist the feed
// poller subscribes to: which indices to quote, which exchange segments
// their spot and derivative instruments live on. The file is YAML, one
// entry per index.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// IndexEntry describes one index the feed service polls.
type IndexEntry struct {
	// Name is the index symbol ticks are published under, e.g. "NIFTY".
	Name string `yaml:"name"`

	// SecurityID is the broker's numeric id for the index spot.
	SecurityID int `yaml:"security_id"`

	// ExchangeSegment is the segment the spot quote is fetched from.
	ExchangeSegment string `yaml:"exchange_segment"`

	// FnoSegment is the segment the index's option contracts trade on,
	// used for batch option-LTP fetches.
	FnoSegment string `yaml:"fno_segment"`
}

// Watchlist is the set of indices Tier A polls and republishes.
type Watchlist struct {
	Indices []IndexEntry `yaml:"indices"`
}

// DefaultWatchlist returns the built-in index set used when no watchlist
// file is configured.
func DefaultWatchlist() Watchlist {
	return Watchlist{Indices: []IndexEntry{
		{Name: "NIFTY", SecurityID: 13, ExchangeSegment: "IDX_I", FnoSegment: "NSE_FNO"},
		{Name: "BANKNIFTY", SecurityID: 25, ExchangeSegment: "IDX_I", FnoSegment: "NSE_FNO"},
		{Name: "SENSEX", SecurityID: 51, ExchangeSegment: "IDX_I", FnoSegment: "BSE_FNO"},
		{Name: "FINNIFTY", SecurityID: 27, ExchangeSegment: "IDX_I", FnoSegment: "NSE_FNO"},
	}}
}

// LoadWatchlist reads a YAML watchlist from path. An empty path returns
// the default index set.
func LoadWatchlist(path string) (Watchlist, error) {
	if path == "" {
		return DefaultWatchlist(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Watchlist{}, fmt.Errorf("config: read watchlist %s: %w", path, err)
	}

	var wl Watchlist
	if err := yaml.Unmarshal(data, &wl); err != nil {
		return Watchlist{}, fmt.Errorf("config: parse watchlist yaml: %w", err)
	}
	if err := wl.Validate(); err != nil {
		return Watchlist{}, fmt.Errorf("config: watchlist %s: %w", path, err)
	}
	return wl, nil
}

// Validate checks that every entry can actually be polled.
func (w Watchlist) Validate() error {
	if len(w.Indices) == 0 {
		return fmt.Errorf("watchlist has no indices")
	}
	seen := make(map[string]bool, len(w.Indices))
	for i, e := range w.Indices {
		if e.Name == "" {
			return fmt.Errorf("index %d: name is required", i)
		}
		if seen[e.Name] {
			return fmt.Errorf("index %q listed twice", e.Name)
		}
		seen[e.Name] = true
		if e.SecurityID <= 0 {
			return fmt.Errorf("index %q: security_id must be positive", e.Name)
		}
		if e.ExchangeSegment == "" {
			return fmt.Errorf("index %q: exchange_segment is required", e.Name)
		}
	}
	return nil
}
