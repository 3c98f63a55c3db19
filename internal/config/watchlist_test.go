package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultWatchlist(t *testing.T) {
	wl := DefaultWatchlist()
	if err := wl.Validate(); err != nil {
		t.Fatalf("default watchlist should validate: %v", err)
	}
	if len(wl.Indices) != 4 {
		t.Fatalf("expected 4 default indices, got %d", len(wl.Indices))
	}
	if wl.Indices[0].Name != "NIFTY" || wl.Indices[0].SecurityID != 13 {
		t.Errorf("unexpected first index: %+v", wl.Indices[0])
	}
}

func TestLoadWatchlistFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	content := `indices:
  - name: NIFTY
    security_id: 13
    exchange_segment: IDX_I
    fno_segment: NSE_FNO
  - name: BANKNIFTY
    security_id: 25
    exchange_segment: IDX_I
    fno_segment: NSE_FNO
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp watchlist: %v", err)
	}

	wl, err := LoadWatchlist(path)
	if err != nil {
		t.Fatalf("LoadWatchlist: %v", err)
	}
	if len(wl.Indices) != 2 {
		t.Fatalf("expected 2 indices, got %d", len(wl.Indices))
	}
	if wl.Indices[1].Name != "BANKNIFTY" || wl.Indices[1].FnoSegment != "NSE_FNO" {
		t.Errorf("unexpected second index: %+v", wl.Indices[1])
	}
}

func TestLoadWatchlistEmptyPathUsesDefault(t *testing.T) {
	wl, err := LoadWatchlist("")
	if err != nil {
		t.Fatalf("LoadWatchlist(\"\"): %v", err)
	}
	if len(wl.Indices) != len(DefaultWatchlist().Indices) {
		t.Errorf("empty path should return the default set")
	}
}

func TestWatchlistValidate(t *testing.T) {
	tests := []struct {
		name string
		wl   Watchlist
	}{
		{"empty", Watchlist{}},
		{"missing name", Watchlist{Indices: []IndexEntry{{SecurityID: 13, ExchangeSegment: "IDX_I"}}}},
		{"zero security id", Watchlist{Indices: []IndexEntry{{Name: "NIFTY", ExchangeSegment: "IDX_I"}}}},
		{"missing segment", Watchlist{Indices: []IndexEntry{{Name: "NIFTY", SecurityID: 13}}}},
		{"duplicate name", Watchlist{Indices: []IndexEntry{
			{Name: "NIFTY", SecurityID: 13, ExchangeSegment: "IDX_I"},
			{Name: "NIFTY", SecurityID: 14, ExchangeSegment: "IDX_I"},
		}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.wl.Validate(); err == nil {
				t.Errorf("expected validation error for %s", tt.name)
			}
		})
	}
}

func TestFeedConfigPollIntervalClamp(t *testing.T) {
	tests := []struct {
		seconds float64
		wantMS  int64
	}{
		{1.0, 1000},
		{0.1, 250},  // clamped up
		{10.0, 5000}, // clamped down
	}
	for _, tt := range tests {
		cfg := FeedConfig{PollSeconds: tt.seconds}
		if got := cfg.PollInterval().Milliseconds(); got != tt.wantMS {
			t.Errorf("PollInterval(%v) = %dms, want %dms", tt.seconds, got, tt.wantMS)
		}
	}
}
