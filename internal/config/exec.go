// Package config - exec.go holds the execution core's configuration:
// simulate mode, order timeout, risk limits, sizing baseline, stop-loss
// offset, and broker credentials. They have their own loader, separate
// from Tier A's FeedConfig in feed.go.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// ExecConfig controls the ExecutionEngine, RiskGate, and PendingMonitor.
type ExecConfig struct {
	// Simulate, when true, short-circuits every signal before any broker
	// interaction or credential check.
	Simulate bool `json:"simulate"`

	// OrderTimeoutSeconds is the pending-order reconciliation threshold.
	OrderTimeoutSeconds int `json:"order_timeout_seconds"`

	// MaxPosition caps the absolute projected net quantity the risk gate
	// will admit.
	MaxPosition int `json:"max_position"`

	// MaxDailyLoss rejects new entries once realized daily PnL reaches
	// -|MaxDailyLoss|.
	MaxDailyLoss float64 `json:"max_daily_loss"`

	// MaxTradesPerDay rejects new entries at/above this count.
	MaxTradesPerDay int `json:"max_trades_per_day"`

	// BaseQty is the baseline quantity for confidence-weighted sizing.
	BaseQty int `json:"base_qty"`

	// SinglePosition, when true, rejects any new entry while a position
	// is open on any symbol, not just the same one.
	SinglePosition bool `json:"single_position"`

	// InitialStoplossPoints, if non-zero, causes a broker-side SL-M order
	// on fill, offset from the fill price by this many points.
	InitialStoplossPoints float64 `json:"initial_stoploss"`

	// DhanClientID and DhanAccessToken are broker credentials, required
	// only when Simulate is false.
	DhanClientID    string `json:"dhan_client_id"`
	DhanAccessToken string `json:"dhan_access_token"`

	// DatabaseURL is the Postgres DSN backing the journal and advisory
	// lock service.
	DatabaseURL string `json:"database_url"`

	// Exchange and Product are passed through on every broker order.
	Exchange string `json:"exchange"`
	Product  string `json:"product"`
}

// LoadExec reads an ExecConfig from a JSON file, applying environment
// variable overrides for the deployment-sourced values (credentials,
// SIMULATE, database URL), then validates it.
func LoadExec(path string) (*ExecConfig, error) {
	var cfg ExecConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read exec config %s: %w", path, err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse exec config json: %w", err)
		}
	}

	if v := os.Getenv("SIMULATE"); v != "" {
		cfg.Simulate = v == "true" || v == "1"
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

	if cfg.OrderTimeoutSeconds <= 0 {
		cfg.OrderTimeoutSeconds = 30
	}
	if cfg.Exchange == "" {
		cfg.Exchange = "NSE_FO"
	}
	if cfg.Product == "" {
		cfg.Product = "INTRADAY"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: exec config validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks the invariants the execution core depends on: in live
// mode, broker credentials must be present, and the database URL (backing
// both the journal and the advisory lock service) is always required.
func (c *ExecConfig) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("database_url is required")
	}
	if !c.Simulate {
		if c.DhanClientID == "" || c.DhanAccessToken == "" {
			return fmt.Errorf("dhan_client_id and dhan_access_token are required when simulate is false")
		}
	}
	if c.MaxPosition < 0 {
		return fmt.Errorf("max_position must not be negative")
	}
	if c.MaxTradesPerDay < 0 {
		return fmt.Errorf("max_trades_per_day must not be negative")
	}
	return nil
}
