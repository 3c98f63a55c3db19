// Package storage - market.go implements the Tier A persistence layer:
// per-minute candles and option-chain snapshots, written by the feed
// poller and candle aggregator and read back by the market-data HTTP
// surface. The store is implemented against pgx — the candles and option_chains tables
// are the pipeline's system of record for everything Tier A produces.
package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/indexopts/engine/internal/strategy"
)

// OptionChainSnapshot is one persisted option-chain payload for an index
// and expiry.
type OptionChainSnapshot struct {
	Index     string
	Expiry    string
	Payload   json.RawMessage
	UpdatedAt time.Time
}

// AggCandle is one candle row returned by LastCandles, already aggregated
// to the requested timeframe. Epoch seconds keep the wire format of the
// read API compact.
type AggCandle struct {
	T int64   `json:"t"`
	O float64 `json:"o"`
	H float64 `json:"h"`
	L float64 `json:"l"`
	C float64 `json:"c"`
}

// MarketStore persists candles and option chains to Postgres.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore wraps an existing pgx pool. The pool's lifecycle belongs
// to the caller.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// EnsureSchema creates the candles and option_chains tables if they do
// not already exist.
func (m *MarketStore) EnsureSchema(ctx context.Context) error {
	if _, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS candles (
			symbol TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
			open DOUBLE PRECISION,
			high DOUBLE PRECISION,
			low DOUBLE PRECISION,
			close DOUBLE PRECISION,
			volume BIGINT DEFAULT 0,
			PRIMARY KEY (symbol, ts)
		)
	`); err != nil {
		return fmt.Errorf("storage: ensure candles table: %w", err)
	}
	if _, err := m.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS option_chains (
			idx TEXT NOT NULL,
			expiry TEXT NOT NULL,
			payload JSONB,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (idx, expiry)
		)
	`); err != nil {
		return fmt.Errorf("storage: ensure option_chains table: %w", err)
	}
	return nil
}

// SaveCandles upserts one-minute candles. A re-published bucket (e.g. the
// shutdown flush followed by a restart landing in the same minute)
// overwrites the earlier row rather than erroring on the primary key.
// Satisfies candle.Persister.
func (m *MarketStore) SaveCandles(ctx context.Context, candles []strategy.Candle) error {
	for _, c := range candles {
		if _, err := m.pool.Exec(ctx, `
			INSERT INTO candles (symbol, ts, open, high, low, close, volume)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (symbol, ts) DO UPDATE SET
				open = EXCLUDED.open,
				high = EXCLUDED.high,
				low = EXCLUDED.low,
				close = EXCLUDED.close,
				volume = EXCLUDED.volume
		`, c.Symbol, c.Date.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume); err != nil {
			return fmt.Errorf("storage: upsert candle %s@%s: %w", c.Symbol, c.Date, err)
		}
	}
	return nil
}

// GroupMinutes validates a requested timeframe and converts it to the
// per-bucket minute count used by LastCandles. Only multiples of 60
// seconds can be built from one-minute source rows.
func GroupMinutes(timeframeSeconds int) (int, error) {
	if timeframeSeconds <= 0 || timeframeSeconds%60 != 0 {
		return 0, fmt.Errorf("storage: timeframe_seconds must be a positive multiple of 60, got %d", timeframeSeconds)
	}
	return timeframeSeconds / 60, nil
}

// LastCandles aggregates stored one-minute candles into the requested
// timeframe and returns up to limit buckets, newest first. The open and
// close of each bucket come from the earliest and latest minute row it
// contains.
func (m *MarketStore) LastCandles(ctx context.Context, symbol string, timeframeSeconds, limit int) ([]AggCandle, error) {
	groupMinutes, err := GroupMinutes(timeframeSeconds)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := m.pool.Query(ctx, `
		SELECT
			min(ts) AS start_ts,
			(array_agg(open ORDER BY ts ASC))[1] AS open,
			max(high) AS high,
			min(low) AS low,
			(array_agg(close ORDER BY ts DESC))[1] AS close
		FROM candles
		WHERE symbol = $1
		GROUP BY floor(extract(epoch FROM ts) / 60 / $2)
		ORDER BY start_ts DESC
		LIMIT $3
	`, symbol, groupMinutes, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: query candles for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []AggCandle
	for rows.Next() {
		var ts time.Time
		var c AggCandle
		if err := rows.Scan(&ts, &c.O, &c.H, &c.L, &c.C); err != nil {
			return nil, fmt.Errorf("storage: scan candle row: %w", err)
		}
		c.T = ts.Unix()
		out = append(out, c)
	}
	return out, rows.Err()
}

// UpsertOptionChain stores the latest chain payload for an index and
// expiry, replacing any prior snapshot for the same pair.
func (m *MarketStore) UpsertOptionChain(ctx context.Context, index, expiry string, payload json.RawMessage) error {
	if expiry == "" {
		expiry = "unknown"
	}
	if _, err := m.pool.Exec(ctx, `
		INSERT INTO option_chains (idx, expiry, payload, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (idx, expiry) DO UPDATE SET
			payload = EXCLUDED.payload,
			updated_at = now()
	`, index, expiry, payload); err != nil {
		return fmt.Errorf("storage: upsert option chain %s/%s: %w", index, expiry, err)
	}
	return nil
}

// GetOptionChain returns the latest stored chain snapshot for an index
// and expiry, or an error when none has been persisted yet.
func (m *MarketStore) GetOptionChain(ctx context.Context, index, expiry string) (OptionChainSnapshot, error) {
	snap := OptionChainSnapshot{Index: index, Expiry: expiry}
	row := m.pool.QueryRow(ctx,
		`SELECT payload, updated_at FROM option_chains WHERE idx = $1 AND expiry = $2`,
		index, expiry)
	if err := row.Scan(&snap.Payload, &snap.UpdatedAt); err != nil {
		return OptionChainSnapshot{}, fmt.Errorf("storage: option chain %s/%s: %w", index, expiry, err)
	}
	return snap, nil
}

// Ping verifies database reachability, for the health endpoint.
func (m *MarketStore) Ping(ctx context.Context) error {
	return m.pool.Ping(ctx)
}
