// Package journal implements the TradeJournal: the durable, append-only
// record of every order attempt the execution engine makes. Every state
// transition (simulated, sent, filled, rejected, timed_out, closed) is
// written here so that a post-mortem can always reconstruct what happened
// without depending on in-memory state.
//
// Writes insert-then-return-id against a single trades table and never
// fail the caller — a journal write is observability, not a trading
// precondition. Failed writes are spooled to a local bbolt file so a
// brief Postgres outage doesn't lose the row outright.
package journal

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Row is one journal entry.
type Row struct {
	ID        int64
	Timestamp time.Time
	PosID     string
	Side      string
	Quantity  int
	Price     float64
	Status    string // "simulated", "sent", "filled", "rejected", "timed_out", "closed"
	Info      json.RawMessage
}

// Spool persists rows that failed to write to Postgres so they aren't
// silently lost.
type Spool interface {
	Save(row Row) error
	Drain() ([]Row, error)
}

// Journal writes trade rows to Postgres, falling back to a spool on
// failure.
type Journal struct {
	pool   *pgxpool.Pool
	logger *log.Logger
	spool  Spool
}

// New creates a Journal backed by pool. spool may be nil, in which case
// write failures are only logged.
func New(pool *pgxpool.Pool, logger *log.Logger, spool Spool) *Journal {
	return &Journal{pool: pool, logger: logger, spool: spool}
}

// EnsureSchema creates the trades table if it does not already exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	_, err := j.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trades (
			id SERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL DEFAULT now(),
			pos_id TEXT NOT NULL,
			side TEXT NOT NULL,
			quantity INTEGER NOT NULL,
			price DOUBLE PRECISION NOT NULL,
			status TEXT NOT NULL,
			info JSONB
		)
	`)
	return err
}

// Record inserts a new trade row and returns its id. On any database
// error, the row is logged and handed to the spool (if configured) and a
// zero id with no error is returned — a journal failure must never block
// the caller from proceeding with order placement.
func (j *Journal) Record(ctx context.Context, posID, side string, qty int, price float64, status string, info any) int64 {
	infoJSON, err := json.Marshal(info)
	if err != nil {
		infoJSON = []byte("null")
	}

	var id int64
	row := j.pool.QueryRow(ctx,
		`INSERT INTO trades (pos_id, side, quantity, price, status, info) VALUES ($1,$2,$3,$4,$5,$6) RETURNING id`,
		posID, side, qty, price, status, infoJSON)

	if err := row.Scan(&id); err != nil {
		j.logf("record trade failed for pos_id=%s status=%s: %v", posID, status, err)
		if j.spool != nil {
			if serr := j.spool.Save(Row{
				Timestamp: time.Now().UTC(),
				PosID:     posID,
				Side:      side,
				Quantity:  qty,
				Price:     price,
				Status:    status,
				Info:      infoJSON,
			}); serr != nil {
				j.logf("spool write also failed for pos_id=%s: %v", posID, serr)
			}
		}
		return 0
	}
	return id
}

// MarkStatus updates the status column of an existing row. Failures are
// logged, never returned as fatal — same policy as Record.
func (j *Journal) MarkStatus(ctx context.Context, id int64, status string) {
	if id == 0 {
		return
	}
	if _, err := j.pool.Exec(ctx, `UPDATE trades SET status=$1 WHERE id=$2`, status, id); err != nil {
		j.logf("mark status %q failed for trade id=%d: %v", status, id, err)
	}
}

// DrainSpool replays any rows buffered locally due to past write failures,
// re-attempting an insert against Postgres for each.
func (j *Journal) DrainSpool(ctx context.Context) {
	if j.spool == nil {
		return
	}
	rows, err := j.spool.Drain()
	if err != nil {
		j.logf("spool drain failed: %v", err)
		return
	}
	for _, r := range rows {
		if _, err := j.pool.Exec(ctx,
			`INSERT INTO trades (ts, pos_id, side, quantity, price, status, info) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			r.Timestamp, r.PosID, r.Side, r.Quantity, r.Price, r.Status, r.Info); err != nil {
			j.logf("replaying spooled row for pos_id=%s failed: %v", r.PosID, err)
		}
	}
}

func (j *Journal) logf(format string, args ...any) {
	if j.logger != nil {
		j.logger.Printf("[journal] "+format, args...)
	}
}
