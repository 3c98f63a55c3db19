// Package api - execute.go is Tier B's HTTP surface: POST /execute wraps
// an ENTRY_SIGNAL publish, and the /v1/positions and /v1/pending
// snapshots give operators a live view of the execution core's state.
package api

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/execution"
	"github.com/indexopts/engine/internal/pending"
	"github.com/indexopts/engine/internal/position"
)

// ExecRequest is the POST /execute body.
type ExecRequest struct {
	SecurityID      string `json:"security_id"`
	TransactionType string `json:"transaction_type"`
	Qty             int    `json:"qty"`
	IndexName       string `json:"index_name,omitempty"`
}

// PositionView is the JSON shape of one open position.
type PositionView struct {
	PosID      string    `json:"pos_id"`
	Symbol     string    `json:"symbol"`
	SecurityID string    `json:"security_id"`
	Side       string    `json:"side"`
	Quantity   int       `json:"quantity"`
	EntryPrice float64   `json:"entry_price"`
	LastMarket float64   `json:"last_market"`
	PnL        float64   `json:"pnl"`
	OpenedAt   time.Time `json:"opened_at"`
}

// PendingView is the JSON shape of one pending order.
type PendingView struct {
	PosID      string    `json:"pos_id"`
	DBID       int64     `json:"db_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   int       `json:"quantity"`
	Kind       string    `json:"kind"`
	PlacedAt   time.Time `json:"placed_at"`
	AgeSeconds float64   `json:"age_seconds"`
}

// ExecServer is the execution core's HTTP surface.
type ExecServer struct {
	bus       *bus.Bus
	positions *position.Store
	pendingT  *pending.Table
	logger    *log.Logger
}

// NewExecServer creates the execute/operations API.
func NewExecServer(b *bus.Bus, positions *position.Store, pendingT *pending.Table, logger *log.Logger) *ExecServer {
	return &ExecServer{bus: b, positions: positions, pendingT: pendingT, logger: logger}
}

// Register mounts the endpoints on mux.
func (s *ExecServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/execute", s.handleExecute)
	mux.HandleFunc("/v1/positions", s.handlePositions)
	mux.HandleFunc("/v1/pending", s.handlePending)
}

func (s *ExecServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ExecRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SecurityID == "" {
		respondError(w, http.StatusBadRequest, "security_id is required")
		return
	}
	if req.TransactionType != "BUY" && req.TransactionType != "SELL" {
		respondError(w, http.StatusBadRequest, "transaction_type must be BUY or SELL")
		return
	}
	if req.Qty <= 0 {
		respondError(w, http.StatusBadRequest, "qty must be positive")
		return
	}

	symbol := req.IndexName
	if symbol == "" {
		symbol = "SEC_" + req.SecurityID
	}

	posID := fmt.Sprintf("pos_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
	s.bus.Publish("ENTRY_SIGNAL", execution.EntrySignal{
		PosID:      posID,
		Symbol:     symbol,
		SecurityID: req.SecurityID,
		Side:       req.TransactionType,
		Quantity:   req.Qty,
	})
	if s.logger != nil {
		s.logger.Printf("[exec-api] accepted execute request pos_id=%s %s %s x%d", posID, req.TransactionType, req.SecurityID, req.Qty)
	}
	respondJSON(w, http.StatusAccepted, map[string]any{
		"status": "accepted",
		"pos_id": posID,
	})
}

func (s *ExecServer) handlePositions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	list := s.positions.List()
	out := make([]PositionView, 0, len(list))
	for _, p := range list {
		entry, _ := p.EntryPrice.Float64()
		last, _ := p.LastMarket.Float64()
		pnl, _ := p.PnL.Float64()
		out = append(out, PositionView{
			PosID:      p.PosID,
			Symbol:     p.Symbol,
			SecurityID: p.SecurityID,
			Side:       string(p.Side),
			Quantity:   p.Quantity,
			EntryPrice: entry,
			LastMarket: last,
			PnL:        pnl,
			OpenedAt:   p.OpenedAt,
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"positions": out,
		"count":     len(out),
	})
}

func (s *ExecServer) handlePending(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	now := time.Now()
	entries := s.pendingT.Snapshot()
	out := make([]PendingView, 0, len(entries))
	for _, e := range entries {
		out = append(out, PendingView{
			PosID:      e.PosID,
			DBID:       e.DBID,
			Symbol:     e.Symbol,
			Side:       e.Side,
			Quantity:   e.Quantity,
			Kind:       e.Kind,
			PlacedAt:   e.PlacedAt,
			AgeSeconds: e.Age(now).Seconds(),
		})
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"pending": out,
		"count":   len(out),
	})
}
