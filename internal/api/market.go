// Package api implements the pipeline's HTTP surfaces: Tier A's
// read-only market-data endpoints (health, aggregated candles, option
// chains, quotes) and Tier B's execute/operations endpoints. Handlers
// are thin: every one delegates to a store or publishes onto the bus
// and owns no trading logic.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/indexopts/engine/internal/feed"
	"github.com/indexopts/engine/internal/storage"
)

// CandleReader serves aggregated candles for the read API.
type CandleReader interface {
	LastCandles(ctx context.Context, symbol string, timeframeSeconds, limit int) ([]storage.AggCandle, error)
}

// ChainReader serves persisted option-chain snapshots.
type ChainReader interface {
	GetOptionChain(ctx context.Context, index, expiry string) (storage.OptionChainSnapshot, error)
}

// Pinger reports backing-store reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// MarketServer is Tier A's read-only HTTP surface.
type MarketServer struct {
	candles CandleReader
	chains  ChainReader
	quotes  *feed.QuoteCache
	pinger  Pinger
	logger  *log.Logger
}

// NewMarketServer creates the read API. Any dependency may be nil; the
// corresponding endpoint then reports unavailable, except the health
// endpoint, which skips the database check when pinger is nil.
func NewMarketServer(candles CandleReader, chains ChainReader, quotes *feed.QuoteCache, pinger Pinger, logger *log.Logger) *MarketServer {
	return &MarketServer{candles: candles, chains: chains, quotes: quotes, pinger: pinger, logger: logger}
}

// Register mounts the read endpoints on mux.
func (s *MarketServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/v1/health", s.handleHealth)
	mux.HandleFunc("/v1/candles/last", s.handleLastCandles)
	mux.HandleFunc("/v1/option_chain", s.handleOptionChain)
	mux.HandleFunc("/v1/quote", s.handleQuote)
}

func (s *MarketServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *MarketServer) handleLastCandles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.candles == nil {
		respondError(w, http.StatusServiceUnavailable, "candle store not configured")
		return
	}

	symbol := queryDefault(r, "symbol", "NIFTY")
	timeframe, err := queryInt(r, "timeframe_seconds", 60)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if _, err := storage.GroupMinutes(timeframe); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	candles, err := s.candles.LastCandles(r.Context(), symbol, timeframe, limit)
	if err != nil {
		s.logf("candles query %s failed: %v", symbol, err)
		respondError(w, http.StatusInternalServerError, "candle query failed")
		return
	}
	if candles == nil {
		candles = []storage.AggCandle{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"candles": candles})
}

func (s *MarketServer) handleOptionChain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.chains == nil {
		respondError(w, http.StatusServiceUnavailable, "option chain store not configured")
		return
	}

	symbol := strings.ToUpper(queryDefault(r, "symbol", "NIFTY"))
	expiry := r.URL.Query().Get("expiry")
	if expiry == "" {
		respondError(w, http.StatusBadRequest, "expiry is required")
		return
	}

	snap, err := s.chains.GetOptionChain(r.Context(), symbol, expiry)
	if err != nil {
		respondError(w, http.StatusNotFound, "option chain not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"oc":         json.RawMessage(snap.Payload),
		"expiry":     snap.Expiry,
		"updated_at": snap.UpdatedAt,
	})
}

func (s *MarketServer) handleQuote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.quotes == nil {
		respondError(w, http.StatusServiceUnavailable, "quote cache not configured")
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = "NIFTY"
	}
	q, ok := s.quotes.Get(symbol)
	if !ok {
		respondError(w, http.StatusNotFound, "quote not found")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"quote": q})
}

func (s *MarketServer) logf(format string, args ...any) {
	if s.logger != nil {
		s.logger.Printf("[market-api] "+format, args...)
	}
}

func queryDefault(r *http.Request, key, def string) string {
	if v := r.URL.Query().Get(key); v != "" {
		return v
	}
	return def
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New(key + " must be an integer")
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]any{
		"error":   http.StatusText(status),
		"message": message,
		"code":    status,
	})
}
