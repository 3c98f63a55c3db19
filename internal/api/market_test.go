package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/indexopts/engine/internal/feed"
	"github.com/indexopts/engine/internal/storage"
)

type stubCandleReader struct {
	candles []storage.AggCandle
	err     error
	symbol  string
}

func (s *stubCandleReader) LastCandles(_ context.Context, symbol string, _, _ int) ([]storage.AggCandle, error) {
	s.symbol = symbol
	return s.candles, s.err
}

type stubChainReader struct {
	snap storage.OptionChainSnapshot
	err  error
}

func (s *stubChainReader) GetOptionChain(_ context.Context, _, _ string) (storage.OptionChainSnapshot, error) {
	return s.snap, s.err
}

type stubPinger struct{ err error }

func (s *stubPinger) Ping(_ context.Context) error { return s.err }

func newMarketMux(candles CandleReader, chains ChainReader, quotes *feed.QuoteCache, pinger Pinger) *http.ServeMux {
	mux := http.NewServeMux()
	NewMarketServer(candles, chains, quotes, pinger, nil).Register(mux)
	return mux
}

func TestHealthOK(t *testing.T) {
	mux := newMarketMux(nil, nil, nil, &stubPinger{})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body["status"] != "ok" {
		t.Errorf("unexpected body: %v", body)
	}
}

func TestHealthDatabaseDown(t *testing.T) {
	mux := newMarketMux(nil, nil, nil, &stubPinger{err: errors.New("connection refused")})
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
}

func TestLastCandles(t *testing.T) {
	reader := &stubCandleReader{candles: []storage.AggCandle{
		{T: 1700000100, O: 100, H: 105, L: 99, C: 104},
		{T: 1700000040, O: 98, H: 101, L: 97, C: 100},
	}}
	mux := newMarketMux(reader, nil, nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/candles/last?symbol=BANKNIFTY&timeframe_seconds=60&limit=2", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if reader.symbol != "BANKNIFTY" {
		t.Errorf("symbol not passed through, got %q", reader.symbol)
	}
	var body struct {
		Candles []storage.AggCandle `json:"candles"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if len(body.Candles) != 2 || body.Candles[0].C != 104 {
		t.Errorf("unexpected candles: %+v", body.Candles)
	}
}

func TestLastCandlesRejectsBadTimeframe(t *testing.T) {
	mux := newMarketMux(&stubCandleReader{}, nil, nil, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/candles/last?timeframe_seconds=90", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-multiple-of-60 timeframe, got %d", rec.Code)
	}
}

func TestOptionChain(t *testing.T) {
	chains := &stubChainReader{snap: storage.OptionChainSnapshot{
		Index:     "NIFTY",
		Expiry:    "2026-08-06",
		Payload:   json.RawMessage(`{"22000":{"ce":{"security_id":44021}}}`),
		UpdatedAt: time.Unix(1700000000, 0).UTC(),
	}}
	mux := newMarketMux(nil, chains, nil, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/option_chain?symbol=nifty&expiry=2026-08-06", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		OC     map[string]any `json:"oc"`
		Expiry string         `json:"expiry"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if body.Expiry != "2026-08-06" {
		t.Errorf("unexpected expiry %q", body.Expiry)
	}
	if _, ok := body.OC["22000"]; !ok {
		t.Errorf("chain payload missing strike: %v", body.OC)
	}
}

func TestOptionChainRequiresExpiry(t *testing.T) {
	mux := newMarketMux(nil, &stubChainReader{}, nil, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/option_chain?symbol=NIFTY", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without expiry, got %d", rec.Code)
	}
}

func TestOptionChainNotFound(t *testing.T) {
	mux := newMarketMux(nil, &stubChainReader{err: errors.New("no rows")}, nil, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/option_chain?symbol=NIFTY&expiry=2026-08-06", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestQuote(t *testing.T) {
	quotes := feed.NewQuoteCache()
	quotes.Set("SEC_44021", 120.5, time.Unix(1700000000, 0))
	mux := newMarketMux(nil, nil, quotes, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/quote?symbol=SEC_44021", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body struct {
		Quote feed.Quote `json:"quote"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("bad response JSON: %v", err)
	}
	if body.Quote.LTP != 120.5 || body.Quote.Ts != 1700000000 {
		t.Errorf("unexpected quote: %+v", body.Quote)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/quote?symbol=UNKNOWN", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown symbol, got %d", rec.Code)
	}
}
