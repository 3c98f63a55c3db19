package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/candle"
	"github.com/indexopts/engine/internal/config"
)

type fakeProvider struct {
	ltp    map[string]map[int]float64
	chain  *ChainResult
	errLTP error
}

func (f *fakeProvider) LTP(_ context.Context, req map[string][]int) (map[string]map[int]float64, error) {
	if f.errLTP != nil {
		return nil, f.errLTP
	}
	out := make(map[string]map[int]float64)
	for seg, ids := range req {
		for _, id := range ids {
			if ltp, ok := f.ltp[seg][id]; ok {
				if out[seg] == nil {
					out[seg] = make(map[int]float64)
				}
				out[seg][id] = ltp
			}
		}
	}
	return out, nil
}

func (f *fakeProvider) OptionChain(_ context.Context, _ int, _ string) (*ChainResult, error) {
	return f.chain, nil
}

type fakeChainStore struct {
	index, expiry string
	payload       json.RawMessage
	calls         int
}

func (f *fakeChainStore) UpsertOptionChain(_ context.Context, index, expiry string, payload json.RawMessage) error {
	f.index, f.expiry, f.payload = index, expiry, payload
	f.calls++
	return nil
}

func singleIndexWatchlist() config.Watchlist {
	return config.Watchlist{Indices: []config.IndexEntry{
		{Name: "NIFTY", SecurityID: 13, ExchangeSegment: "IDX_I", FnoSegment: "NSE_FNO"},
	}}
}

func TestPollerRunOnce(t *testing.T) {
	provider := &fakeProvider{
		ltp: map[string]map[int]float64{
			"IDX_I":   {13: 22105.5},
			"NSE_FNO": {44021: 120.5, 44022: 95.25},
		},
		chain: &ChainResult{
			Expiry: "2026-08-06",
			Chain: map[string]any{
				"22000": map[string]any{
					"ce": map[string]any{"security_id": float64(44021)},
					"pe": map[string]any{"security_id": float64(44022)},
				},
			},
		},
	}
	chains := &fakeChainStore{}
	cache := NewQuoteCache()
	b := bus.New(nil)

	ticks := make(chan candle.Tick, 16)
	b.Subscribe(TopicTick, func(payload any) {
		if tk, ok := payload.(candle.Tick); ok {
			ticks <- tk
		}
	})

	p := NewPoller(time.Second, singleIndexWatchlist(), provider, b, cache, chains, nil)
	p.RunOnce(context.Background())

	// Spot and both option legs land in the cache.
	if q, ok := cache.Get("NIFTY"); !ok || q.LTP != 22105.5 {
		t.Errorf("expected NIFTY spot quote, got %+v ok=%v", q, ok)
	}
	if q, ok := cache.Get("SEC_44021"); !ok || q.LTP != 120.5 {
		t.Errorf("expected SEC_44021 quote, got %+v ok=%v", q, ok)
	}
	if q, ok := cache.Get("SEC_44022"); !ok || q.LTP != 95.25 {
		t.Errorf("expected SEC_44022 quote, got %+v ok=%v", q, ok)
	}

	// Chain snapshot persisted once with the broker's expiry.
	if chains.calls != 1 {
		t.Fatalf("expected 1 chain upsert, got %d", chains.calls)
	}
	if chains.index != "NIFTY" || chains.expiry != "2026-08-06" {
		t.Errorf("unexpected chain upsert: %s/%s", chains.index, chains.expiry)
	}
	var stored map[string]any
	if err := json.Unmarshal(chains.payload, &stored); err != nil {
		t.Fatalf("stored payload is not JSON: %v", err)
	}
	if _, ok := stored["22000"]; !ok {
		t.Error("stored payload missing strike 22000")
	}

	// Three ticks reach the bus: spot + two option legs.
	got := make(map[string]float64)
	deadline := time.After(2 * time.Second)
	for len(got) < 3 {
		select {
		case tk := <-ticks:
			got[tk.Symbol] = tk.LTP
		case <-deadline:
			t.Fatalf("timed out waiting for ticks, got %v", got)
		}
	}
	if got["NIFTY"] != 22105.5 || got["SEC_44021"] != 120.5 || got["SEC_44022"] != 95.25 {
		t.Errorf("unexpected ticks: %v", got)
	}
}

func TestPollerQuoteFailureIsContained(t *testing.T) {
	provider := &fakeProvider{errLTP: context.DeadlineExceeded}
	cache := NewQuoteCache()

	p := NewPoller(time.Second, singleIndexWatchlist(), provider, bus.New(nil), cache, nil, nil)
	p.RunOnce(context.Background())

	if len(cache.Snapshot()) != 0 {
		t.Error("failed poll should publish nothing")
	}
}

func TestPollerStartStop(t *testing.T) {
	provider := &fakeProvider{ltp: map[string]map[int]float64{"IDX_I": {13: 1.0}}, chain: &ChainResult{Chain: map[string]any{}}}
	p := NewPoller(10*time.Millisecond, singleIndexWatchlist(), provider, nil, NewQuoteCache(), nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	p.Stop()
	p.Stop() // idempotent
}
