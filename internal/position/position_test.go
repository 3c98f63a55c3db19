package position

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestOpenRejectsDuplicatePosID(t *testing.T) {
	s := New()
	p := Position{PosID: "pos_1", Symbol: "NIFTY", Side: Buy, Quantity: 50, EntryPrice: decimal.NewFromInt(100)}
	if err := s.Open(p); err != nil {
		t.Fatalf("first open: unexpected error: %v", err)
	}
	p2 := p
	p2.Symbol = "BANKNIFTY"
	if err := s.Open(p2); err == nil {
		t.Fatal("expected error opening duplicate pos_id")
	}
}

func TestOpenRejectsDuplicateSymbol(t *testing.T) {
	s := New()
	p1 := Position{PosID: "pos_1", Symbol: "NIFTY", Side: Buy, Quantity: 50, EntryPrice: decimal.NewFromInt(100)}
	p2 := Position{PosID: "pos_2", Symbol: "NIFTY", Side: Sell, Quantity: 50, EntryPrice: decimal.NewFromInt(105)}

	if err := s.Open(p1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Open(p2); err == nil {
		t.Fatal("expected error opening a second position for an already-open symbol")
	}
}

func TestCloseRemovesFromRegistry(t *testing.T) {
	s := New()
	p := Position{PosID: "pos_1", Symbol: "NIFTY", Side: Buy, Quantity: 50, EntryPrice: decimal.NewFromInt(100)}
	if err := s.Open(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	closed, err := s.Close("pos_1", decimal.NewFromInt(110))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed.PnL.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("expected PnL 500, got %s", closed.PnL)
	}

	if _, ok := s.Get("pos_1"); ok {
		t.Fatal("expected position to be removed from registry after close")
	}
	if _, ok := s.GetBySymbol("NIFTY"); ok {
		t.Fatal("expected symbol slot to be freed after close")
	}

	// Symbol can be reopened immediately.
	p2 := Position{PosID: "pos_2", Symbol: "NIFTY", Side: Buy, Quantity: 25, EntryPrice: decimal.NewFromInt(90)}
	if err := s.Open(p2); err != nil {
		t.Fatalf("expected reopen to succeed after close, got: %v", err)
	}
}

func TestClosePnLForSellSide(t *testing.T) {
	s := New()
	p := Position{PosID: "pos_1", Symbol: "NIFTY", Side: Sell, Quantity: 10, EntryPrice: decimal.NewFromInt(100)}
	if err := s.Open(p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	closed, err := s.Close("pos_1", decimal.NewFromInt(90))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !closed.PnL.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("expected PnL 100 for short covered at a profit, got %s", closed.PnL)
	}
}

func TestCloseUnknownPosID(t *testing.T) {
	s := New()
	if _, err := s.Close("missing", decimal.Zero); err == nil {
		t.Fatal("expected error closing a position that was never opened")
	}
}

func TestOpenValidatesSideAndQuantity(t *testing.T) {
	s := New()
	if err := s.Open(Position{PosID: "p", Symbol: "NIFTY", Side: "HOLD", Quantity: 1, EntryPrice: decimal.NewFromInt(1)}); err == nil {
		t.Error("expected rejection for invalid side")
	}
	if err := s.Open(Position{PosID: "p", Symbol: "NIFTY", Side: Buy, Quantity: 0, EntryPrice: decimal.NewFromInt(1)}); err == nil {
		t.Error("expected rejection for zero quantity")
	}
	if err := s.Open(Position{PosID: "p", Symbol: "NIFTY", Side: Buy, Quantity: -5, EntryPrice: decimal.NewFromInt(1)}); err == nil {
		t.Error("expected rejection for negative quantity")
	}
	if s.HasOpen() {
		t.Error("rejected opens must not leave state behind")
	}
}

func TestSinglePositionMode(t *testing.T) {
	s := New()
	s.SetSinglePosition(true)

	if err := s.Open(Position{PosID: "pos_1", Symbol: "NIFTY", Side: Buy, Quantity: 1, EntryPrice: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("first open: %v", err)
	}
	if !s.HasOpen() {
		t.Fatal("HasOpen should report true")
	}
	// A different symbol is still rejected while any position is open.
	if err := s.Open(Position{PosID: "pos_2", Symbol: "BANKNIFTY", Side: Buy, Quantity: 1, EntryPrice: decimal.NewFromInt(1)}); err == nil {
		t.Fatal("expected rejection in single-position mode")
	}

	if _, err := s.Close("pos_1", decimal.NewFromInt(1)); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.HasOpen() {
		t.Fatal("HasOpen should report false after close")
	}
	if err := s.Open(Position{PosID: "pos_2", Symbol: "BANKNIFTY", Side: Buy, Quantity: 1, EntryPrice: decimal.NewFromInt(1)}); err != nil {
		t.Fatalf("open after close should succeed: %v", err)
	}
}

func TestUpdateMarketPriceRefreshesUnrealizedPnL(t *testing.T) {
	s := New()
	_ = s.Open(Position{PosID: "pos_1", Symbol: "NIFTY", Side: Buy, Quantity: 50, EntryPrice: decimal.NewFromInt(100)})

	s.UpdateMarketPrice("pos_1", decimal.NewFromInt(103))
	p, ok := s.Get("pos_1")
	if !ok {
		t.Fatal("position should still be open")
	}
	if !p.LastMarket.Equal(decimal.NewFromInt(103)) {
		t.Fatalf("expected last market 103, got %s", p.LastMarket)
	}
	if !p.PnL.Equal(decimal.NewFromInt(150)) {
		t.Fatalf("expected unrealized PnL 150, got %s", p.PnL)
	}

	// Unknown pos_id is a no-op, not a panic.
	s.UpdateMarketPrice("missing", decimal.NewFromInt(1))
}

func TestCheckTrailingStop(t *testing.T) {
	s := New()
	sl := decimal.NewFromInt(95)
	_ = s.Open(Position{PosID: "long", Symbol: "NIFTY", Side: Buy, Quantity: 1, EntryPrice: decimal.NewFromInt(100), TrailingSL: &sl})
	slShort := decimal.NewFromInt(105)
	_ = s.Open(Position{PosID: "short", Symbol: "BANKNIFTY", Side: Sell, Quantity: 1, EntryPrice: decimal.NewFromInt(100), TrailingSL: &slShort})
	_ = s.Open(Position{PosID: "bare", Symbol: "FINNIFTY", Side: Buy, Quantity: 1, EntryPrice: decimal.NewFromInt(100)})

	tests := []struct {
		posID string
		price int64
		want  bool
	}{
		{"long", 96, false},
		{"long", 95, true},
		{"long", 90, true},
		{"short", 104, false},
		{"short", 105, true},
		{"short", 110, true},
		{"bare", 1, false},
		{"missing", 1, false},
	}
	for _, tt := range tests {
		if got := s.CheckTrailingStop(tt.posID, decimal.NewFromInt(tt.price)); got != tt.want {
			t.Errorf("CheckTrailingStop(%s, %d) = %v, want %v", tt.posID, tt.price, got, tt.want)
		}
	}
}

func TestSecurityIDMismatch(t *testing.T) {
	s := New()
	_ = s.Open(Position{PosID: "pos_1", Symbol: "NIFTY", SecurityID: "44021", Side: Buy, Quantity: 1, EntryPrice: decimal.NewFromInt(1)})

	if s.SecurityIDMismatch("pos_1", "44021") {
		t.Error("matching ids should not mismatch")
	}
	if !s.SecurityIDMismatch("pos_1", "44099") {
		t.Error("differing ids should mismatch")
	}
	if s.SecurityIDMismatch("pos_1", "") {
		t.Error("blank broker id should not mismatch")
	}
	if s.SecurityIDMismatch("missing", "44021") {
		t.Error("unknown position should not mismatch")
	}
}

func TestDetectBrokerMismatch(t *testing.T) {
	s := New()
	_ = s.Open(Position{PosID: "pos_1", Symbol: "NIFTY", Side: Buy, Quantity: 1, EntryPrice: decimal.NewFromInt(1)})

	onlyLocal, onlyBroker := s.DetectBrokerMismatch(map[string]bool{"BANKNIFTY": true})
	if len(onlyLocal) != 1 || onlyLocal[0] != "NIFTY" {
		t.Fatalf("expected NIFTY only-local, got %v", onlyLocal)
	}
	if len(onlyBroker) != 1 || onlyBroker[0] != "BANKNIFTY" {
		t.Fatalf("expected BANKNIFTY only-broker, got %v", onlyBroker)
	}
}
