// Package position implements the in-memory, single-position-per-symbol
// registry that tracks everything the execution core currently has open.
//
// One position per pos_id, keyed additionally by symbol so a symbol
// never has two concurrently open positions. Opening a position that
// collides with an existing pos_id or an already-open symbol is rejected
// rather than silently overwritten, and closing a position removes it
// from the registry so the symbol is immediately free for re-entry.
package position

import (
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a position.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Position represents one open (or just-closed) trade.
type Position struct {
	PosID       string
	Symbol      string
	SecurityID  string
	Side        Side
	Quantity    int
	EntryPrice  decimal.Decimal
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ExitPrice   decimal.Decimal
	PnL         decimal.Decimal
	TrailingSL  *decimal.Decimal
	LastMarket  decimal.Decimal
	Tags        map[string]string
}

// Snapshot returns a value copy safe to hand to callers outside the lock.
func (p Position) Snapshot() Position {
	cp := p
	if p.Tags != nil {
		cp.Tags = make(map[string]string, len(p.Tags))
		for k, v := range p.Tags {
			cp.Tags[k] = v
		}
	}
	return cp
}

// Store is the concurrency-safe position registry.
type Store struct {
	mu        sync.Mutex
	byPosID   map[string]*Position
	bySymbol  map[string]string // symbol -> pos_id, only while open
	single    bool              // reject any open while one exists
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		byPosID:  make(map[string]*Position),
		bySymbol: make(map[string]string),
	}
}

// Open registers a new position. It fails if pos_id already exists or if
// the symbol already has an open position — this system runs one position
// per symbol at a time.
func (s *Store) Open(p Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Side != Buy && p.Side != Sell {
		return fmt.Errorf("position: invalid side %q", p.Side)
	}
	if p.Quantity <= 0 {
		return fmt.Errorf("position: quantity must be positive, got %d", p.Quantity)
	}
	if s.single && len(s.byPosID) > 0 {
		return fmt.Errorf("position: single-position mode and a position is already open")
	}
	if _, exists := s.byPosID[p.PosID]; exists {
		return fmt.Errorf("position: pos_id %q already open", p.PosID)
	}
	if existing, ok := s.bySymbol[p.Symbol]; ok {
		return fmt.Errorf("position: symbol %q already has an open position (pos_id %q)", p.Symbol, existing)
	}

	if p.OpenedAt.IsZero() {
		p.OpenedAt = time.Now().UTC()
	}
	if p.Tags == nil {
		p.Tags = make(map[string]string)
	}
	stored := p
	s.byPosID[p.PosID] = &stored
	s.bySymbol[p.Symbol] = p.PosID
	return nil
}

// Close computes realized PnL, marks the position closed, and removes it
// from the registry so the symbol is immediately available for re-entry.
func (s *Store) Close(posID string, exitPrice decimal.Decimal) (Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, ok := s.byPosID[posID]
	if !ok {
		return Position{}, fmt.Errorf("position: pos_id %q not found", posID)
	}

	now := time.Now().UTC()
	pos.ClosedAt = &now
	pos.ExitPrice = exitPrice
	pos.PnL = computePnL(pos.Side, pos.EntryPrice, exitPrice, pos.Quantity)

	closed := pos.Snapshot()

	delete(s.byPosID, posID)
	if s.bySymbol[pos.Symbol] == posID {
		delete(s.bySymbol, pos.Symbol)
	}

	return closed, nil
}

func computePnL(side Side, entry, exit decimal.Decimal, qty int) decimal.Decimal {
	q := decimal.NewFromInt(int64(qty))
	switch side {
	case Buy:
		return exit.Sub(entry).Mul(q)
	case Sell:
		return entry.Sub(exit).Mul(q)
	default:
		return decimal.Zero
	}
}

// UpdateMarketPrice refreshes the last observed market price for unrealized
// PnL tracking. It is a no-op if the position is absent or already closed.
func (s *Store) UpdateMarketPrice(posID string, price decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos, ok := s.byPosID[posID]; ok {
		pos.LastMarket = price
		pos.PnL = computePnL(pos.Side, pos.EntryPrice, price, pos.Quantity)
	}
}

// CheckTrailingStop reports whether price has crossed the position's
// trailing stop unfavorably: at or below it for a BUY, at or above it
// for a SELL. Positions without a trailing stop never trigger.
func (s *Store) CheckTrailingStop(posID string, price decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byPosID[posID]
	if !ok || pos.TrailingSL == nil {
		return false
	}
	switch pos.Side {
	case Buy:
		return price.LessThanOrEqual(*pos.TrailingSL)
	case Sell:
		return price.GreaterThanOrEqual(*pos.TrailingSL)
	default:
		return false
	}
}

// SecurityIDMismatch reports whether the broker's security id for posID
// differs from the one recorded at entry. Unknown positions and blank
// ids on either side are not mismatches.
func (s *Store) SecurityIDMismatch(posID, brokerSecurityID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byPosID[posID]
	if !ok || pos.SecurityID == "" || brokerSecurityID == "" {
		return false
	}
	return pos.SecurityID != brokerSecurityID
}

// Get returns a snapshot of the open position with the given pos_id.
func (s *Store) Get(posID string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.byPosID[posID]
	if !ok {
		return Position{}, false
	}
	return pos.Snapshot(), true
}

// GetBySymbol returns the open position for symbol, if any.
func (s *Store) GetBySymbol(symbol string) (Position, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	posID, ok := s.bySymbol[symbol]
	if !ok {
		return Position{}, false
	}
	return s.byPosID[posID].Snapshot(), true
}

// List returns snapshots of every currently open position.
func (s *Store) List() []Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Position, 0, len(s.byPosID))
	for _, pos := range s.byPosID {
		out = append(out, pos.Snapshot())
	}
	return out
}

// Len returns the number of currently open positions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPosID)
}

// HasOpen reports whether any position is currently open.
func (s *Store) HasOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byPosID) > 0
}

// SetSinglePosition toggles strict single-position mode: while enabled,
// Open rejects as long as any position is open, regardless of symbol.
func (s *Store) SetSinglePosition(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.single = enabled
}

// DetectBrokerMismatch compares the registry's open symbols against a set
// reported by the broker and returns symbols present on one side only.
func (s *Store) DetectBrokerMismatch(brokerSymbols map[string]bool) (onlyLocal, onlyBroker []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sym := range s.bySymbol {
		if !brokerSymbols[sym] {
			onlyLocal = append(onlyLocal, sym)
		}
	}
	for sym := range brokerSymbols {
		if _, ok := s.bySymbol[sym]; !ok {
			onlyBroker = append(onlyBroker, sym)
		}
	}
	return onlyLocal, onlyBroker
}
