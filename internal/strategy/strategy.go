// Package strategy holds the intraday decision layer: pure functions
// from a window of minute candles to a trade intent. Strategies are
// stateless and deterministic; they never place orders themselves — the
// runner republishes their intents as entry/exit signals and the
// execution core's risk gate has the final word.
package strategy

import (
	"time"
)

// TradeAction is what a strategy wants to do with a symbol.
type TradeAction string

const (
	ActionBuy  TradeAction = "BUY"
	ActionSell TradeAction = "SELL"
	ActionExit TradeAction = "EXIT"
	ActionHold TradeAction = "HOLD"
	ActionSkip TradeAction = "SKIP"
)

// Candle is a single OHLCV bar. The aggregator produces one per minute
// per symbol; Date is the bar's bucket start.
type Candle struct {
	Symbol string
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// PositionInfo is the view of an open position a strategy needs to
// decide between holding and exiting.
type PositionInfo struct {
	Symbol     string
	EntryPrice float64
	Quantity   int
	StopLoss   float64
	EntryTime  time.Time
}

// StrategyInput is the complete input bundle for one evaluation: the
// symbol's recent minute bars (most recent last), its open position if
// any, and the capital available for sizing.
type StrategyInput struct {
	Now              time.Time
	Symbol           string
	Candles          []Candle
	CurrentPosition  *PositionInfo
	AvailableCapital float64
}

// TradeIntent is a strategy's verdict. It is not an order: the runner
// turns Buy/Sell/Exit intents into bus signals, and the risk gate may
// still reject or resize them.
type TradeIntent struct {
	StrategyID string
	SignalID   string
	Symbol     string
	Action     TradeAction
	Price      float64
	StopLoss   float64
	Quantity   int

	// Confidence in [0,1] feeds the risk gate's confidence-weighted
	// sizing. Zero means "no opinion"; the gate then uses the
	// requested quantity as-is.
	Confidence float64

	// Reason explains the decision, for logs and the journal.
	Reason string
}

// Strategy is a pure decision engine: same input, same output, no side
// effects.
type Strategy interface {
	ID() string
	Name() string
	Evaluate(input StrategyInput) TradeIntent
}
