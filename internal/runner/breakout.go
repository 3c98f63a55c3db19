// Package runner implements the StrategyRunner (C12): the collaborator
// that turns closed candles into ENTRY_SIGNAL/EXIT_SIGNAL events for the
// execution core.
//
// The entry/exit decision itself lives in internal/strategy (N-bar high
// breakout + volume confirmation + ATR-based stop). This package only
// wires candle history and position lookups into
// strategy.Strategy.Evaluate and republishes its verdict onto the
// execution core's topics; it holds no trading logic of its own.
package runner

import (
	"log"
	"sync"

	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/candle"
	"github.com/indexopts/engine/internal/execution"
	"github.com/indexopts/engine/internal/strategy"
)

// PositionLookup answers whether symbol currently has an open position,
// for strategies that branch on CurrentPosition.
type PositionLookup func(symbol string) *strategy.PositionInfo

// BreakoutRunner is the StrategyRunner (C12) for the index-options core.
// It subscribes to CANDLE_CLOSED, maintains a bounded per-symbol candle
// history, and evaluates a single strategy.Strategy on every close.
type BreakoutRunner struct {
	strat      strategy.Strategy
	positions  PositionLookup
	historyLen int
	capital    float64
	bus        *bus.Bus
	logger     *log.Logger

	mu      sync.Mutex
	history map[string][]strategy.Candle
}

// Config controls the runner's wiring.
type Config struct {
	Strategy         strategy.Strategy
	Positions        PositionLookup
	HistoryLen       int // default 120
	AvailableCapital float64
}

// New creates a BreakoutRunner and subscribes it to CANDLE_CLOSED on b.
func New(cfg Config, b *bus.Bus, logger *log.Logger) *BreakoutRunner {
	historyLen := cfg.HistoryLen
	if historyLen <= 0 {
		historyLen = 120
	}

	r := &BreakoutRunner{
		strat:      cfg.Strategy,
		positions:  cfg.Positions,
		historyLen: historyLen,
		capital:    cfg.AvailableCapital,
		bus:        b,
		logger:     logger,
		history:    make(map[string][]strategy.Candle),
	}

	b.Subscribe("CANDLE_CLOSED", func(payload any) {
		closed, ok := payload.(candle.Closed)
		if !ok {
			return
		}
		r.onCandleClosed(closed)
	})

	return r
}

func (r *BreakoutRunner) logf(format string, args ...any) {
	if r.logger != nil {
		r.logger.Printf("[strategy-runner] "+format, args...)
	}
}

func (r *BreakoutRunner) onCandleClosed(closed candle.Closed) {
	r.mu.Lock()
	hist := append(r.history[closed.Symbol], closed.Candle)
	if len(hist) > r.historyLen {
		hist = hist[len(hist)-r.historyLen:]
	}
	r.history[closed.Symbol] = hist
	histCopy := make([]strategy.Candle, len(hist))
	copy(histCopy, hist)
	r.mu.Unlock()

	var currentPos *strategy.PositionInfo
	if r.positions != nil {
		currentPos = r.positions(closed.Symbol)
	}

	input := strategy.StrategyInput{
		Now:              closed.Candle.Date,
		Symbol:           closed.Symbol,
		Candles:          histCopy,
		CurrentPosition:  currentPos,
		AvailableCapital: r.capital,
	}

	intent := r.strat.Evaluate(input)
	r.publish(closed.Symbol, intent)
}

func (r *BreakoutRunner) publish(symbol string, intent strategy.TradeIntent) {
	switch intent.Action {
	case strategy.ActionBuy, strategy.ActionSell:
		r.logf("%s: %s", symbol, intent.Reason)
		sig := execution.EntrySignal{
			Symbol:     symbol,
			SecurityID: symbol,
			Side:       string(intent.Action),
			Quantity:   intent.Quantity,
			Price:      intent.Price,
		}
		if intent.Confidence > 0 {
			c := intent.Confidence
			sig.ConfidenceScore = &c
		}
		if intent.StopLoss > 0 && intent.Price > intent.StopLoss {
			points := intent.Price - intent.StopLoss
			sig.StopLossPoints = &points
		}
		r.bus.Publish("ENTRY_SIGNAL", sig)
	case strategy.ActionExit:
		r.logf("%s: %s", symbol, intent.Reason)
		r.bus.Publish("EXIT_SIGNAL", execution.ExitSignal{
			SecurityID: symbol,
			Price:      intent.Price,
		})
	case strategy.ActionSkip, strategy.ActionHold:
		// Quiet candles stay quiet; logging every skip would flood.
	}
}
