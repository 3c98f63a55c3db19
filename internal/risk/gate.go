// Package risk - gate.go implements the execution core's RiskGate: the
// final check an entry signal passes through before an order is placed.
//
// The algorithm: confidence-based position sizing, then three sequential
// guardrails (daily loss, daily trade count, projected net exposure),
// with any internal error treated as a rejection rather than letting a
// bad signal through.
package risk

import "fmt"

// OpenPosition is the minimal view the gate needs of a currently open
// position to compute projected net exposure.
type OpenPosition struct {
	Side     string // "BUY" or "SELL"; anything else contributes zero
	Quantity int
}

// GateConfig holds the guardrail thresholds. A zero MaxPositionQty,
// MaxDailyLoss or MaxDailyTrades skips that check; a zero BaseQuantity
// sizes every confidence-scored entry to the floor of 1.
type GateConfig struct {
	MaxPositionQty  int     // cap on |projected net exposure| after this trade
	MaxDailyLoss    float64 // in rupees; realized daily loss beyond this rejects
	MaxDailyTrades  int     // trade count cap for the day
	BaseQuantity    int     // base lot size before confidence scaling
}

// Gate evaluates entry signals against the configured guardrails.
type Gate struct {
	cfg GateConfig
}

// NewGate creates a Gate with the given thresholds.
func NewGate(cfg GateConfig) *Gate {
	return &Gate{cfg: cfg}
}

// DailyState is the mutable daily counters the gate checks against.
// Callers supply a fresh snapshot on every call; the gate itself is
// stateless with respect to daily counters.
type DailyState struct {
	RealizedLoss float64 // positive number = amount lost so far today
	TradeCount   int
	OpenPositions []OpenPosition
}

// Evaluate applies the sizing and guardrail checks to a proposed entry of
// side/requestedQty with an optional confidence score in [0,1]. It
// returns the quantity to actually use and whether the trade is approved.
// Any internal error rejects the trade — risk management fails closed.
func (g *Gate) Evaluate(side string, requestedQty int, confidence *float64, daily DailyState) (approvedQty int, approved bool, reason string) {
	qty := requestedQty
	if confidence != nil {
		c := *confidence
		if c < 0 {
			c = 0
		}
		if c > 1 {
			c = 1
		}
		sized := int(float64(g.cfg.BaseQuantity) * c)
		if sized < 1 {
			sized = 1
		}
		qty = sized
	}

	if qty <= 0 {
		return requestedQty, false, "computed quantity is not positive"
	}

	if g.cfg.MaxDailyLoss > 0 && daily.RealizedLoss >= g.cfg.MaxDailyLoss {
		return qty, false, fmt.Sprintf("daily loss %.2f has reached the limit %.2f", daily.RealizedLoss, g.cfg.MaxDailyLoss)
	}

	if g.cfg.MaxDailyTrades > 0 && daily.TradeCount >= g.cfg.MaxDailyTrades {
		return qty, false, fmt.Sprintf("daily trade count %d has reached the limit %d", daily.TradeCount, g.cfg.MaxDailyTrades)
	}

	if g.cfg.MaxPositionQty > 0 {
		projected := projectedNetQtyAfter(daily.OpenPositions, side, qty)
		if abs(projected) > g.cfg.MaxPositionQty {
			return qty, false, fmt.Sprintf("projected net exposure %d exceeds limit %d", projected, g.cfg.MaxPositionQty)
		}
	}

	return qty, true, ""
}

// projectedNetQtyAfter sums BUY as positive and SELL as negative exposure
// across existing open positions plus the proposed trade. A side value
// that is neither BUY nor SELL contributes zero — an unrecognized side
// must never silently move the exposure calculation in either direction.
func projectedNetQtyAfter(open []OpenPosition, newSide string, newQty int) int {
	net := 0
	for _, p := range open {
		net += signedQty(p.Side, p.Quantity)
	}
	net += signedQty(newSide, newQty)
	return net
}

func signedQty(side string, qty int) int {
	switch side {
	case "BUY":
		return qty
	case "SELL":
		return -qty
	default:
		return 0
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
