// Package strategy - breakout.go is the intraday breakout strategy the
// pipeline runs over aggregated minute candles.
//
// Entry: the latest close breaks above the highest high of the prior N
// bars, on volume above a multiple of the recent average. The stop sits
// an ATR multiple below the breakout level; confidence scales with how
// far past the level price has pushed, so stronger breakouts size
// larger through the risk gate.
//
// Exit: the close falls to or below the recorded stop, or below the
// entry price (a failed breakout). Everything else holds.
package strategy

import "fmt"

// BreakoutConfig tunes the breakout rules. Zero values fall back to the
// defaults noted per field.
type BreakoutConfig struct {
	HighLookback       int     // bars forming the resistance level; default 20
	VolumeMultiplier   float64 // entry volume vs average; default 1.5
	ATRPeriod          int     // default 14
	ATRStopMultiplier  float64 // stop distance below breakout level; default 1.5
	MinHistory         int     // bars required before trading; default 30
	LotSize            int     // contracts per order when not risk-sizing; default 1
	MaxRiskPerTradePct float64 // % of available capital risked when > 0
}

func (c BreakoutConfig) withDefaults() BreakoutConfig {
	if c.HighLookback <= 0 {
		c.HighLookback = 20
	}
	if c.VolumeMultiplier <= 0 {
		c.VolumeMultiplier = 1.5
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.ATRStopMultiplier <= 0 {
		c.ATRStopMultiplier = 1.5
	}
	if c.MinHistory <= 0 {
		c.MinHistory = 30
	}
	if c.LotSize <= 0 {
		c.LotSize = 1
	}
	return c
}

// BreakoutStrategy implements Strategy for intraday minute bars.
type BreakoutStrategy struct {
	cfg BreakoutConfig
}

// NewBreakoutStrategy creates the strategy with cfg's zero values filled
// from the defaults.
func NewBreakoutStrategy(cfg BreakoutConfig) *BreakoutStrategy {
	return &BreakoutStrategy{cfg: cfg.withDefaults()}
}

func (s *BreakoutStrategy) ID() string   { return "breakout_intraday_v1" }
func (s *BreakoutStrategy) Name() string { return "Intraday Breakout" }

// Evaluate applies the breakout rules to one symbol's candle window.
func (s *BreakoutStrategy) Evaluate(input StrategyInput) TradeIntent {
	intent := TradeIntent{
		StrategyID: s.ID(),
		SignalID:   fmt.Sprintf("%s-%s-%d", s.ID(), input.Symbol, input.Now.Unix()),
		Symbol:     input.Symbol,
	}

	if input.CurrentPosition != nil {
		return s.evaluateExit(input, intent)
	}
	return s.evaluateEntry(input, intent)
}

func (s *BreakoutStrategy) evaluateEntry(input StrategyInput, intent TradeIntent) TradeIntent {
	if len(input.Candles) < s.cfg.MinHistory {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("insufficient history: %d < %d bars", len(input.Candles), s.cfg.MinHistory)
		return intent
	}

	last := input.Candles[len(input.Candles)-1]
	prior := input.Candles[:len(input.Candles)-1]

	// The breakout level excludes the breakout bar itself.
	resistance := HighestHigh(prior, s.cfg.HighLookback)
	if last.Close <= resistance {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("close %.2f <= %d-bar high %.2f", last.Close, s.cfg.HighLookback, resistance)
		return intent
	}

	avgVol := AverageVolume(prior, s.cfg.HighLookback)
	if avgVol > 0 && float64(last.Volume) < avgVol*s.cfg.VolumeMultiplier {
		intent.Action = ActionSkip
		intent.Reason = fmt.Sprintf("volume %d below %.1fx average %.0f", last.Volume, s.cfg.VolumeMultiplier, avgVol)
		return intent
	}

	atr := ATR(input.Candles, s.cfg.ATRPeriod)
	stop := resistance - atr*s.cfg.ATRStopMultiplier

	qty := s.cfg.LotSize
	if s.cfg.MaxRiskPerTradePct > 0 && input.AvailableCapital > 0 {
		riskPerUnit := last.Close - stop
		if riskPerUnit > 0 {
			maxRisk := input.AvailableCapital * s.cfg.MaxRiskPerTradePct / 100.0
			if sized := int(maxRisk / riskPerUnit); sized > 0 {
				qty = sized
			}
		}
	}

	// Confidence grows with the push past the level, measured in ATRs,
	// saturating at one full ATR.
	confidence := 1.0
	if atr > 0 {
		confidence = (last.Close - resistance) / atr
		if confidence > 1 {
			confidence = 1
		}
	}

	intent.Action = ActionBuy
	intent.Price = last.Close
	intent.StopLoss = stop
	intent.Quantity = qty
	intent.Confidence = confidence
	intent.Reason = fmt.Sprintf("breakout: close=%.2f > %d-bar high=%.2f vol=%d avg=%.0f atr=%.2f stop=%.2f",
		last.Close, s.cfg.HighLookback, resistance, last.Volume, avgVol, atr, stop)
	return intent
}

func (s *BreakoutStrategy) evaluateExit(input StrategyInput, intent TradeIntent) TradeIntent {
	pos := input.CurrentPosition
	if len(input.Candles) == 0 {
		intent.Action = ActionHold
		intent.Reason = "no candles yet for open position"
		return intent
	}
	last := input.Candles[len(input.Candles)-1]

	if pos.StopLoss > 0 && last.Close <= pos.StopLoss {
		intent.Action = ActionExit
		intent.Price = last.Close
		intent.Quantity = pos.Quantity
		intent.Reason = fmt.Sprintf("stop hit: close %.2f <= stop %.2f", last.Close, pos.StopLoss)
		return intent
	}

	if pos.EntryPrice > 0 && last.Close < pos.EntryPrice {
		intent.Action = ActionExit
		intent.Price = last.Close
		intent.Quantity = pos.Quantity
		intent.Reason = fmt.Sprintf("failed breakout: close %.2f below entry %.2f", last.Close, pos.EntryPrice)
		return intent
	}

	intent.Action = ActionHold
	intent.Reason = fmt.Sprintf("holding: close %.2f above entry %.2f", last.Close, pos.EntryPrice)
	return intent
}
