package strategy

import (
	"math"
	"testing"
	"time"
)

func flatCandles(n int, close float64, vol int64) []Candle {
	out := make([]Candle, n)
	base := time.Date(2026, 8, 3, 9, 15, 0, 0, time.UTC)
	for i := range out {
		out[i] = Candle{
			Symbol: "NIFTY",
			Date:   base.Add(time.Duration(i) * time.Minute),
			Open:   close, High: close, Low: close, Close: close,
			Volume: vol,
		}
	}
	return out
}

func TestATRFlatSeriesIsZero(t *testing.T) {
	candles := flatCandles(20, 100, 10)
	if got := ATR(candles, 14); got != 0 {
		t.Errorf("flat series should have ATR 0, got %v", got)
	}
}

func TestATRConstantRange(t *testing.T) {
	candles := flatCandles(20, 100, 10)
	for i := range candles {
		candles[i].High = 102
		candles[i].Low = 98
	}
	got := ATR(candles, 14)
	if math.Abs(got-4) > 1e-9 {
		t.Errorf("expected ATR 4 for constant 98-102 range, got %v", got)
	}
}

func TestATRInsufficientDataFallsBackToLastRange(t *testing.T) {
	candles := []Candle{{High: 105, Low: 99, Close: 100}}
	if got := ATR(candles, 14); got != 6 {
		t.Errorf("expected fallback to last range 6, got %v", got)
	}
}

func TestATREmptyOrBadPeriod(t *testing.T) {
	if got := ATR(nil, 14); got != 0 {
		t.Errorf("nil candles should give 0, got %v", got)
	}
	if got := ATR(flatCandles(5, 100, 1), 0); got != 0 {
		t.Errorf("zero period should give 0, got %v", got)
	}
}

func TestHighestHigh(t *testing.T) {
	candles := flatCandles(10, 100, 10)
	candles[3].High = 120
	candles[8].High = 110

	if got := HighestHigh(candles, 10); got != 120 {
		t.Errorf("expected 120 over full window, got %v", got)
	}
	// A window that excludes the 120 spike.
	if got := HighestHigh(candles, 5); got != 110 {
		t.Errorf("expected 110 over last 5 bars, got %v", got)
	}
	if got := HighestHigh(nil, 5); got != 0 {
		t.Errorf("expected 0 for no candles, got %v", got)
	}
}

func TestAverageVolume(t *testing.T) {
	candles := flatCandles(4, 100, 0)
	vols := []int64{10, 20, 30, 40}
	for i := range candles {
		candles[i].Volume = vols[i]
	}
	if got := AverageVolume(candles, 4); got != 25 {
		t.Errorf("expected 25, got %v", got)
	}
	if got := AverageVolume(candles, 2); got != 35 {
		t.Errorf("expected 35 over last 2, got %v", got)
	}
	if got := AverageVolume(nil, 4); got != 0 {
		t.Errorf("expected 0 for no candles, got %v", got)
	}
}
