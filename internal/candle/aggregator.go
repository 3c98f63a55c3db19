// Package candle implements the CandleAggregator (C11): a collaborator
// that buckets a tick stream into per-minute OHLC candles, keyed by
// symbol, and republishes each closed candle onto the event bus for
// Tier B's strategy runner to consume.
//
// Ticks arrive from the in-process event bus; closed candles are
// persisted through an upsert-style Persister and republished as
// CANDLE_CLOSED. Open buckets are flushed on shutdown so the last
// partial minute is never dropped.
package candle

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/strategy"
)

// Tick is a last-traded-price update for a symbol.
type Tick struct {
	Symbol string
	LTP    float64
	Volume int64 // cumulative or per-tick traded quantity, broker-dependent
	Ts     time.Time
}

// Closed is published on the bus when a minute bucket rolls over.
type Closed struct {
	Symbol string
	Candle strategy.Candle
}

// Persister is the subset of storage the aggregator depends on to persist
// closed candles. Failures are logged, never fatal: the in-memory candle
// state and the bus republish proceed regardless.
type Persister interface {
	SaveCandles(ctx context.Context, candles []strategy.Candle) error
}

// Aggregator buckets ticks into per-minute OHLC candles per symbol.
type Aggregator struct {
	mu      sync.Mutex
	open    map[string]*strategy.Candle
	persist Persister
	bus     *bus.Bus
	logger  *log.Logger
}

// New creates an Aggregator. persist may be nil to skip persistence
// (e.g. in tests).
func New(b *bus.Bus, persist Persister, logger *log.Logger) *Aggregator {
	return &Aggregator{
		open:    make(map[string]*strategy.Candle),
		persist: persist,
		bus:     b,
		logger:  logger,
	}
}

func (a *Aggregator) logf(format string, args ...any) {
	if a.logger != nil {
		a.logger.Printf("[candle] "+format, args...)
	}
}

// minuteBucket truncates t to the start of its minute, in UTC.
func minuteBucket(t time.Time) time.Time {
	return t.UTC().Truncate(time.Minute)
}

// OnTick folds t into the current minute bucket for its symbol, closing
// and republishing the previous bucket if t belongs to a new minute.
func (a *Aggregator) OnTick(ctx context.Context, t Tick) {
	bucket := minuteBucket(t.Ts)

	a.mu.Lock()
	c, ok := a.open[t.Symbol]
	if !ok || !c.Date.Equal(bucket) {
		var toClose *strategy.Candle
		if ok {
			toClose = c
		}
		a.open[t.Symbol] = &strategy.Candle{
			Symbol: t.Symbol,
			Date:   bucket,
			Open:   t.LTP,
			High:   t.LTP,
			Low:    t.LTP,
			Close:  t.LTP,
			Volume: t.Volume,
		}
		a.mu.Unlock()
		if toClose != nil {
			a.closeCandle(ctx, *toClose)
		}
		return
	}

	if t.LTP > c.High {
		c.High = t.LTP
	}
	if t.LTP < c.Low {
		c.Low = t.LTP
	}
	c.Close = t.LTP
	c.Volume += t.Volume
	a.mu.Unlock()
}

func (a *Aggregator) closeCandle(ctx context.Context, c strategy.Candle) {
	if a.persist != nil {
		if err := a.persist.SaveCandles(ctx, []strategy.Candle{c}); err != nil {
			a.logf("persist candle %s@%s failed: %v", c.Symbol, c.Date, err)
		}
	}
	if a.bus != nil {
		a.bus.Publish("CANDLE_CLOSED", Closed{Symbol: c.Symbol, Candle: c})
	}
}

// Flush closes every currently open candle, regardless of whether its
// minute has elapsed. Called on shutdown so the last partial minute is
// not silently dropped — mirroring candle_builder.py's signal-triggered
// flush.
func (a *Aggregator) Flush(ctx context.Context) {
	a.mu.Lock()
	toClose := make([]strategy.Candle, 0, len(a.open))
	for sym, c := range a.open {
		toClose = append(toClose, *c)
		delete(a.open, sym)
	}
	a.mu.Unlock()

	for _, c := range toClose {
		a.closeCandle(ctx, c)
	}
	a.logf("flushed %d open candle(s) on shutdown", len(toClose))
}
