// Package feed - poller.go drives the broker quote loop: every poll
// interval it fetches each watchlist index's spot LTP and option chain,
// persists the chain snapshot, and republishes the spot and per-option
// LTPs as ticks on the event bus (index name for spot, "SEC_<id>" for
// option legs).
package feed

import (
	"context"
	"encoding/json"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/candle"
	"github.com/indexopts/engine/internal/config"
)

// TopicTick is the bus topic ticks are republished on.
const TopicTick = "TICK"

// ChainStore is the persistence capability the poller needs for option
// chains.
type ChainStore interface {
	UpsertOptionChain(ctx context.Context, index, expiry string, payload json.RawMessage) error
}

// Poller polls the broker's quote API and republishes ticks.
type Poller struct {
	interval  time.Duration
	watchlist config.Watchlist
	provider  QuoteProvider
	bus       *bus.Bus
	cache     *QuoteCache
	chains    ChainStore
	logger    *log.Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewPoller wires a poller. chains may be nil to skip chain persistence,
// cache may be nil to skip the read-API quote cache.
func NewPoller(interval time.Duration, wl config.Watchlist, provider QuoteProvider, b *bus.Bus, cache *QuoteCache, chains ChainStore, logger *log.Logger) *Poller {
	return &Poller{
		interval:  interval,
		watchlist: wl,
		provider:  provider,
		bus:       b,
		cache:     cache,
		chains:    chains,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

func (p *Poller) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf("[feed] "+format, args...)
	}
}

// Start launches the poll loop on its own goroutine. It returns
// immediately; Stop (or ctx cancellation) ends the loop.
func (p *Poller) Start(ctx context.Context) {
	go p.loop(ctx)
}

// SetWatchlist swaps the index set polled from the next cycle on, for
// watchlist hot reload.
func (p *Poller) SetWatchlist(wl config.Watchlist) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.watchlist = wl
}

func (p *Poller) currentWatchlist() config.Watchlist {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.watchlist
}

// Stop ends the poll loop. Safe to call multiple times.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.stopped {
		p.stopped = true
		close(p.done)
	}
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logf("poll loop started, interval=%s, %d indices", p.interval, len(p.currentWatchlist().Indices))
	for {
		select {
		case <-ctx.Done():
			p.logf("poll loop stopped")
			return
		case <-p.done:
			p.logf("poll loop stopped")
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single poll cycle over the whole watchlist. Errors
// are contained per index so one failing underlying never starves the
// others.
func (p *Poller) RunOnce(ctx context.Context) {
	now := time.Now()
	for _, idx := range p.currentWatchlist().Indices {
		if ctx.Err() != nil {
			return
		}
		if err := p.pollIndex(ctx, idx, now); err != nil {
			p.logf("poll %s: %v", idx.Name, err)
		}
	}
}

func (p *Poller) pollIndex(ctx context.Context, idx config.IndexEntry, now time.Time) error {
	// Spot LTP.
	quotes, err := p.provider.LTP(ctx, map[string][]int{idx.ExchangeSegment: {idx.SecurityID}})
	if err != nil {
		return err
	}
	if ltp, ok := quotes[idx.ExchangeSegment][idx.SecurityID]; ok {
		p.publishTick(idx.Name, ltp, now)
	}

	// Option chain snapshot.
	chain, err := p.provider.OptionChain(ctx, idx.SecurityID, idx.ExchangeSegment)
	if err != nil {
		// Chain fetch failures are common off-hours; spot ticks above
		// were still published.
		p.logf("option chain %s: %v", idx.Name, err)
		return nil
	}
	if p.chains != nil && len(chain.Chain) > 0 {
		payload, err := json.Marshal(chain.Chain)
		if err == nil {
			if err := p.chains.UpsertOptionChain(ctx, idx.Name, chain.Expiry, payload); err != nil {
				p.logf("persist option chain %s/%s: %v", idx.Name, chain.Expiry, err)
			}
		}
	}

	// Batch-quote the chain's option legs on the derivatives segment.
	secIDs := ExtractSecurityIDs(chain.Chain)
	if len(secIDs) == 0 || idx.FnoSegment == "" {
		return nil
	}
	optQuotes, err := p.provider.LTP(ctx, map[string][]int{idx.FnoSegment: secIDs})
	if err != nil {
		p.logf("option quotes %s: %v", idx.Name, err)
		return nil
	}
	for id, ltp := range optQuotes[idx.FnoSegment] {
		p.publishTick(secSymbol(id), ltp, now)
	}
	return nil
}

// secSymbol is the tick symbol an option leg's LTP is published under.
func secSymbol(id int) string {
	return "SEC_" + strconv.Itoa(id)
}

func (p *Poller) publishTick(symbol string, ltp float64, now time.Time) {
	if p.cache != nil {
		p.cache.Set(symbol, ltp, now)
	}
	if p.bus != nil {
		p.bus.Publish(TopicTick, candle.Tick{Symbol: symbol, LTP: ltp, Ts: now})
	}
}
