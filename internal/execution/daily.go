package execution

import (
	"sync"
	"time"

	"github.com/indexopts/engine/internal/market"
	"github.com/indexopts/engine/internal/risk"
)

// dailyCounters tracks the realized loss and trade count the risk gate
// needs, resetting automatically when the calendar day rolls over in IST.
type dailyCounters struct {
	mu           sync.Mutex
	date         string
	realizedLoss float64
	tradeCount   int
}

func newDailyCounters() *dailyCounters {
	return &dailyCounters{date: currentISTDate()}
}

// currentISTDate is the trading-day key: the counters roll over at the
// exchange's local midnight, keeping them aligned with the market clock.
func currentISTDate() string {
	return time.Now().In(market.IST).Format("2006-01-02")
}

func (d *dailyCounters) rolloverIfNeeded() {
	today := currentISTDate()
	if d.date != today {
		d.date = today
		d.realizedLoss = 0
		d.tradeCount = 0
	}
}

func (d *dailyCounters) recordTradeOpened() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverIfNeeded()
	d.tradeCount++
}

func (d *dailyCounters) recordRealizedPnL(pnl float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverIfNeeded()
	if pnl < 0 {
		d.realizedLoss += -pnl
	}
}

func (d *dailyCounters) snapshot(open []risk.OpenPosition) risk.DailyState {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rolloverIfNeeded()
	return risk.DailyState{
		RealizedLoss:  d.realizedLoss,
		TradeCount:    d.tradeCount,
		OpenPositions: open,
	}
}
