// Package market implements the MarketClock: the open/closed predicate
// the execution engine consults before deciding whether an order can be
// expected to fill immediately, and that gates simulated fills to
// off-market hours.
//
// The answer comes purely from weekday + time-of-day in the exchange's
// wall clock (IST); on any doubt the clock reports closed rather than
// letting the caller assume the market is open.
package market

import (
	"fmt"
	"time"
)

// IST is the exchange's wall-clock timezone (UTC+05:30).
var IST *time.Location

func init() {
	var err error
	IST, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		panic(fmt.Sprintf("market: failed to load IST timezone: %v", err))
	}
}

// NSE trading hours (IST).
const (
	MarketOpenHour  = 9
	MarketOpenMin   = 15
	MarketCloseHour = 15
	MarketCloseMin  = 30
)

// Clock answers whether the market is open right now.
type Clock interface {
	IsOpen(now time.Time) bool
}

// simpleClock is the IST-weekday-and-hours predicate.
type simpleClock struct{}

// NewClock returns the weekday + 09:15–15:30 IST predicate.
func NewClock() Clock {
	return simpleClock{}
}

func (simpleClock) IsOpen(now time.Time) bool {
	ist := now.In(IST)

	switch ist.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}

	open := time.Date(ist.Year(), ist.Month(), ist.Day(), MarketOpenHour, MarketOpenMin, 0, 0, IST)
	closeT := time.Date(ist.Year(), ist.Month(), ist.Day(), MarketCloseHour, MarketCloseMin, 0, 0, IST)

	return !ist.Before(open) && !ist.After(closeT)
}
