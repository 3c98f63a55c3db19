// Package execution implements the ExecutionEngine (C7): the component
// that turns ENTRY_SIGNAL/EXIT_SIGNAL events into broker orders, manages
// the two-level lock around every order attempt, and publishes the
// resulting ORDER_PLACED/ORDER_FILLED events back onto the bus. The
// ORDER_TIMEOUT payload is declared here too; internal/monitor publishes it.
package execution

import "time"

// EntrySignal is the ENTRY_SIGNAL event payload.
type EntrySignal struct {
	PosID           string // synthesized if empty
	Symbol          string
	SecurityID      string
	Side            string // "BUY" or "SELL"
	Quantity        int
	Price           float64
	ConfidenceScore *float64
	StopLossPoints  *float64
}

// ExitSignal is the EXIT_SIGNAL event payload.
type ExitSignal struct {
	PosID      string
	SecurityID string
	Price      float64
}

// OrderPlaced is published once an order has been sent (simulated or
// live) and is awaiting confirmation.
type OrderPlaced struct {
	PosID    string
	DBID     int64
	Status   string
	PlacedAt time.Time
}

// OrderFilled is published once a fill is detected, either immediately
// at placement time or by cmd/tierB when a broker postback reports one.
type OrderFilled struct {
	PosID       string
	DBID        int64
	FilledQty   int
	FilledPrice float64
	FilledAt    time.Time
}

// OrderTimeout is published by the pending monitor when an order has
// been outstanding longer than the configured timeout.
type OrderTimeout struct {
	PosID      string
	DBID       int64
	AgeSeconds float64
}

// OrderRejected describes a broker's outright rejection of an order. The
// engine journals rejections as "rejected" rows and publishes no event
// with this payload.
type OrderRejected struct {
	PosID   string
	DBID    int64
	Reason  string
}
