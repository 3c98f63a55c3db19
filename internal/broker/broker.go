// Package broker defines the order-placement contract the execution
// core consumes: place an order, cancel it, ask what happened to it.
// Account state (funds, holdings) is deliberately outside the contract —
// the core tracks its own positions and the risk gate its own limits, so
// an adapter only has to speak the order lifecycle.
package broker

import (
	"context"
	"time"
)

// OrderSide represents buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderType represents the order type.
type OrderType string

const (
	OrderTypeLimit  OrderType = "LIMIT"
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeSL     OrderType = "SL"   // stop-loss limit
	OrderTypeSLM    OrderType = "SL-M" // stop-loss market
)

// OrderStatus represents the current state of an order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "PENDING"
	OrderStatusOpen      OrderStatus = "OPEN"
	OrderStatusCompleted OrderStatus = "COMPLETED"
	OrderStatusCancelled OrderStatus = "CANCELLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// Order is one order to be placed. SecurityID addresses the instrument
// directly (the normal path for option contracts); Symbol is a fallback
// for adapters that resolve tickers themselves.
type Order struct {
	SecurityID   string
	Symbol       string
	Exchange     string // exchange segment, e.g. "NSE_FNO"
	Side         OrderSide
	Type         OrderType
	Quantity     int
	Price        float64 // for limit orders
	TriggerPrice float64 // for stop-loss orders
	Product      string  // "INTRADAY"
	Tag          string  // pos_id correlation for postbacks
}

// OrderResponse is returned after placing an order.
type OrderResponse struct {
	OrderID   string
	Status    OrderStatus
	Message   string
	Timestamp time.Time

	// Raw carries the broker's original JSON payload, decoded into a
	// generic map, for callers that need to fall back to permissive
	// field-synonym parsing (see NormalizeFill) when the typed fields
	// above are absent.
	Raw map[string]any
}

// OrderStatusResponse provides the current state of an existing order.
type OrderStatusResponse struct {
	OrderID      string
	Status       OrderStatus
	FilledQty    int
	PendingQty   int
	AveragePrice float64
	Message      string
	Timestamp    time.Time

	Raw map[string]any
}

// Broker is the order-lifecycle contract between the execution core and
// any broker adapter. Implementations must be safe for concurrent use.
type Broker interface {
	// PlaceOrder submits a new order to the exchange.
	PlaceOrder(ctx context.Context, order Order) (*OrderResponse, error)

	// CancelOrder cancels an existing pending/open order.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrderStatus returns the current status of an order.
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error)
}
