// Package broker - paper.go is an in-memory Broker for dry runs and
// tests: market orders fill immediately at the requested price, stop
// orders rest until cancelled. It tracks net intraday quantity per
// security id so a reversing order flattens rather than accumulates,
// which is how the execution core's exit path expects a broker to
// behave.
package broker

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// PaperBroker simulates the order lifecycle without an exchange.
type PaperBroker struct {
	mu     sync.Mutex
	orders map[string]*paperOrder
	net    map[string]int // security id -> net signed quantity
	nextID int
}

type paperOrder struct {
	Order    Order
	Response OrderStatusResponse
}

// NewPaperBroker creates an empty paper broker.
func NewPaperBroker() *PaperBroker {
	return &PaperBroker{
		orders: make(map[string]*paperOrder),
		net:    make(map[string]int),
	}
}

// PlaceOrder fills market orders immediately at order.Price; stop orders
// rest as pending until cancelled.
func (pb *PaperBroker) PlaceOrder(_ context.Context, order Order) (*OrderResponse, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	if order.Quantity <= 0 {
		return &OrderResponse{
			Status:    OrderStatusRejected,
			Message:   "quantity must be positive",
			Timestamp: time.Now(),
		}, nil
	}

	pb.nextID++
	orderID := fmt.Sprintf("PAPER-%d", pb.nextID)
	key := order.SecurityID
	if key == "" {
		key = order.Symbol
	}

	if order.Type == OrderTypeSL || order.Type == OrderTypeSLM {
		pb.orders[orderID] = &paperOrder{
			Order: order,
			Response: OrderStatusResponse{
				OrderID:    orderID,
				Status:     OrderStatusPending,
				PendingQty: order.Quantity,
				Message:    "paper stop order resting",
				Timestamp:  time.Now(),
			},
		}
		return &OrderResponse{
			OrderID:   orderID,
			Status:    OrderStatusPending,
			Message:   "paper stop order resting",
			Timestamp: time.Now(),
		}, nil
	}

	delta := order.Quantity
	if order.Side == OrderSideSell {
		delta = -delta
	}
	pb.net[key] += delta
	if pb.net[key] == 0 {
		delete(pb.net, key)
	}

	pb.orders[orderID] = &paperOrder{
		Order: order,
		Response: OrderStatusResponse{
			OrderID:      orderID,
			Status:       OrderStatusCompleted,
			FilledQty:    order.Quantity,
			AveragePrice: order.Price,
			Message:      "paper fill",
			Timestamp:    time.Now(),
		},
	}

	return &OrderResponse{
		OrderID:   orderID,
		Status:    OrderStatusCompleted,
		Message:   "paper order filled",
		Timestamp: time.Now(),
		Raw: map[string]any{
			"filled_quantity": order.Quantity,
			"avg_price":       order.Price,
		},
	}, nil
}

// CancelOrder cancels a resting order. Completed orders cannot be
// cancelled.
func (pb *PaperBroker) CancelOrder(_ context.Context, orderID string) error {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	po, exists := pb.orders[orderID]
	if !exists {
		return fmt.Errorf("paper broker: order %s not found", orderID)
	}
	if po.Response.Status == OrderStatusCompleted {
		return fmt.Errorf("paper broker: order %s already completed", orderID)
	}

	po.Response.Status = OrderStatusCancelled
	po.Response.PendingQty = 0
	return nil
}

// GetOrderStatus returns the recorded state of an order.
func (pb *PaperBroker) GetOrderStatus(_ context.Context, orderID string) (*OrderStatusResponse, error) {
	pb.mu.Lock()
	defer pb.mu.Unlock()

	po, exists := pb.orders[orderID]
	if !exists {
		return nil, fmt.Errorf("paper broker: order %s not found", orderID)
	}

	resp := po.Response
	return &resp, nil
}

// NetQuantity reports the net signed quantity for a security id, for
// tests and reconciliation checks.
func (pb *PaperBroker) NetQuantity(securityID string) int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.net[securityID]
}
