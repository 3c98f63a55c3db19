// Package webhook receives Dhan order postbacks: the out-of-band
// confirmations that tell the execution core an order filled (or died)
// after the placement response already came back. The receiver maps the
// raw postback to a broker-agnostic OrderUpdate and hands it to
// registered callbacks; cmd/tierB's callback matches updates against the
// pending-order table and republishes terminal fills as ORDER_FILLED.
package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/indexopts/engine/internal/broker"
)

// Config holds webhook server settings.
type Config struct {
	Port    int    `json:"port"`
	Path    string `json:"path"` // default "/webhook/dhan/order"
	Enabled bool   `json:"enabled"`
}

// OrderUpdate is the broker-agnostic form of a postback. CorrelationID
// carries the pos_id the engine tagged the order with at placement.
type OrderUpdate struct {
	OrderID       string
	CorrelationID string
	SecurityID    string
	Symbol        string
	Status        broker.OrderStatus
	Side          string
	Quantity      int
	FilledQty     int
	PendingQty    int
	AveragePrice  float64
	ErrorCode     string
	ErrorMessage  string
	ReceivedAt    time.Time
}

// OrderUpdateHandler is called for every valid postback.
type OrderUpdateHandler func(update OrderUpdate)

// Server is the HTTP postback receiver.
type Server struct {
	cfg      Config
	logger   *log.Logger
	srv      *http.Server
	mu       sync.RWMutex
	handlers []OrderUpdateHandler
	updates  []OrderUpdate // ring buffer of recent updates, for operational visibility
}

// NewServer creates a webhook server; it does not listen until Start.
func NewServer(cfg Config, logger *log.Logger) *Server {
	return &Server{cfg: cfg, logger: logger}
}

// OnOrderUpdate registers a handler for every validated postback.
func (s *Server) OnOrderUpdate(h OrderUpdateHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// RecentUpdates returns a copy of the last n order updates.
func (s *Server) RecentUpdates(n int) []OrderUpdate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.updates) {
		n = len(s.updates)
	}
	out := make([]OrderUpdate, n)
	copy(out, s.updates[len(s.updates)-n:])
	return out
}

// Start begins listening. It returns immediately; the server runs on its
// own goroutine until Shutdown.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	path := s.cfg.Path
	if path == "" {
		path = "/webhook/dhan/order"
	}
	mux.HandleFunc(path, s.handlePostback)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, `{"status":"ok"}`)
	})

	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Printf("[webhook] starting server on %s%s", s.srv.Addr, path)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("[webhook] server error: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	s.logger.Println("[webhook] shutting down server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The postback is parsed permissively, like every other broker
	// payload in this pipeline: Dhan's docs, its REST responses, and
	// its postbacks do not agree on field spellings.
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		s.logger.Printf("[webhook] invalid JSON payload: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	update, err := parsePostback(raw)
	if err != nil {
		s.logger.Printf("[webhook] %v", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.logger.Printf("[webhook] postback: order=%s sec=%s status=%s filled=%d/%d price=%.2f",
		update.OrderID, update.SecurityID, update.Status, update.FilledQty, update.Quantity, update.AveragePrice)

	s.mu.Lock()
	s.updates = append(s.updates, update)
	if len(s.updates) > 100 {
		s.updates = s.updates[len(s.updates)-100:]
	}
	handlers := make([]OrderUpdateHandler, len(s.handlers))
	copy(handlers, s.handlers)
	s.mu.Unlock()

	for _, h := range handlers {
		h(update)
	}

	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, `{"received":true}`)
}

// parsePostback maps a raw Dhan postback to an OrderUpdate, accepting
// the field spellings Dhan is known to emit. A missing order id is the
// one hard error; everything else degrades to zero values.
func parsePostback(raw map[string]any) (OrderUpdate, error) {
	orderID := str(raw, "orderId", "order_id")
	if orderID == "" {
		return OrderUpdate{}, fmt.Errorf("missing orderId in postback")
	}

	u := OrderUpdate{
		OrderID:       orderID,
		CorrelationID: str(raw, "correlationId", "correlation_id"),
		SecurityID:    str(raw, "securityId", "security_id"),
		Symbol:        str(raw, "tradingSymbol", "trading_symbol"),
		Status:        mapDhanPostbackStatus(str(raw, "orderStatus", "order_status")),
		Side:          str(raw, "transactionType", "transaction_type"),
		ErrorCode:     str(raw, "omsErrorCode"),
		ErrorMessage:  str(raw, "omsErrorDescription"),
		ReceivedAt:    time.Now(),
	}
	u.Quantity = intField(raw, "quantity")
	u.PendingQty = intField(raw, "remainingQuantity", "remaining_quantity")

	if qty, price, ok := broker.NormalizeFill(raw); ok {
		u.FilledQty = qty
		u.AveragePrice = price
	} else {
		u.FilledQty = intField(raw, "filled_qty", "filledQty", "filled_quantity")
		u.AveragePrice = floatField(raw, "averageTradedPrice", "avg_price", "avgPrice")
	}
	return u, nil
}

func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func intField(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		if f, ok := raw[k].(float64); ok {
			return int(f)
		}
	}
	return 0
}

func floatField(raw map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if f, ok := raw[k].(float64); ok {
			return f
		}
	}
	return 0
}

// mapDhanPostbackStatus converts Dhan's orderStatus string to the
// broker-agnostic OrderStatus enum. EXPIRED collapses into CANCELLED:
// both mean the order died without trading.
func mapDhanPostbackStatus(s string) broker.OrderStatus {
	switch s {
	case "TRADED":
		return broker.OrderStatusCompleted
	case "CANCELLED", "EXPIRED":
		return broker.OrderStatusCancelled
	case "REJECTED":
		return broker.OrderStatusRejected
	case "PENDING", "TRANSIT":
		return broker.OrderStatusPending
	case "PART_TRADED", "TRIGGERED":
		return broker.OrderStatusOpen
	default:
		return broker.OrderStatusPending
	}
}
