// Package broker - dhan.go implements the Broker contract against Dhan's
// v2 order API.
//
//   - Base URL: https://api.dhan.co/v2
//   - Auth: access-token header (JWT, 24h validity)
//   - Orders: POST/GET/DELETE /v2/orders
//   - Rate limit: 10 orders/sec, 250/min
//   - Static IP whitelisting required for order APIs
//
// Responses are decoded into generic maps and read permissively, the
// same stance the rest of the pipeline takes toward broker payloads:
// field spellings drift between Dhan endpoints and postbacks, so nothing
// here trusts a single key. Orders carry the instrument's numeric
// security id directly; a ticker-to-securityId file is supported as a
// fallback for callers that only know the symbol.
package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

// dhanOrderInterval paces order calls under the 10 req/sec limit.
const dhanOrderInterval = 110 * time.Millisecond

// DhanConfig holds Dhan-specific API configuration.
type DhanConfig struct {
	ClientID       string `json:"client_id"`
	AccessToken    string `json:"access_token"`
	BaseURL        string `json:"base_url"`
	InstrumentFile string `json:"instrument_file"`
}

// DhanBroker implements Broker for Dhan.
type DhanBroker struct {
	config      DhanConfig
	client      *http.Client
	instruments map[string]string // ticker -> securityId fallback

	rateMu      sync.Mutex
	lastRequest time.Time
}

// NewDhanBroker creates a Dhan broker instance from JSON config.
func NewDhanBroker(configJSON []byte) (Broker, error) {
	var cfg DhanConfig
	if err := json.Unmarshal(configJSON, &cfg); err != nil {
		return nil, fmt.Errorf("dhan broker: parse config: %w", err)
	}
	if cfg.AccessToken == "" {
		return nil, fmt.Errorf("dhan broker: access_token is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dhan.co"
	}

	b := &DhanBroker{
		config: cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}

	if cfg.InstrumentFile != "" {
		data, err := os.ReadFile(cfg.InstrumentFile)
		if err != nil {
			return nil, fmt.Errorf("dhan broker: load instruments %s: %w", cfg.InstrumentFile, err)
		}
		var file struct {
			Instruments map[string]string `json:"instruments"`
		}
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("dhan broker: parse instruments %s: %w", cfg.InstrumentFile, err)
		}
		b.instruments = file.Instruments
	}

	return b, nil
}

// resolveSecurityID returns the order's security id, falling back to the
// instrument map when only a symbol was provided.
func (d *DhanBroker) resolveSecurityID(order Order) (string, error) {
	if order.SecurityID != "" {
		return order.SecurityID, nil
	}
	if d.instruments == nil {
		return "", fmt.Errorf("order has no security_id and no instrument mapping is loaded")
	}
	id, ok := d.instruments[order.Symbol]
	if !ok {
		return "", fmt.Errorf("no securityId for symbol %q", order.Symbol)
	}
	return id, nil
}

// mapExchangeSegment converts the order's exchange to Dhan's segment
// enum. Values that already name a Dhan segment pass through.
func mapExchangeSegment(exchange string) string {
	switch exchange {
	case "NSE":
		return "NSE_EQ"
	case "BSE":
		return "BSE_EQ"
	case "NSE_FO", "NSE_FNO":
		return "NSE_FNO"
	case "BSE_FO", "BSE_FNO":
		return "BSE_FNO"
	default:
		if strings.Contains(exchange, "_") {
			return exchange
		}
		return "NSE_FNO"
	}
}

// mapOrderType converts OrderType to Dhan's enum.
func mapOrderType(ot OrderType) string {
	switch ot {
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeSL:
		return "STOP_LOSS"
	case OrderTypeSLM:
		return "STOP_LOSS_MARKET"
	default:
		return "MARKET"
	}
}

// mapDhanStatus converts Dhan order status to OrderStatus.
func mapDhanStatus(s string) OrderStatus {
	switch s {
	case "TRADED":
		return OrderStatusCompleted
	case "CANCELLED":
		return OrderStatusCancelled
	case "REJECTED":
		return OrderStatusRejected
	case "PART_TRADED", "TRIGGERED":
		return OrderStatusOpen
	default:
		return OrderStatusPending
	}
}

// throttle paces requests under Dhan's order-rate limit.
func (d *DhanBroker) throttle() {
	d.rateMu.Lock()
	defer d.rateMu.Unlock()
	if elapsed := time.Since(d.lastRequest); elapsed < dhanOrderInterval {
		time.Sleep(dhanOrderInterval - elapsed)
	}
	d.lastRequest = time.Now()
}

// doRequest makes an authenticated call and decodes the response body
// into a generic map. Dhan error envelopes become errors here so callers
// only ever see successful payloads.
func (d *DhanBroker) doRequest(ctx context.Context, method, path string, body any) (map[string]any, error) {
	d.throttle()

	var bodyReader io.Reader
	if body != nil {
		bodyJSON, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(bodyJSON)
	}

	req, err := http.NewRequestWithContext(ctx, method, d.config.BaseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("access-token", d.config.AccessToken)

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var raw map[string]any
	_ = json.Unmarshal(respBody, &raw)

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("authentication failed (401): access token may have expired")
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("rate limited (429): too many requests")
	case resp.StatusCode >= 400:
		if code := str(raw, "errorCode"); code != "" {
			return nil, fmt.Errorf("dhan API error %s (%s): %s", code, str(raw, "errorType"), str(raw, "errorMessage"))
		}
		return nil, fmt.Errorf("dhan API error %d: %s", resp.StatusCode, string(respBody))
	}

	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// PlaceOrder submits an order via POST /v2/orders.
func (d *DhanBroker) PlaceOrder(ctx context.Context, order Order) (*OrderResponse, error) {
	secID, err := d.resolveSecurityID(order)
	if err != nil {
		return nil, fmt.Errorf("dhan broker: %w", err)
	}

	product := order.Product
	if product == "" {
		product = "INTRADAY"
	}

	raw, err := d.doRequest(ctx, http.MethodPost, "/v2/orders", map[string]any{
		"dhanClientId":    d.config.ClientID,
		"correlationId":   order.Tag,
		"transactionType": string(order.Side),
		"exchangeSegment": mapExchangeSegment(order.Exchange),
		"productType":     product,
		"orderType":       mapOrderType(order.Type),
		"validity":        "DAY",
		"securityId":      secID,
		"quantity":        order.Quantity,
		"price":           order.Price,
		"triggerPrice":    order.TriggerPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("dhan broker PlaceOrder: %w", err)
	}

	return &OrderResponse{
		OrderID:   str(raw, "orderId", "order_id"),
		Status:    mapDhanStatus(str(raw, "orderStatus", "order_status")),
		Message:   fmt.Sprintf("order placed: %s %d sec=%s %s", order.Side, order.Quantity, secID, mapOrderType(order.Type)),
		Timestamp: time.Now(),
		Raw:       raw,
	}, nil
}

// GetOrderStatus checks order status via GET /v2/orders/{order-id}. Fill
// quantity and price come through the shared synonym normalizer since
// the detail endpoint and the postback spell them differently.
func (d *DhanBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatusResponse, error) {
	raw, err := d.doRequest(ctx, http.MethodGet, "/v2/orders/"+orderID, nil)
	if err != nil {
		return nil, fmt.Errorf("dhan broker GetOrderStatus: %w", err)
	}

	out := &OrderStatusResponse{
		OrderID:   str(raw, "orderId", "order_id"),
		Status:    mapDhanStatus(str(raw, "orderStatus", "order_status")),
		Timestamp: time.Now(),
		Raw:       raw,
	}
	if qty, price, ok := NormalizeFill(raw); ok {
		out.FilledQty = qty
		out.AveragePrice = price
	} else {
		if q, found := asInt(raw["filledQty"]); found {
			out.FilledQty = q
		}
		if p, found := asFloat(raw["averageTradedPrice"]); found {
			out.AveragePrice = p
		}
	}
	if q, found := asInt(raw["remainingQuantity"]); found {
		out.PendingQty = q
	}
	if desc := str(raw, "omsErrorDescription"); desc != "" {
		out.Message = fmt.Sprintf("%s: %s", str(raw, "omsErrorCode"), desc)
	}
	return out, nil
}

// CancelOrder cancels a pending order via DELETE /v2/orders/{order-id}.
func (d *DhanBroker) CancelOrder(ctx context.Context, orderID string) error {
	if _, err := d.doRequest(ctx, http.MethodDelete, "/v2/orders/"+orderID, nil); err != nil {
		return fmt.Errorf("dhan broker CancelOrder: %w", err)
	}
	return nil
}

// str pulls the first present, non-empty string among keys.
func str(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
