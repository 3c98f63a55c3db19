// Package feed - client.go is the consumer side of the tick stream: it
// dials a Hub's websocket endpoint, decodes tick messages, and hands
// each one to a callback. The connection is retried with backoff for the
// life of the context, so a Tier A restart only costs the gap itself.
package feed

import (
	"context"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indexopts/engine/internal/candle"
)

// TickHandler receives each decoded tick.
type TickHandler func(candle.Tick)

// Client consumes a Hub's tick stream.
type Client struct {
	url     string
	onTick  TickHandler
	logger  *log.Logger
	backoff time.Duration
}

// NewClient creates a tick-stream client for url (ws:// or wss://).
func NewClient(url string, onTick TickHandler, logger *log.Logger) *Client {
	return &Client{
		url:     url,
		onTick:  onTick,
		logger:  logger,
		backoff: time.Second,
	}
}

func (c *Client) logf(format string, args ...any) {
	if c.logger != nil {
		c.logger.Printf("[feed-client] "+format, args...)
	}
}

// Start launches the read loop on its own goroutine. The loop reconnects
// on failure until ctx is cancelled.
func (c *Client) Start(ctx context.Context) {
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	delay := c.backoff
	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := c.connectAndRead(ctx); err != nil {
			c.logf("stream %s: %v, reconnecting in %s", c.url, err, delay)
		}
		if time.Since(start) > time.Minute {
			// The session was healthy; don't punish the reconnect.
			delay = c.backoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}
}

func (c *Client) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	defer ws.Close()
	c.logf("connected to %s", c.url)

	// Close the socket on cancellation so the blocking read returns.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			ws.Close()
		case <-done:
		}
	}()

	for {
		var msg tickMessage
		if err := ws.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if c.onTick != nil {
			c.onTick(candle.Tick{
				Symbol: msg.Symbol,
				LTP:    msg.LTP,
				Volume: msg.Volume,
				Ts:     time.Unix(msg.Ts, 0).UTC(),
			})
		}
	}
}
