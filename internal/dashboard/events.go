// Package dashboard - events.go bridges Postgres NOTIFY to the
// websocket broadcaster. A trigger on the trades table (installed by
// cmd/dashboard) emits the inserted/updated row as JSON on the
// trade_events channel; every journal write the execution core makes
// therefore reaches connected dashboards without polling.
package dashboard

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/lib/pq"
)

// trade_events is emitted by the trades-table trigger; order_events is
// reserved for future emitters.
var channels = []string{"trade_events", "order_events"}

// EventListener subscribes to the pipeline's Postgres notify channels
// and forwards each notification to the broadcaster.
type EventListener struct {
	dbURL       string
	logger      *log.Logger
	broadcaster *Broadcaster
	shutdown    chan struct{}
}

// NewEventListener creates a listener; Start begins the loop.
func NewEventListener(dbURL string, broadcaster *Broadcaster, logger *log.Logger) *EventListener {
	return &EventListener{
		dbURL:       dbURL,
		logger:      logger,
		broadcaster: broadcaster,
		shutdown:    make(chan struct{}),
	}
}

// Start begins listening on its own goroutine.
func (el *EventListener) Start(ctx context.Context) {
	go el.listenLoop(ctx)
}

// Stop ends the listen loop.
func (el *EventListener) Stop() {
	close(el.shutdown)
}

func (el *EventListener) listenLoop(ctx context.Context) {
	defer el.logger.Println("[dashboard] event listener stopped")

	minRetry := 100 * time.Millisecond
	maxRetry := 10 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
		}

		listener := pq.NewListener(el.dbURL, minRetry, maxRetry, func(ev pq.ListenerEventType, err error) {
			if err != nil {
				el.logger.Printf("[dashboard] listener event: %v", err)
			}
		})

		if err := el.subscribe(listener); err != nil {
			el.logger.Printf("[dashboard] subscribe failed: %v", err)
			listener.Close()
			time.Sleep(maxRetry)
			continue
		}

		if err := el.handleNotifications(ctx, listener); err != nil && ctx.Err() == nil {
			el.logger.Printf("[dashboard] notification loop: %v", err)
		}
		listener.Close()

		select {
		case <-ctx.Done():
			return
		case <-el.shutdown:
			return
		default:
			time.Sleep(minRetry)
		}
	}
}

func (el *EventListener) subscribe(listener *pq.Listener) error {
	for _, ch := range channels {
		if err := listener.Listen(ch); err != nil {
			return err
		}
		el.logger.Printf("[dashboard] listening on channel %q", ch)
	}
	return nil
}

func (el *EventListener) handleNotifications(ctx context.Context, listener *pq.Listener) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-el.shutdown:
			return nil
		case n := <-listener.Notify:
			if n == nil {
				// Connection lost; the outer loop reconnects.
				return nil
			}

			// The trigger payload is the row as JSON; pass it through
			// decoded so clients don't double-parse.
			var data any
			if err := json.Unmarshal([]byte(n.Extra), &data); err != nil {
				data = n.Extra
			}
			el.broadcaster.Broadcast(Event{Type: n.Channel, Data: data})
		}
	}
}
