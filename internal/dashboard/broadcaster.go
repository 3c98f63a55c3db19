// Package dashboard is the pipeline's operational viewing surface: a
// websocket broadcaster that fans journal events out to connected
// dashboards, fed by a Postgres LISTEN/NOTIFY bridge on the trades
// table. It observes the execution core; it never feeds anything back
// into it.
package dashboard

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event is the envelope every dashboard client receives.
type Event struct {
	Type      string `json:"type"` // the notify channel, e.g. "trade_events"
	Data      any    `json:"data"`
	Timestamp string `json:"timestamp"` // RFC3339
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Broadcaster fans events out to connected websocket clients. Slow
// clients are skipped for a message rather than waited on.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]bool
	logger  *log.Logger
}

type client struct {
	send chan Event
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]bool),
		logger:  logger,
	}
}

func (b *Broadcaster) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf("[dashboard] "+format, args...)
	}
}

// Broadcast sends ev to every connected client.
func (b *Broadcaster) Broadcast(ev Event) {
	if ev.Timestamp == "" {
		ev.Timestamp = time.Now().Format(time.RFC3339)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for c := range b.clients {
		select {
		case c.send <- ev:
		default:
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP upgrades the request to a websocket and streams events until
// the peer disconnects.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logf("upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	c := &client{send: make(chan Event, 256)}
	b.mu.Lock()
	b.clients[c] = true
	b.mu.Unlock()
	b.logf("client connected from %s (total %d)", r.RemoteAddr, b.ClientCount())

	defer func() {
		b.mu.Lock()
		delete(b.clients, c)
		b.mu.Unlock()
		b.logf("client %s disconnected", r.RemoteAddr)
	}()

	// Reads only detect disconnects; dashboards send nothing.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				ws.Close()
				return
			}
		}
	}()

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case ev := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
