// Package feed - hub.go serves the normalized tick stream over a
// websocket endpoint so Tier B (and any other consumer) can subscribe to
// the same ticks Tier A republishes on its in-process bus. Slow clients
// are skipped, never waited on.
package feed

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/indexopts/engine/internal/candle"
)

// tickMessage is the wire format a hub sends and a Client reads.
type tickMessage struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
	Volume int64   `json:"volume,omitempty"`
	Ts     int64   `json:"ts"` // epoch seconds
}

var hubUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans ticks out to connected websocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]bool
	logger  *log.Logger
}

type hubClient struct {
	send chan tickMessage
}

// NewHub creates an empty hub.
func NewHub(logger *log.Logger) *Hub {
	return &Hub{
		clients: make(map[*hubClient]bool),
		logger:  logger,
	}
}

func (h *Hub) logf(format string, args ...any) {
	if h.logger != nil {
		h.logger.Printf("[feed-hub] "+format, args...)
	}
}

// Broadcast sends t to every connected client. Clients whose send buffer
// is full are skipped for this tick.
func (h *Hub) Broadcast(t candle.Tick) {
	msg := tickMessage{Symbol: t.Symbol, LTP: t.LTP, Volume: t.Volume, Ts: t.Ts.Unix()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
		}
	}
}

// ClientCount returns the number of connected stream consumers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request to a websocket and streams ticks until
// the peer disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := hubUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logf("upgrade failed: %v", err)
		return
	}
	defer ws.Close()

	c := &hubClient{send: make(chan tickMessage, 256)}
	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()
	h.logf("client connected from %s (total %d)", r.RemoteAddr, h.ClientCount())

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.logf("client %s disconnected", r.RemoteAddr)
	}()

	// Reads only serve disconnect detection; clients send nothing.
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
		case msg := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := ws.WriteJSON(msg); err != nil {
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
