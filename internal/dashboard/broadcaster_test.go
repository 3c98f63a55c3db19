package dashboard

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestBroadcastReachesConnectedClient(t *testing.T) {
	b := NewBroadcaster(nil)
	srv := httptest.NewServer(b)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.Close()

	deadline := time.Now().Add(2 * time.Second)
	for b.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	b.Broadcast(Event{Type: "trade_events", Data: map[string]any{"pos_id": "P1", "status": "filled"}})

	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var got Event
	if err := ws.ReadJSON(&got); err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Type != "trade_events" {
		t.Errorf("unexpected event type %q", got.Type)
	}
	if got.Timestamp == "" {
		t.Error("broadcast should stamp a timestamp")
	}
	data, ok := got.Data.(map[string]any)
	if !ok || data["pos_id"] != "P1" {
		t.Errorf("payload mangled: %+v", got.Data)
	}
}

func TestBroadcastWithNoClients(t *testing.T) {
	b := NewBroadcaster(nil)
	b.Broadcast(Event{Type: "trade_events"}) // must not block or panic
	if b.ClientCount() != 0 {
		t.Error("expected no clients")
	}
}
