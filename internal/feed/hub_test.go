package feed

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/indexopts/engine/internal/candle"
)

// Round-trip: a tick broadcast by the hub arrives at a Client dialed
// against it.
func TestHubClientRoundTrip(t *testing.T) {
	hub := NewHub(nil)
	srv := httptest.NewServer(hub)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	received := make(chan candle.Tick, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := NewClient(wsURL, func(tk candle.Tick) {
		select {
		case received <- tk:
		default:
		}
	}, nil)
	client.Start(ctx)

	// Wait for the client to register with the hub before broadcasting.
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never connected to hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	sent := candle.Tick{Symbol: "NIFTY", LTP: 22105.5, Volume: 75, Ts: time.Unix(1700000000, 0).UTC()}
	hub.Broadcast(sent)

	select {
	case got := <-received:
		if got.Symbol != sent.Symbol || got.LTP != sent.LTP || got.Volume != sent.Volume {
			t.Errorf("tick mangled in transit: sent %+v got %+v", sent, got)
		}
		if !got.Ts.Equal(sent.Ts) {
			t.Errorf("timestamp mangled: sent %v got %v", sent.Ts, got.Ts)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("tick never arrived at client")
	}
}

func TestHubBroadcastWithNoClients(t *testing.T) {
	hub := NewHub(nil)
	// Must not block or panic.
	hub.Broadcast(candle.Tick{Symbol: "NIFTY", LTP: 1.0, Ts: time.Now()})
	if hub.ClientCount() != 0 {
		t.Error("expected no clients")
	}
}
