package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/pending"
)

type fakeJournaler struct {
	mu     sync.Mutex
	marked map[int64]string
}

func newFakeJournaler() *fakeJournaler {
	return &fakeJournaler{marked: make(map[int64]string)}
}

func (f *fakeJournaler) MarkStatus(ctx context.Context, id int64, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[id] = status
}

func (f *fakeJournaler) statusFor(id int64) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.marked[id]
	return s, ok
}

func TestRunOnceReconcilesStaleEntry(t *testing.T) {
	b := bus.New(nil)
	pendingT := pending.New()
	jrnl := newFakeJournaler()

	var timeouts []any
	var mu sync.Mutex
	b.Subscribe("ORDER_TIMEOUT", func(payload any) {
		mu.Lock()
		defer mu.Unlock()
		timeouts = append(timeouts, payload)
	})

	pendingT.Put(pending.Entry{PosID: "P1", DBID: 7, PlacedAt: time.Now().Add(-time.Hour)})

	m := New(Config{TimeoutSeconds: 30, Simulate: true}, b, pendingT, jrnl, nil, nil)
	m.runOnce(context.Background())

	if _, ok := pendingT.Get("P1"); ok {
		t.Fatal("expected stale entry to be removed from the pending table")
	}
	if status, ok := jrnl.statusFor(7); !ok || status != "timed_out" {
		t.Fatalf("expected trade 7 marked timed_out, got %q (ok=%v)", status, ok)
	}

	// Handlers are dispatched asynchronously; give them a moment.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(timeouts)
		mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(timeouts) != 1 {
		t.Fatalf("expected exactly one ORDER_TIMEOUT publish, got %d", len(timeouts))
	}
}

func TestRunOnceLeavesFreshEntriesAlone(t *testing.T) {
	b := bus.New(nil)
	pendingT := pending.New()
	jrnl := newFakeJournaler()

	pendingT.Put(pending.Entry{PosID: "P2", DBID: 9, PlacedAt: time.Now()})

	m := New(Config{TimeoutSeconds: 30, Simulate: true}, b, pendingT, jrnl, nil, nil)
	m.runOnce(context.Background())

	if _, ok := pendingT.Get("P2"); !ok {
		t.Fatal("expected fresh entry to remain pending")
	}
	if _, ok := jrnl.statusFor(9); ok {
		t.Fatal("expected no journal update for a fresh entry")
	}
}

func TestTickIntervalBounds(t *testing.T) {
	cases := []struct {
		timeout  int
		expected time.Duration
	}{
		{timeout: 3, expected: time.Second},
		{timeout: 9, expected: 3 * time.Second},
		{timeout: 30, expected: 5 * time.Second},
		{timeout: 0, expected: 5 * time.Second},
	}
	for _, c := range cases {
		m := &Monitor{cfg: Config{TimeoutSeconds: c.timeout}}
		if got := m.tickInterval(); got != c.expected {
			t.Errorf("timeout=%d: expected interval %v, got %v", c.timeout, c.expected, got)
		}
	}
}
