package feed

import (
	"testing"
	"time"
)

func TestQuoteCacheSetGet(t *testing.T) {
	c := NewQuoteCache()

	if _, ok := c.Get("NIFTY"); ok {
		t.Fatal("empty cache should miss")
	}

	ts := time.Unix(1700000000, 0)
	c.Set("NIFTY", 22105.5, ts)

	q, ok := c.Get("NIFTY")
	if !ok {
		t.Fatal("expected hit after Set")
	}
	if q.LTP != 22105.5 || q.Ts != 1700000000 || q.Symbol != "NIFTY" {
		t.Errorf("unexpected quote: %+v", q)
	}

	// Later quote overwrites.
	c.Set("NIFTY", 22110.0, ts.Add(time.Second))
	q, _ = c.Get("NIFTY")
	if q.LTP != 22110.0 {
		t.Errorf("expected overwrite, got %+v", q)
	}
}

func TestQuoteCacheSnapshotIsCopy(t *testing.T) {
	c := NewQuoteCache()
	c.Set("NIFTY", 100, time.Unix(1, 0))
	c.Set("SEC_44021", 12.5, time.Unix(2, 0))

	snap := c.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(snap))
	}
	snap["NIFTY"] = Quote{Symbol: "NIFTY", LTP: -1}

	q, _ := c.Get("NIFTY")
	if q.LTP != 100 {
		t.Error("mutating the snapshot leaked into the cache")
	}
}
