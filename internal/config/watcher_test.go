package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

const watchlistV1 = `indices:
  - name: NIFTY
    security_id: 13
    exchange_segment: IDX_I
    fno_segment: NSE_FNO
`

const watchlistV2 = `indices:
  - name: NIFTY
    security_id: 13
    exchange_segment: IDX_I
    fno_segment: NSE_FNO
  - name: BANKNIFTY
    security_id: 25
    exchange_segment: IDX_I
    fno_segment: NSE_FNO
`

func writeWatchlist(t *testing.T, path, content string, mtime time.Time) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write watchlist: %v", err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
}

func TestWatcherReloadsOnChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	base := time.Now().Add(-time.Hour)
	writeWatchlist(t, path, watchlistV1, base)

	var mu sync.Mutex
	var got []Watchlist
	w := NewWatchlistWatcher(path, 5*time.Millisecond, func(wl Watchlist) {
		mu.Lock()
		got = append(got, wl)
		mu.Unlock()
	}, nil)
	w.Start()
	defer w.Stop()

	// Bump content and mtime.
	writeWatchlist(t, path, watchlistV2, base.Add(time.Minute))

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := len(got)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never fired on change")
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got[0].Indices) != 2 {
		t.Errorf("expected reloaded watchlist with 2 indices, got %d", len(got[0].Indices))
	}
}

func TestWatcherKeepsLastGoodOnBrokenEdit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	base := time.Now().Add(-time.Hour)
	writeWatchlist(t, path, watchlistV1, base)

	var mu sync.Mutex
	fired := 0
	w := NewWatchlistWatcher(path, 5*time.Millisecond, func(Watchlist) {
		mu.Lock()
		fired++
		mu.Unlock()
	}, nil)
	w.Start()
	defer w.Stop()

	// Invalid YAML must not reach the callback.
	writeWatchlist(t, path, "indices: [", base.Add(time.Minute))
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	n := fired
	mu.Unlock()
	if n != 0 {
		t.Fatalf("broken edit should not fire the callback, fired %d time(s)", n)
	}

	// A subsequent good edit still reloads.
	writeWatchlist(t, path, watchlistV2, base.Add(2*time.Minute))
	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n = fired
		mu.Unlock()
		if n > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("watcher never recovered after a broken edit")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWatcherStopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	writeWatchlist(t, path, watchlistV1, time.Now())

	w := NewWatchlistWatcher(path, time.Millisecond, nil, nil)
	w.Start()
	w.Stop()
	w.Stop()
}
