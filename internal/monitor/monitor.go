// Package monitor implements the PendingMonitor (C8): a background
// reconciler that scans the PendingOrderTable for entries that have
// outlived order_timeout_seconds and retires them.
//
// The loop polls on a cadence of max(1, min(5, timeout/3)) seconds, so
// short timeouts are noticed quickly without hammering the table when
// the timeout is generous.
package monitor

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/indexopts/engine/internal/broker"
	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/execution"
	"github.com/indexopts/engine/internal/pending"
)

// Journaler is the subset of *journal.Journal the monitor depends on.
type Journaler interface {
	MarkStatus(ctx context.Context, id int64, status string)
}

// Config controls the monitor's behavior.
type Config struct {
	// TimeoutSeconds is the age at which a pending order is reconciled
	// away as timed out.
	TimeoutSeconds int

	// Simulate, when false (live mode), causes a best-effort broker
	// cancel to be attempted for entries carrying an order id before
	// the timeout is published.
	Simulate bool
}

// Monitor is the PendingMonitor (C8).
type Monitor struct {
	cfg     Config
	bus     *bus.Bus
	pending *pending.Table
	jrnl    Journaler
	brk     broker.Broker
	logger  *log.Logger

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// New creates a Monitor. brk may be nil in simulate-only deployments.
func New(cfg Config, b *bus.Bus, pendingT *pending.Table, jrnl Journaler, brk broker.Broker, logger *log.Logger) *Monitor {
	return &Monitor{
		cfg:     cfg,
		bus:     b,
		pending: pendingT,
		jrnl:    jrnl,
		brk:     brk,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// tickInterval is the scan cadence: max(1, min(5, timeout/3)) seconds.
func (m *Monitor) tickInterval() time.Duration {
	timeout := m.cfg.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	secs := timeout / 3
	if secs > 5 {
		secs = 5
	}
	if secs < 1 {
		secs = 1
	}
	return time.Duration(secs) * time.Second
}

// Start launches the reconciliation loop on its own goroutine. It returns
// immediately; call Stop to terminate the loop.
func (m *Monitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

// Stop terminates the loop. Safe to call multiple times.
func (m *Monitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.stopped = true
		close(m.done)
	}
}

func (m *Monitor) logf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf("[pending-monitor] "+format, args...)
	}
}

func (m *Monitor) loop(ctx context.Context) {
	interval := m.tickInterval()
	m.logf("started, timeout=%ds scan-interval=%s", m.cfg.TimeoutSeconds, interval)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.done:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

// runOnce performs a single scan. Any panic or error inside a single
// entry's reconciliation is caught so the loop always completes the scan
// and sleeps for the next tick; a failing iteration never kills the
// monitor.
func (m *Monitor) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.logf("scan panicked, recovering: %v", r)
		}
	}()

	now := time.Now().UTC()
	threshold := time.Duration(m.cfg.TimeoutSeconds) * time.Second

	for _, entry := range m.pending.Snapshot() {
		age := entry.Age(now)
		if age < threshold {
			continue
		}
		m.reconcile(ctx, entry, age)
	}
}

func (m *Monitor) reconcile(ctx context.Context, entry pending.Entry, age time.Duration) {
	if !m.cfg.Simulate && entry.OrderID != "" && m.brk != nil {
		if err := m.brk.CancelOrder(ctx, entry.OrderID); err != nil {
			m.logf("best-effort cancel of order %s (pos_id=%s) failed: %v", entry.OrderID, entry.PosID, err)
		}
	}

	m.bus.Publish("ORDER_TIMEOUT", execution.OrderTimeout{
		PosID:      entry.PosID,
		DBID:       entry.DBID,
		AgeSeconds: age.Seconds(),
	})

	if m.jrnl != nil {
		m.jrnl.MarkStatus(ctx, entry.DBID, "timed_out")
	}

	// Removed unconditionally: whether or not the broker cancel or the
	// journal update succeeded, the entry has been reconciled away —
	// persistence failures are logged, never allowed to wedge the table.
	m.pending.Pop(entry.PosID)
}
