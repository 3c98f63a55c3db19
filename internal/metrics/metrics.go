// Package metrics exposes the execution core's Prometheus instrumentation.
//
// Grounded on chidi150c-coinbase/metrics.go's counter/gauge vectors plus a
// promhttp.Handler mounted on /metrics — the same shape, with series names
// swapped for the index-options execution core's own events (orders placed,
// fills, pending timeouts, open position count).
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// OrdersTotal counts orders placed, split by status (simulated/sent).
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exec_orders_total",
			Help: "Orders placed by the execution engine",
		},
		[]string{"status"},
	)

	// FillsTotal counts fills observed by the execution engine.
	FillsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exec_fills_total",
			Help: "Order fills observed by the execution engine",
		},
	)

	// PendingTimeoutsTotal counts pending orders reconciled away by the monitor.
	PendingTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exec_pending_timeouts_total",
			Help: "Pending orders cancelled or aged out by the pending monitor",
		},
	)

	// OpenPositions tracks the current number of open positions.
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "exec_open_positions",
			Help: "Current number of open positions",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersTotal,
		FillsTotal,
		PendingTimeoutsTotal,
		OpenPositions,
	)
}

// Handler returns the promhttp handler for mounting on a /metrics route.
func Handler() http.Handler {
	return promhttp.Handler()
}
