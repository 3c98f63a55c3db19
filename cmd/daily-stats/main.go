// Package main prints per-day activity from the execution journal: how
// many orders reached each terminal status and how much quantity
// traded. Operators run it after the close to sanity-check the day
// against the broker's own contract note.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	days := flag.Int("days", 7, "number of trailing days to report")
	flag.Parse()

	logger := log.New(os.Stderr, "[daily-stats] ", log.LstdFlags)

	_ = godotenv.Load()
	dbURL := os.Getenv("ALGO_DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("ALGO_DATABASE_URL is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	// Days are bucketed in the exchange's wall clock, matching the
	// trading day the risk limits bound.
	rows, err := pool.Query(ctx, `
		SELECT (ts AT TIME ZONE 'Asia/Kolkata')::date AS day,
		       status,
		       count(*) AS orders,
		       sum(quantity) AS qty,
		       sum(quantity * price) AS notional
		FROM trades
		WHERE ts >= now() - make_interval(days => $1)
		GROUP BY day, status
		ORDER BY day DESC, status
	`, *days)
	if err != nil {
		logger.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	fmt.Printf("%-12s %-10s %8s %10s %14s\n", "DAY", "STATUS", "ORDERS", "QTY", "NOTIONAL")
	for rows.Next() {
		var day time.Time
		var status string
		var orders, qty int64
		var notional float64
		if err := rows.Scan(&day, &status, &orders, &qty, &notional); err != nil {
			logger.Fatalf("scan failed: %v", err)
		}
		fmt.Printf("%-12s %-10s %8d %10d %14.2f\n", day.Format("2006-01-02"), status, orders, qty, notional)
	}
	if err := rows.Err(); err != nil {
		logger.Fatalf("rows: %v", err)
	}
}
