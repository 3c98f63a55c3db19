// Package main is the operational dashboard for the pipeline: it
// installs a NOTIFY trigger on the trades table, bridges those
// notifications to a websocket event stream, and serves small read
// endpoints over the journal for anything that wants a snapshot rather
// than a stream. Read-only: it never publishes onto the trading bus.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/indexopts/engine/internal/dashboard"
)

// tradeEventsTrigger makes every trades-table write NOTIFY the row as
// JSON on the trade_events channel.
const tradeEventsTrigger = `
CREATE OR REPLACE FUNCTION notify_trade_event() RETURNS trigger AS $$
BEGIN
	PERFORM pg_notify('trade_events', row_to_json(NEW)::text);
	RETURN NEW;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trades_notify ON trades;
CREATE TRIGGER trades_notify
	AFTER INSERT OR UPDATE ON trades
	FOR EACH ROW EXECUTE FUNCTION notify_trade_event();
`

type tradeRow struct {
	ID       int64           `json:"id"`
	Ts       time.Time       `json:"ts"`
	PosID    string          `json:"pos_id"`
	Side     string          `json:"side"`
	Quantity int             `json:"quantity"`
	Price    float64         `json:"price"`
	Status   string          `json:"status"`
	Info     json.RawMessage `json:"info"`
}

func main() {
	listenAddr := flag.String("listen", ":8092", "address to serve the dashboard API on")
	flag.Parse()

	logger := log.New(os.Stdout, "[dashboard] ", log.LstdFlags)

	_ = godotenv.Load()

	dbURL := os.Getenv("ALGO_DATABASE_URL")
	if dbURL == "" {
		logger.Fatal("ALGO_DATABASE_URL is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	if _, err := pool.Exec(ctx, tradeEventsTrigger); err != nil {
		// The journal may not have created the trades table yet; the
		// stream just stays quiet until a restart after it exists.
		logger.Printf("install trade_events trigger failed: %v", err)
	}

	broadcaster := dashboard.NewBroadcaster(logger)
	events := dashboard.NewEventListener(dbURL, broadcaster, logger)
	events.Start(ctx)
	defer events.Stop()

	mux := http.NewServeMux()
	mux.Handle("/v1/stream/events", broadcaster)
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			respondJSON(w, http.StatusInternalServerError, map[string]string{"status": "error", "message": err.Error()})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/v1/trades/recent", func(w http.ResponseWriter, r *http.Request) {
		rows, err := pool.Query(r.Context(),
			`SELECT id, ts, pos_id, side, quantity, price, status, info FROM trades ORDER BY id DESC LIMIT 100`)
		if err != nil {
			logger.Printf("recent trades query failed: %v", err)
			respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "query failed"})
			return
		}
		defer rows.Close()

		trades := []tradeRow{}
		for rows.Next() {
			var t tradeRow
			if err := rows.Scan(&t.ID, &t.Ts, &t.PosID, &t.Side, &t.Quantity, &t.Price, &t.Status, &t.Info); err != nil {
				logger.Printf("scan trade row failed: %v", err)
				respondJSON(w, http.StatusInternalServerError, map[string]string{"message": "scan failed"})
				return
			}
			trades = append(trades, t)
		}
		respondJSON(w, http.StatusOK, map[string]any{"trades": trades, "count": len(trades)})
	})

	srv := &http.Server{
		Addr:        *listenAddr,
		Handler:     mux,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	go func() {
		logger.Printf("dashboard listening on %s", *listenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	logger.Println("dashboard stopped")
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
