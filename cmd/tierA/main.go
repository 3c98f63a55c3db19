// Package main is the entry point for Tier A: the market-data side of
// the pipeline. It polls the broker for index quotes and option chains,
// republishes the normalized ticks on the in-process bus, folds them
// into per-minute candles persisted to Postgres, stores option-chain
// snapshots, and serves the read API plus the websocket tick stream
// Tier B consumes.
package main

import (
	"context"
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

	"github.com/indexopts/engine/internal/api"
	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/candle"
	"github.com/indexopts/engine/internal/config"
	"github.com/indexopts/engine/internal/feed"
	"github.com/indexopts/engine/internal/storage"
)

func main() {
	configPath := flag.String("config", "config/feed.json", "path to the feed config file")
	flag.Parse()

	logger := log.New(os.Stdout, "[tierA] ", log.LstdFlags)

	_ = godotenv.Load() // development convenience; absence is not an error

	cfg, err := config.LoadFeed(*configPath)
	if err != nil {
		logger.Fatalf("failed to load feed config: %v", err)
	}

	watchlist, err := config.LoadWatchlist(cfg.WatchlistPath)
	if err != nil {
		logger.Fatalf("failed to load watchlist: %v", err)
	}
	logger.Printf("feed config loaded: %d indices, poll=%s, listen=%s", len(watchlist.Indices), cfg.PollInterval(), cfg.ListenAddr)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	store := storageWithRetry(ctx, pool, logger)

	quotes, err := feed.NewDhanQuoteClient(cfg.DhanClientID, cfg.DhanAccessToken, "")
	if err != nil {
		logger.Fatalf("failed to initialize quote client: %v", err)
	}

	b := bus.New(logger)
	cache := feed.NewQuoteCache()
	hub := feed.NewHub(logger)

	agg := candle.New(b, store, logger)
	b.Subscribe(feed.TopicTick, func(payload any) {
		tk, ok := payload.(candle.Tick)
		if !ok {
			return
		}
		agg.OnTick(ctx, tk)
		hub.Broadcast(tk)
	})

	poller := feed.NewPoller(cfg.PollInterval(), watchlist, quotes, b, cache, store, logger)
	poller.Start(ctx)
	defer poller.Stop()

	if cfg.WatchlistPath != "" {
		watcher := config.NewWatchlistWatcher(cfg.WatchlistPath, 0, poller.SetWatchlist, logger)
		watcher.Start()
		defer watcher.Stop()
	}

	mux := http.NewServeMux()
	api.NewMarketServer(store, store, cache, store, logger).Register(mux)
	mux.Handle("/v1/stream/ticks", hub)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // websocket stream writes have their own deadlines
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Printf("market-data API listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Println("shutdown signal received, flushing open candles")

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	agg.Flush(flushCtx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Printf("server shutdown error: %v", err)
	}
	logger.Println("tierA shut down cleanly")
}

// storageWithRetry ensures the candles/option_chains schema, retrying a
// few times so a database still starting up doesn't kill the feed. After
// the retry budget, the error is terminal.
func storageWithRetry(ctx context.Context, pool *pgxpool.Pool, logger *log.Logger) *storage.MarketStore {
	store := storage.NewMarketStore(pool)
	var err error
	for attempt := 1; attempt <= 5; attempt++ {
		if err = store.EnsureSchema(ctx); err == nil {
			return store
		}
		logger.Printf("ensure schema attempt %d/5 failed: %v", attempt, err)
		select {
		case <-ctx.Done():
			logger.Fatalf("interrupted while waiting for database: %v", err)
		case <-time.After(time.Duration(attempt) * time.Second):
		}
	}
	logger.Fatalf("database unavailable after retries: %v", err)
	return nil
}
