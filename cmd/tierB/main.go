// Package main is the entry point for Tier B: the event-driven execution
// and position core. It wires the EventBus (C1), PositionStore (C2),
// PendingOrderTable (C3), RiskGate (C4), AdvisoryLockService (C5),
// TradeJournal (C6), ExecutionEngine (C7), PendingMonitor (C8),
// BrokerAdapter (C9), MarketClock (C10), and the CandleAggregator (C11) +
// BreakoutRunner (C12) collaborators that feed it ENTRY_SIGNAL/EXIT_SIGNAL.
// It also serves Prometheus metrics on -metrics-addr, fed from the same bus
// events the execution engine already publishes.
//
// This binary never batches: every component runs for the life of the process,
// reacting to events as they arrive.
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
	"github.com/shopspring/decimal"

	"github.com/indexopts/engine/internal/api"
	"github.com/indexopts/engine/internal/broker"
	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/candle"
	"github.com/indexopts/engine/internal/config"
	"github.com/indexopts/engine/internal/execution"
	"github.com/indexopts/engine/internal/feed"
	"github.com/indexopts/engine/internal/journal"
	"github.com/indexopts/engine/internal/lock"
	"github.com/indexopts/engine/internal/market"
	"github.com/indexopts/engine/internal/metrics"
	"github.com/indexopts/engine/internal/monitor"
	"github.com/indexopts/engine/internal/pending"
	"github.com/indexopts/engine/internal/position"
	"github.com/indexopts/engine/internal/risk"
	"github.com/indexopts/engine/internal/runner"
	"github.com/indexopts/engine/internal/strategy"
	"github.com/indexopts/engine/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config/exec.json", "path to the execution core's config file")
	spoolPath := flag.String("spool", "", "optional bbolt spool path for journal durability")
	metricsAddr := flag.String("metrics-addr", ":9102", "address to serve Prometheus /metrics on")
	apiAddr := flag.String("api-addr", ":8091", "address to serve the execute/operations API on")
	feedURL := flag.String("feed-url", "", "Tier A tick stream websocket URL (e.g. ws://tiera:8090/v1/stream/ticks); empty disables tick consumption")
	webhookPort := flag.Int("webhook-port", 0, "port for the broker order-postback receiver; 0 disables")
	flag.Parse()

	logger := log.New(os.Stdout, "[tierB] ", log.LstdFlags)

	_ = godotenv.Load() // development convenience; absence is not an error

	cfg, err := config.LoadExec(*configPath)
	if err != nil {
		logger.Fatalf("failed to load exec config: %v", err)
	}
	logger.Printf("exec config loaded: simulate=%v timeout=%ds max_position=%d", cfg.Simulate, cfg.OrderTimeoutSeconds, cfg.MaxPosition)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatalf("failed to connect to database: %v", err)
	}
	defer pool.Close()

	var spool journal.Spool
	if *spoolPath != "" {
		bs, err := journal.OpenBoltSpool(*spoolPath)
		if err != nil {
			logger.Fatalf("failed to open journal spool: %v", err)
		}
		defer bs.Close()
		spool = bs
	}

	jrnl := journal.New(pool, logger, spool)
	if err := jrnl.EnsureSchema(ctx); err != nil {
		logger.Fatalf("failed to ensure trades schema: %v", err)
	}
	jrnl.DrainSpool(ctx)

	lockSvc := lock.New(pool)

	var brk broker.Broker
	if !cfg.Simulate {
		brk, err = broker.NewDhanBroker([]byte(`{"client_id":"` + cfg.DhanClientID + `","access_token":"` + cfg.DhanAccessToken + `"}`))
		if err != nil {
			logger.Fatalf("failed to initialize broker: %v", err)
		}
		logger.Println("LIVE MODE — broker orders will be placed on the exchange")
	} else {
		logger.Println("SIMULATE MODE — no broker calls will be made")
	}

	b := bus.New(logger)
	positions := position.New()
	positions.SetSinglePosition(cfg.SinglePosition)
	pendingT := pending.New()
	clock := market.NewClock()

	b.Subscribe("ORDER_PLACED", func(payload any) {
		if p, ok := payload.(execution.OrderPlaced); ok {
			metrics.OrdersTotal.WithLabelValues(p.Status).Inc()
		}
	})
	b.Subscribe("ORDER_FILLED", func(payload any) {
		if _, ok := payload.(execution.OrderFilled); ok {
			metrics.FillsTotal.Inc()
		}
	})
	b.Subscribe("ORDER_TIMEOUT", func(payload any) {
		if _, ok := payload.(execution.OrderTimeout); ok {
			metrics.PendingTimeoutsTotal.Inc()
		}
	})

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsSrv := &http.Server{Addr: *metricsAddr, Handler: metricsMux}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("metrics server stopped: %v", err)
		}
	}()
	defer metricsSrv.Close()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metrics.OpenPositions.Set(float64(positions.Len()))
			}
		}
	}()

	gate := risk.NewGate(risk.GateConfig{
		MaxPositionQty: cfg.MaxPosition,
		MaxDailyLoss:   cfg.MaxDailyLoss,
		MaxDailyTrades: cfg.MaxTradesPerDay,
		BaseQuantity:   cfg.BaseQty,
	})

	var stopLossPoints *float64
	if cfg.InitialStoplossPoints > 0 {
		stopLossPoints = &cfg.InitialStoplossPoints
	}

	engine := execution.New(
		execution.Config{
			Simulate:              cfg.Simulate,
			InitialStopLossPoints: stopLossPoints,
			Exchange:              cfg.Exchange,
			Product:               cfg.Product,
		},
		b, positions, pendingT, gate, lockSvc, jrnl, brk, clock, logger,
	)
	_ = engine // kept alive by its bus subscriptions; no direct calls needed

	mon := monitor.New(monitor.Config{
		TimeoutSeconds: cfg.OrderTimeoutSeconds,
		Simulate:       cfg.Simulate,
	}, b, pendingT, jrnl, brk, logger)
	mon.Start(ctx)
	defer mon.Stop()

	agg := candle.New(b, nil, logger)

	// Ticks arriving from Tier A feed the candle aggregator and keep
	// open positions marked to market; a tick that crosses a trailing
	// stop turns into an EXIT_SIGNAL unless an exit is already pending.
	b.Subscribe(feed.TopicTick, func(payload any) {
		tk, ok := payload.(candle.Tick)
		if !ok {
			return
		}
		agg.OnTick(ctx, tk)
		pos, ok := positions.GetBySymbol(tk.Symbol)
		if !ok {
			return
		}
		price := decimal.NewFromFloat(tk.LTP)
		positions.UpdateMarketPrice(pos.PosID, price)
		if positions.CheckTrailingStop(pos.PosID, price) {
			if _, inFlight := pendingT.Get(pos.PosID); !inFlight {
				logger.Printf("trailing stop hit for %s at %.2f, publishing exit", pos.PosID, tk.LTP)
				b.Publish("EXIT_SIGNAL", execution.ExitSignal{PosID: pos.PosID, Price: tk.LTP})
			}
		}
	})

	if *feedURL != "" {
		feedClient := feed.NewClient(*feedURL, func(tk candle.Tick) {
			b.Publish(feed.TopicTick, tk)
		}, logger)
		feedClient.Start(ctx)
	} else {
		logger.Println("no -feed-url configured; running without a tick stream")
	}

	// Broker order postbacks arrive out of band and confirm fills the
	// placement response didn't. Matched against the pending table by
	// order id (or by pos_id via the order tag) and republished as
	// ORDER_FILLED for the engine's cleanup handler.
	if *webhookPort > 0 && !cfg.Simulate {
		wh := webhook.NewServer(webhook.Config{Port: *webhookPort, Enabled: true}, logger)
		wh.OnOrderUpdate(func(u webhook.OrderUpdate) {
			if u.Status != broker.OrderStatusCompleted {
				return
			}
			for _, e := range pendingT.Snapshot() {
				if e.OrderID == u.OrderID || (u.CorrelationID != "" && e.PosID == u.CorrelationID) {
					b.Publish("ORDER_FILLED", execution.OrderFilled{
						PosID: e.PosID, DBID: e.DBID,
						FilledQty: u.FilledQty, FilledPrice: u.AveragePrice,
						FilledAt: u.ReceivedAt,
					})
					return
				}
			}
		})
		if err := wh.Start(); err != nil {
			logger.Fatalf("failed to start webhook server: %v", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer shutdownCancel()
			_ = wh.Shutdown(shutdownCtx)
		}()
	}

	apiMux := http.NewServeMux()
	api.NewExecServer(b, positions, pendingT, logger).Register(apiMux)
	apiSrv := &http.Server{Addr: *apiAddr, Handler: apiMux, ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second}
	go func() {
		logger.Printf("execute API listening on %s", *apiAddr)
		if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("execute API stopped: %v", err)
		}
	}()
	defer apiSrv.Close()

	// The strategy runner needs to know whether a symbol already has an
	// open position, to decide entry vs. exit. Sizing defaults to the
	// exec config's base quantity per order; the risk gate still has
	// the final word on the actual quantity.
	runner.New(runner.Config{
		Strategy: strategy.NewBreakoutStrategy(strategy.BreakoutConfig{LotSize: cfg.BaseQty}),
		Positions: func(symbol string) *strategy.PositionInfo {
			pos, ok := positions.GetBySymbol(symbol)
			if !ok {
				return nil
			}
			entry, _ := pos.EntryPrice.Float64()
			info := &strategy.PositionInfo{
				Symbol:     pos.Symbol,
				EntryPrice: entry,
				Quantity:   pos.Quantity,
				EntryTime:  pos.OpenedAt,
			}
			if pos.TrailingSL != nil {
				sl, _ := pos.TrailingSL.Float64()
				info.StopLoss = sl
			}
			return info
		},
	}, b, logger)

	logger.Println("tierB core running — waiting for ticks and signals")
	<-ctx.Done()
	logger.Println("shutdown signal received, flushing open candles")

	flushCtx, flushCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer flushCancel()
	agg.Flush(flushCtx)
	logger.Println("tierB shut down cleanly")
}
