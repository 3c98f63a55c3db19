package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/indexopts/engine/internal/bus"
	"github.com/indexopts/engine/internal/broker"
	"github.com/indexopts/engine/internal/market"
	"github.com/indexopts/engine/internal/pending"
	"github.com/indexopts/engine/internal/position"
	"github.com/indexopts/engine/internal/risk"
)

// Journaler is the subset of *journal.Journal the engine depends on.
// Accepting the interface (rather than the concrete type) lets tests
// exercise the engine without a Postgres connection.
type Journaler interface {
	Record(ctx context.Context, posID, side string, qty int, price float64, status string, info any) int64
	MarkStatus(ctx context.Context, id int64, status string)
}

// Locker is the subset of *lock.Service the engine depends on.
type Locker interface {
	TryAcquire(ctx context.Context, identifier string) (bool, error)
	Release(ctx context.Context, identifier string) error
}

// Config controls the execution engine's behavior.
type Config struct {
	// Simulate, when true, short-circuits every signal before any
	// broker interaction or credential check — evaluated first, always.
	Simulate bool

	// InitialStopLossPoints, if non-nil, causes a broker-side SL-M
	// order to be placed on the opposite side immediately after a live
	// entry fill, offset from the fill price by this many points.
	InitialStopLossPoints *float64

	Exchange string // passed through to broker.Order
	Product  string // e.g. "INTRADAY"
}

// Engine is the ExecutionEngine (C7). It subscribes to ENTRY_SIGNAL,
// EXIT_SIGNAL, and ORDER_FILLED on construction and drives every order
// attempt through the advisory lock, then the in-process exec lock.
type Engine struct {
	cfg Config

	bus      *bus.Bus
	positions *position.Store
	pendingT *pending.Table
	gate     *risk.Gate
	lockSvc  Locker
	jrnl     Journaler
	brk      broker.Broker
	clock    market.Clock
	logger   *log.Logger

	execMu sync.Mutex
	daily  *dailyCounters
}

// New wires an Engine and subscribes its handlers to bus. brk may be nil
// when the engine only ever runs in simulate mode.
func New(
	cfg Config,
	b *bus.Bus,
	positions *position.Store,
	pendingT *pending.Table,
	gate *risk.Gate,
	lockSvc Locker,
	jrnl Journaler,
	brk broker.Broker,
	clock market.Clock,
	logger *log.Logger,
) *Engine {
	e := &Engine{
		cfg:       cfg,
		bus:       b,
		positions: positions,
		pendingT:  pendingT,
		gate:      gate,
		lockSvc:   lockSvc,
		jrnl:      jrnl,
		brk:       brk,
		clock:     clock,
		logger:    logger,
		daily:     newDailyCounters(),
	}

	b.Subscribe("ENTRY_SIGNAL", func(payload any) {
		sig, ok := payload.(EntrySignal)
		if !ok {
			return
		}
		e.handleEntrySignal(context.Background(), sig)
	})
	b.Subscribe("EXIT_SIGNAL", func(payload any) {
		sig, ok := payload.(ExitSignal)
		if !ok {
			return
		}
		e.handleExitSignal(context.Background(), sig)
	})
	b.Subscribe("ORDER_FILLED", func(payload any) {
		fill, ok := payload.(OrderFilled)
		if !ok {
			return
		}
		e.handleOrderFilledCleanup(fill)
	})

	return e
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf("[execution] "+format, args...)
	}
}

// handleEntrySignal implements the full entry path: lock acquisition,
// risk evaluation, and the simulate/live branch.
func (e *Engine) handleEntrySignal(ctx context.Context, sig EntrySignal) {
	if sig.PosID == "" {
		sig.PosID = fmt.Sprintf("pos_%d_%s", time.Now().Unix(), uuid.NewString()[:8])
	}

	acquired, err := e.tryLock(ctx, sig.PosID)
	if err != nil {
		e.logf("advisory lock error for %s: %v", sig.PosID, err)
		return
	}
	if !acquired {
		e.logf("could not acquire advisory lock for %s, another process owns it", sig.PosID)
		return
	}
	defer e.unlock(ctx, sig.PosID)

	qty, approved, reason := e.gate.Evaluate(sig.Side, sig.Quantity, sig.ConfidenceScore, e.daily.snapshot(e.openPositionsForRisk()))
	if !approved {
		e.logf("entry for %s rejected by risk gate: %s", sig.PosID, reason)
		return
	}
	sig.Quantity = qty

	e.execMu.Lock()
	defer e.execMu.Unlock()

	if sig.Quantity <= 0 {
		e.logf("entry for %s has non-positive quantity after sizing, aborting", sig.PosID)
		return
	}

	// Idempotency: a pos_id that already has an open position or an
	// in-flight order must not produce a second journal row or broker
	// order, no matter how many times its signal is republished.
	if _, open := e.positions.Get(sig.PosID); open {
		e.logf("entry for %s ignored, position already open", sig.PosID)
		return
	}
	if _, inFlight := e.pendingT.Get(sig.PosID); inFlight {
		e.logf("entry for %s ignored, order already pending", sig.PosID)
		return
	}

	// SIMULATE is evaluated first, unconditionally, before any broker
	// interaction or credential check.
	if e.cfg.Simulate {
		e.handleSimulatedEntry(ctx, sig)
		return
	}
	e.handleLiveEntry(ctx, sig)
}

func (e *Engine) handleSimulatedEntry(ctx context.Context, sig EntrySignal) {
	dbID := e.jrnl.Record(ctx, sig.PosID, sig.Side, sig.Quantity, sig.Price, "simulated", sig)
	e.bus.Publish("ORDER_PLACED", OrderPlaced{PosID: sig.PosID, DBID: dbID, Status: "simulated", PlacedAt: time.Now().UTC()})
	e.pendingT.Put(pending.Entry{PosID: sig.PosID, DBID: dbID, Symbol: sig.Symbol, SecurityID: sig.SecurityID, Side: sig.Side, Quantity: sig.Quantity, Kind: "entry"})

	if !e.clock.IsOpen(time.Now()) {
		// Outside market hours, a simulated order can be treated as an
		// immediate fill — there is no real matching engine to wait on.
		if err := e.positions.Open(position.Position{
			PosID: sig.PosID, Symbol: sig.Symbol, SecurityID: sig.SecurityID,
			Side: position.Side(sig.Side), Quantity: sig.Quantity,
			EntryPrice: decimal.NewFromFloat(sig.Price),
		}); err != nil {
			e.logf("open position for %s failed: %v", sig.PosID, err)
			return
		}
		e.daily.recordTradeOpened()
		e.jrnl.MarkStatus(ctx, dbID, "filled")
		e.pendingT.Pop(sig.PosID)
		e.bus.Publish("ORDER_FILLED", OrderFilled{PosID: sig.PosID, DBID: dbID, FilledQty: sig.Quantity, FilledPrice: sig.Price, FilledAt: time.Now().UTC()})
		return
	}

	e.logf("simulated entry for %s placed while market is open; left pending for confirmation", sig.PosID)
}

func (e *Engine) handleLiveEntry(ctx context.Context, sig EntrySignal) {
	if e.brk == nil {
		e.logf("live entry for %s requested but no broker is configured", sig.PosID)
		return
	}

	resp, err := e.brk.PlaceOrder(ctx, broker.Order{
		SecurityID: sig.SecurityID, Symbol: sig.Symbol, Exchange: e.cfg.Exchange,
		Side: broker.OrderSide(sig.Side), Type: broker.OrderTypeMarket,
		Quantity: sig.Quantity, Price: sig.Price, Product: e.cfg.Product,
		Tag: sig.PosID,
	})
	if err != nil {
		e.jrnl.Record(ctx, sig.PosID, sig.Side, sig.Quantity, sig.Price, "rejected", map[string]any{"error": err.Error()})
		e.logf("place order for %s failed: %v", sig.PosID, err)
		return
	}
	if broker.IsRejectedStatus(string(resp.Status)) {
		e.jrnl.Record(ctx, sig.PosID, sig.Side, sig.Quantity, sig.Price, "rejected", resp)
		e.logf("broker rejected entry order for %s: %s", sig.PosID, resp.Message)
		return
	}

	dbID := e.jrnl.Record(ctx, sig.PosID, sig.Side, sig.Quantity, sig.Price, "sent", resp)
	e.bus.Publish("ORDER_PLACED", OrderPlaced{PosID: sig.PosID, DBID: dbID, Status: "sent", PlacedAt: time.Now().UTC()})
	e.pendingT.Put(pending.Entry{PosID: sig.PosID, DBID: dbID, Symbol: sig.Symbol, SecurityID: sig.SecurityID, Side: sig.Side, Quantity: sig.Quantity, OrderID: resp.OrderID, Kind: "entry"})

	filledQty, filledPrice, filled := detectFill(resp.Status, resp.Raw, sig.Quantity, sig.Price)
	if !filled {
		return
	}

	if err := e.positions.Open(position.Position{
		PosID: sig.PosID, Symbol: sig.Symbol, SecurityID: sig.SecurityID,
		Side: position.Side(sig.Side), Quantity: filledQty,
		EntryPrice: decimal.NewFromFloat(filledPrice),
	}); err != nil {
		e.logf("open position for %s failed after live fill: %v", sig.PosID, err)
	}
	e.daily.recordTradeOpened()
	e.jrnl.MarkStatus(ctx, dbID, "filled")
	e.pendingT.Pop(sig.PosID)
	e.bus.Publish("ORDER_FILLED", OrderFilled{PosID: sig.PosID, DBID: dbID, FilledQty: filledQty, FilledPrice: filledPrice, FilledAt: time.Now().UTC()})

	if e.cfg.InitialStopLossPoints != nil {
		e.placeProtectiveStopLoss(ctx, sig, filledPrice)
	}
}

// placeProtectiveStopLoss sends a broker-side SL-M order on the opposite
// side at entry ± configured points, best-effort.
func (e *Engine) placeProtectiveStopLoss(ctx context.Context, sig EntrySignal, fillPrice float64) {
	points := *e.cfg.InitialStopLossPoints
	var trigger float64
	var side broker.OrderSide
	if sig.Side == string(broker.OrderSideBuy) {
		trigger = fillPrice - points
		side = broker.OrderSideSell
	} else {
		trigger = fillPrice + points
		side = broker.OrderSideBuy
	}

	_, err := e.brk.PlaceOrder(ctx, broker.Order{
		SecurityID: sig.SecurityID, Symbol: sig.Symbol, Exchange: e.cfg.Exchange,
		Side: side, Type: broker.OrderTypeSLM, Quantity: sig.Quantity,
		TriggerPrice: trigger, Product: e.cfg.Product,
		Tag: "protective_sl:" + sig.PosID,
	})
	if err != nil {
		e.logf("protective stop-loss placement for %s failed (best-effort): %v", sig.PosID, err)
	}
}

// handleExitSignal routes the two exit addressing modes: with pos_id, it
// locks and closes a known position; without one, it falls back to
// matching on security id across all open positions.
func (e *Engine) handleExitSignal(ctx context.Context, sig ExitSignal) {
	if sig.PosID != "" {
		e.exitByPosID(ctx, sig)
		return
	}
	e.exitBySecurityID(ctx, sig)
}

func (e *Engine) exitByPosID(ctx context.Context, sig ExitSignal) {
	acquired, err := e.tryLock(ctx, sig.PosID)
	if err != nil {
		e.logf("advisory lock error for %s: %v", sig.PosID, err)
		return
	}
	if !acquired {
		e.logf("could not acquire advisory lock for %s on exit", sig.PosID)
		return
	}
	defer e.unlock(ctx, sig.PosID)

	e.execMu.Lock()
	defer e.execMu.Unlock()

	pos, ok := e.positions.Get(sig.PosID)
	if !ok {
		e.logf("exit signal for unknown pos_id %s, ignoring", sig.PosID)
		return
	}
	if pos.Quantity <= 0 {
		e.logf("exit signal for %s has non-positive quantity, ignoring", sig.PosID)
		return
	}

	e.closeKnownPosition(ctx, pos, sig.Price)
}

func (e *Engine) exitBySecurityID(ctx context.Context, sig ExitSignal) {
	for _, pos := range e.positions.List() {
		if pos.SecurityID != sig.SecurityID {
			continue
		}
		acquired, err := e.tryLock(ctx, pos.PosID)
		if err != nil || !acquired {
			continue
		}
		e.execMu.Lock()
		e.closeKnownPosition(ctx, pos, sig.Price)
		e.execMu.Unlock()
		e.unlock(ctx, pos.PosID)
		return
	}
	e.logf("exit signal for security %s matched no open position", sig.SecurityID)
}

func (e *Engine) closeKnownPosition(ctx context.Context, pos position.Position, price float64) {
	exitSide := broker.OrderSideSell
	if pos.Side == position.Sell {
		exitSide = broker.OrderSideBuy
	}

	if e.cfg.Simulate {
		if !e.clock.IsOpen(time.Now()) {
			closed, err := e.positions.Close(pos.PosID, decimal.NewFromFloat(price))
			if err != nil {
				e.logf("close position %s failed: %v", pos.PosID, err)
				return
			}
			e.daily.recordRealizedPnL(closedPnLFloat(closed))
			e.jrnl.Record(ctx, pos.PosID, string(exitSide), pos.Quantity, price, "closed", nil)
			return
		}
		dbID := e.jrnl.Record(ctx, pos.PosID, string(exitSide), pos.Quantity, price, "simulated", nil)
		e.bus.Publish("ORDER_PLACED", OrderPlaced{PosID: pos.PosID, DBID: dbID, Status: "simulated", PlacedAt: time.Now().UTC()})
		e.pendingT.Put(pending.Entry{PosID: pos.PosID, DBID: dbID, Symbol: pos.Symbol, SecurityID: pos.SecurityID, Side: string(exitSide), Quantity: pos.Quantity, Kind: "exit"})
		e.logf("simulated exit for %s placed while market is open; position left open pending confirmation", pos.PosID)
		return
	}

	if e.brk == nil {
		e.logf("live exit for %s requested but no broker is configured", pos.PosID)
		return
	}

	resp, err := e.brk.PlaceOrder(ctx, broker.Order{
		SecurityID: pos.SecurityID, Symbol: pos.Symbol, Exchange: e.cfg.Exchange,
		Side: exitSide, Type: broker.OrderTypeMarket,
		Quantity: pos.Quantity, Price: price, Product: e.cfg.Product,
		Tag: pos.PosID,
	})
	if err != nil {
		e.jrnl.Record(ctx, pos.PosID, string(exitSide), pos.Quantity, price, "rejected", map[string]any{"error": err.Error()})
		e.logf("exit order for %s failed: %v", pos.PosID, err)
		return
	}
	if broker.IsRejectedStatus(string(resp.Status)) {
		e.jrnl.Record(ctx, pos.PosID, string(exitSide), pos.Quantity, price, "rejected", resp)
		return
	}

	dbID := e.jrnl.Record(ctx, pos.PosID, string(exitSide), pos.Quantity, price, "sent", resp)
	e.bus.Publish("ORDER_PLACED", OrderPlaced{PosID: pos.PosID, DBID: dbID, Status: "sent", PlacedAt: time.Now().UTC()})
	e.pendingT.Put(pending.Entry{PosID: pos.PosID, DBID: dbID, Symbol: pos.Symbol, SecurityID: pos.SecurityID, Side: string(exitSide), Quantity: pos.Quantity, OrderID: resp.OrderID, Kind: "exit"})

	filledQty, filledPrice, filled := detectFill(resp.Status, resp.Raw, pos.Quantity, price)
	if !filled {
		e.logf("exit order for %s sent, awaiting confirmation", pos.PosID)
		return
	}

	closed, err := e.positions.Close(pos.PosID, decimal.NewFromFloat(filledPrice))
	if err != nil {
		e.logf("close position %s failed after exit fill: %v", pos.PosID, err)
		return
	}
	e.daily.recordRealizedPnL(closedPnLFloat(closed))
	e.jrnl.MarkStatus(ctx, dbID, "closed")
	e.pendingT.Pop(pos.PosID)
	_ = filledQty
	e.bus.Publish("ORDER_FILLED", OrderFilled{PosID: pos.PosID, DBID: dbID, FilledQty: filledQty, FilledPrice: filledPrice, FilledAt: time.Now().UTC()})
}

// handleOrderFilledCleanup removes a confirmed fill from the pending
// table. It is idempotent: a pop on an absent pos_id is a no-op, which
// matters because fills can be detected in-band (at placement time) and
// out-of-band (via a broker postback republished by cmd/tierB) for the
// same order.
func (e *Engine) handleOrderFilledCleanup(fill OrderFilled) {
	e.pendingT.Pop(fill.PosID)
}

func (e *Engine) tryLock(ctx context.Context, posID string) (bool, error) {
	if e.lockSvc == nil {
		// No cross-process coordination configured — treat as always
		// acquired (single-instance / test configurations).
		return true, nil
	}
	return e.lockSvc.TryAcquire(ctx, posID)
}

func (e *Engine) unlock(ctx context.Context, posID string) {
	if e.lockSvc == nil {
		return
	}
	if err := e.lockSvc.Release(ctx, posID); err != nil {
		e.logf("release advisory lock for %s failed: %v", posID, err)
	}
}

func (e *Engine) openPositionsForRisk() []risk.OpenPosition {
	open := e.positions.List()
	out := make([]risk.OpenPosition, 0, len(open))
	for _, p := range open {
		out = append(out, risk.OpenPosition{Side: string(p.Side), Quantity: p.Quantity})
	}
	return out
}

func closedPnLFloat(p position.Position) float64 {
	f, _ := p.PnL.Float64()
	return f
}

// detectFill inspects an order response for a terminal fill, trying the
// typed status first and falling back to the raw payload's synonym keys
// when present.
func detectFill(status broker.OrderStatus, raw map[string]any, requestedQty int, requestedPrice float64) (qty int, price float64, filled bool) {
	if status == broker.OrderStatusCompleted {
		if raw != nil {
			if q, p, ok := broker.NormalizeFill(raw); ok {
				return q, p, true
			}
		}
		return requestedQty, requestedPrice, true
	}
	if raw != nil {
		if q, p, ok := broker.NormalizeFill(raw); ok {
			return q, p, true
		}
	}
	return 0, 0, false
}
