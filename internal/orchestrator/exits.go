package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ghantakiran/axion-stock-sub004/internal/events"
	"github.com/ghantakiran/axion-stock-sub004/internal/execution"
	"github.com/ghantakiran/axion-stock-sub004/internal/exits"
	"github.com/ghantakiran/axion-stock-sub004/internal/sizing"
	"github.com/ghantakiran/axion-stock-sub004/internal/storage"
	"github.com/ghantakiran/axion-stock-sub004/internal/workers"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// OnPrice queues exit evaluation for symbol at price on its lane.
func (o *Orchestrator) OnPrice(symbol string, price decimal.Decimal) error {
	if !o.running.Load() {
		return ErrNotRunning
	}
	return o.lanes.SubmitFunc(symbol, func(ctx context.Context) error {
		o.EvaluateExits(ctx, symbol, price)
		return nil
	})
}

// EvaluateExits checks the position on symbol against price and acts on the
// highest-priority exit. It returns the exit acted on, or nil. The caller
// must hold the symbol's lane.
func (o *Orchestrator) EvaluateExits(ctx context.Context, symbol string, price decimal.Decimal) *exits.ExitSignal {
	o.setPrice(symbol, price)

	o.mu.RLock()
	p, ok := o.positions[symbol]
	o.mu.RUnlock()
	if !ok {
		return nil
	}

	states, bars, _ := o.latestStates(symbol, p.Timeframe)

	o.mu.RLock()
	sig := o.monitor.CheckAll(p, price, states, bars, o.now())
	o.mu.RUnlock()
	if sig == nil {
		return nil
	}
	if err := o.act(ctx, p, sig); err != nil {
		o.logger.Warn("Exit not completed",
			zap.String("symbol", symbol),
			zap.String("positionId", p.ID),
			zap.String("kind", string(sig.Kind)),
			zap.Error(err))
	}
	return sig
}

// exitOnCandidate hands a detector exit candidate to the monitor for the
// position on its symbol and acts on the exit it yields. The caller must
// hold the symbol's lane.
func (o *Orchestrator) exitOnCandidate(ctx context.Context, cand *types.TradeSignal, price decimal.Decimal) *exits.ExitSignal {
	o.mu.RLock()
	p, ok := o.positions[cand.Symbol]
	var sig *exits.ExitSignal
	if ok {
		sig = o.monitor.CheckCandidate(p, cand, price, o.now())
	}
	o.mu.RUnlock()
	if sig == nil {
		return nil
	}
	if err := o.act(ctx, p, sig); err != nil {
		o.logger.Warn("Exit not completed",
			zap.String("symbol", cand.Symbol),
			zap.String("positionId", p.ID),
			zap.String("kind", string(sig.Kind)),
			zap.String("candidate", cand.ID),
			zap.Error(err))
	}
	return sig
}

// EmergencyClose force-closes the position on symbol, or every position
// when symbol is empty, at the last known price. Live and frozen positions
// are both closed.
func (o *Orchestrator) EmergencyClose(ctx context.Context, symbol, reason string) ([]*exits.ExitSignal, error) {
	var symbols []string
	if symbol != "" {
		if _, ok := o.Position(symbol); !ok {
			return nil, fmt.Errorf("%s: %w", symbol, ErrPositionNotFound)
		}
		symbols = []string{symbol}
	} else {
		for _, p := range o.Positions() {
			symbols = append(symbols, p.Symbol)
		}
		sort.Strings(symbols)
	}

	var (
		mu   sync.Mutex
		out  []*exits.ExitSignal
		errs []error
	)
	for _, sym := range symbols {
		sym := sym
		run := func(ctx context.Context) error {
			sig, err := o.emergency(ctx, sym, reason)
			mu.Lock()
			defer mu.Unlock()
			if sig != nil {
				out = append(out, sig)
			}
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			}
			return nil
		}
		var err error
		if o.running.Load() {
			err = o.lanes.SubmitWait(ctx, sym, workers.TaskFunc(run))
		} else {
			err = run(ctx)
		}
		if err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("%s: %w", sym, err))
			mu.Unlock()
		}
	}

	mu.Lock()
	defer mu.Unlock()
	return out, errors.Join(errs...)
}

func (o *Orchestrator) emergency(ctx context.Context, symbol, reason string) (*exits.ExitSignal, error) {
	o.mu.RLock()
	p, ok := o.positions[symbol]
	o.mu.RUnlock()
	if !ok {
		return nil, ErrPositionNotFound
	}
	price, ok := o.lastPrice(symbol)
	if !ok {
		return nil, ErrNoPrice
	}

	o.mu.RLock()
	sig := o.monitor.Emergency(p, price, reason, o.now())
	o.mu.RUnlock()

	o.logger.Warn("Emergency close",
		zap.String("symbol", symbol),
		zap.String("positionId", p.ID),
		zap.String("reason", reason))
	o.publisher.Publish(events.NewEmergencyCloseEvent(symbol, p.ID, reason))
	return sig, o.act(ctx, p, sig)
}

// Unfreeze returns a frozen position to monitoring after review.
func (o *Orchestrator) Unfreeze(positionID string) (exits.Position, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for _, p := range o.positions {
		if p.ID != positionID {
			continue
		}
		if err := p.Unfreeze(); err != nil {
			return p.Snapshot(), err
		}
		o.logger.Info("Position unfrozen",
			zap.String("symbol", p.Symbol),
			zap.String("positionId", p.ID),
			zap.String("status", string(p.Status)))
		return p.Snapshot(), nil
	}
	return exits.Position{}, fmt.Errorf("%s: %w", positionID, ErrPositionNotFound)
}

// act carries out an exit. Stop moves only touch the position; exits with a
// quantity go to the broker first and are applied at the fill price.
func (o *Orchestrator) act(ctx context.Context, p *exits.Position, sig *exits.ExitSignal) error {
	if o.metrics != nil {
		o.metrics.ExitSignals.WithLabelValues(string(sig.Kind)).Inc()
	}

	if sig.Kind == types.ExitTrailToBreakeven {
		o.mu.Lock()
		err := o.monitor.Apply(p, sig, decimal.Zero)
		o.mu.Unlock()
		if err != nil {
			o.freeze(p, err)
			return err
		}
		o.audit(ctx, storage.KindPosition, p.Symbol, p.ID, o.snapshot(p))
		o.logger.Info("Stop moved to breakeven",
			zap.String("symbol", p.Symbol),
			zap.String("positionId", p.ID),
			zap.String("stop", sig.NewStop.String()))
		return nil
	}

	route, err := o.router.Resolve(p.Symbol)
	if err != nil {
		o.publisher.Publish(events.NewErrorEvent(p.Symbol, "exits", p.ID, err))
		return err
	}

	purpose := "exit"
	if sig.Kind == types.ExitScaleOut {
		purpose = "scale_out"
	}
	order := &execution.Order{
		ClientOrderID: utils.IdempotencyToken(fmt.Sprintf("%s:%s:%d", p.ID, sig.Kind, sig.Timestamp.UnixNano())),
		SignalID:      p.SignalID,
		PositionID:    p.ID,
		Symbol:        route.Instrument,
		Venue:         route.Venue,
		Side:          p.Direction.ExitSide(),
		Type:          execution.OrderTypeMarket,
		Quantity:      sig.Quantity,
		Price:         sig.Price,
		Purpose:       purpose,
		CreatedAt:     sig.Timestamp,
	}
	res := o.submitter.Submit(ctx, route.Broker, order, nil)
	o.orderSubmitted(ctx, order, res)
	if res.Outcome != execution.OutcomeSuccess {
		err := fmt.Errorf("%s order %s: %w", purpose, order.ClientOrderID, res.Err)
		o.publisher.Publish(events.NewErrorEvent(p.Symbol, "exits", p.ID, err))
		return err
	}
	if !res.Result.FilledQty.Equal(sig.Quantity) {
		err := fmt.Errorf("%s filled %s of %s: %w", purpose, res.Result.FilledQty, sig.Quantity, exits.ErrInvalidQuantity)
		o.freeze(p, err)
		return err
	}
	fill := res.Result.AvgPrice

	o.mu.Lock()
	before := p.RealizedPnL
	err = o.monitor.Apply(p, sig, fill)
	delta := p.RealizedPnL.Sub(before)
	closed := err == nil && p.Status == exits.StatusClosed
	var snap exits.Position
	open := len(o.positions)
	if err == nil {
		snap = p.Snapshot()
	}
	if closed {
		delete(o.positions, p.Symbol)
		open = len(o.positions)
		o.closed = append(o.closed, snap)
		if keep := o.config.ClosedHistory; keep > 0 && len(o.closed) > keep {
			o.closed = o.closed[len(o.closed)-keep:]
		}
	}
	o.mu.Unlock()

	if err != nil {
		o.freeze(p, err)
		return err
	}

	exec := events.NewExecutionEvent(p.Symbol, order.ClientOrderID, p.ID, order.Side, res.Result.FilledQty, fill, purpose)
	exec.Commission = res.Result.Commission
	o.publisher.Publish(exec)
	o.audit(ctx, storage.KindTrade, p.Symbol, order.ClientOrderID, res.Result)
	o.audit(ctx, storage.KindPosition, p.Symbol, p.ID, snap)
	o.realize(p.Symbol, delta, sig.Timestamp)

	if !closed {
		o.logger.Info("Position scaled out",
			zap.String("symbol", p.Symbol),
			zap.String("positionId", p.ID),
			zap.String("qty", sig.Quantity.String()),
			zap.String("remaining", snap.Quantity.String()),
			zap.String("price", fill.String()))
		return nil
	}

	r := snap.RealizedR()
	o.sizer.AddTradeResult(sizing.TradeResult{
		Symbol:    snap.Symbol,
		Strategy:  snap.Strategy,
		Entry:     snap.EntryPrice,
		Exit:      fill,
		PnL:       snap.RealizedPnL,
		RMultiple: r.InexactFloat64(),
	})

	ev := events.NewPositionEvent(snap.Symbol, snap.ID, sig.Kind, snap.EntryPrice, fill, snap.InitialQuantity, snap.RealizedPnL)
	ev.Direction = snap.Direction
	ev.Strategy = snap.Strategy
	ev.RMultiple = r.InexactFloat64()
	ev.Reason = sig.Reason
	o.publisher.Publish(ev)

	if o.metrics != nil {
		o.metrics.PositionsClosed.WithLabelValues(string(sig.Kind)).Inc()
		o.metrics.OpenPositions.Set(float64(open))
	}
	o.logger.Info("Position closed",
		zap.String("symbol", snap.Symbol),
		zap.String("positionId", snap.ID),
		zap.String("exitKind", string(sig.Kind)),
		zap.String("entry", snap.EntryPrice.String()),
		zap.String("exit", fill.String()),
		zap.String("pnl", snap.RealizedPnL.String()),
		zap.String("r", r.StringFixed(2)),
		zap.String("reason", sig.Reason))
	return nil
}

// freeze halts automated management of p after an invariant violation.
func (o *Orchestrator) freeze(p *exits.Position, cause error) {
	o.mu.Lock()
	ferr := p.Freeze(cause.Error())
	snap := p.Snapshot()
	o.mu.Unlock()

	o.logger.Error("Position frozen",
		zap.String("symbol", snap.Symbol),
		zap.String("positionId", snap.ID),
		zap.String("status", string(snap.Status)),
		zap.String("direction", string(snap.Direction)),
		zap.String("qty", snap.Quantity.String()),
		zap.String("entry", snap.EntryPrice.String()),
		zap.String("stop", snap.StopLoss.String()),
		zap.Bool("breakevenTriggered", snap.BreakevenTriggered),
		zap.Bool("scaledOut", snap.ScaledOut),
		zap.Error(cause))
	if ferr != nil {
		o.logger.Error("Freeze refused", zap.String("positionId", snap.ID), zap.Error(ferr))
	}
	o.publisher.Publish(events.NewErrorEvent(snap.Symbol, "exits", snap.ID, cause))
	o.audit(context.Background(), storage.KindPosition, snap.Symbol, snap.ID, snap)
}

func (o *Orchestrator) snapshot(p *exits.Position) exits.Position {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return p.Snapshot()
}
