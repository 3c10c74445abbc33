package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/internal/conviction"
	"github.com/ghantakiran/axion-stock-sub004/internal/events"
	"github.com/ghantakiran/axion-stock-sub004/internal/execution"
	"github.com/ghantakiran/axion-stock-sub004/internal/exits"
	"github.com/ghantakiran/axion-stock-sub004/internal/regime"
	"github.com/ghantakiran/axion-stock-sub004/internal/signals"
	"github.com/ghantakiran/axion-stock-sub004/internal/sizing"
	"github.com/ghantakiran/axion-stock-sub004/internal/storage"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Stage numbers the entry pipeline.
type Stage int

const (
	StageLane Stage = iota // turned away before stage 1
	StageKillSwitch
	StageGuard
	StageRecord
	StageRisk
	StageRoute
	StageSize
	StageSubmit
	StageFill
	StagePosition
)

var stageNames = [...]string{
	StageLane:       "lane",
	StageKillSwitch: "kill_switch",
	StageGuard:      "signal_guard",
	StageRecord:     "record",
	StageRisk:       "risk",
	StageRoute:      "route",
	StageSize:       "size",
	StageSubmit:     "submit",
	StageFill:       "fill",
	StagePosition:   "position",
}

func (s Stage) String() string {
	if s < StageLane || s > StagePosition {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// RejectReason is the typed cause of a rejection.
type RejectReason string

const (
	ReasonKillSwitch      RejectReason = "kill_switch"
	ReasonStaleSignal     RejectReason = "stale_signal"
	ReasonDuplicateSignal RejectReason = "duplicate_signal"
	ReasonRecordFailed    RejectReason = "record_failed"
	ReasonRiskViolation   RejectReason = "risk_violation"
	ReasonBelowConviction RejectReason = "below_conviction"
	ReasonMaxPositions    RejectReason = "max_positions"
	ReasonNoRoute         RejectReason = "no_route"
	ReasonInvalidSize     RejectReason = "invalid_size"
	ReasonSubmitPermanent RejectReason = "submit_permanent"
	ReasonSubmitExhausted RejectReason = "submit_exhausted"
	ReasonFillRejected    RejectReason = "fill_rejected"
	ReasonPositionExists  RejectReason = "position_exists"
	ReasonLaneFull        RejectReason = "lane_full"
)

// Rejection says where and why a signal stopped.
type Rejection struct {
	Stage   Stage        `json:"stage"`
	Reason  RejectReason `json:"reason"`
	Message string       `json:"message"`
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("stage %d (%s): %s: %s", r.Stage, r.Stage, r.Reason, r.Message)
}

// Outcome is the result of one pipeline run.
type Outcome struct {
	SignalID      string           `json:"signalId"`
	Symbol        string           `json:"symbol"`
	Strategy      string           `json:"strategy"`
	Direction     types.Direction  `json:"direction"`
	Conviction    float64          `json:"conviction"`
	Level         conviction.Level `json:"level"`
	Accepted      bool             `json:"accepted"`
	Rejection     *Rejection       `json:"rejection,omitempty"`
	Position      *exits.Position  `json:"position,omitempty"`
	ClientOrderID string           `json:"clientOrderId,omitempty"`
	Attempts      int              `json:"attempts"`
	Duration      time.Duration    `json:"duration"`
}

type signalRecord struct {
	Signal     *types.TradeSignal `json:"signal"`
	Conviction float64            `json:"conviction"`
}

// Execute runs one entry signal through the nine stages, stopping at the
// first failure. conv is the signal's effective conviction. The caller must
// hold the signal's symbol lane.
func (o *Orchestrator) Execute(ctx context.Context, sig *types.TradeSignal, conv float64) *Outcome {
	start := time.Now()
	o.processed.Add(1)
	out := &Outcome{
		SignalID:   sig.ID,
		Symbol:     sig.Symbol,
		Strategy:   sig.Strategy,
		Direction:  sig.Direction,
		Conviction: conv,
		Level:      conviction.LevelFor(conv),
	}
	defer func() {
		out.Duration = time.Since(start)
		if o.metrics != nil {
			o.metrics.ObservePipeline(start)
		}
	}()

	o.publisher.Publish(events.NewSignalEvent(sig, conv))
	if o.metrics != nil {
		o.metrics.SignalsReceived.WithLabelValues(sig.Strategy, string(sig.Kind)).Inc()
	}

	// 1. Kill switch
	if o.kill.Active() {
		return o.reject(ctx, out, StageKillSwitch, ReasonKillSwitch, "kill switch engaged")
	}

	// 2. Signal guard
	now := o.now()
	if reason, msg, ok := o.guard.Check(sig, now); !ok {
		return o.reject(ctx, out, StageGuard, reason, msg)
	}

	// 3. Audit record
	if err := o.record(ctx, storage.KindSignal, sig.Symbol, sig.ID, signalRecord{Signal: sig, Conviction: conv}); err != nil {
		return o.reject(ctx, out, StageRecord, ReasonRecordFailed, err.Error())
	}

	// 4. Risk
	adj := o.regime.Adjustments()
	if held, ok := o.Position(sig.Symbol); ok {
		return o.reject(ctx, out, StageRisk, ReasonPositionExists,
			fmt.Sprintf("%s already holds %s position %s (%s)", sig.Symbol, held.Direction, held.ID, held.Status))
	}
	check := o.risk.CheckEntry(execution.RiskRequest{
		Symbol:        sig.Symbol,
		Strategy:      sig.Strategy,
		Direction:     sig.Direction,
		Conviction:    conv,
		OpenPositions: o.openCount(),
		Regime:        adj,
		At:            now,
	})
	if !check.Approved {
		v, _ := check.First()
		return o.reject(ctx, out, StageRisk, reasonForRule(v.Rule), v.Message)
	}

	// 5. Routing
	route, err := o.router.Resolve(sig.Symbol)
	if err != nil {
		return o.reject(ctx, out, StageRoute, ReasonNoRoute, err.Error())
	}

	// 6. Sizing
	stop, err := o.stopFor(sig, adj)
	if err != nil {
		return o.reject(ctx, out, StageSize, ReasonInvalidSize, err.Error())
	}
	size, err := o.sizer.CalculateSize(sizing.SizingRequest{
		Symbol:           sig.Symbol,
		Equity:           o.config.AccountEquity,
		EntryPrice:       sig.Price,
		StopLoss:         stop,
		RegimeMultiplier: adj.PositionSizeMultiplier,
	})
	if err != nil {
		return o.reject(ctx, out, StageSize, ReasonInvalidSize, err.Error())
	}
	pos, err := exits.NewPosition(sig, size.Units, stop)
	if err != nil {
		return o.reject(ctx, out, StageSize, ReasonInvalidSize, err.Error())
	}

	// 7. Submission
	order := &execution.Order{
		ClientOrderID: utils.IdempotencyToken(sig.ID),
		SignalID:      sig.ID,
		PositionID:    pos.ID,
		Symbol:        route.Instrument,
		Venue:         route.Venue,
		Side:          sig.Direction.EntrySide(),
		Type:          execution.OrderTypeMarket,
		Quantity:      size.Units,
		Price:         sig.Price,
		Purpose:       "entry",
		CreatedAt:     now,
	}
	out.ClientOrderID = order.ClientOrderID
	res := o.submitter.Submit(ctx, route.Broker, order, o.kill.Active)
	out.Attempts = res.Attempts
	o.orderSubmitted(ctx, order, res)
	switch res.Outcome {
	case execution.OutcomePermanent:
		if errors.Is(res.Err, execution.ErrSubmitAborted) {
			return o.reject(ctx, out, StageSubmit, ReasonKillSwitch, "kill switch engaged during submission")
		}
		return o.reject(ctx, out, StageSubmit, ReasonSubmitPermanent, errString(res.Err))
	case execution.OutcomeTransient:
		return o.reject(ctx, out, StageSubmit, ReasonSubmitExhausted, errString(res.Err))
	}

	// 8. Fill validation
	fill := o.fills.Validate(order, res.Result)
	if !fill.OK {
		o.correct(ctx, route, order, res.Result, sig.Direction)
		return o.reject(ctx, out, StageFill, ReasonFillRejected, fill.Reason)
	}

	// 9. Position
	if err := pos.Open(res.Result.AvgPrice, res.Result.FilledQty, now); err != nil {
		o.correct(ctx, route, order, res.Result, sig.Direction)
		return o.reject(ctx, out, StagePosition, ReasonFillRejected, err.Error())
	}
	if states, _, ok := o.latestStates(sig.Symbol, sig.Timeframe); ok {
		pos.FastCloudAligned = states[cloud.LayerFast].Agrees(sig.Direction)
	}

	o.mu.Lock()
	o.positions[sig.Symbol] = pos
	open := len(o.positions)
	o.mu.Unlock()
	o.risk.RecordEntry(now)
	o.setPrice(sig.Symbol, res.Result.AvgPrice)

	exec := events.NewExecutionEvent(sig.Symbol, order.ClientOrderID, pos.ID, order.Side, res.Result.FilledQty, res.Result.AvgPrice, order.Purpose)
	exec.Commission = res.Result.Commission
	exec.Slippage = fill.Slippage
	o.publisher.Publish(exec)

	snap := pos.Snapshot()
	o.audit(ctx, storage.KindTrade, sig.Symbol, order.ClientOrderID, res.Result)
	o.audit(ctx, storage.KindPosition, sig.Symbol, pos.ID, snap)
	if o.metrics != nil {
		o.metrics.PositionsOpened.WithLabelValues(sig.Strategy).Inc()
		o.metrics.OpenPositions.Set(float64(open))
	}

	o.accepted.Add(1)
	out.Accepted = true
	out.Position = &snap

	o.logger.Info("Position opened",
		zap.String("symbol", sig.Symbol),
		zap.String("positionId", pos.ID),
		zap.String("strategy", sig.Strategy),
		zap.String("direction", string(sig.Direction)),
		zap.String("qty", snap.Quantity.String()),
		zap.String("entry", snap.EntryPrice.String()),
		zap.String("stop", snap.StopLoss.String()),
		zap.Float64("conviction", conv),
		zap.Int("attempts", res.Attempts))
	return out
}

// Enqueue schedules Execute on the signal's symbol lane. A full lane rejects
// the signal with lane_full.
func (o *Orchestrator) Enqueue(sig *types.TradeSignal, conv float64) error {
	if !o.running.Load() {
		return ErrNotRunning
	}
	err := o.lanes.SubmitFunc(sig.Symbol, func(ctx context.Context) error {
		o.Execute(ctx, sig, conv)
		return nil
	})
	if err != nil {
		o.processed.Add(1)
		out := &Outcome{SignalID: sig.ID, Symbol: sig.Symbol, Strategy: sig.Strategy, Direction: sig.Direction, Conviction: conv}
		o.reject(context.Background(), out, StageLane, ReasonLaneFull, err.Error())
	}
	return err
}

func (o *Orchestrator) reject(ctx context.Context, out *Outcome, stage Stage, reason RejectReason, msg string) *Outcome {
	out.Rejection = &Rejection{Stage: stage, Reason: reason, Message: msg}
	o.rejected.Add(1)
	o.mu.Lock()
	o.byReason[reason]++
	o.mu.Unlock()

	o.publisher.Publish(events.NewRejectionEvent(out.Symbol, out.SignalID, int(stage), stage.String(), string(reason), msg))
	if o.metrics != nil {
		o.metrics.Rejections.WithLabelValues(stage.String(), string(reason)).Inc()
	}
	if stage != StageRecord {
		o.audit(ctx, storage.KindRejection, out.Symbol, out.SignalID, out.Rejection)
	}

	o.logger.Info("Signal rejected",
		zap.String("symbol", out.Symbol),
		zap.String("signalId", out.SignalID),
		zap.String("strategy", out.Strategy),
		zap.Int("stage", int(stage)),
		zap.String("reason", string(reason)),
		zap.String("message", msg))
	return out
}

func reasonForRule(rule string) RejectReason {
	switch rule {
	case execution.RuleMinConviction:
		return ReasonBelowConviction
	case execution.RuleMaxPositions:
		return ReasonMaxPositions
	default:
		return ReasonRiskViolation
	}
}

// stopFor returns the protective stop: the signal's own, or one derived from
// the pullback cloud, widened or tightened by the regime's stop multiplier.
func (o *Orchestrator) stopFor(sig *types.TradeSignal, adj *regime.StrategyAdjustments) (decimal.Decimal, error) {
	stop := sig.StopLoss
	if stop.IsZero() {
		states, bars, ok := o.latestStates(sig.Symbol, sig.Timeframe)
		if !ok {
			return decimal.Zero, fmt.Errorf("%s: no stop and no cloud history to derive one", sig.Symbol)
		}
		last := bars[len(bars)-1]
		stop = signals.ProtectiveStop(sig.Direction, states[cloud.LayerPullback], last.Low.InexactFloat64(), last.High.InexactFloat64())
	}
	if adj != nil && adj.StopLossMultiplier > 0 && adj.StopLossMultiplier != 1 {
		dist := sig.Price.Sub(stop).Mul(decimal.NewFromFloat(adj.StopLossMultiplier))
		stop = sig.Price.Sub(dist).Round(4)
	}

	protective := stop.LessThan(sig.Price)
	if sig.Direction == types.DirectionShort {
		protective = stop.GreaterThan(sig.Price)
	}
	if !protective || !stop.IsPositive() {
		return decimal.Zero, fmt.Errorf("%s %s: stop %s is not protective at %s", sig.Symbol, sig.Direction, stop, sig.Price)
	}
	return stop, nil
}

// latestStates computes the clouds over the stored window for (symbol, tf).
func (o *Orchestrator) latestStates(symbol string, tf types.Timeframe) ([cloud.NumLayers]cloud.State, []types.Bar, bool) {
	bars := o.store.Window(symbol, tf)
	if len(bars) == 0 {
		return [cloud.NumLayers]cloud.State{}, nil, false
	}
	c := o.engine.ComputeClouds(bars)
	return o.engine.GetCloudStates(c), bars, true
}

// correct handles a fill outside tolerance: an unfilled order is cancelled,
// a filled one is flattened with an opposite market order.
func (o *Orchestrator) correct(ctx context.Context, route execution.Route, order *execution.Order, res *execution.OrderResult, dir types.Direction) {
	if res == nil || !res.FilledQty.IsPositive() {
		if err := route.Broker.CancelOrder(ctx, order.ClientOrderID); err != nil && !errors.Is(err, execution.ErrUnknownOrder) {
			o.logger.Warn("Corrective cancel failed",
				zap.String("clientOrderId", order.ClientOrderID),
				zap.Error(err))
		}
		_ = o.orders.Cancel(order.ClientOrderID, "fill rejected")
		return
	}

	flatten := &execution.Order{
		ClientOrderID: utils.IdempotencyToken(order.SignalID + ":flatten"),
		SignalID:      order.SignalID,
		PositionID:    order.PositionID,
		Symbol:        order.Symbol,
		Venue:         order.Venue,
		Side:          dir.ExitSide(),
		Type:          execution.OrderTypeMarket,
		Quantity:      res.FilledQty,
		Price:         res.AvgPrice,
		Purpose:       "corrective",
		CreatedAt:     time.Now(),
	}
	r := o.submitter.Submit(ctx, route.Broker, flatten, nil)
	o.orderSubmitted(ctx, flatten, r)
	if r.Outcome != execution.OutcomeSuccess {
		err := fmt.Errorf("flatten %s %s: %w", res.FilledQty, order.Symbol, r.Err)
		o.logger.Error("Corrective flatten failed, exposure left open",
			zap.String("symbol", order.Symbol),
			zap.String("clientOrderId", flatten.ClientOrderID),
			zap.Error(err))
		o.publisher.Publish(events.NewErrorEvent(order.Symbol, "fill_validation", order.PositionID, err))
		return
	}

	pnl := r.Result.AvgPrice.Sub(res.AvgPrice).Mul(res.FilledQty)
	if dir == types.DirectionShort {
		pnl = pnl.Neg()
	}
	o.realize(order.Symbol, pnl, o.now())
	o.logger.Warn("Rejected fill flattened",
		zap.String("symbol", order.Symbol),
		zap.String("qty", res.FilledQty.String()),
		zap.String("entry", res.AvgPrice.String()),
		zap.String("exit", r.Result.AvgPrice.String()))
}

func (o *Orchestrator) orderSubmitted(ctx context.Context, order *execution.Order, res execution.SubmitResult) {
	ev := events.NewOrderEvent(order.Symbol, order.ClientOrderID, order.Side, order.Quantity, order.Price, order.Purpose)
	ev.Venue = order.Venue
	ev.SignalID = order.SignalID
	ev.PositionID = order.PositionID
	ev.Outcome = string(res.Outcome)
	ev.Attempts = res.Attempts
	o.publisher.Publish(ev)
	if o.metrics != nil {
		o.metrics.OrdersSubmitted.WithLabelValues(order.Venue, order.Purpose, string(res.Outcome)).Inc()
	}
	if mo, ok := o.orders.GetOrder(order.ClientOrderID); ok {
		o.audit(ctx, storage.KindOrder, order.Symbol, order.ClientOrderID, mo)
	}
}

// realize books realized P&L with the risk manager, publishing
// daily_loss_warning the first time the day crosses it.
func (o *Orchestrator) realize(symbol string, pnl decimal.Decimal, at time.Time) {
	warn := o.risk.RecordTrade(execution.TradeRecord{Symbol: symbol, PnL: pnl, At: at})
	if o.metrics != nil {
		o.metrics.DailyPnL.Set(o.risk.GetStats().DailyPnL.InexactFloat64())
	}
	if warn != nil {
		o.publisher.Publish(events.NewDailyLossWarningEvent(symbol, warn.DailyPnL, warn.Limit, warn.Pct))
	}
}

func (o *Orchestrator) record(ctx context.Context, kind storage.RecordKind, symbol, ref string, payload any) error {
	rec, err := storage.NewRecord(kind, symbol, ref, payload)
	if err != nil {
		return err
	}
	return o.recorder.Record(ctx, rec)
}

// audit records best-effort; recording never decides control flow after
// stage 3.
func (o *Orchestrator) audit(ctx context.Context, kind storage.RecordKind, symbol, ref string, payload any) {
	if err := o.record(ctx, kind, symbol, ref, payload); err != nil {
		o.logger.Warn("Audit record failed",
			zap.String("kind", string(kind)),
			zap.String("symbol", symbol),
			zap.String("ref", ref),
			zap.Error(err))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
