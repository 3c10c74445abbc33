// Package orchestrator runs the signal-to-position pipeline: detection and
// scoring on every bar, the nine-stage entry pipeline per fused signal, and
// exit evaluation on every price update. Work for one symbol runs on one
// lane, in arrival order.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/internal/config"
	"github.com/ghantakiran/axion-stock-sub004/internal/conviction"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/internal/events"
	"github.com/ghantakiran/axion-stock-sub004/internal/execution"
	"github.com/ghantakiran/axion-stock-sub004/internal/exits"
	"github.com/ghantakiran/axion-stock-sub004/internal/metrics"
	"github.com/ghantakiran/axion-stock-sub004/internal/mtf"
	"github.com/ghantakiran/axion-stock-sub004/internal/regime"
	"github.com/ghantakiran/axion-stock-sub004/internal/signals"
	"github.com/ghantakiran/axion-stock-sub004/internal/sizing"
	"github.com/ghantakiran/axion-stock-sub004/internal/storage"
	"github.com/ghantakiran/axion-stock-sub004/internal/strategy"
	"github.com/ghantakiran/axion-stock-sub004/internal/workers"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrNotRunning       = errors.New("orchestrator not running")
	ErrAlreadyRunning   = errors.New("orchestrator already running")
	ErrPositionNotFound = errors.New("position not found")
	ErrNoPrice          = errors.New("no price for symbol")
)

// Config configures the orchestrator and every component it owns.
type Config struct {
	Cloud         cloud.Config                 `json:"cloud"`
	Detector      signals.Config               `json:"detector"`
	MTF           mtf.Config                   `json:"mtf"`
	Conviction    conviction.Config            `json:"conviction"`
	Selector      strategy.SelectorConfig      `json:"selector"`
	Pullback      strategy.PullbackConfig      `json:"pullback"`
	TrendDay      strategy.TrendDayConfig      `json:"trendDay"`
	Scalp         strategy.ScalpConfig         `json:"scalp"`
	MeanReversion strategy.MeanReversionConfig `json:"meanReversion"`
	Regime        regime.AdapterConfig         `json:"regime"`
	Risk          execution.RiskConfig         `json:"risk"`
	Sizing        sizing.SizingConfig          `json:"sizing"`
	Submitter     execution.SubmitterConfig    `json:"submitter"`
	Exits         exits.MonitorConfig          `json:"exits"`
	Guard         GuardConfig                  `json:"guard"`
	Lanes         workers.PoolConfig           `json:"lanes"`
	Runtime       types.RuntimeSettings        `json:"runtime"`

	AccountEquity     decimal.Decimal `json:"accountEquity"`
	SlippageTolerance decimal.Decimal `json:"slippageTolerance"` // fraction of the reference price
	BarHistory        int             `json:"barHistory"`        // bars kept per (symbol, timeframe)

	// FactorScore feeds the external factor when no upstream model is wired.
	// Negative leaves the factor out of the score.
	FactorScore     float64       `json:"factorScore"`
	ClosedHistory   int           `json:"closedHistory"`
	MetricsInterval time.Duration `json:"metricsInterval"`
}

// DefaultConfig returns the defaults for every component.
func DefaultConfig() Config {
	return Config{
		Cloud:             cloud.DefaultConfig(),
		Detector:          signals.DefaultConfig(),
		MTF:               mtf.DefaultConfig(),
		Conviction:        conviction.DefaultConfig(),
		Selector:          strategy.DefaultSelectorConfig(),
		Pullback:          strategy.DefaultPullbackConfig(),
		TrendDay:          strategy.DefaultTrendDayConfig(),
		Scalp:             strategy.DefaultScalpConfig(),
		MeanReversion:     strategy.DefaultMeanReversionConfig(),
		Regime:            regime.DefaultAdapterConfig(),
		Risk:              execution.DefaultRiskConfig(),
		Sizing:            sizing.DefaultSizingConfig(),
		Submitter:         execution.DefaultSubmitterConfig(),
		Exits:             exits.DefaultMonitorConfig(),
		Guard:             DefaultGuardConfig(),
		Lanes:             workers.DefaultPoolConfig("symbols"),
		Runtime:           types.DefaultRuntimeSettings(),
		AccountEquity:     decimal.NewFromInt(100000),
		SlippageTolerance: decimal.RequireFromString("0.005"),
		BarHistory:        500,
		FactorScore:       0.5,
		ClosedHistory:     500,
		MetricsInterval:   5 * time.Second,
	}
}

// Collaborators are the components the orchestrator does not own.
type Collaborators struct {
	Router    *execution.SymbolRouter // brokers must be registered
	Recorder  storage.Recorder        // audit sink; in-memory when nil
	Publisher events.Publisher        // event egress; discarded when nil
	Metrics   *metrics.Metrics        // optional
}

type discard struct{}

func (discard) Publish(events.Event) {}

// Orchestrator owns the pipeline components, the kill switch and the
// position book.
type Orchestrator struct {
	logger *zap.Logger
	config Config

	engine    *cloud.Engine
	detector  *signals.Detector
	mtf       *mtf.Engine
	scorer    *conviction.Scorer
	registry  *strategy.Registry
	selector  *strategy.Selector
	regime    *regime.Adapter
	risk      *execution.RiskManager
	sizer     *sizing.PositionSizer
	router    *execution.SymbolRouter
	orders    *execution.OrderManager
	submitter *execution.Submitter
	fills     *execution.FillValidator
	monitor   *exits.Monitor
	store     *data.Store
	lanes     *workers.LanePool
	guard     *SignalGuard

	recorder  storage.Recorder
	publisher events.Publisher
	metrics   *metrics.Metrics

	kill KillSwitch

	mu        sync.RWMutex
	settings  types.RuntimeSettings
	positions map[string]*exits.Position // live or frozen, one per symbol
	closed    []exits.Position
	prices    map[string]decimal.Decimal
	byReason  map[RejectReason]int64

	processed atomic.Int64
	accepted  atomic.Int64
	rejected  atomic.Int64

	running   atomic.Bool
	startedAt time.Time
	stopCh    chan struct{}

	clock atomic.Pointer[func() time.Time]
}

// New builds the orchestrator and all of its owned components.
func New(logger *zap.Logger, cfg Config, collab Collaborators) (*Orchestrator, error) {
	if collab.Router == nil {
		return nil, fmt.Errorf("orchestrator: router is required")
	}
	if err := config.ValidateRuntime(cfg.Runtime); err != nil {
		return nil, err
	}

	engine, err := cloud.NewEngine(cfg.Cloud)
	if err != nil {
		return nil, err
	}
	detector, err := signals.NewDetector(engine, cfg.Detector)
	if err != nil {
		return nil, fmt.Errorf("signal detector: %w", err)
	}
	scorer := conviction.NewScorer(cfg.Conviction)

	registry := strategy.NewRegistry(logger)
	registry.Register(strategy.NewPullbackStrategy(logger, engine, cfg.Pullback))
	registry.Register(strategy.NewTrendDayStrategy(logger, engine, scorer, cfg.TrendDay))
	registry.Register(strategy.NewScalpStrategy(logger, engine, cfg.Scalp))
	registry.Register(strategy.NewCloudTrendStrategy(logger, detector))
	registry.Register(strategy.NewMeanReversionStrategy(logger, cfg.MeanReversion))

	orders := execution.NewOrderManager(logger)

	recorder := collab.Recorder
	if recorder == nil {
		recorder = storage.NewMemoryRecorder()
	}
	publisher := collab.Publisher
	if publisher == nil {
		publisher = discard{}
	}

	o := &Orchestrator{
		logger:    logger.Named("orchestrator"),
		config:    cfg,
		engine:    engine,
		detector:  detector,
		mtf:       mtf.NewEngine(logger, detector, cfg.MTF),
		scorer:    scorer,
		registry:  registry,
		selector:  strategy.NewSelector(cfg.Selector),
		regime:    regime.NewAdapter(logger, cfg.Regime),
		risk:      execution.NewRiskManager(logger, cfg.Risk),
		sizer:     sizing.NewPositionSizer(logger, cfg.Sizing),
		router:    collab.Router,
		orders:    orders,
		submitter: execution.NewSubmitter(logger, orders, cfg.Submitter),
		fills:     execution.NewFillValidator(logger, cfg.SlippageTolerance),
		monitor:   exits.NewMonitor(logger, engine, cfg.Exits),
		store:     data.NewStore(logger, cfg.BarHistory),
		lanes:     workers.NewLanePool(logger, cfg.Lanes),
		guard:     NewSignalGuard(cfg.Guard),
		recorder:  recorder,
		publisher: publisher,
		metrics:   collab.Metrics,
		positions: make(map[string]*exits.Position),
		prices:    make(map[string]decimal.Decimal),
		byReason:  make(map[RejectReason]int64),
		stopCh:    make(chan struct{}),
	}
	o.SetClock(time.Now)

	if m := o.metrics; m != nil {
		o.submitter.OnAttempt(func(venue string, attempt int, kind execution.FailureKind, err error) {
			result := "ok"
			if err != nil {
				result = string(kind)
			}
			m.SubmitAttempts.WithLabelValues(venue, result).Inc()
		})
	}

	o.applySettings(cfg.Runtime)
	return o, nil
}

// Start starts the symbol lanes and the metrics loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	o.startedAt = time.Now()
	o.stopCh = make(chan struct{})
	o.lanes.Start()

	if o.metrics != nil && o.config.MetricsInterval > 0 {
		go o.metricsLoop(ctx)
	}

	o.logger.Info("Orchestrator started",
		zap.Strings("strategies", o.registry.List()),
		zap.Int("lanes", o.config.Lanes.NumLanes),
		zap.Float64("maxRiskPerTrade", o.Settings().MaxRiskPerTrade))
	return nil
}

// Stop drains the lanes. Open positions are left as they are.
func (o *Orchestrator) Stop() error {
	if !o.running.CompareAndSwap(true, false) {
		return nil
	}
	close(o.stopCh)
	err := o.lanes.Stop()
	o.logger.Info("Orchestrator stopped",
		zap.Int64("processed", o.processed.Load()),
		zap.Int64("accepted", o.accepted.Load()))
	return err
}

// IsRunning reports whether the lanes accept work.
func (o *Orchestrator) IsRunning() bool { return o.running.Load() }

func (o *Orchestrator) metricsLoop(ctx context.Context) {
	ticker := time.NewTicker(o.config.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		case <-ticker.C:
			o.metrics.LaneQueueDepth.Set(float64(o.lanes.QueueLength()))
			o.metrics.DailyPnL.Set(o.risk.GetStats().DailyPnL.InexactFloat64())
		}
	}
}

// Settings returns a copy of the runtime settings in effect.
func (o *Orchestrator) Settings() types.RuntimeSettings {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.settings.Clone()
}

// UpdateSettings hot-applies runtime settings. Invalid settings are
// rejected and the previous ones stay in effect.
func (o *Orchestrator) UpdateSettings(s types.RuntimeSettings) error {
	if err := config.ValidateRuntime(s); err != nil {
		o.logger.Warn("Runtime settings rejected", zap.Error(err))
		return err
	}
	o.applySettings(s)
	o.logger.Info("Runtime settings applied",
		zap.Float64("maxRiskPerTrade", s.MaxRiskPerTrade),
		zap.Int("maxConcurrentPositions", s.MaxConcurrentPositions),
		zap.Float64("minConviction", s.MinConvictionToExecute),
		zap.Int("timeframes", len(s.ActiveTimeframes)),
		zap.Int("regimeOverrides", len(s.RegimeOverrides)))
	return nil
}

func (o *Orchestrator) applySettings(s types.RuntimeSettings) {
	s = s.Clone()
	o.risk.UpdateLimits(s.MaxConcurrentPositions, s.MinConvictionToExecute)
	o.sizer.SetMaxRiskPerTrade(s.MaxRiskPerTrade)
	o.mtf.SetTimeframes(s.ActiveTimeframes)
	o.regime.SetOverrides(s.RegimeOverrides)

	o.mu.Lock()
	o.settings = s
	o.mu.Unlock()
}

// SetClock replaces the wall clock used for signal freshness, position
// timestamps and time-based exits. Replays and tests drive it from bar time.
// It is safe to call while the orchestrator is running.
func (o *Orchestrator) SetClock(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	o.clock.Store(&now)
}

func (o *Orchestrator) now() time.Time {
	return (*o.clock.Load())()
}

// UpdateRegime applies a label and confidence from the regime collaborator.
func (o *Orchestrator) UpdateRegime(label string, confidence float64) regime.State {
	return o.regime.Update(label, confidence)
}

// Regime returns the regime state and the adjustments in effect.
func (o *Orchestrator) Regime() (regime.State, *regime.StrategyAdjustments) {
	return o.regime.Current(), o.regime.Adjustments()
}

// Registry returns the strategy registry.
func (o *Orchestrator) Registry() *strategy.Registry { return o.registry }

// Store returns the bar store.
func (o *Orchestrator) Store() *data.Store { return o.store }

// Orders returns the order manager.
func (o *Orchestrator) Orders() *execution.OrderManager { return o.orders }

// KillSwitch returns the current kill switch state.
func (o *Orchestrator) KillSwitch() KillSwitchState { return o.kill.State() }

// Kill engages the kill switch, cancels every pending order and publishes
// kill_switch. Open positions keep being evaluated for exits.
func (o *Orchestrator) Kill(ctx context.Context, reason string) []string {
	if !o.kill.Set(reason) {
		return nil
	}
	cancelled := o.orders.CancelAll(ctx, o.router.Broker, "kill switch: "+reason)
	o.logger.Warn("Kill switch engaged",
		zap.String("reason", reason),
		zap.Int("cancelledOrders", len(cancelled)))
	if o.metrics != nil {
		o.metrics.SetKillSwitch(true)
	}
	o.publisher.Publish(events.NewKillSwitchEvent(true, reason, cancelled))
	return cancelled
}

// Resume releases the kill switch.
func (o *Orchestrator) Resume(reason string) bool {
	if !o.kill.Clear() {
		return false
	}
	o.logger.Info("Kill switch released", zap.String("reason", reason))
	if o.metrics != nil {
		o.metrics.SetKillSwitch(false)
	}
	o.publisher.Publish(events.NewKillSwitchEvent(false, reason, nil))
	return true
}

// Positions returns snapshots of live and frozen positions.
func (o *Orchestrator) Positions() []exits.Position {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]exits.Position, 0, len(o.positions))
	for _, p := range o.positions {
		out = append(out, p.Snapshot())
	}
	return out
}

// Position returns the position held on symbol.
func (o *Orchestrator) Position(symbol string) (exits.Position, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.positions[symbol]
	if !ok {
		return exits.Position{}, false
	}
	return p.Snapshot(), true
}

// ClosedPositions returns up to limit closed positions, most recent last.
func (o *Orchestrator) ClosedPositions(limit int) []exits.Position {
	o.mu.RLock()
	defer o.mu.RUnlock()
	start := 0
	if limit > 0 && len(o.closed) > limit {
		start = len(o.closed) - limit
	}
	return append([]exits.Position(nil), o.closed[start:]...)
}

func (o *Orchestrator) openCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.positions)
}

// lastPrice returns the latest traded price seen for symbol.
func (o *Orchestrator) lastPrice(symbol string) (decimal.Decimal, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.prices[symbol]
	return p, ok
}

func (o *Orchestrator) setPrice(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	o.prices[symbol] = price
	o.mu.Unlock()
}

// PipelineStats counts pipeline runs.
type PipelineStats struct {
	Processed int64                  `json:"processed"`
	Accepted  int64                  `json:"accepted"`
	Rejected  int64                  `json:"rejected"`
	ByReason  map[RejectReason]int64 `json:"byReason"`
}

// Status is the orchestrator's externally visible state.
type Status struct {
	Running         bool                        `json:"running"`
	Uptime          time.Duration               `json:"uptime"`
	KillSwitch      KillSwitchState             `json:"killSwitch"`
	OpenPositions   int                         `json:"openPositions"`
	FrozenPositions int                         `json:"frozenPositions"`
	LaneDepth       int                         `json:"laneDepth"`
	Lanes           workers.PoolStats           `json:"lanes"`
	Regime          regime.State                `json:"regime"`
	Adjustments     *regime.StrategyAdjustments `json:"adjustments"`
	Risk            execution.RiskStats         `json:"risk"`
	Orders          execution.OrderStats        `json:"orders"`
	Pipeline        PipelineStats               `json:"pipeline"`
	Settings        types.RuntimeSettings       `json:"settings"`
	Strategies      []string                    `json:"strategies"`
	Guard           int                         `json:"guardEntries"`
	Slippage        map[string]decimal.Decimal  `json:"avgSlippage,omitempty"`
}

// Status returns a snapshot of the orchestrator's state.
func (o *Orchestrator) Status() Status {
	st := Status{
		Running:     o.running.Load(),
		KillSwitch:  o.kill.State(),
		LaneDepth:   o.lanes.QueueLength(),
		Lanes:       o.lanes.Stats(),
		Regime:      o.regime.Current(),
		Adjustments: o.regime.Adjustments(),
		Risk:        o.risk.GetStats(),
		Orders:      o.orders.GetOrderStats(),
		Strategies:  o.registry.List(),
		Guard:       o.guard.Len(),
		Settings:    o.Settings(),
	}
	if st.Running {
		st.Uptime = time.Since(o.startedAt)
	}

	o.mu.RLock()
	for symbol, p := range o.positions {
		if p.Status == exits.StatusFrozen {
			st.FrozenPositions++
		} else {
			st.OpenPositions++
		}
		if slip := o.fills.AverageSlippage(symbol); !slip.IsZero() {
			if st.Slippage == nil {
				st.Slippage = make(map[string]decimal.Decimal)
			}
			st.Slippage[symbol] = slip
		}
	}
	byReason := make(map[RejectReason]int64, len(o.byReason))
	for k, v := range o.byReason {
		byReason[k] = v
	}
	o.mu.RUnlock()

	st.Pipeline = PipelineStats{
		Processed: o.processed.Load(),
		Accepted:  o.accepted.Load(),
		Rejected:  o.rejected.Load(),
		ByReason:  byReason,
	}
	return st
}
