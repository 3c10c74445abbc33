package exits

import (
	"fmt"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MonitorConfig configures the exit monitor
type MonitorConfig struct {
	ExhaustionBars   int             `json:"exhaustionBars"`
	TargetR          decimal.Decimal `json:"targetR"`
	TimeStop         time.Duration   `json:"timeStop"`
	NoProgressR      decimal.Decimal `json:"noProgressR"` // |R| inside this band counts as no progress
	EODLocation      *time.Location  `json:"-"`
	EODHour          int             `json:"eodHour"`
	EODMinute        int             `json:"eodMinute"`
	BreakevenR       decimal.Decimal `json:"breakevenR"`
	BreakevenBuffer  decimal.Decimal `json:"breakevenBuffer"`
	ScaleOutR        decimal.Decimal `json:"scaleOutR"`
	ScaleOutFraction decimal.Decimal `json:"scaleOutFraction"`
}

// DefaultMonitorConfig returns default exit rules: 2R target, 120 minute
// time stop, 15:50 New York cutoff, breakeven and a half scale-out at 1R.
func DefaultMonitorConfig() MonitorConfig {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return MonitorConfig{
		ExhaustionBars:   3,
		TargetR:          decimal.NewFromInt(2),
		TimeStop:         120 * time.Minute,
		NoProgressR:      decimal.RequireFromString("0.25"),
		EODLocation:      loc,
		EODHour:          15,
		EODMinute:        50,
		BreakevenR:       decimal.NewFromInt(1),
		BreakevenBuffer:  decimal.RequireFromString("0.001"),
		ScaleOutR:        decimal.NewFromInt(1),
		ScaleOutFraction: decimal.RequireFromString("0.5"),
	}
}

// ExitSignal is one exit decision for one position.
type ExitSignal struct {
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Kind       types.ExitKind  `json:"kind"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`          // to close; zero for stop moves
	NewStop    decimal.Decimal `json:"newStop,omitempty"` // trail_to_breakeven only
	RMultiple  decimal.Decimal `json:"rMultiple"`
	Reason     string          `json:"reason"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Priority is the rank of the exit kind, 0 being highest.
func (e *ExitSignal) Priority() int { return e.Kind.Priority() }

// Monitor evaluates exit conditions in priority order.
type Monitor struct {
	logger *zap.Logger
	engine *cloud.Engine
	config MonitorConfig
}

// NewMonitor creates an exit monitor. The engine recomputes the fast cloud
// over recent bars for the exhaustion rule.
func NewMonitor(logger *zap.Logger, engine *cloud.Engine, config MonitorConfig) *Monitor {
	if config.EODLocation == nil {
		config.EODLocation = time.UTC
	}
	return &Monitor{
		logger: logger.Named("exits"),
		engine: engine,
		config: config,
	}
}

// Config returns the monitor configuration.
func (m *Monitor) Config() MonitorConfig { return m.config }

// CheckAll returns the highest-priority exit that applies to p, or nil. It
// never mutates p. Pending, frozen and closed positions are skipped.
func (m *Monitor) CheckAll(p *Position, price decimal.Decimal, states [cloud.NumLayers]cloud.State, recent []types.Bar, now time.Time) *ExitSignal {
	if !p.Status.IsLive() {
		return nil
	}
	r := p.RMultiple(price)
	emit := func(kind types.ExitKind, reason string) *ExitSignal {
		return &ExitSignal{
			PositionID: p.ID,
			Symbol:     p.Symbol,
			Kind:       kind,
			Price:      price,
			Quantity:   p.Quantity,
			RMultiple:  r,
			Reason:     reason,
			Timestamp:  now,
		}
	}

	if p.StopHit(price) {
		return emit(types.ExitStopLoss, fmt.Sprintf("price %s crossed stop %s", price, p.StopLoss))
	}

	if n, ok := m.exhausted(p, recent); ok {
		return emit(types.ExitExhaustion, fmt.Sprintf("%d closes outside the fast cloud against the position", n))
	}

	if fast := states[cloud.LayerFast]; p.FastCloudAligned && fast.Defined && !fast.Agrees(p.Direction) {
		return emit(types.ExitCloudFlip, "fast cloud turned against the position")
	}

	if r.GreaterThanOrEqual(m.config.TargetR) {
		return emit(types.ExitTarget, fmt.Sprintf("reached %sR", r.StringFixed(2)))
	}

	if p.Horizon == HorizonIntraday {
		if now.Sub(p.OpenedAt) > m.config.TimeStop && r.Abs().LessThan(m.config.NoProgressR) {
			return emit(types.ExitTimeStop, fmt.Sprintf("open %s with %sR", now.Sub(p.OpenedAt).Round(time.Minute), r.StringFixed(2)))
		}
		if !now.Before(m.cutoff(p.OpenedAt)) {
			return emit(types.ExitEOD, "past end-of-day cutoff")
		}
	}

	if p.Horizon == HorizonSwing || p.ScaledOut {
		if pull := states[cloud.LayerPullback]; pull.Defined && m.beyondPullback(p, price, pull) {
			return emit(types.ExitTrailing, "price left the pullback cloud")
		}
	}

	if !p.BreakevenTriggered && r.GreaterThanOrEqual(m.config.BreakevenR) {
		sig := emit(types.ExitTrailToBreakeven, "reached 1R, stop to breakeven")
		sig.Quantity = decimal.Zero
		sig.NewStop = p.BreakevenStop(m.config.BreakevenBuffer)
		return sig
	}

	if !p.ScaledOut && r.GreaterThanOrEqual(m.config.ScaleOutR) {
		qty := p.Quantity.Mul(m.config.ScaleOutFraction).Floor()
		if qty.IsPositive() && qty.LessThan(p.Quantity) {
			sig := emit(types.ExitScaleOut, "reached 1R, scaling out")
			sig.Quantity = qty
			return sig
		}
	}

	return nil
}

// CheckCandidate turns a detector exit candidate into an exhaustion exit
// when the extension it reports runs against p. Candidates of other kinds,
// from another timeframe, or on positions that are not live yield nil.
func (m *Monitor) CheckCandidate(p *Position, cand *types.TradeSignal, price decimal.Decimal, now time.Time) *ExitSignal {
	if !p.Status.IsLive() || cand == nil || cand.Kind != types.SignalMomentumExhaustion || cand.Timeframe != p.Timeframe {
		return nil
	}
	extended, _ := cand.Metadata["extended"].(string)
	if extended == "" || types.Direction(extended) == p.Direction {
		return nil
	}
	bars, _ := cand.Metadata["bars"].(int)
	return &ExitSignal{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Kind:       types.ExitExhaustion,
		Price:      price,
		Quantity:   p.Quantity,
		RMultiple:  p.RMultiple(price),
		Reason:     fmt.Sprintf("detector reports %d closes outside the fast cloud against the position", bars),
		Timestamp:  now,
	}
}

// Emergency builds a forced exit for p, outranking every other condition.
func (m *Monitor) Emergency(p *Position, price decimal.Decimal, reason string, now time.Time) *ExitSignal {
	return &ExitSignal{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Kind:       types.ExitEmergencyClose,
		Price:      price,
		Quantity:   p.Quantity,
		RMultiple:  p.RMultiple(price),
		Reason:     reason,
		Timestamp:  now,
	}
}

// Apply records the effect of an acted-on exit signal on p. fill is the
// executed price for quantity-bearing exits.
func (m *Monitor) Apply(p *Position, sig *ExitSignal, fill decimal.Decimal) error {
	switch sig.Kind {
	case types.ExitTrailToBreakeven:
		return p.TrailToBreakeven(m.config.BreakevenBuffer)
	case types.ExitScaleOut:
		return p.ScaleOut(sig.Quantity, fill)
	default:
		return p.Close(fill, sig.Kind, sig.Timestamp)
	}
}

func (m *Monitor) exhausted(p *Position, recent []types.Bar) (int, bool) {
	if m.engine == nil || len(recent) == 0 {
		return 0, false
	}
	c := m.engine.ComputeClouds(recent)
	rel, n := c.Streak(cloud.LayerFast, c.Len()-1)
	against := (p.Direction == types.DirectionLong && rel == cloud.RelationBelow) ||
		(p.Direction == types.DirectionShort && rel == cloud.RelationAbove)
	return n, against && n >= m.config.ExhaustionBars
}

func (m *Monitor) cutoff(opened time.Time) time.Time {
	local := opened.In(m.config.EODLocation)
	return time.Date(local.Year(), local.Month(), local.Day(), m.config.EODHour, m.config.EODMinute, 0, 0, m.config.EODLocation)
}

func (m *Monitor) beyondPullback(p *Position, price decimal.Decimal, pull cloud.State) bool {
	px := price.InexactFloat64()
	if p.Direction == types.DirectionShort {
		return px > pull.Upper()
	}
	return px < pull.Lower()
}
