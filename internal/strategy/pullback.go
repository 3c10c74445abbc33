package strategy

import (
	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PullbackConfig configures the pullback-to-cloud strategy.
type PullbackConfig struct {
	TrendBars      int     `json:"trendBars"`      // closes beyond the macro cloud
	TouchLookback  int     `json:"touchLookback"`  // bars in which the fast cloud must be touched
	VolumeMultiple float64 `json:"volumeMultiple"` // bounce volume vs average
	VolumeLookback int     `json:"volumeLookback"`
}

// DefaultPullbackConfig returns default settings.
func DefaultPullbackConfig() PullbackConfig {
	return PullbackConfig{
		TrendBars:      10,
		TouchLookback:  3,
		VolumeMultiple: 1.2,
		VolumeLookback: 20,
	}
}

// PullbackStrategy buys a dip into the fast cloud during a sustained trend
// above the macro cloud (and the mirror for shorts).
type PullbackStrategy struct {
	BaseStrategy
	engine *cloud.Engine
	config PullbackConfig
}

// NewPullbackStrategy creates the strategy.
func NewPullbackStrategy(logger *zap.Logger, engine *cloud.Engine, config PullbackConfig) *PullbackStrategy {
	s := &PullbackStrategy{
		BaseStrategy: newBase(logger, "pullback"),
		engine:       engine,
		config:       config,
	}
	s.param("trend_bars", "int", "Closes required beyond the macro cloud", config.TrendBars)
	s.param("touch_lookback", "int", "Bars in which price must touch the fast cloud", config.TouchLookback)
	s.param("volume_multiple", "float", "Bounce volume relative to average", config.VolumeMultiple)
	return s
}

func (s *PullbackStrategy) Name() string   { return "pullback_to_cloud" }
func (s *PullbackStrategy) Family() Family { return FamilyTrend }
func (s *PullbackStrategy) Description() string {
	return "Enters on a bounce off the fast cloud inside a trend held beyond the macro cloud"
}

func (s *PullbackStrategy) Analyze(symbol string, tf types.Timeframe, bars []types.Bar) (*types.TradeSignal, error) {
	need := s.engine.Config().MaxPeriod() + s.config.TrendBars
	if len(bars) < need || len(bars) <= s.config.VolumeLookback {
		return nil, nil
	}
	c := s.engine.ComputeClouds(bars)
	i := c.Len() - 1

	dir := s.trend(c, i)
	if dir == types.DirectionNone {
		return nil, nil
	}

	fast := c.StateAt(cloud.LayerFast, i)
	if !fast.Defined || !s.touched(c, i, dir) {
		return nil, nil
	}

	open, close := c.Series.Open[i], c.Series.Close[i]
	confirmed := false
	switch dir {
	case types.DirectionLong:
		confirmed = close > fast.Upper() && close > open
	case types.DirectionShort:
		confirmed = close < fast.Lower() && close < open
	}
	if !confirmed {
		return nil, nil
	}

	ratio, ok := volumeRatio(c.Series.Volume, i, s.config.VolumeLookback)
	if !ok || ratio < s.config.VolumeMultiple {
		s.logger.Debug("Pullback bounce lacks volume",
			zap.String("symbol", symbol),
			zap.Float64("ratio", ratio))
		return nil, nil
	}

	macro := c.StateAt(cloud.LayerMacro, i)
	kind := types.SignalCloudBounceLong
	stop := decimal.NewFromFloat(macro.Lower()).Round(4)
	if dir == types.DirectionShort {
		kind = types.SignalCloudBounceShort
		stop = decimal.NewFromFloat(macro.Upper()).Round(4)
	}

	sig := newSignal(s.Name(), kind, symbol, tf, dir, bars[i], stop, 0.5+0.25*(ratio-1))
	sig.Metadata["layer"] = cloud.LayerFast
	sig.Metadata["volume_ratio"] = ratio
	return sig, nil
}

// trend returns the side price has held beyond the macro cloud for TrendBars closes.
func (s *PullbackStrategy) trend(c *cloud.Computed, i int) types.Direction {
	side, count := c.Streak(cloud.LayerMacro, i)
	if count < s.config.TrendBars {
		return types.DirectionNone
	}
	if side == cloud.RelationAbove {
		return types.DirectionLong
	}
	return types.DirectionShort
}

// touched reports whether a recent bar reached into the fast cloud.
func (s *PullbackStrategy) touched(c *cloud.Computed, i int, dir types.Direction) bool {
	for j := i; j > i-s.config.TouchLookback && j >= 0; j-- {
		st := c.StateAt(cloud.LayerFast, j)
		if !st.Defined {
			continue
		}
		if dir == types.DirectionLong && c.Series.Low[j] <= st.Upper() {
			return true
		}
		if dir == types.DirectionShort && c.Series.High[j] >= st.Lower() {
			return true
		}
	}
	return false
}
