package strategy

import (
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SessionWindow names a time-of-day bucket.
type SessionWindow string

const (
	WindowOpenBell  SessionWindow = "open_bell"
	WindowMidday    SessionWindow = "midday"
	WindowPowerHour SessionWindow = "power_hour"
	WindowNone      SessionWindow = ""
)

// ScalpConfig configures the session-scalp strategy. Offsets are measured
// from the session open.
type ScalpConfig struct {
	Session          Session       `json:"-"`
	OpenBellEnd      time.Duration `json:"openBellEnd"`
	OpeningRange     time.Duration `json:"openingRange"`
	MiddayStart      time.Duration `json:"middayStart"`
	MiddayEnd        time.Duration `json:"middayEnd"`
	PowerHourStart   time.Duration `json:"powerHourStart"`
	PowerHourEnd     time.Duration `json:"powerHourEnd"`
	OpenBellBoost    float64       `json:"openBellBoost"`
	MiddayPenalty    float64       `json:"middayPenalty"`
	PowerHourBoost   float64       `json:"powerHourBoost"`
	PowerHourVolume  float64       `json:"powerHourVolume"`
	MomentumBars     int           `json:"momentumBars"`
	VolumeLookback   int           `json:"volumeLookback"`
	MiddayStopBuffer float64       `json:"middayStopBuffer"` // fraction beyond the fast cloud edge
}

// DefaultScalpConfig returns default settings: open bell 09:30-10:30,
// midday 11:30-14:00, power hour 15:00-16:00.
func DefaultScalpConfig() ScalpConfig {
	return ScalpConfig{
		Session:          DefaultSession(),
		OpenBellEnd:      60 * time.Minute,
		OpeningRange:     15 * time.Minute,
		MiddayStart:      2 * time.Hour,
		MiddayEnd:        4*time.Hour + 30*time.Minute,
		PowerHourStart:   5*time.Hour + 30*time.Minute,
		PowerHourEnd:     6*time.Hour + 30*time.Minute,
		OpenBellBoost:    10,
		MiddayPenalty:    -10,
		PowerHourBoost:   5,
		PowerHourVolume:  1.3,
		MomentumBars:     3,
		VolumeLookback:   20,
		MiddayStopBuffer: 0.001,
	}
}

// ScalpStrategy dispatches on time of day.
type ScalpStrategy struct {
	BaseStrategy
	engine *cloud.Engine
	config ScalpConfig
}

// NewScalpStrategy creates the strategy.
func NewScalpStrategy(logger *zap.Logger, engine *cloud.Engine, config ScalpConfig) *ScalpStrategy {
	s := &ScalpStrategy{
		BaseStrategy: newBase(logger, "session-scalp"),
		engine:       engine,
		config:       config,
	}
	s.param("open_bell_boost", "float", "Conviction added in the open-bell window", config.OpenBellBoost)
	s.param("midday_penalty", "float", "Conviction added in the midday window", config.MiddayPenalty)
	s.param("power_hour_boost", "float", "Conviction added in the power hour", config.PowerHourBoost)
	s.param("power_hour_volume", "float", "Power-hour volume multiple", config.PowerHourVolume)
	return s
}

func (s *ScalpStrategy) Name() string   { return "session_scalp" }
func (s *ScalpStrategy) Family() Family { return FamilyTrend }
func (s *ScalpStrategy) Description() string {
	return "Time-of-day scalps: open-bell breakouts, midday pullbacks, power-hour momentum"
}

// Window returns the session window t falls in.
func (s *ScalpStrategy) Window(t time.Time) SessionWindow {
	since := s.config.Session.SinceOpen(t)
	switch {
	case since >= 0 && since < s.config.OpenBellEnd:
		return WindowOpenBell
	case since >= s.config.MiddayStart && since < s.config.MiddayEnd:
		return WindowMidday
	case since >= s.config.PowerHourStart && since < s.config.PowerHourEnd:
		return WindowPowerHour
	default:
		return WindowNone
	}
}

func (s *ScalpStrategy) Analyze(symbol string, tf types.Timeframe, bars []types.Bar) (*types.TradeSignal, error) {
	if !tf.IsIntraday() || len(bars) < s.engine.Config().MaxPeriod()+1 {
		return nil, nil
	}
	last := bars[len(bars)-1]
	window := s.Window(last.Timestamp)
	if window == WindowNone {
		return nil, nil
	}

	c := s.engine.ComputeClouds(bars)
	var sig *types.TradeSignal
	switch window {
	case WindowOpenBell:
		sig = s.openBell(c, symbol, tf, bars)
	case WindowMidday:
		sig = s.midday(c, symbol, tf, bars)
	case WindowPowerHour:
		sig = s.powerHour(c, symbol, tf, bars)
	}
	if sig != nil {
		sig.Metadata["window"] = string(window)
	}
	return sig, nil
}

// fastAligned reports whether the fast and pullback clouds agree with dir
// and price sits beyond both.
func fastAligned(c *cloud.Computed, i int, dir types.Direction) bool {
	for _, layer := range []int{cloud.LayerFast, cloud.LayerPullback} {
		st := c.StateAt(layer, i)
		if !st.Agrees(dir) {
			return false
		}
		if dir == types.DirectionLong && st.Price != cloud.RelationAbove {
			return false
		}
		if dir == types.DirectionShort && st.Price != cloud.RelationBelow {
			return false
		}
	}
	return true
}

func (s *ScalpStrategy) openBell(c *cloud.Computed, symbol string, tf types.Timeframe, bars []types.Bar) *types.TradeSignal {
	or, ok := findOpeningRange(bars, s.config.Session, s.config.OpeningRange)
	if !ok {
		return nil
	}
	dir := or.breakout(bars)
	if dir == types.DirectionNone || !fastAligned(c, c.Len()-1, dir) {
		return nil
	}
	kind := types.SignalCloudCrossLong
	if dir == types.DirectionShort {
		kind = types.SignalCloudCrossShort
	}
	sig := newSignal(s.Name(), kind, symbol, tf, dir, bars[len(bars)-1], or.stop(dir), 0.7)
	sig.ConvictionAdjustment = s.config.OpenBellBoost
	sig.Metadata["layer"] = cloud.LayerFast
	return sig
}

// midday takes only pullbacks into the fast cloud with the pullback cloud
// behind them, stopped just beyond the fast cloud.
func (s *ScalpStrategy) midday(c *cloud.Computed, symbol string, tf types.Timeframe, bars []types.Bar) *types.TradeSignal {
	i := c.Len() - 1
	fast := c.StateAt(cloud.LayerFast, i)
	pull := c.StateAt(cloud.LayerPullback, i)
	if !fast.Defined || !pull.Defined {
		return nil
	}

	open, close, low, high := c.Series.Open[i], c.Series.Close[i], c.Series.Low[i], c.Series.High[i]
	var dir types.Direction
	switch {
	case pull.Bullish && fast.Bullish && low <= fast.Upper() && close > fast.Upper() && close > open:
		dir = types.DirectionLong
	case !pull.Bullish && !fast.Bullish && high >= fast.Lower() && close < fast.Lower() && close < open:
		dir = types.DirectionShort
	default:
		return nil
	}

	buf := s.config.MiddayStopBuffer
	stop := decimal.NewFromFloat(fast.Lower() * (1 - buf)).Round(4)
	kind := types.SignalCloudBounceLong
	if dir == types.DirectionShort {
		stop = decimal.NewFromFloat(fast.Upper() * (1 + buf)).Round(4)
		kind = types.SignalCloudBounceShort
	}
	sig := newSignal(s.Name(), kind, symbol, tf, dir, bars[i], stop, 0.5)
	sig.ConvictionAdjustment = s.config.MiddayPenalty
	sig.Metadata["layer"] = cloud.LayerFast
	return sig
}

// powerHour wants consecutive closes in one direction, aligned fast clouds
// and above-average volume.
func (s *ScalpStrategy) powerHour(c *cloud.Computed, symbol string, tf types.Timeframe, bars []types.Bar) *types.TradeSignal {
	i := c.Len() - 1
	m := s.config.MomentumBars
	if i < m {
		return nil
	}
	up, down := true, true
	for j := i - m + 1; j <= i; j++ {
		up = up && c.Series.Close[j] > c.Series.Close[j-1]
		down = down && c.Series.Close[j] < c.Series.Close[j-1]
	}
	dir := types.DirectionNone
	switch {
	case up:
		dir = types.DirectionLong
	case down:
		dir = types.DirectionShort
	default:
		return nil
	}
	if !fastAligned(c, i, dir) {
		return nil
	}
	ratio, ok := volumeRatio(c.Series.Volume, i, s.config.VolumeLookback)
	if !ok || ratio < s.config.PowerHourVolume {
		return nil
	}

	pull := c.StateAt(cloud.LayerPullback, i)
	stop := decimal.NewFromFloat(pull.Lower()).Round(4)
	if dir == types.DirectionShort {
		stop = decimal.NewFromFloat(pull.Upper()).Round(4)
	}
	sig := newSignal(s.Name(), types.SignalTrendAlignedLong, symbol, tf, dir, bars[i], stop, 0.6)
	if dir == types.DirectionShort {
		sig.Kind = types.SignalTrendAlignedShort
	}
	sig.ConvictionAdjustment = s.config.PowerHourBoost
	sig.Metadata["layer"] = cloud.LayerPullback
	sig.Metadata["volume_ratio"] = ratio
	return sig
}
