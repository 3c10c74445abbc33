package strategy

import (
	"math"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/internal/conviction"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"go.uber.org/zap"
)

// TrendDayConfig configures the trend-day strategy.
type TrendDayConfig struct {
	Session        Session       `json:"-"`
	OpeningRange   time.Duration `json:"openingRange"`
	BreakoutWindow time.Duration `json:"breakoutWindow"` // after the range completes
	VolumeMultiple float64       `json:"volumeMultiple"`
	VolumeLookback int           `json:"volumeLookback"`
	ATRPeriod      int           `json:"atrPeriod"`
	ATRLookback    int           `json:"atrLookback"`
	ATRExpansion   float64       `json:"atrExpansion"`
	MinConviction  float64       `json:"minConviction"`
}

// DefaultTrendDayConfig returns default settings.
func DefaultTrendDayConfig() TrendDayConfig {
	return TrendDayConfig{
		Session:        DefaultSession(),
		OpeningRange:   30 * time.Minute,
		BreakoutWindow: 60 * time.Minute,
		VolumeMultiple: 1.5,
		VolumeLookback: 20,
		ATRPeriod:      14,
		ATRLookback:    20,
		ATRExpansion:   1.2,
		MinConviction:  80,
	}
}

// TrendDayStrategy trades an early opening-range breakout backed by layer
// alignment, a volume surge and range expansion.
type TrendDayStrategy struct {
	BaseStrategy
	engine *cloud.Engine
	scorer *conviction.Scorer
	config TrendDayConfig
}

// NewTrendDayStrategy creates the strategy.
func NewTrendDayStrategy(logger *zap.Logger, engine *cloud.Engine, scorer *conviction.Scorer, config TrendDayConfig) *TrendDayStrategy {
	s := &TrendDayStrategy{
		BaseStrategy: newBase(logger, "trend-day"),
		engine:       engine,
		scorer:       scorer,
		config:       config,
	}
	s.param("opening_range", "duration", "Opening range length", config.OpeningRange.String())
	s.param("breakout_window", "duration", "Window after the range for a breakout", config.BreakoutWindow.String())
	s.param("atr_expansion", "float", "ATR relative to its prior average", config.ATRExpansion)
	s.param("min_conviction", "float", "Minimum effective conviction", config.MinConviction)
	return s
}

func (s *TrendDayStrategy) Name() string   { return "trend_day" }
func (s *TrendDayStrategy) Family() Family { return FamilyTrend }
func (s *TrendDayStrategy) Description() string {
	return "Opening range breakout on a likely trend day"
}

func (s *TrendDayStrategy) Analyze(symbol string, tf types.Timeframe, bars []types.Bar) (*types.TradeSignal, error) {
	if !tf.IsIntraday() || len(bars) < s.engine.Config().MaxPeriod()+1 {
		return nil, nil
	}
	n := len(bars)
	last := bars[n-1]

	or, ok := findOpeningRange(bars, s.config.Session, s.config.OpeningRange)
	if !ok {
		return nil, nil
	}
	rangeEnd := s.config.Session.Open(last.Timestamp).Add(s.config.OpeningRange)
	if !last.Timestamp.Before(rangeEnd.Add(s.config.BreakoutWindow)) {
		return nil, nil
	}
	dir := or.breakout(bars)
	if dir == types.DirectionNone {
		return nil, nil
	}

	c := s.engine.ComputeClouds(bars)
	i := n - 1
	states := c.StatesAt(i)
	for _, st := range states {
		if !st.Agrees(dir) {
			return nil, nil
		}
	}

	ratio, ok := volumeRatio(c.Series.Volume, i, s.config.VolumeLookback)
	if !ok || ratio < s.config.VolumeMultiple {
		return nil, nil
	}
	if !s.expanding(c.Series) {
		return nil, nil
	}

	kind := types.SignalTrendAlignedLong
	if dir == types.DirectionShort {
		kind = types.SignalTrendAlignedShort
	}
	sig := newSignal(s.Name(), kind, symbol, tf, dir, last, or.stop(dir), 0.8)
	sig.Metadata["layer"] = cloud.LayerFast
	sig.Metadata["or_high"] = or.High.String()
	sig.Metadata["or_low"] = or.Low.String()
	sig.Metadata["volume_ratio"] = ratio

	score := s.scorer.Score(sig, conviction.Context{
		Clouds: states[:],
		Layer:  cloud.LayerFast,
		Volume: &conviction.VolumeContext{Current: c.Series.Volume[i], Average: c.Series.Volume[i] / ratio},
		Candle: &last,
	})
	// MTF and the factor model are scored by the pipeline; give them full
	// credit here only to decide whether the floor is reachable at all.
	w := s.scorer.Config().Weights
	if ceiling := score.Total + w.MTFConfluence + w.External; ceiling < s.config.MinConviction {
		s.logger.Debug("Trend-day breakout cannot reach conviction floor",
			zap.String("symbol", symbol),
			zap.Float64("local", score.Total),
			zap.Float64("ceiling", ceiling))
		return nil, nil
	}
	sig.Metadata["local_conviction"] = score.Total
	sig.Metadata[conviction.MetaFloor] = s.config.MinConviction
	return sig, nil
}

// expanding compares the latest ATR with the mean of the ATRs before it.
func (s *TrendDayStrategy) expanding(series types.Series) bool {
	atr := utils.ATRSeries(series.High, series.Low, series.Close, s.config.ATRPeriod)
	i := len(atr) - 1
	if i < s.config.ATRLookback || math.IsNaN(atr[i]) {
		return false
	}
	prior := atr[i-s.config.ATRLookback : i]
	for _, v := range prior {
		if math.IsNaN(v) {
			return false
		}
	}
	return atr[i] > s.config.ATRExpansion*utils.Mean(prior)
}
