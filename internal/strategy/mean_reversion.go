package strategy

import (
	"math"

	"github.com/ghantakiran/axion-stock-sub004/internal/signals"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MeanReversionConfig configures the Bollinger reversion strategy.
type MeanReversionConfig struct {
	Period     int                   `json:"period"`
	StdDevMult float64               `json:"stdDevMult"`
	StopBuffer float64               `json:"stopBuffer"` // fraction beyond the reversal extreme
	Patterns   signals.PatternConfig `json:"patterns"`
}

// DefaultMeanReversionConfig returns default settings.
func DefaultMeanReversionConfig() MeanReversionConfig {
	return MeanReversionConfig{
		Period:     20,
		StdDevMult: 2.0,
		StopBuffer: 0.002,
		Patterns:   signals.DefaultPatternConfig(),
	}
}

// MeanReversionStrategy fades a Bollinger band break once a reversal candle
// prints, targeting the middle band.
type MeanReversionStrategy struct {
	BaseStrategy
	config MeanReversionConfig
}

// NewMeanReversionStrategy creates the strategy.
func NewMeanReversionStrategy(logger *zap.Logger, config MeanReversionConfig) *MeanReversionStrategy {
	s := &MeanReversionStrategy{
		BaseStrategy: newBase(logger, "mean-reversion"),
		config:       config,
	}
	s.param("period", "int", "Period for moving average calculation", config.Period)
	s.param("std_dev_mult", "float", "Standard deviation multiplier for Bollinger Bands", config.StdDevMult)
	return s
}

func (s *MeanReversionStrategy) Name() string   { return "bollinger_reversion" }
func (s *MeanReversionStrategy) Family() Family { return FamilyMeanReversion }
func (s *MeanReversionStrategy) Description() string {
	return "Trades a reversal candle after price breaks a Bollinger band"
}

type bands struct {
	mid, upper, lower float64
}

func (s *MeanReversionStrategy) bandsAt(closes []float64, i int) bands {
	window := closes[i-s.config.Period+1 : i+1]
	mid := utils.Mean(window)
	sd := utils.StdDev(window)
	return bands{mid: mid, upper: mid + s.config.StdDevMult*sd, lower: mid - s.config.StdDevMult*sd}
}

func (s *MeanReversionStrategy) Analyze(symbol string, tf types.Timeframe, bars []types.Bar) (*types.TradeSignal, error) {
	if len(bars) < s.config.Period+1 {
		return nil, nil
	}
	series := types.NewSeries(bars)
	i := series.Len() - 1
	cur, prev := s.bandsAt(series.Close, i), s.bandsAt(series.Close, i-1)

	pattern := signals.DetectPattern(signals.CandleAt(series, i-1), signals.CandleAt(series, i), s.config.Patterns)
	var dir types.Direction
	var stop float64
	switch pattern.Direction() {
	case types.DirectionLong:
		pierced := series.Low[i] <= cur.lower || series.Close[i-1] < prev.lower
		if !pierced || series.Close[i] >= cur.mid {
			return nil, nil
		}
		dir = types.DirectionLong
		stop = math.Min(series.Low[i], series.Low[i-1]) * (1 - s.config.StopBuffer)
	case types.DirectionShort:
		pierced := series.High[i] >= cur.upper || series.Close[i-1] > prev.upper
		if !pierced || series.Close[i] <= cur.mid {
			return nil, nil
		}
		dir = types.DirectionShort
		stop = math.Max(series.High[i], series.High[i-1]) * (1 + s.config.StopBuffer)
	default:
		return nil, nil
	}

	kind := types.SignalCandlestickBullish
	if dir == types.DirectionShort {
		kind = types.SignalCandlestickBearish
	}
	width := cur.upper - cur.lower
	strength := 0.5
	if width > 0 {
		strength = 0.4 + math.Abs(series.Close[i]-cur.mid)/width
	}

	sig := newSignal(s.Name(), kind, symbol, tf, dir, bars[i], decimal.NewFromFloat(stop).Round(4), strength)
	sig.TakeProfit = decimal.NewFromFloat(cur.mid).Round(4)
	sig.Metadata["pattern"] = string(pattern)
	sig.Metadata["sma"] = cur.mid
	sig.Metadata["upper_band"] = cur.upper
	sig.Metadata["lower_band"] = cur.lower
	return sig, nil
}
