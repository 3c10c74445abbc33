package strategy

import (
	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/internal/signals"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"go.uber.org/zap"
)

// CloudTrendStrategy follows the detector's full-stack alignment.
type CloudTrendStrategy struct {
	BaseStrategy
	detector *signals.Detector
}

// NewCloudTrendStrategy creates the strategy.
func NewCloudTrendStrategy(logger *zap.Logger, detector *signals.Detector) *CloudTrendStrategy {
	s := &CloudTrendStrategy{
		BaseStrategy: newBase(logger, "cloud-trend"),
		detector:     detector,
	}
	s.param("min_bars", "int", "Bars required before the stack is defined", detector.MinBars())
	return s
}

func (s *CloudTrendStrategy) Name() string   { return "cloud_trend" }
func (s *CloudTrendStrategy) Family() Family { return FamilyTrend }
func (s *CloudTrendStrategy) Description() string {
	return "Enters when all five clouds agree and price clears every one"
}

func (s *CloudTrendStrategy) Analyze(symbol string, tf types.Timeframe, bars []types.Bar) (*types.TradeSignal, error) {
	for _, sig := range s.detector.Detect(bars, symbol, tf) {
		if sig.Kind != types.SignalTrendAlignedLong && sig.Kind != types.SignalTrendAlignedShort {
			continue
		}
		out := newSignal(s.Name(), sig.Kind, symbol, tf, sig.Direction, bars[len(bars)-1], sig.StopLoss, sig.Strength)
		for k, v := range sig.Metadata {
			out.Metadata[k] = v
		}
		// Score thickness and slope on the trend cloud rather than the macro one.
		out.Metadata["layer"] = cloud.LayerTrend
		return out, nil
	}
	return nil, nil
}
