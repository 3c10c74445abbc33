// Package conviction scores trade signals on a 0-100 scale.
package conviction

import (
	"math"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
)

// Level buckets a conviction total.
type Level string

const (
	LevelNone   Level = "none"
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// LevelFor maps a total onto its level. Boundaries are inclusive on the low side.
func LevelFor(total float64) Level {
	switch {
	case total >= 75:
		return LevelHigh
	case total >= 50:
		return LevelMedium
	case total >= 25:
		return LevelLow
	default:
		return LevelNone
	}
}

// Factor names.
const (
	FactorCloudAlignment = "cloud_alignment"
	FactorMTFConfluence  = "mtf_confluence"
	FactorVolume         = "volume"
	FactorThickness      = "cloud_thickness"
	FactorSlope          = "cloud_slope"
	FactorCandleQuality  = "candle_quality"
	FactorExternal       = "factor_score"
)

// FactorNames lists the factors in summation order.
var FactorNames = []string{
	FactorCloudAlignment, FactorMTFConfluence, FactorVolume,
	FactorThickness, FactorSlope, FactorCandleQuality, FactorExternal,
}

// Weights holds the maximum contribution of each factor.
type Weights struct {
	CloudAlignment float64 `json:"cloudAlignment"`
	MTFConfluence  float64 `json:"mtfConfluence"`
	Volume         float64 `json:"volume"`
	Thickness      float64 `json:"thickness"`
	Slope          float64 `json:"slope"`
	CandleQuality  float64 `json:"candleQuality"`
	External       float64 `json:"external"`
}

// Total returns the sum of all weights.
func (w Weights) Total() float64 {
	return w.CloudAlignment + w.MTFConfluence + w.Volume + w.Thickness + w.Slope + w.CandleQuality + w.External
}

// Config configures the scorer.
type Config struct {
	Weights        Weights `json:"weights"`
	MaxVolumeRatio float64 `json:"maxVolumeRatio"` // volume ratio that earns the full factor
	FullThickness  float64 `json:"fullThickness"`  // normalized thickness that earns the full factor
}

// DefaultConfig returns the standard weights (summing to 100).
func DefaultConfig() Config {
	return Config{
		Weights: Weights{
			CloudAlignment: 25,
			MTFConfluence:  25,
			Volume:         15,
			Thickness:      5,
			Slope:          5,
			CandleQuality:  10,
			External:       15,
		},
		MaxVolumeRatio: 2.0,
		FullThickness:  0.01,
	}
}

// VolumeContext is the current bar's volume against its average.
type VolumeContext struct {
	Current float64 `json:"current"`
	Average float64 `json:"average"`
}

// Context carries the optional inputs for scoring. Nil or empty inputs
// contribute nothing.
type Context struct {
	Clouds      []cloud.State
	Layer       int // layer whose thickness and slope are scored
	Volume      *VolumeContext
	MTFFraction *float64 // share of configured timeframes confirming
	Candle      *types.Bar
	FactorScore *float64 // upstream factor model output, 0-1
}

// Score is a conviction breakdown.
type Score struct {
	Total    float64            `json:"total"`
	Level    Level              `json:"level"`
	Factors  map[string]float64 `json:"factors"`
	Coverage float64            `json:"coverage"` // weight of the factors that had inputs
}

// MetaFloor is the signal metadata key a strategy uses to demand a minimum
// effective conviction.
const MetaFloor = "conviction_floor"

// Effective applies a signal's conviction adjustment to the total. Missing
// inputs have already contributed 0; nothing rescales them.
func (s Score) Effective(sig *types.TradeSignal) float64 {
	if sig == nil {
		return s.Total
	}
	return utils.Clamp(s.Total+sig.ConvictionAdjustment, 0, 100)
}

// Scorer computes conviction. It holds no mutable state.
type Scorer struct {
	config Config
}

// NewScorer creates a scorer.
func NewScorer(config Config) *Scorer {
	return &Scorer{config: config}
}

// Config returns the scorer configuration.
func (s *Scorer) Config() Config { return s.config }

// Score evaluates a signal. Each factor is bounded to its weight and the
// total is clamped to [0, 100].
func (s *Scorer) Score(sig *types.TradeSignal, ctx Context) Score {
	w := s.config.Weights
	out := Score{Factors: make(map[string]float64, 7)}
	dir := types.DirectionNone
	if sig != nil {
		dir = sig.Direction
	}

	add := func(name string, weight, value float64, available bool) {
		v := 0.0
		if available {
			v = utils.Clamp(value, 0, 1) * weight
			out.Coverage += weight
		}
		out.Factors[name] = v
	}

	// Alignment counts agreeing layers out of all five, so undefined layers
	// count against the signal.
	if len(ctx.Clouds) > 0 && dir.IsEntry() {
		agree := 0
		for _, st := range ctx.Clouds {
			if st.Agrees(dir) {
				agree++
			}
		}
		add(FactorCloudAlignment, w.CloudAlignment, float64(agree)/float64(cloud.NumLayers), true)
	} else {
		add(FactorCloudAlignment, w.CloudAlignment, 0, false)
	}

	if ctx.MTFFraction != nil {
		add(FactorMTFConfluence, w.MTFConfluence, *ctx.MTFFraction, true)
	} else {
		add(FactorMTFConfluence, w.MTFConfluence, 0, false)
	}

	if ctx.Volume != nil && ctx.Volume.Average > 0 {
		ratio := math.Min(ctx.Volume.Current/ctx.Volume.Average, s.config.MaxVolumeRatio)
		add(FactorVolume, w.Volume, ratio/s.config.MaxVolumeRatio, true)
	} else {
		add(FactorVolume, w.Volume, 0, false)
	}

	layer, ok := s.layerState(ctx)
	if ok && s.config.FullThickness > 0 {
		add(FactorThickness, w.Thickness, layer.Thickness/s.config.FullThickness, true)
	} else {
		add(FactorThickness, w.Thickness, 0, false)
	}
	if ok && dir.IsEntry() {
		add(FactorSlope, w.Slope, slopeCredit(layer.Slope, dir), true)
	} else {
		add(FactorSlope, w.Slope, 0, false)
	}

	if ctx.Candle != nil {
		add(FactorCandleQuality, w.CandleQuality, bodyRatio(ctx.Candle), true)
	} else {
		add(FactorCandleQuality, w.CandleQuality, 0, false)
	}

	if ctx.FactorScore != nil {
		add(FactorExternal, w.External, *ctx.FactorScore, true)
	} else {
		add(FactorExternal, w.External, 0, false)
	}

	sum := 0.0
	for _, name := range FactorNames {
		sum += out.Factors[name]
	}
	out.Total = utils.Clamp(sum, 0, 100)
	out.Level = LevelFor(out.Total)
	return out
}

func (s *Scorer) layerState(ctx Context) (cloud.State, bool) {
	for _, st := range ctx.Clouds {
		if st.Layer == ctx.Layer && st.Defined {
			return st, true
		}
	}
	return cloud.State{}, false
}

func slopeCredit(slope cloud.Slope, dir types.Direction) float64 {
	switch {
	case slope == cloud.SlopeFlat:
		return 0.5
	case slope == cloud.SlopeRising && dir == types.DirectionLong,
		slope == cloud.SlopeFalling && dir == types.DirectionShort:
		return 1
	default:
		return 0
	}
}

func bodyRatio(bar *types.Bar) float64 {
	rng := bar.High.Sub(bar.Low)
	if !rng.IsPositive() {
		return 0
	}
	return bar.Close.Sub(bar.Open).Abs().Div(rng).InexactFloat64()
}

// LayerFromSignal reads the scoring layer a detector or strategy attached
// to a signal, defaulting to the fast cloud.
func LayerFromSignal(sig *types.TradeSignal) int {
	if sig == nil || sig.Metadata == nil {
		return cloud.LayerFast
	}
	switch v := sig.Metadata["layer"].(type) {
	case int:
		if v >= 0 && v < cloud.NumLayers {
			return v
		}
	case float64:
		if v >= 0 && int(v) < cloud.NumLayers {
			return int(v)
		}
	}
	return cloud.LayerFast
}
