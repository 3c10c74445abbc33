// Package signals turns cloud states and raw bars into typed trade signals.
package signals

import (
	"fmt"
	"math"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
)

// StrategyName tags signals produced directly by the detector.
const StrategyName = "ema_cloud"

// Config configures the detector.
type Config struct {
	BounceThreshold float64       `json:"bounceThreshold"` // fraction of price
	ExhaustionBars  int           `json:"exhaustionBars"`
	PatternLookback int           `json:"patternLookback"`
	Patterns        PatternConfig `json:"patterns"`
}

// DefaultConfig returns the standard detector settings.
func DefaultConfig() Config {
	return Config{
		BounceThreshold: 0.002,
		ExhaustionBars:  3,
		PatternLookback: 2,
		Patterns:        DefaultPatternConfig(),
	}
}

// Detector evaluates the most recent bar of a window against every
// detection rule. It is safe for concurrent use.
type Detector struct {
	engine *cloud.Engine
	config Config
}

// NewDetector creates a detector over a cloud engine.
func NewDetector(engine *cloud.Engine, config Config) (*Detector, error) {
	if engine == nil {
		return nil, fmt.Errorf("cloud engine is required")
	}
	if config.BounceThreshold <= 0 {
		return nil, fmt.Errorf("bounce threshold must be positive")
	}
	if config.ExhaustionBars < 1 {
		return nil, fmt.Errorf("exhaustion bars must be at least 1")
	}
	if config.PatternLookback < 2 {
		config.PatternLookback = 2
	}
	return &Detector{engine: engine, config: config}, nil
}

// Engine returns the underlying cloud engine.
func (d *Detector) Engine() *cloud.Engine { return d.engine }

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.config }

// MinBars is the shortest window the detector will evaluate.
func (d *Detector) MinBars() int {
	return d.engine.Config().MaxPeriod() + d.config.PatternLookback
}

// Detect computes the clouds over bars and returns the signals firing on the
// latest bar. Short windows produce no signals.
func (d *Detector) Detect(bars []types.Bar, symbol string, tf types.Timeframe) []*types.TradeSignal {
	if len(bars) < d.MinBars() {
		return nil
	}
	return d.DetectComputed(d.engine.ComputeClouds(bars), symbol, tf)
}

type firing struct {
	kind      types.SignalKind
	direction types.Direction
	layers    []int
	strength  float64
	meta      map[string]any
}

// DetectComputed evaluates already computed clouds. Multiple kinds may fire
// on the same bar; each kind fires at most once, listing every layer that
// triggered it.
func (d *Detector) DetectComputed(c *cloud.Computed, symbol string, tf types.Timeframe) []*types.TradeSignal {
	n := c.Len()
	if n < d.MinBars() {
		return nil
	}
	i := n - 1
	cur := c.StatesAt(i)
	prev := c.StatesAt(i - 1)
	prev2 := c.StatesAt(i - 2)

	fired := make(map[types.SignalKind]*firing)
	add := func(kind types.SignalKind, dir types.Direction, layer int) {
		f, ok := fired[kind]
		if !ok {
			f = &firing{kind: kind, direction: dir}
			fired[kind] = f
		}
		f.layers = append(f.layers, layer)
	}

	closes, lows, highs := c.Series.Close, c.Series.Low, c.Series.High
	thr := d.config.BounceThreshold

	for layer := 0; layer < cloud.NumLayers; layer++ {
		s, p, pp := cur[layer], prev[layer], prev2[layer]
		if !s.Defined || !p.Defined {
			continue
		}

		// Boundary cross between consecutive closes.
		if closes[i-1] <= p.Upper() && closes[i] > s.Upper() {
			add(types.SignalCloudCrossLong, types.DirectionLong, layer)
		}
		if closes[i-1] >= p.Lower() && closes[i] < s.Lower() {
			add(types.SignalCloudCrossShort, types.DirectionShort, layer)
		}

		if p.Bullish != s.Bullish {
			if s.Bullish {
				add(types.SignalCloudFlipLong, types.DirectionLong, layer)
			} else {
				add(types.SignalCloudFlipShort, types.DirectionShort, layer)
			}
		}

		if d.bouncedLong(closes, lows, i, s, p, pp, thr) {
			add(types.SignalCloudBounceLong, types.DirectionLong, layer)
		}
		if d.bouncedShort(closes, highs, i, s, p, pp, thr) {
			add(types.SignalCloudBounceShort, types.DirectionShort, layer)
		}
	}

	if dir, ok := aligned(cur); ok {
		kind := types.SignalTrendAlignedLong
		if dir == types.DirectionShort {
			kind = types.SignalTrendAlignedShort
		}
		fired[kind] = &firing{kind: kind, direction: dir, layers: allLayers(), strength: 1}
	}

	if side, count := c.Streak(cloud.LayerFast, i); count >= d.config.ExhaustionBars {
		extended := types.DirectionLong
		if side == cloud.RelationBelow {
			extended = types.DirectionShort
		}
		fired[types.SignalMomentumExhaustion] = &firing{
			kind:      types.SignalMomentumExhaustion,
			direction: types.DirectionExit,
			layers:    []int{cloud.LayerFast},
			strength:  utils.Clamp(float64(count)/float64(2*d.config.ExhaustionBars), 0.5, 1),
			meta:      map[string]any{"extended": string(extended), "bars": count},
		}
	}

	pattern := DetectPattern(CandleAt(c.Series, i-1), CandleAt(c.Series, i), d.config.Patterns)
	if pattern != PatternNone {
		if near := nearBoundary(cur, closes[i], thr); len(near) > 0 {
			kind := types.SignalCandlestickBullish
			if pattern.Direction() == types.DirectionShort {
				kind = types.SignalCandlestickBearish
			}
			fired[kind] = &firing{
				kind:      kind,
				direction: pattern.Direction(),
				layers:    near,
				strength:  PatternStrength(pattern),
				meta:      map[string]any{"pattern": string(pattern)},
			}
		}
	}

	var out []*types.TradeSignal
	for _, kind := range types.AllSignalKinds {
		f, ok := fired[kind]
		if !ok {
			continue
		}
		if f.strength == 0 {
			f.strength = agreement(cur, f.direction, len(f.layers))
		}
		out = append(out, d.build(c, cur, f, symbol, tf))
	}
	return out
}

// bouncedLong: price sat above the cloud, dipped to within thr of the upper
// edge, and closed back above it on the same bar or the next one.
func (d *Detector) bouncedLong(closes, lows []float64, i int, s, p, pp cloud.State, thr float64) bool {
	if closes[i] <= s.Upper() {
		return false
	}
	if closes[i-1] > p.Upper() && lows[i] <= s.Upper()*(1+thr) {
		return true
	}
	return pp.Defined &&
		closes[i-2] > pp.Upper() &&
		lows[i-1] <= p.Upper()*(1+thr) &&
		closes[i-1] <= p.Upper()*(1+thr)
}

func (d *Detector) bouncedShort(closes, highs []float64, i int, s, p, pp cloud.State, thr float64) bool {
	if closes[i] >= s.Lower() {
		return false
	}
	if closes[i-1] < p.Lower() && highs[i] >= s.Lower()*(1-thr) {
		return true
	}
	return pp.Defined &&
		closes[i-2] < pp.Lower() &&
		highs[i-1] >= p.Lower()*(1-thr) &&
		closes[i-1] >= p.Lower()*(1-thr)
}

func (d *Detector) build(c *cloud.Computed, states [cloud.NumLayers]cloud.State, f *firing, symbol string, tf types.Timeframe) *types.TradeSignal {
	i := c.Len() - 1
	primary := f.layers[len(f.layers)-1]
	meta := map[string]any{
		"layers": f.layers,
		"layer":  primary,
	}
	for k, v := range f.meta {
		meta[k] = v
	}

	sig := &types.TradeSignal{
		ID:        utils.GenerateSignalID(),
		Kind:      f.kind,
		Symbol:    symbol,
		Timeframe: tf,
		Direction: f.direction,
		Strength:  utils.Clamp(f.strength, 0, 1),
		Price:     decimal.NewFromFloat(c.Series.Close[i]),
		Strategy:  StrategyName,
		Metadata:  meta,
		Timestamp: c.Series.Time[i],
	}
	if f.direction.IsEntry() {
		sig.StopLoss = ProtectiveStop(f.direction, states[primary], c.Series.Low[i], c.Series.High[i])
	}
	return sig
}

// ProtectiveStop places a stop beyond both the layer's far edge and the
// bar's extreme.
func ProtectiveStop(dir types.Direction, st cloud.State, low, high float64) decimal.Decimal {
	switch dir {
	case types.DirectionLong:
		return decimal.NewFromFloat(math.Min(st.Lower(), low)).Round(4)
	case types.DirectionShort:
		return decimal.NewFromFloat(math.Max(st.Upper(), high)).Round(4)
	default:
		return decimal.Zero
	}
}

// aligned reports whether every layer agrees and the close is strictly
// beyond each cloud on the trend side.
func aligned(states [cloud.NumLayers]cloud.State) (types.Direction, bool) {
	long, short := true, true
	for _, s := range states {
		if !s.Defined {
			return types.DirectionNone, false
		}
		long = long && s.Bullish && s.Price == cloud.RelationAbove
		short = short && !s.Bullish && s.Price == cloud.RelationBelow
	}
	switch {
	case long:
		return types.DirectionLong, true
	case short:
		return types.DirectionShort, true
	default:
		return types.DirectionNone, false
	}
}

// agreement scores how much of the stack backs a direction, with a bonus
// for each triggering layer.
func agreement(states [cloud.NumLayers]cloud.State, dir types.Direction, triggers int) float64 {
	agree := 0
	for _, s := range states {
		if s.Agrees(dir) {
			agree++
		}
	}
	return utils.Clamp(0.3+0.1*float64(agree)+0.05*float64(triggers-1), 0, 1)
}

func nearBoundary(states [cloud.NumLayers]cloud.State, price, thr float64) []int {
	if price == 0 {
		return nil
	}
	var out []int
	for _, s := range states {
		if !s.Defined {
			continue
		}
		if math.Abs(price-s.Upper())/price <= thr || math.Abs(price-s.Lower())/price <= thr {
			out = append(out, s.Layer)
		}
	}
	return out
}

func allLayers() []int {
	out := make([]int, cloud.NumLayers)
	for i := range out {
		out[i] = i
	}
	return out
}
