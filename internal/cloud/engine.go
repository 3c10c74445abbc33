// Package cloud computes the five dual-EMA cloud layers and their derived state.
package cloud

import (
	"fmt"
	"math"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
)

// NumLayers is the number of cloud layers.
const NumLayers = 5

// Layer indices, fastest first.
const (
	LayerFast     = 0
	LayerPullback = 1
	LayerTrend    = 2
	LayerSwing    = 3
	LayerMacro    = 4
)

// LayerConfig is one (short, long) EMA pair.
type LayerConfig struct {
	Short int `json:"short" mapstructure:"short" yaml:"short"`
	Long  int `json:"long" mapstructure:"long" yaml:"long"`
}

// Config configures the cloud engine.
type Config struct {
	Layers        [NumLayers]LayerConfig `json:"layers"`
	SlopeWindow   int                    `json:"slopeWindow"`   // bars spanned by the slope difference
	SlopeDeadband float64                `json:"slopeDeadband"` // |normalized slope| below this is flat
}

// DefaultConfig returns the standard five-layer setup.
func DefaultConfig() Config {
	return Config{
		Layers: [NumLayers]LayerConfig{
			{Short: 5, Long: 12},
			{Short: 8, Long: 9},
			{Short: 20, Long: 21},
			{Short: 34, Long: 50},
			{Short: 72, Long: 89},
		},
		SlopeWindow:   3,
		SlopeDeadband: 0.0005,
	}
}

// Validate checks the short < long invariant for every layer.
func (c Config) Validate() error {
	for i, l := range c.Layers {
		if l.Short <= 0 || l.Long <= 0 {
			return fmt.Errorf("layer %d: periods must be positive", i)
		}
		if l.Short >= l.Long {
			return fmt.Errorf("layer %d: short period %d must be below long period %d", i, l.Short, l.Long)
		}
	}
	if c.SlopeWindow < 2 {
		return fmt.Errorf("slope window must be at least 2, got %d", c.SlopeWindow)
	}
	return nil
}

// MaxPeriod returns the longest EMA period across layers.
func (c Config) MaxPeriod() int {
	max := 0
	for _, l := range c.Layers {
		if l.Long > max {
			max = l.Long
		}
	}
	return max
}

// Relation is where price sits relative to a cloud.
type Relation string

const (
	RelationAbove     Relation = "above"
	RelationInside    Relation = "inside"
	RelationBelow     Relation = "below"
	RelationUndefined Relation = "undefined"
)

// Slope buckets the short-EMA slope.
type Slope string

const (
	SlopeRising    Slope = "rising"
	SlopeFalling   Slope = "falling"
	SlopeFlat      Slope = "flat"
	SlopeUndefined Slope = "undefined"
)

// State is one layer's condition on a single bar.
type State struct {
	Layer      int      `json:"layer"`
	Defined    bool     `json:"defined"`
	ShortEMA   float64  `json:"shortEma"`
	LongEMA    float64  `json:"longEma"`
	Bullish    bool     `json:"bullish"`
	Thickness  float64  `json:"thickness"`
	Price      Relation `json:"price"`
	Slope      Slope    `json:"slope"`
	SlopeValue float64  `json:"slopeValue"`
}

// Upper returns the top edge of the cloud.
func (s State) Upper() float64 { return math.Max(s.ShortEMA, s.LongEMA) }

// Lower returns the bottom edge of the cloud.
func (s State) Lower() float64 { return math.Min(s.ShortEMA, s.LongEMA) }

// Agrees reports whether the layer is defined and points in dir.
func (s State) Agrees(dir types.Direction) bool {
	if !s.Defined {
		return false
	}
	switch dir {
	case types.DirectionLong:
		return s.Bullish
	case types.DirectionShort:
		return !s.Bullish
	default:
		return false
	}
}

func undefinedState(layer int) State {
	return State{Layer: layer, Price: RelationUndefined, Slope: SlopeUndefined}
}

// Computed holds per-bar EMA values for every layer.
type Computed struct {
	Series types.Series
	Short  [NumLayers][]float64
	Long   [NumLayers][]float64

	config Config
}

// Len returns the number of bars.
func (c *Computed) Len() int { return c.Series.Len() }

// Engine computes cloud layers. It holds no per-series state.
type Engine struct {
	config Config
}

// NewEngine creates an engine after validating the layer periods.
func NewEngine(config Config) (*Engine, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid cloud config: %w", err)
	}
	return &Engine{config: config}, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config { return e.config }

// ComputeClouds computes every layer over the full bar window.
func (e *Engine) ComputeClouds(bars []types.Bar) *Computed {
	return e.ComputeSeries(types.NewSeries(bars))
}

// ComputeSeries computes every layer over an existing series.
func (e *Engine) ComputeSeries(series types.Series) *Computed {
	c := &Computed{Series: series, config: e.config}
	for i, l := range e.config.Layers {
		c.Short[i] = utils.EMASeries(series.Close, l.Short)
		c.Long[i] = utils.EMASeries(series.Close, l.Long)
	}
	return c
}

// GetCloudStates returns the five layer states on the latest bar.
func (e *Engine) GetCloudStates(c *Computed) [NumLayers]State {
	return c.StatesAt(c.Len() - 1)
}

// StatesAt returns the five layer states on bar i.
func (c *Computed) StatesAt(i int) [NumLayers]State {
	var out [NumLayers]State
	for layer := 0; layer < NumLayers; layer++ {
		out[layer] = c.StateAt(layer, i)
	}
	return out
}

// StateAt derives one layer's state on bar i. Layers without enough history
// are reported as undefined.
func (c *Computed) StateAt(layer, i int) State {
	if i < 0 || i >= c.Len() {
		return undefinedState(layer)
	}
	s, l := c.Short[layer][i], c.Long[layer][i]
	if math.IsNaN(s) || math.IsNaN(l) {
		return undefinedState(layer)
	}

	price := c.Series.Close[i]
	st := State{
		Layer:    layer,
		Defined:  true,
		ShortEMA: s,
		LongEMA:  l,
		Bullish:  s > l,
	}
	if price != 0 {
		st.Thickness = math.Abs(s-l) / price
	}

	switch {
	case price > st.Upper():
		st.Price = RelationAbove
	case price < st.Lower():
		st.Price = RelationBelow
	default:
		st.Price = RelationInside
	}

	st.Slope, st.SlopeValue = c.slopeAt(layer, i)
	return st
}

// Streak counts consecutive closes ending at bar i that sit on the same side
// outside a layer. It returns RelationInside with a zero count when bar i is
// inside the cloud or the layer is undefined there.
func (c *Computed) Streak(layer, i int) (Relation, int) {
	side := c.StateAt(layer, i).Price
	if side != RelationAbove && side != RelationBelow {
		return RelationInside, 0
	}
	n := 0
	for j := i; j >= 0; j-- {
		if c.StateAt(layer, j).Price != side {
			break
		}
		n++
	}
	return side, n
}

// slopeAt is undefined until the slope window lies entirely on seeded EMA
// values.
func (c *Computed) slopeAt(layer, i int) (Slope, float64) {
	back := i - (c.config.SlopeWindow - 1)
	if back < 0 {
		return SlopeUndefined, 0
	}
	prev := c.Short[layer][back]
	price := c.Series.Close[i]
	if math.IsNaN(prev) || price == 0 {
		return SlopeUndefined, 0
	}

	v := (c.Short[layer][i] - prev) / float64(c.config.SlopeWindow-1) / price
	switch {
	case v > c.config.SlopeDeadband:
		return SlopeRising, v
	case v < -c.config.SlopeDeadband:
		return SlopeFalling, v
	default:
		return SlopeFlat, v
	}
}
