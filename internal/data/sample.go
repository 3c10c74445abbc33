package data

import (
	"math"
	"math/rand"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
)

// BarsFromCloses builds bars whose open is the previous close and whose
// wicks extend 0.1% beyond the body. Every bar gets the same volume.
func BarsFromCloses(start time.Time, tf types.Timeframe, closes []float64, volume float64) []types.Bar {
	interval := tf.Duration()
	if interval == 0 {
		interval = time.Minute
	}

	bars := make([]types.Bar, len(closes))
	for i, c := range closes {
		open := c
		if i > 0 {
			open = closes[i-1]
		}
		bars[i] = NewBar(start.Add(time.Duration(i)*interval), open,
			math.Max(open, c)*1.001, math.Min(open, c)*0.999, c, volume)
	}
	return bars
}

// NewBar builds a bar from float prices.
func NewBar(ts time.Time, open, high, low, close, volume float64) types.Bar {
	return types.Bar{
		Timestamp: ts,
		Open:      decimal.NewFromFloat(open),
		High:      decimal.NewFromFloat(high),
		Low:       decimal.NewFromFloat(low),
		Close:     decimal.NewFromFloat(close),
		Volume:    decimal.NewFromFloat(volume),
	}
}

// Linear returns n closes starting at start and moving by step per bar.
func Linear(start, step float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = start + step*float64(i)
	}
	return out
}

// Generator produces a seeded random walk of bars, for paper sessions.
type Generator struct {
	rng      *rand.Rand
	price    float64
	drift    float64
	vol      float64
	interval time.Duration
	next     time.Time
}

// NewGenerator creates a walk starting at price. drift and vol are per-bar
// fractions (0.0002 and 0.004 give a gently rising, noisy series).
func NewGenerator(seed int64, start time.Time, tf types.Timeframe, price, drift, vol float64) *Generator {
	interval := tf.Duration()
	if interval == 0 {
		interval = time.Minute
	}
	return &Generator{
		rng:      rand.New(rand.NewSource(seed)),
		price:    price,
		drift:    drift,
		vol:      vol,
		interval: interval,
		next:     start,
	}
}

// Next returns the next bar in the walk.
func (g *Generator) Next() types.Bar {
	open := g.price
	change := g.drift + (g.rng.Float64()-0.5)*2*g.vol
	g.price = math.Max(0.01, open*(1+change))
	high := math.Max(open, g.price) * (1 + g.rng.Float64()*g.vol/2)
	low := math.Min(open, g.price) * (1 - g.rng.Float64()*g.vol/2)
	volume := 50000 + g.rng.Float64()*100000

	bar := NewBar(g.next, open, high, low, g.price, volume)
	g.next = g.next.Add(g.interval)
	return bar
}

// Bars returns the next n bars.
func (g *Generator) Bars(n int) []types.Bar {
	out := make([]types.Bar, n)
	for i := range out {
		out[i] = g.Next()
	}
	return out
}
