package signals

import (
	"math"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
)

// Pattern is a recognized candlestick formation.
type Pattern string

const (
	PatternNone             Pattern = ""
	PatternHammer           Pattern = "hammer"
	PatternInvertedHammer   Pattern = "inverted_hammer"
	PatternBullishEngulfing Pattern = "bullish_engulfing"
	PatternBearishEngulfing Pattern = "bearish_engulfing"
	PatternBullishPinBar    Pattern = "bullish_pin_bar"
	PatternBearishPinBar    Pattern = "bearish_pin_bar"
)

// Direction returns the trade direction a pattern implies.
func (p Pattern) Direction() types.Direction {
	switch p {
	case PatternHammer, PatternInvertedHammer, PatternBullishEngulfing, PatternBullishPinBar:
		return types.DirectionLong
	case PatternBearishEngulfing, PatternBearishPinBar:
		return types.DirectionShort
	default:
		return types.DirectionNone
	}
}

// PatternConfig holds the body/wick ratio thresholds.
type PatternConfig struct {
	MaxBodyRatio       float64 `json:"maxBodyRatio"`       // hammer body as a fraction of range
	MinWickToBody      float64 `json:"minWickToBody"`      // hammer working wick as a multiple of body
	MaxOppositeWick    float64 `json:"maxOppositeWick"`    // hammer other wick as a fraction of range
	MinPinWickRatio    float64 `json:"minPinWickRatio"`    // pin bar wick as a fraction of range
	PinCloseZone       float64 `json:"pinCloseZone"`       // pin bar close must sit in this end fraction of range
	MinEngulfBodyRatio float64 `json:"minEngulfBodyRatio"` // engulfing body as a fraction of range
}

// DefaultPatternConfig returns standard thresholds.
func DefaultPatternConfig() PatternConfig {
	return PatternConfig{
		MaxBodyRatio:       0.3,
		MinWickToBody:      2.0,
		MaxOppositeWick:    0.1,
		MinPinWickRatio:    0.66,
		PinCloseZone:       1.0 / 3.0,
		MinEngulfBodyRatio: 0.5,
	}
}

// Candle is the geometry of one bar.
type Candle struct {
	Open, High, Low, Close float64
}

// CandleAt extracts bar i of a series.
func CandleAt(s types.Series, i int) Candle {
	return Candle{Open: s.Open[i], High: s.High[i], Low: s.Low[i], Close: s.Close[i]}
}

func (c Candle) Range() float64     { return c.High - c.Low }
func (c Candle) Body() float64      { return math.Abs(c.Close - c.Open) }
func (c Candle) UpperWick() float64 { return c.High - math.Max(c.Open, c.Close) }
func (c Candle) LowerWick() float64 { return math.Min(c.Open, c.Close) - c.Low }
func (c Candle) Bullish() bool      { return c.Close > c.Open }
func (c Candle) Bearish() bool      { return c.Close < c.Open }

// BodyRatio returns body / range, or 0 for a zero-range bar.
func (c Candle) BodyRatio() float64 {
	r := c.Range()
	if r <= 0 {
		return 0
	}
	return c.Body() / r
}

// DetectPattern checks the current bar (and the previous one for engulfing).
// Two-bar patterns are checked first.
func DetectPattern(prev, cur Candle, cfg PatternConfig) Pattern {
	if isBullishEngulfing(prev, cur, cfg) {
		return PatternBullishEngulfing
	}
	if isBearishEngulfing(prev, cur, cfg) {
		return PatternBearishEngulfing
	}

	rng := cur.Range()
	if rng <= 0 {
		return PatternNone
	}

	// Pin bars first: they are the stricter wick test.
	if cur.LowerWick() >= rng*cfg.MinPinWickRatio && cur.Close >= cur.High-rng*cfg.PinCloseZone {
		return PatternBullishPinBar
	}
	if cur.UpperWick() >= rng*cfg.MinPinWickRatio && cur.Close <= cur.Low+rng*cfg.PinCloseZone {
		return PatternBearishPinBar
	}

	body := cur.Body()
	if body > rng*cfg.MaxBodyRatio {
		return PatternNone
	}
	if cur.LowerWick() >= body*cfg.MinWickToBody && cur.UpperWick() <= rng*cfg.MaxOppositeWick {
		return PatternHammer
	}
	if cur.UpperWick() >= body*cfg.MinWickToBody && cur.LowerWick() <= rng*cfg.MaxOppositeWick {
		return PatternInvertedHammer
	}
	return PatternNone
}

func isBullishEngulfing(prev, cur Candle, cfg PatternConfig) bool {
	if !prev.Bearish() || !cur.Bullish() {
		return false
	}
	if cur.BodyRatio() < cfg.MinEngulfBodyRatio {
		return false
	}
	return cur.Open <= prev.Close && cur.Close >= prev.Open
}

func isBearishEngulfing(prev, cur Candle, cfg PatternConfig) bool {
	if !prev.Bullish() || !cur.Bearish() {
		return false
	}
	if cur.BodyRatio() < cfg.MinEngulfBodyRatio {
		return false
	}
	return cur.Open >= prev.Close && cur.Close <= prev.Open
}

// PatternStrength returns a base strength (0-1) for a pattern.
func PatternStrength(p Pattern) float64 {
	switch p {
	case PatternBullishEngulfing, PatternBearishEngulfing:
		return 0.7
	case PatternBullishPinBar, PatternBearishPinBar:
		return 0.6
	case PatternHammer, PatternInvertedHammer:
		return 0.5
	default:
		return 0
	}
}
