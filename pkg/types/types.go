// Package types provides shared type definitions for the signal pipeline.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide represents buy or sell
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Direction is the intent carried by a trade signal.
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionExit  Direction = "exit"
	DirectionNone  Direction = ""
)

// IsEntry reports whether the direction opens a position.
func (d Direction) IsEntry() bool {
	return d == DirectionLong || d == DirectionShort
}

// EntrySide returns the order side that opens a position in this direction.
func (d Direction) EntrySide() OrderSide {
	if d == DirectionShort {
		return OrderSideSell
	}
	return OrderSideBuy
}

// ExitSide returns the order side that closes a position in this direction.
func (d Direction) ExitSide() OrderSide {
	if d == DirectionShort {
		return OrderSideBuy
	}
	return OrderSideSell
}

// Opposite returns the other entry direction.
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	default:
		return d
	}
}

// Timeframe represents bar timeframes
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe10m Timeframe = "10m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// Duration returns the wall-clock length of one bar, or zero if unknown.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe10m:
		return 10 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe30m:
		return 30 * time.Minute
	case Timeframe1h:
		return time.Hour
	case Timeframe4h:
		return 4 * time.Hour
	case Timeframe1d:
		return 24 * time.Hour
	default:
		return 0
	}
}

// IsIntraday reports whether positions opened on this timeframe are day trades.
func (tf Timeframe) IsIntraday() bool {
	d := tf.Duration()
	return d > 0 && d < time.Hour
}

// Bar is a single OHLCV candle. Bars are immutable once recorded.
type Bar struct {
	Timestamp time.Time       `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
}

// Series is the column view of a bar window used by the indicator math.
type Series struct {
	Time   []time.Time
	Open   []float64
	High   []float64
	Low    []float64
	Close  []float64
	Volume []float64
}

// NewSeries converts bars into float columns.
func NewSeries(bars []Bar) Series {
	n := len(bars)
	s := Series{
		Time:   make([]time.Time, n),
		Open:   make([]float64, n),
		High:   make([]float64, n),
		Low:    make([]float64, n),
		Close:  make([]float64, n),
		Volume: make([]float64, n),
	}
	for i, b := range bars {
		s.Time[i] = b.Timestamp
		s.Open[i] = b.Open.InexactFloat64()
		s.High[i] = b.High.InexactFloat64()
		s.Low[i] = b.Low.InexactFloat64()
		s.Close[i] = b.Close.InexactFloat64()
		s.Volume[i] = b.Volume.InexactFloat64()
	}
	return s
}

// Len returns the number of bars in the series.
func (s Series) Len() int { return len(s.Close) }

// SignalKind enumerates the twelve signal kinds the pipeline understands.
type SignalKind string

const (
	SignalCloudCrossLong     SignalKind = "cloud_cross_long"
	SignalCloudCrossShort    SignalKind = "cloud_cross_short"
	SignalCloudFlipLong      SignalKind = "cloud_flip_long"
	SignalCloudFlipShort     SignalKind = "cloud_flip_short"
	SignalCloudBounceLong    SignalKind = "cloud_bounce_long"
	SignalCloudBounceShort   SignalKind = "cloud_bounce_short"
	SignalTrendAlignedLong   SignalKind = "trend_aligned_long"
	SignalTrendAlignedShort  SignalKind = "trend_aligned_short"
	SignalMomentumExhaustion SignalKind = "momentum_exhaustion"
	SignalMTFConfluence      SignalKind = "mtf_confluence"
	SignalCandlestickBullish SignalKind = "candlestick_bullish"
	SignalCandlestickBearish SignalKind = "candlestick_bearish"
)

// AllSignalKinds lists every kind in declaration order.
var AllSignalKinds = []SignalKind{
	SignalCloudCrossLong, SignalCloudCrossShort,
	SignalCloudFlipLong, SignalCloudFlipShort,
	SignalCloudBounceLong, SignalCloudBounceShort,
	SignalTrendAlignedLong, SignalTrendAlignedShort,
	SignalMomentumExhaustion, SignalMTFConfluence,
	SignalCandlestickBullish, SignalCandlestickBearish,
}

// TradeSignal is a typed trade idea produced by the detector or a strategy.
type TradeSignal struct {
	ID        string          `json:"id"`
	Kind      SignalKind      `json:"kind"`
	Symbol    string          `json:"symbol"`
	Timeframe Timeframe       `json:"timeframe"`
	Direction Direction       `json:"direction"`
	Strength  float64         `json:"strength"`
	Price     decimal.Decimal `json:"price"`
	StopLoss  decimal.Decimal `json:"stopLoss,omitempty"`
	// TakeProfit is advisory; the exit monitor targets 2R regardless.
	TakeProfit decimal.Decimal `json:"takeProfit,omitempty"`
	Strategy   string          `json:"strategy"`
	// ConvictionAdjustment is added to the scored total (session boosts and penalties).
	ConvictionAdjustment float64        `json:"convictionAdjustment,omitempty"`
	Metadata             map[string]any `json:"metadata,omitempty"`
	Timestamp            time.Time      `json:"timestamp"`
}

// RegimeLabel is the market state supplied by the upstream regime detector.
type RegimeLabel string

const (
	RegimeBull     RegimeLabel = "bull"
	RegimeBear     RegimeLabel = "bear"
	RegimeSideways RegimeLabel = "sideways"
	RegimeCrisis   RegimeLabel = "crisis"
)

// ParseRegimeLabel maps an upstream label onto a known regime, defaulting to sideways.
func ParseRegimeLabel(s string) RegimeLabel {
	switch RegimeLabel(s) {
	case RegimeBull, RegimeBear, RegimeSideways, RegimeCrisis:
		return RegimeLabel(s)
	default:
		return RegimeSideways
	}
}

// ExitKind names the condition behind an exit decision.
type ExitKind string

const (
	ExitEmergencyClose   ExitKind = "emergency_close"
	ExitStopLoss         ExitKind = "stop_loss"
	ExitExhaustion       ExitKind = "exhaustion"
	ExitCloudFlip        ExitKind = "cloud_flip"
	ExitTarget           ExitKind = "target"
	ExitTimeStop         ExitKind = "time_stop"
	ExitEOD              ExitKind = "eod"
	ExitTrailing         ExitKind = "trailing"
	ExitTrailToBreakeven ExitKind = "trail_to_breakeven"
	ExitScaleOut         ExitKind = "scale_out"
)

// ExitPriority lists exit kinds from highest to lowest priority.
var ExitPriority = []ExitKind{
	ExitEmergencyClose,
	ExitStopLoss,
	ExitExhaustion,
	ExitCloudFlip,
	ExitTarget,
	ExitTimeStop,
	ExitEOD,
	ExitTrailing,
	ExitTrailToBreakeven,
	ExitScaleOut,
}

// Priority returns the rank of k, 0 being highest, or -1 if unknown.
func (k ExitKind) Priority() int {
	for i, e := range ExitPriority {
		if e == k {
			return i
		}
	}
	return -1
}

// ClosesPosition reports whether the exit flattens the whole position.
func (k ExitKind) ClosesPosition() bool {
	return k != ExitTrailToBreakeven && k != ExitScaleOut && k != ""
}
