package utils

import (
	"math"
)

// EMA calculates an exponential moving average incrementally.
// The update is written as prev + k*(v-prev), which equals v*k + prev*(1-k)
// and leaves a constant input exactly constant.
// The first value is the simple average of the first period inputs.
type EMA struct {
	period     int
	multiplier float64
	current    float64
	seedSum    float64
	count      int
}

// NewEMA creates a new EMA calculator.
func NewEMA(period int) *EMA {
	return &EMA{
		period:     period,
		multiplier: 2.0 / float64(period+1),
	}
}

// Add adds a value and returns the current EMA and whether it is defined yet.
func (e *EMA) Add(value float64) (float64, bool) {
	e.count++
	if e.count < e.period {
		e.seedSum += value
		return 0, false
	}
	if e.count == e.period {
		e.seedSum += value
		e.current = e.seedSum / float64(e.period)
		return e.current, true
	}
	e.current += e.multiplier * (value - e.current)
	return e.current, true
}

// Current returns the current EMA value and whether it is defined.
func (e *EMA) Current() (float64, bool) {
	return e.current, e.count >= e.period
}

// EMASeries computes the EMA of values from scratch. Entries before the
// seed index are NaN.
func EMASeries(values []float64, period int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || len(values) < period {
		return out
	}

	k := 2.0 / float64(period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += values[i]
	}
	out[period-1] = sum / float64(period)
	for i := period; i < len(values); i++ {
		out[i] = out[i-1] + k*(values[i]-out[i-1])
	}
	return out
}

// Mean returns the arithmetic mean of values, or 0 when empty.
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// StdDev returns the population standard deviation.
func StdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)))
}

// TrueRange returns the true range of bar i.
func TrueRange(high, low, close []float64, i int) float64 {
	if i == 0 {
		return high[0] - low[0]
	}
	return math.Max(high[i]-low[i], math.Max(math.Abs(high[i]-close[i-1]), math.Abs(low[i]-close[i-1])))
}

// ATRSeries computes Wilder's average true range. Undefined entries are NaN.
func ATRSeries(high, low, close []float64, period int) []float64 {
	n := len(close)
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	if period <= 0 || n <= period {
		return out
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += TrueRange(high, low, close, i)
	}
	out[period] = sum / float64(period)
	for i := period + 1; i < n; i++ {
		out[i] = (out[i-1]*float64(period-1) + TrueRange(high, low, close, i)) / float64(period)
	}
	return out
}

// ADX computes Wilder's average directional index on the latest bar.
// It needs at least 2*period+1 bars.
func ADX(high, low, close []float64, period int) (float64, bool) {
	n := len(close)
	if period <= 0 || n < 2*period+1 {
		return 0, false
	}

	var smTR, smPlus, smMinus float64
	dx := make([]float64, 0, n)
	for i := 1; i < n; i++ {
		up := high[i] - high[i-1]
		down := low[i-1] - low[i]
		plusDM, minusDM := 0.0, 0.0
		if up > down && up > 0 {
			plusDM = up
		}
		if down > up && down > 0 {
			minusDM = down
		}
		tr := TrueRange(high, low, close, i)

		if i <= period {
			smTR += tr
			smPlus += plusDM
			smMinus += minusDM
			if i < period {
				continue
			}
		} else {
			smTR = smTR - smTR/float64(period) + tr
			smPlus = smPlus - smPlus/float64(period) + plusDM
			smMinus = smMinus - smMinus/float64(period) + minusDM
		}

		if smTR == 0 {
			dx = append(dx, 0)
			continue
		}
		plusDI := 100 * smPlus / smTR
		minusDI := 100 * smMinus / smTR
		if plusDI+minusDI == 0 {
			dx = append(dx, 0)
			continue
		}
		dx = append(dx, 100*math.Abs(plusDI-minusDI)/(plusDI+minusDI))
	}

	if len(dx) < period {
		return 0, false
	}
	adx := Mean(dx[:period])
	for _, v := range dx[period:] {
		adx = (adx*float64(period-1) + v) / float64(period)
	}
	return adx, true
}
