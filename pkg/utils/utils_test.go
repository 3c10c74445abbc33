package utils_test

import (
	"math"
	"strings"
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
)

func TestEMASeriesMatchesIncremental(t *testing.T) {
	values := make([]float64, 120)
	for i := range values {
		values[i] = 100 + 5*math.Sin(float64(i)/7) + float64(i)*0.1
	}

	for _, period := range []int{5, 12, 34, 89} {
		series := utils.EMASeries(values, period)
		ema := utils.NewEMA(period)
		for i, v := range values {
			got, ok := ema.Add(v)
			if i < period-1 {
				if ok {
					t.Fatalf("period %d: EMA defined at %d before seed", period, i)
				}
				if !math.IsNaN(series[i]) {
					t.Fatalf("period %d: series defined at %d before seed", period, i)
				}
				continue
			}
			if !ok {
				t.Fatalf("period %d: EMA undefined at %d", period, i)
			}
			if math.Abs(got-series[i]) > 1e-9 {
				t.Fatalf("period %d index %d: incremental %f != series %f", period, i, got, series[i])
			}
		}
	}
}

func TestEMASeedIsSimpleAverage(t *testing.T) {
	series := utils.EMASeries([]float64{1, 2, 3, 4}, 3)
	if series[2] != 2 {
		t.Errorf("expected seed 2, got %f", series[2])
	}
	want := 4*0.5 + 2*0.5
	if series[3] != want {
		t.Errorf("expected %f, got %f", want, series[3])
	}
}

func TestEMASeriesShortInput(t *testing.T) {
	series := utils.EMASeries([]float64{1, 2}, 5)
	for i, v := range series {
		if !math.IsNaN(v) {
			t.Errorf("index %d should be undefined, got %f", i, v)
		}
	}
}

func TestRetryDelayIsBounded(t *testing.T) {
	cfg := utils.RetryConfig{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2,
	}

	expected := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond, 300 * time.Millisecond}
	for i, want := range expected {
		if got := cfg.Delay(i + 1); got != want {
			t.Errorf("attempt %d: expected %v, got %v", i+1, want, got)
		}
	}
}

func TestADXTrendVersusChop(t *testing.T) {
	n := 80
	trendH, trendL, trendC := make([]float64, n), make([]float64, n), make([]float64, n)
	chopH, chopL, chopC := make([]float64, n), make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		base := 100 + float64(i)
		trendH[i], trendL[i], trendC[i] = base+1, base-0.5, base+0.8

		wiggle := 100 + math.Sin(float64(i))*0.5
		chopH[i], chopL[i], chopC[i] = wiggle+1, wiggle-1, wiggle
	}

	trend, ok := utils.ADX(trendH, trendL, trendC, 14)
	if !ok {
		t.Fatal("expected ADX to be defined for trend series")
	}
	chop, ok := utils.ADX(chopH, chopL, chopC, 14)
	if !ok {
		t.Fatal("expected ADX to be defined for chop series")
	}
	if trend <= 25 {
		t.Errorf("expected strong trend ADX > 25, got %f", trend)
	}
	if chop >= trend {
		t.Errorf("expected chop ADX %f below trend ADX %f", chop, trend)
	}

	if _, ok := utils.ADX(trendH[:20], trendL[:20], trendC[:20], 14); ok {
		t.Error("expected ADX undefined with insufficient bars")
	}
}

func TestIdempotencyTokenIsStable(t *testing.T) {
	a := utils.IdempotencyToken("sig_1")
	b := utils.IdempotencyToken("sig_1")
	c := utils.IdempotencyToken("sig_2")
	if a != b {
		t.Errorf("token not stable: %s vs %s", a, b)
	}
	if a == c {
		t.Error("distinct signals produced the same token")
	}
	if !strings.HasPrefix(a, "ord_") {
		t.Errorf("unexpected token format %s", a)
	}
}
