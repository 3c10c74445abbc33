package cloud_test

import (
	"math"
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
)

var start = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newEngine(t *testing.T) *cloud.Engine {
	t.Helper()
	engine, err := cloud.NewEngine(cloud.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestConfigRejectsInvertedLayer(t *testing.T) {
	cfg := cloud.DefaultConfig()
	cfg.Layers[2] = cloud.LayerConfig{Short: 21, Long: 20}
	if _, err := cloud.NewEngine(cfg); err == nil {
		t.Fatal("expected error for short >= long")
	}
}

func TestInsufficientHistoryIsUndefined(t *testing.T) {
	engine := newEngine(t)
	maxPeriod := engine.Config().MaxPeriod()

	for _, n := range []int{0, 1, 11, maxPeriod - 1} {
		bars := data.BarsFromCloses(start, types.Timeframe5m, data.Linear(100, 0.1, n), 1000)
		if n == 0 {
			continue
		}
		states := engine.GetCloudStates(engine.ComputeClouds(bars))
		macro := states[cloud.LayerMacro]
		if macro.Defined {
			t.Errorf("n=%d: macro layer should be undefined", n)
		}
		if macro.ShortEMA != 0 || macro.LongEMA != 0 {
			t.Errorf("n=%d: undefined layer carries fabricated EMA values", n)
		}
		if macro.Price != cloud.RelationUndefined || macro.Slope != cloud.SlopeUndefined {
			t.Errorf("n=%d: undefined layer reports %s/%s", n, macro.Price, macro.Slope)
		}
	}

	bars := data.BarsFromCloses(start, types.Timeframe5m, data.Linear(100, 0.1, 11), 1000)
	for i, st := range engine.GetCloudStates(engine.ComputeClouds(bars)) {
		if i == cloud.LayerPullback {
			if !st.Defined {
				t.Errorf("pullback layer (8/9) should be defined with 11 bars")
			}
			continue
		}
		if st.Defined {
			t.Errorf("layer %d should be undefined with 11 bars", i)
		}
	}
}

func TestRisingSeriesIsBullishEverywhere(t *testing.T) {
	engine := newEngine(t)
	bars := data.BarsFromCloses(start, types.Timeframe5m, data.Linear(100, 0.5, 150), 1000)
	computed := engine.ComputeClouds(bars)
	states := engine.GetCloudStates(computed)

	for i, st := range states {
		if !st.Defined {
			t.Fatalf("layer %d undefined with 150 bars", i)
		}
		if !st.Bullish {
			t.Errorf("layer %d should be bullish", i)
		}
		if st.Price != cloud.RelationAbove {
			t.Errorf("layer %d: expected price above, got %s", i, st.Price)
		}
		if st.Slope != cloud.SlopeRising {
			t.Errorf("layer %d: expected rising slope, got %s (%f)", i, st.Slope, st.SlopeValue)
		}
		close := computed.Series.Close[computed.Len()-1]
		want := math.Abs(st.ShortEMA-st.LongEMA) / close
		if math.Abs(st.Thickness-want) > 1e-12 {
			t.Errorf("layer %d: thickness %f, want %f", i, st.Thickness, want)
		}
		if !st.Agrees(types.DirectionLong) || st.Agrees(types.DirectionShort) {
			t.Errorf("layer %d: agreement mismatch", i)
		}
	}
}

func TestFallingSeriesIsBearish(t *testing.T) {
	engine := newEngine(t)
	bars := data.BarsFromCloses(start, types.Timeframe5m, data.Linear(200, -0.5, 150), 1000)
	states := engine.GetCloudStates(engine.ComputeClouds(bars))

	for i, st := range states {
		if st.Bullish || st.Price != cloud.RelationBelow || st.Slope != cloud.SlopeFalling {
			t.Errorf("layer %d: expected bearish/below/falling, got bullish=%v %s %s", i, st.Bullish, st.Price, st.Slope)
		}
	}
}

func TestFlatSeriesHasFlatSlope(t *testing.T) {
	engine := newEngine(t)
	closes := make([]float64, 120)
	for i := range closes {
		closes[i] = 100
	}
	states := engine.GetCloudStates(engine.ComputeClouds(data.BarsFromCloses(start, types.Timeframe5m, closes, 1000)))
	for i, st := range states {
		if st.Slope != cloud.SlopeFlat {
			t.Errorf("layer %d: expected flat, got %s", i, st.Slope)
		}
		if st.Price != cloud.RelationInside {
			t.Errorf("layer %d: expected inside, got %s", i, st.Price)
		}
	}
}

func TestSlopeUndefinedBeforeWindowIsSeeded(t *testing.T) {
	engine := newEngine(t)

	// The 8/9 layer is defined from the 9th bar, but its 3-bar slope window
	// still reaches back before the 8-EMA seed.
	bars := data.BarsFromCloses(start, types.Timeframe5m, data.Linear(100, 0.1, 9), 1000)
	st := engine.GetCloudStates(engine.ComputeClouds(bars))[cloud.LayerPullback]
	if !st.Defined {
		t.Fatal("pullback layer should be defined with 9 bars")
	}
	if st.Slope != cloud.SlopeUndefined || st.SlopeValue != 0 {
		t.Errorf("slope = %s (%v), want undefined", st.Slope, st.SlopeValue)
	}

	bars = data.BarsFromCloses(start, types.Timeframe5m, data.Linear(100, 0.1, 10), 1000)
	st = engine.GetCloudStates(engine.ComputeClouds(bars))[cloud.LayerPullback]
	if st.Slope != cloud.SlopeRising {
		t.Errorf("slope with seeded window = %s, want rising", st.Slope)
	}
}

func TestComputeMatchesIncrementalRecursion(t *testing.T) {
	engine := newEngine(t)
	closes := make([]float64, 200)
	for i := range closes {
		closes[i] = 50 + 3*math.Sin(float64(i)/5) + float64(i)*0.05
	}
	computed := engine.ComputeClouds(data.BarsFromCloses(start, types.Timeframe5m, closes, 1000))

	for layer, cfg := range engine.Config().Layers {
		short := utils.NewEMA(cfg.Short)
		long := utils.NewEMA(cfg.Long)
		for i := range closes {
			// Bars are built through decimal, so feed the same float view.
			c := computed.Series.Close[i]
			s, sok := short.Add(c)
			l, lok := long.Add(c)
			if sok && math.Abs(s-computed.Short[layer][i]) > 1e-9 {
				t.Fatalf("layer %d bar %d: short EMA diverged", layer, i)
			}
			if lok && math.Abs(l-computed.Long[layer][i]) > 1e-9 {
				t.Fatalf("layer %d bar %d: long EMA diverged", layer, i)
			}
		}
	}

	again := engine.ComputeSeries(computed.Series)
	if engine.GetCloudStates(again) != engine.GetCloudStates(computed) {
		t.Error("recomputation produced different states")
	}
}
