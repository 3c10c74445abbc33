package mtf_test

import (
	"context"
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/internal/mtf"
	"github.com/ghantakiran/axion-stock-sub004/internal/signals"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"go.uber.org/zap"
)

var start = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newEngine(t *testing.T, cfg mtf.Config) *mtf.Engine {
	t.Helper()
	ce, err := cloud.NewEngine(cloud.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	d, err := signals.NewDetector(ce, signals.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	return mtf.NewEngine(zap.NewNop(), d, cfg)
}

func rising(tf types.Timeframe) []types.Bar {
	return data.BarsFromCloses(start, tf, data.Linear(100, 0.5, 150), 1000)
}

func falling(tf types.Timeframe) []types.Bar {
	return data.BarsFromCloses(start, tf, data.Linear(200, -0.5, 150), 1000)
}

func TestAnalyzeCountsConfirmingTimeframes(t *testing.T) {
	engine := newEngine(t, mtf.DefaultConfig())
	bars := map[types.Timeframe][]types.Bar{
		types.Timeframe5m:  rising(types.Timeframe5m),
		types.Timeframe15m: rising(types.Timeframe15m),
		types.Timeframe1h:  falling(types.Timeframe1h),
	}

	c, err := engine.Analyze(context.Background(), "AAPL", bars)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if c.Direction != types.DirectionLong || c.Confirming != 2 || c.Total != 3 {
		t.Fatalf("Expected long 2/3, got %s %d/%d", c.Direction, c.Confirming, c.Total)
	}
	if got := c.Fraction(types.DirectionShort); got != 1.0/3.0 {
		t.Errorf("Expected short fraction 1/3, got %f", got)
	}
	if c.PerTimeframe[types.Timeframe1h].Direction != types.DirectionShort {
		t.Errorf("Expected 1h short, got %s", c.PerTimeframe[types.Timeframe1h].Direction)
	}

	last := bars[types.Timeframe5m][149]
	sig := engine.ConfluenceSignal(c, types.Timeframe5m, last)
	if sig == nil {
		t.Fatal("Expected mtf_confluence at threshold 2")
	}
	if sig.Kind != types.SignalMTFConfluence || sig.Direction != types.DirectionLong {
		t.Errorf("Unexpected signal %s %s", sig.Kind, sig.Direction)
	}
	if !sig.Price.Equal(last.Close) {
		t.Errorf("Expected price %s, got %s", last.Close, sig.Price)
	}
}

func TestAnalyzeMissingTimeframeHasNoDirection(t *testing.T) {
	engine := newEngine(t, mtf.Config{
		Timeframes: []types.Timeframe{types.Timeframe5m, types.Timeframe15m, types.Timeframe1h},
		Threshold:  3,
	})
	c, err := engine.Analyze(context.Background(), "MSFT", map[types.Timeframe][]types.Bar{
		types.Timeframe5m:  rising(types.Timeframe5m),
		types.Timeframe15m: rising(types.Timeframe15m)[:20],
	})
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if c.Confirming != 1 {
		t.Errorf("Only 5m has enough history, got %d confirming", c.Confirming)
	}
	if got := c.PerTimeframe[types.Timeframe1h].Direction; got != types.DirectionNone {
		t.Errorf("Expected no direction for missing 1h, got %q", got)
	}
	if sig := engine.ConfluenceSignal(c, types.Timeframe5m, rising(types.Timeframe5m)[149]); sig != nil {
		t.Error("Below threshold must not emit mtf_confluence")
	}
}

func TestAnalyzeHonorsCancellation(t *testing.T) {
	engine := newEngine(t, mtf.DefaultConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := engine.Analyze(ctx, "X", nil); err == nil {
		t.Fatal("Expected error from cancelled context")
	}
}

func TestSetTimeframes(t *testing.T) {
	engine := newEngine(t, mtf.DefaultConfig())
	engine.SetTimeframes([]types.Timeframe{types.Timeframe1m})
	c, err := engine.Analyze(context.Background(), "X", nil)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if c.Total != 1 {
		t.Errorf("Expected 1 configured timeframe, got %d", c.Total)
	}
}
