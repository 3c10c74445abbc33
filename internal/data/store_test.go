// Package data_test provides tests for the bar store.
package data_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"go.uber.org/zap"
)

func TestStoreAppendAndWindow(t *testing.T) {
	store := data.NewStore(zap.NewNop(), 3)
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	bars := data.BarsFromCloses(start, types.Timeframe5m, []float64{100, 101, 102, 103}, 1000)

	for _, bar := range bars {
		if err := store.Append("AAPL", types.Timeframe5m, bar); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	window := store.Window("AAPL", types.Timeframe5m)
	if len(window) != 3 {
		t.Fatalf("Expected window of 3, got %d", len(window))
	}
	if !window[0].Close.Equal(bars[1].Close) {
		t.Errorf("Expected oldest retained close %s, got %s", bars[1].Close, window[0].Close)
	}
}

func TestStoreRejectsOutOfOrderBars(t *testing.T) {
	store := data.NewStore(zap.NewNop(), 10)
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	bars := data.BarsFromCloses(start, types.Timeframe1m, []float64{100, 101}, 1000)

	if err := store.Append("MSFT", types.Timeframe1m, bars[1]); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	err := store.Append("MSFT", types.Timeframe1m, bars[0])
	if !errors.Is(err, data.ErrOutOfOrder) {
		t.Fatalf("Expected ErrOutOfOrder, got %v", err)
	}
	if got := len(store.Window("MSFT", types.Timeframe1m)); got != 1 {
		t.Errorf("Expected 1 bar retained, got %d", got)
	}
}

func TestStoreWindowsAndSymbols(t *testing.T) {
	store := data.NewStore(zap.NewNop(), 10)
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	store.Load("SPY", types.Timeframe5m, data.BarsFromCloses(start, types.Timeframe5m, []float64{1, 2}, 10))
	store.Load("SPY", types.Timeframe1h, data.BarsFromCloses(start, types.Timeframe1h, []float64{1}, 10))
	store.Load("QQQ", types.Timeframe5m, data.BarsFromCloses(start, types.Timeframe5m, []float64{1}, 10))

	windows := store.Windows("SPY", []types.Timeframe{types.Timeframe5m, types.Timeframe15m, types.Timeframe1h})
	if len(windows) != 2 {
		t.Fatalf("Expected 2 populated timeframes, got %d", len(windows))
	}
	if _, ok := windows[types.Timeframe15m]; ok {
		t.Error("Empty timeframe should be omitted")
	}

	symbols := store.Symbols()
	if len(symbols) != 2 || symbols[0] != "QQQ" || symbols[1] != "SPY" {
		t.Errorf("Unexpected symbols %v", symbols)
	}
}

func TestGeneratorIsDeterministic(t *testing.T) {
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	a := data.NewGenerator(42, start, types.Timeframe5m, 100, 0.0002, 0.004).Bars(50)
	b := data.NewGenerator(42, start, types.Timeframe5m, 100, 0.0002, 0.004).Bars(50)

	for i := range a {
		if !a[i].Close.Equal(b[i].Close) {
			t.Fatalf("Bar %d differs: %s vs %s", i, a[i].Close, b[i].Close)
		}
		if a[i].High.LessThan(a[i].Low) {
			t.Fatalf("Bar %d has high below low", i)
		}
	}
	if !a[1].Timestamp.Equal(start.Add(5 * time.Minute)) {
		t.Errorf("Unexpected spacing: %v", a[1].Timestamp)
	}
}

func TestStoreRejectsInvalidBars(t *testing.T) {
	store := data.NewStore(zap.NewNop(), 10)
	ts := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		bar  types.Bar
	}{
		{"high below close", data.NewBar(ts, 100, 99, 98, 100.5, 1000)},
		{"low above open", data.NewBar(ts, 100, 101, 100.2, 100.5, 1000)},
		{"zero price", data.NewBar(ts, 0, 101, 99, 100, 1000)},
		{"negative volume", data.NewBar(ts, 100, 101, 99, 100, -5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := store.Append("AAPL", types.Timeframe5m, tt.bar)
			if !errors.Is(err, data.ErrInvalidBar) {
				t.Fatalf("Expected ErrInvalidBar, got %v", err)
			}
		})
	}
	if got := len(store.Window("AAPL", types.Timeframe5m)); got != 0 {
		t.Errorf("Expected no bars stored, got %d", got)
	}
}

func TestStoreLoadDropsCriticalBars(t *testing.T) {
	store := data.NewStore(zap.NewNop(), 10)
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	bars := data.BarsFromCloses(start, types.Timeframe5m, []float64{100, 101, 102}, 1000)
	bars[1].High, bars[1].Low = bars[1].Low, bars[1].High

	report := store.Load("AAPL", types.Timeframe5m, bars)
	if report.Usable() || report.Critical != 1 {
		t.Errorf("Expected one critical issue, got %+v", report.Issues)
	}
	window := store.Window("AAPL", types.Timeframe5m)
	if len(window) != 2 {
		t.Fatalf("Expected 2 bars kept, got %d", len(window))
	}
	if !window[1].Close.Equal(bars[2].Close) {
		t.Errorf("Expected last close %s, got %s", bars[2].Close, window[1].Close)
	}
}

func TestValidatorFlagsGapsAndDuplicates(t *testing.T) {
	v := data.NewValidator(data.DefaultQualityConfig())
	start := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	bars := data.BarsFromCloses(start, types.Timeframe5m, []float64{100, 101, 102}, 1000)
	bars[2] = data.NewBar(bars[2].Timestamp, 130, 131, 129, 130.5, 1000) // 28% gap
	bars = append(bars, data.NewBar(bars[2].Timestamp, 130.5, 131, 130, 130.8, 1000))

	report := v.Validate("AAPL", types.Timeframe5m, bars)
	if !report.Usable() {
		t.Fatalf("Gaps and duplicates are not critical: %+v", report.Issues)
	}
	kinds := map[string]int{}
	for _, is := range report.Issues {
		kinds[is.Type]++
	}
	if kinds[data.IssueGapMove] != 1 || kinds[data.IssueDuplicate] != 1 {
		t.Errorf("Unexpected issues: %v", kinds)
	}
	if report.QualityScore >= 100 {
		t.Errorf("Expected a penalized score, got %d", report.QualityScore)
	}
}
