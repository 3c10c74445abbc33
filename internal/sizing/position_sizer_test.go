package sizing_test

import (
	"errors"
	"testing"

	"github.com/ghantakiran/axion-stock-sub004/internal/sizing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestCalculateSize(t *testing.T) {
	tests := []struct {
		name     string
		entry    string
		stop     string
		regime   float64
		units    string
		limiting string
	}{
		// 100k * 1% = 1000 risk over 2 = 500 units, 50k notional > 20k cap
		{"capped by notional", "100", "98", 0, "200", "max_position"},
		// 1000 / 5 = 200 units at 50 = 10k notional
		{"risk based", "50", "45", 0, "200", "risk_per_trade"},
		// 1000 * 0.5 / 5 = 100
		{"regime halves risk", "50", "45", 0.5, "100", "risk_per_trade"},
		// 1000 / 3 = 333.33 floored
		{"floors to whole units", "30", "33", 0, "333", "risk_per_trade"},
	}

	ps := sizing.NewPositionSizer(zap.NewNop(), sizing.DefaultSizingConfig())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ps.CalculateSize(sizing.SizingRequest{
				Symbol:           "AAPL",
				Equity:           d("100000"),
				EntryPrice:       d(tt.entry),
				StopLoss:         d(tt.stop),
				RegimeMultiplier: tt.regime,
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !res.Units.Equal(d(tt.units)) {
				t.Errorf("units = %s, want %s", res.Units, tt.units)
			}
			if res.LimitingFactor != tt.limiting {
				t.Errorf("limiting factor = %s, want %s", res.LimitingFactor, tt.limiting)
			}
			if res.RiskAmount.GreaterThan(d("1000")) {
				t.Errorf("risk %s exceeds budget", res.RiskAmount)
			}
		})
	}
}

func TestCalculateSizeRejects(t *testing.T) {
	ps := sizing.NewPositionSizer(zap.NewNop(), sizing.DefaultSizingConfig())

	_, err := ps.CalculateSize(sizing.SizingRequest{Equity: d("100000"), EntryPrice: d("100"), StopLoss: d("100")})
	if !errors.Is(err, sizing.ErrInvalidSize) {
		t.Errorf("zero stop distance: expected ErrInvalidSize, got %v", err)
	}

	// 10 risk over a 50 stop distance rounds to zero units
	_, err = ps.CalculateSize(sizing.SizingRequest{Equity: d("1000"), EntryPrice: d("100"), StopLoss: d("50")})
	if !errors.Is(err, sizing.ErrInvalidSize) {
		t.Errorf("sub-unit size: expected ErrInvalidSize, got %v", err)
	}

	ps.SetMaxRiskPerTrade(0)
	_, err = ps.CalculateSize(sizing.SizingRequest{Equity: d("100000"), EntryPrice: d("100"), StopLoss: d("98")})
	if !errors.Is(err, sizing.ErrInvalidSize) {
		t.Errorf("zero risk budget: expected ErrInvalidSize, got %v", err)
	}
}

func TestTradeStatistics(t *testing.T) {
	ps := sizing.NewPositionSizer(zap.NewNop(), sizing.DefaultSizingConfig())
	ps.AddTradeResult(sizing.TradeResult{Symbol: "A", PnL: d("200"), RMultiple: 2})
	ps.AddTradeResult(sizing.TradeResult{Symbol: "B", PnL: d("-100"), RMultiple: -1})

	stats := ps.GetTradeStatistics()
	if stats.TotalTrades != 2 || stats.Wins != 1 || stats.Losses != 1 {
		t.Fatalf("unexpected counts %+v", stats)
	}
	if stats.ExpectancyR != 0.5 {
		t.Errorf("expectancy = %v, want 0.5", stats.ExpectancyR)
	}
	if !stats.TotalPnL.Equal(d("100")) {
		t.Errorf("total pnl = %s", stats.TotalPnL)
	}
}
