package performance_test

import (
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/exits"
	"github.com/ghantakiran/axion-stock-sub004/internal/performance"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var base = time.Date(2024, 3, 4, 15, 0, 0, 0, time.UTC)

// closed builds a closed long position entered at 100 with a stop at 98 on
// 10 shares, so 1R is 20.
func closed(id, symbol, strategy string, pnl string, kind types.ExitKind, minute int) exits.Position {
	return exits.Position{
		ID:              id,
		Symbol:          symbol,
		Strategy:        strategy,
		Direction:       types.DirectionLong,
		EntryPrice:      decimal.NewFromInt(100),
		InitialStop:     decimal.NewFromInt(98),
		InitialQuantity: decimal.NewFromInt(10),
		RealizedPnL:     decimal.RequireFromString(pnl),
		Status:          exits.StatusClosed,
		ExitKind:        kind,
		ClosedAt:        base.Add(time.Duration(minute) * time.Minute),
	}
}

func TestAnalyzeClosedPositions(t *testing.T) {
	a := performance.NewAnalyzer(zap.NewNop(), decimal.NewFromInt(1000))

	positions := []exits.Position{
		closed("p3", "AAPL", "pullback_to_cloud", "-20", types.ExitStopLoss, 30),
		closed("p1", "AAPL", "pullback_to_cloud", "40", types.ExitTarget, 10),
		closed("p2", "MSFT", "trend_day", "20", types.ExitTarget, 20),
		closed("p4", "MSFT", "trend_day", "-20", types.ExitStopLoss, 40),
		{ID: "open", Symbol: "NVDA", Status: exits.StatusOpen},
	}

	r := a.Analyze(positions)
	if r.TotalTrades != 4 || r.Wins != 2 || r.Losses != 2 {
		t.Fatalf("trades/wins/losses = %d/%d/%d", r.TotalTrades, r.Wins, r.Losses)
	}
	if !r.TotalPnL.Equal(decimal.NewFromInt(20)) {
		t.Errorf("total pnl = %s, want 20", r.TotalPnL)
	}
	if !r.WinRate.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("win rate = %s", r.WinRate)
	}
	if !r.ProfitFactor.Equal(decimal.RequireFromString("1.5")) {
		t.Errorf("profit factor = %s, want 1.5", r.ProfitFactor)
	}
	// R values are 2, 1, -1, -1 in close order.
	if !r.AverageR.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("average R = %s, want 0.25", r.AverageR)
	}
	if r.BestTrade == nil || r.BestTrade.PositionID != "p1" {
		t.Errorf("best trade = %+v", r.BestTrade)
	}

	if b := r.ByStrategy["pullback_to_cloud"]; b == nil || b.Trades != 2 || !b.TotalR.Equal(decimal.NewFromInt(1)) {
		t.Errorf("pullback bucket = %+v", b)
	}
	if b := r.ByExit[string(types.ExitStopLoss)]; b == nil || b.Trades != 2 || b.Wins != 0 {
		t.Errorf("stop loss bucket = %+v", b)
	}
	if _, ok := r.BySymbol["NVDA"]; ok {
		t.Error("open position counted")
	}

	// Equity 1000 -> 1040 -> 1060 -> 1040 -> 1020: deepest fall 40/1060.
	want := decimal.NewFromInt(40).Div(decimal.NewFromInt(1060))
	if !r.MaxDrawdown.Equal(want) {
		t.Errorf("max drawdown = %s, want %s", r.MaxDrawdown, want)
	}
	if r.Streaks.LongestWinning != 2 || r.Streaks.LongestLosing != 2 || r.Streaks.Current != -2 {
		t.Errorf("streaks = %+v", r.Streaks)
	}
}

func TestAnalyzeEmpty(t *testing.T) {
	r := performance.NewAnalyzer(zap.NewNop(), decimal.Zero).Analyze(nil)
	if r.TotalTrades != 0 || !r.TotalPnL.IsZero() || r.BestTrade != nil {
		t.Errorf("empty report = %+v", r)
	}
}
