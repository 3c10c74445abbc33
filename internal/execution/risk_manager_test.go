package execution_test

import (
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/execution"
	"github.com/ghantakiran/axion-stock-sub004/internal/regime"
	"go.uber.org/zap"
)

var tradingDay = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

func TestRiskCheckEntry(t *testing.T) {
	rm := execution.NewRiskManager(zap.NewNop(), execution.DefaultRiskConfig())

	adapter := regime.NewAdapter(zap.NewNop(), regime.DefaultAdapterConfig())
	adapter.Update("crisis", 1.0)
	crisis := adapter.Adjustments()

	tests := []struct {
		name     string
		req      execution.RiskRequest
		approved bool
		rule     string
	}{
		{"approved", execution.RiskRequest{Strategy: "pullback", Conviction: 60, OpenPositions: 1}, true, ""},
		{"below floor", execution.RiskRequest{Strategy: "pullback", Conviction: 40}, false, execution.RuleMinConviction},
		{"max positions", execution.RiskRequest{Strategy: "pullback", Conviction: 80, OpenPositions: 5}, false, execution.RuleMaxPositions},
		{"regime raises floor", execution.RiskRequest{Strategy: "pullback", Conviction: 60, Regime: crisis}, false, execution.RuleMinConviction},
		{"regime disables strategy", execution.RiskRequest{Strategy: "session_scalp", Conviction: 90, Regime: crisis}, false, execution.RuleStrategyDisabled},
		{"crisis high conviction", execution.RiskRequest{Strategy: "pullback", Conviction: 80, Regime: crisis}, true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.Symbol = "AAPL"
			tt.req.At = tradingDay
			res := rm.CheckEntry(tt.req)
			if res.Approved != tt.approved {
				t.Fatalf("approved = %v, want %v (%+v)", res.Approved, tt.approved, res.Violations)
			}
			if v, ok := res.First(); ok && v.Rule != tt.rule {
				t.Errorf("rule = %s, want %s", v.Rule, tt.rule)
			}
		})
	}

	if len(rm.GetViolations(0)) != 4 {
		t.Errorf("violations = %d, want 4", len(rm.GetViolations(0)))
	}
}

func TestDailyLossWarningAndLimit(t *testing.T) {
	rm := execution.NewRiskManager(zap.NewNop(), execution.DefaultRiskConfig())
	rec := func(pnl string) *execution.LossWarning {
		return rm.RecordTrade(execution.TradeRecord{Symbol: "AAPL", PnL: d(pnl), At: tradingDay})
	}

	if w := rec("-500"); w != nil {
		t.Fatalf("warning at 50%%: %+v", w)
	}
	w := rec("-300")
	if w == nil {
		t.Fatal("expected warning at 80% of the daily limit")
	}
	if !w.DailyPnL.Equal(d("-800")) {
		t.Errorf("daily pnl = %s", w.DailyPnL)
	}
	if rec("-100") != nil {
		t.Error("warning must fire once per day")
	}
	rec("-100")

	req := execution.RiskRequest{Symbol: "AAPL", Strategy: "pullback", Conviction: 90, At: tradingDay}
	res := rm.CheckEntry(req)
	if v, ok := res.First(); res.Approved || !ok || v.Rule != execution.RuleMaxDailyLoss {
		t.Fatalf("expected daily loss block, got %+v", res)
	}

	req.At = tradingDay.Add(24 * time.Hour)
	if res := rm.CheckEntry(req); !res.Approved {
		t.Errorf("new day should clear daily loss: %+v", res.Violations)
	}
	if rm.GetStats().ConsecutiveLosses != 4 {
		t.Errorf("consecutive losses = %d, want 4", rm.GetStats().ConsecutiveLosses)
	}
}

func TestUpdateLimits(t *testing.T) {
	rm := execution.NewRiskManager(zap.NewNop(), execution.DefaultRiskConfig())
	rm.UpdateLimits(1, 70)

	res := rm.CheckEntry(execution.RiskRequest{Symbol: "AAPL", Strategy: "x", Conviction: 72, OpenPositions: 1, At: tradingDay})
	if v, ok := res.First(); !ok || v.Rule != execution.RuleMaxPositions {
		t.Errorf("expected max positions, got %+v", res)
	}
	if res.MinConviction != 70 {
		t.Errorf("floor = %v, want 70", res.MinConviction)
	}
}
