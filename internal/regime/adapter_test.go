package regime_test

import (
	"math"
	"testing"

	"github.com/ghantakiran/axion-stock-sub004/internal/regime"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"go.uber.org/zap"
)

func newAdapter() *regime.Adapter {
	return regime.NewAdapter(zap.NewNop(), regime.DefaultAdapterConfig())
}

func TestAdapter_DefaultsToSideways(t *testing.T) {
	a := newAdapter()

	cur := a.Current()
	if cur.Label != types.RegimeSideways || cur.Supplied {
		t.Fatalf("expected unsupplied sideways baseline, got %+v", cur)
	}

	adj := a.Adjustments()
	if adj.PositionSizeMultiplier != 1 || adj.StopLossMultiplier != 1 {
		t.Errorf("baseline should be neutral, got %+v", adj)
	}
	if adj.MinConviction != 0 || len(adj.DisabledStrategies) != 0 {
		t.Errorf("baseline should not restrict, got %+v", adj)
	}
}

func TestAdapter_UnknownLabelMapsToSideways(t *testing.T) {
	a := newAdapter()
	st := a.Update("melt_up", 0.9)
	if st.Label != types.RegimeSideways || !st.Supplied {
		t.Fatalf("expected supplied sideways, got %+v", st)
	}
}

func TestAdapter_HighConfidenceUsesTable(t *testing.T) {
	a := newAdapter()
	a.Update("crisis", 0.95)

	adj := a.Adjustments()
	if adj.PositionSizeMultiplier != 0.5 {
		t.Errorf("crisis size multiplier = %v, want 0.5", adj.PositionSizeMultiplier)
	}
	if adj.MinConviction != 75 {
		t.Errorf("crisis min conviction = %v, want 75", adj.MinConviction)
	}
	if !adj.Disables("session_scalp") || adj.Disables("trend_day") {
		t.Errorf("unexpected disabled set %v", adj.DisabledStrategies)
	}
}

func TestAdapter_LowConfidencePullsTowardNeutral(t *testing.T) {
	a := newAdapter()
	a.Update("crisis", 0.5)

	adj := a.Adjustments()
	// 1 + (0.5-1)*0.5
	if math.Abs(adj.PositionSizeMultiplier-0.75) > 1e-9 {
		t.Errorf("size multiplier = %v, want 0.75", adj.PositionSizeMultiplier)
	}
	if math.Abs(adj.StopLossMultiplier-0.9) > 1e-9 {
		t.Errorf("stop multiplier = %v, want 0.9", adj.StopLossMultiplier)
	}
	if adj.MinConviction != 75 {
		t.Errorf("min conviction should not scale, got %v", adj.MinConviction)
	}
}

func TestAdapter_Overrides(t *testing.T) {
	a := newAdapter()
	a.SetOverrides(map[types.RegimeLabel]types.RegimeOverride{
		types.RegimeBull: {PositionSizeMultiplier: 1.5, DisabledStrategies: []string{"bollinger_reversion"}},
	})
	a.Update("bull", 1)

	adj := a.Adjustments()
	if adj.PositionSizeMultiplier != 1.5 {
		t.Errorf("override not applied: %v", adj.PositionSizeMultiplier)
	}
	if adj.StopLossMultiplier != 1.0 {
		t.Errorf("zero override field should keep built-in, got %v", adj.StopLossMultiplier)
	}
	if !adj.Disables("bollinger_reversion") {
		t.Errorf("expected bollinger_reversion disabled")
	}
}

func TestAdapter_HistoryAndStats(t *testing.T) {
	a := newAdapter()
	a.Update("bull", 0.8)
	a.Update("bull", 0.9) // same label refreshes confidence only
	a.Update("bear", 0.8)
	a.Update("bull", 0.8)

	hist := a.History(0)
	if len(hist) != 2 {
		t.Fatalf("expected 2 past regimes, got %d", len(hist))
	}
	if hist[0].Label != types.RegimeBull || hist[0].Confidence != 0.9 {
		t.Errorf("unexpected first history entry %+v", hist[0])
	}

	stats := a.Stats()
	if stats.RegimeCounts[types.RegimeBull] != 2 || stats.RegimeCounts[types.RegimeBear] != 1 {
		t.Errorf("unexpected counts %v", stats.RegimeCounts)
	}
	if stats.CurrentRegime != types.RegimeBull {
		t.Errorf("current = %s", stats.CurrentRegime)
	}

	a.Reset()
	if a.Current().Supplied {
		t.Errorf("reset should restore the baseline")
	}
}
