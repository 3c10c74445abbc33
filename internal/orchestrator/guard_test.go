package orchestrator_test

import (
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/orchestrator"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
)

func guardSignal(symbol string, dir types.Direction, strategy string, ts time.Time) *types.TradeSignal {
	return &types.TradeSignal{Symbol: symbol, Direction: dir, Strategy: strategy, Timestamp: ts}
}

func TestSignalGuardWindow(t *testing.T) {
	g := orchestrator.NewSignalGuard(orchestrator.DefaultGuardConfig())
	now := sessionNow

	if _, _, ok := g.Check(guardSignal("AAPL", types.DirectionLong, "trend_day", now), now); !ok {
		t.Fatal("first signal rejected")
	}
	reason, _, ok := g.Check(guardSignal("AAPL", types.DirectionLong, "trend_day", now), now.Add(time.Minute))
	if ok || reason != orchestrator.ReasonDuplicateSignal {
		t.Fatalf("repeat inside window: ok=%v reason=%s", ok, reason)
	}

	// Other direction or strategy is a different key.
	if _, _, ok := g.Check(guardSignal("AAPL", types.DirectionShort, "trend_day", now), now.Add(time.Minute)); !ok {
		t.Error("short rejected as duplicate of long")
	}
	if _, _, ok := g.Check(guardSignal("AAPL", types.DirectionLong, "session_scalp", now), now.Add(time.Minute)); !ok {
		t.Error("other strategy rejected as duplicate")
	}

	later := now.Add(16 * time.Minute)
	if _, _, ok := g.Check(guardSignal("AAPL", types.DirectionLong, "trend_day", later), later); !ok {
		t.Error("repeat after the window rejected")
	}
}

func TestSignalGuardFreshness(t *testing.T) {
	g := orchestrator.NewSignalGuard(orchestrator.DefaultGuardConfig())
	now := sessionNow

	reason, msg, ok := g.Check(guardSignal("AAPL", types.DirectionLong, "trend_day", now.Add(-6*time.Minute)), now)
	if ok || reason != orchestrator.ReasonStaleSignal || msg == "" {
		t.Fatalf("stale signal: ok=%v reason=%s msg=%q", ok, reason, msg)
	}
	if g.Len() != 0 {
		t.Error("stale signals must not be remembered")
	}

	if _, _, ok := g.Check(guardSignal("AAPL", types.DirectionLong, "trend_day", time.Time{}), now); !ok {
		t.Error("signal without a timestamp rejected")
	}
}

func TestSignalGuardCapacity(t *testing.T) {
	cfg := orchestrator.DefaultGuardConfig()
	cfg.Capacity = 3
	g := orchestrator.NewSignalGuard(cfg)
	now := sessionNow

	for i, sym := range []string{"A", "B", "C", "D", "E"} {
		at := now.Add(time.Duration(i) * time.Second)
		if _, _, ok := g.Check(guardSignal(sym, types.DirectionLong, "s", at), at); !ok {
			t.Fatalf("%s rejected", sym)
		}
	}
	if g.Len() != 3 {
		t.Fatalf("len = %d, want 3", g.Len())
	}

	// A was evicted, so it is admitted again.
	at := now.Add(10 * time.Second)
	if _, _, ok := g.Check(guardSignal("A", types.DirectionLong, "s", at), at); !ok {
		t.Error("evicted key still remembered")
	}
	g.Reset()
	if g.Len() != 0 {
		t.Error("reset left entries")
	}
}

func TestKillSwitchState(t *testing.T) {
	var k orchestrator.KillSwitch
	if k.Active() {
		t.Fatal("zero switch is active")
	}
	if !k.Set("drawdown") || k.Set("again") {
		t.Fatal("Set should succeed once")
	}
	st := k.State()
	if !st.Active || st.Reason != "drawdown" || st.Since.IsZero() {
		t.Errorf("state = %+v", st)
	}
	if !k.Clear() || k.Clear() {
		t.Fatal("Clear should succeed once")
	}
	if k.State().Reason != "" {
		t.Error("reason kept after clear")
	}
}
