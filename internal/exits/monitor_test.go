package exits_test

import (
	"errors"
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/internal/exits"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 10:00 New York.
var openedAt = time.Date(2024, 3, 5, 15, 0, 0, 0, time.UTC)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newMonitor(t *testing.T) *exits.Monitor {
	t.Helper()
	engine, err := cloud.NewEngine(cloud.DefaultConfig())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	cfg := exits.DefaultMonitorConfig()
	cfg.EODLocation = time.FixedZone("EST", -5*60*60)
	return exits.NewMonitor(zap.NewNop(), engine, cfg)
}

func openPosition(t *testing.T, tf types.Timeframe, entry, stop, qty string) *exits.Position {
	t.Helper()
	sig := &types.TradeSignal{
		ID:        "sig_test",
		Symbol:    "AAPL",
		Timeframe: tf,
		Direction: types.DirectionLong,
		Price:     d(entry),
		Strategy:  "ema_cloud",
	}
	p, err := exits.NewPosition(sig, d(qty), d(stop))
	if err != nil {
		t.Fatalf("new position: %v", err)
	}
	if err := p.Open(d(entry), d(qty), openedAt); err != nil {
		t.Fatalf("open: %v", err)
	}
	return p
}

func kindOf(sig *exits.ExitSignal) types.ExitKind {
	if sig == nil {
		return ""
	}
	return sig.Kind
}

func TestBreakevenScaleOutThenStop(t *testing.T) {
	m := newMonitor(t)
	p := openPosition(t, types.Timeframe5m, "100", "98", "10")
	var states [cloud.NumLayers]cloud.State
	now := openedAt.Add(10 * time.Minute)

	sig := m.CheckAll(p, d("102"), states, nil, now)
	if kindOf(sig) != types.ExitTrailToBreakeven {
		t.Fatalf("at 1R expected trail_to_breakeven, got %q", kindOf(sig))
	}
	if !sig.NewStop.Equal(d("100.1")) {
		t.Fatalf("breakeven stop = %s, want 100.1", sig.NewStop)
	}
	if err := m.Apply(p, sig, d("102")); err != nil {
		t.Fatalf("apply breakeven: %v", err)
	}
	if !p.StopLoss.Equal(d("100.1")) {
		t.Fatalf("stop = %s, want 100.1", p.StopLoss)
	}

	sig = m.CheckAll(p, d("102"), states, nil, now)
	if kindOf(sig) != types.ExitScaleOut {
		t.Fatalf("expected scale_out next, got %q", kindOf(sig))
	}
	if !sig.Quantity.Equal(d("5")) {
		t.Fatalf("scale out quantity = %s, want 5", sig.Quantity)
	}
	if err := m.Apply(p, sig, d("102")); err != nil {
		t.Fatalf("apply scale out: %v", err)
	}
	if p.Status != exits.StatusPartiallyClosed || !p.Quantity.Equal(d("5")) {
		t.Fatalf("after scale out: status %s qty %s", p.Status, p.Quantity)
	}
	if !p.RealizedPnL.Equal(d("10")) {
		t.Errorf("realized = %s, want 10", p.RealizedPnL)
	}

	for _, px := range []string{"102", "103", "101.5"} {
		if sig := m.CheckAll(p, d(px), states, nil, now); sig != nil {
			t.Fatalf("at %s expected no exit, got %q", px, sig.Kind)
		}
	}

	sig = m.CheckAll(p, d("99"), states, nil, now)
	if kindOf(sig) != types.ExitStopLoss {
		t.Fatalf("at 99 expected stop_loss, got %q", kindOf(sig))
	}
	if err := m.Apply(p, sig, d("100.1")); err != nil {
		t.Fatalf("apply stop: %v", err)
	}
	if p.Status != exits.StatusClosed || p.ExitKind != types.ExitStopLoss {
		t.Fatalf("expected closed by stop_loss, got %s/%s", p.Status, p.ExitKind)
	}
	// 10 from the scale-out plus 5 * 0.1
	if !p.RealizedPnL.Equal(d("10.5")) {
		t.Errorf("realized = %s, want 10.5", p.RealizedPnL)
	}
}

func TestOneShotsNeverRefire(t *testing.T) {
	m := newMonitor(t)
	p := openPosition(t, types.Timeframe5m, "100", "98", "10")
	var states [cloud.NumLayers]cloud.State
	now := openedAt.Add(5 * time.Minute)

	counts := map[types.ExitKind]int{}
	for _, px := range []string{"102", "102.5", "101", "103", "102", "103.5"} {
		sig := m.CheckAll(p, d(px), states, nil, now)
		if sig == nil {
			continue
		}
		counts[sig.Kind]++
		if err := m.Apply(p, sig, d(px)); err != nil {
			t.Fatalf("apply %s: %v", sig.Kind, err)
		}
	}
	if counts[types.ExitTrailToBreakeven] != 1 || counts[types.ExitScaleOut] != 1 {
		t.Fatalf("one-shots fired %v", counts)
	}

	err := p.TrailToBreakeven(d("0.001"))
	if !errors.Is(err, exits.ErrOneShotRefired) {
		t.Fatalf("expected ErrOneShotRefired, got %v", err)
	}
}

func TestPriorityOrder(t *testing.T) {
	m := newMonitor(t)
	var states [cloud.NumLayers]cloud.State
	pastCutoff := time.Date(2024, 3, 5, 20, 55, 0, 0, time.UTC) // 15:55 New York

	p := openPosition(t, types.Timeframe5m, "100", "98", "10")
	if got := kindOf(m.CheckAll(p, d("97"), states, nil, pastCutoff)); got != types.ExitStopLoss {
		t.Errorf("stop and eod together: got %q, want stop_loss", got)
	}
	if got := kindOf(m.CheckAll(p, d("104"), states, nil, pastCutoff)); got != types.ExitTarget {
		t.Errorf("target and eod together: got %q, want target", got)
	}
	if got := kindOf(m.CheckAll(p, d("101"), states, nil, pastCutoff)); got != types.ExitEOD {
		t.Errorf("eod alone: got %q", got)
	}
}

func TestExhaustion(t *testing.T) {
	m := newMonitor(t)
	p := openPosition(t, types.Timeframe5m, "100", "95", "10")
	var states [cloud.NumLayers]cloud.State

	closes := make([]float64, 0, 33)
	for i := 0; i < 30; i++ {
		closes = append(closes, 100)
	}
	closes = append(closes, 97, 96.5, 96)
	bars := data.BarsFromCloses(openedAt, types.Timeframe5m, closes, 1000)

	sig := m.CheckAll(p, d("96"), states, bars, openedAt.Add(15*time.Minute))
	if kindOf(sig) != types.ExitExhaustion {
		t.Fatalf("expected exhaustion, got %q", kindOf(sig))
	}

	// Two bars outside is not enough.
	sig = m.CheckAll(p, d("96.5"), states, bars[:32], openedAt.Add(10*time.Minute))
	if sig != nil {
		t.Fatalf("expected nothing after two bars, got %q", sig.Kind)
	}
}

func TestCheckCandidate(t *testing.T) {
	m := newMonitor(t)
	p := openPosition(t, types.Timeframe5m, "100", "95", "10")
	now := openedAt.Add(15 * time.Minute)
	cand := func(extended types.Direction, tf types.Timeframe) *types.TradeSignal {
		return &types.TradeSignal{
			ID:        "sig_exh",
			Kind:      types.SignalMomentumExhaustion,
			Symbol:    "AAPL",
			Timeframe: tf,
			Direction: types.DirectionExit,
			Metadata:  map[string]any{"extended": string(extended), "bars": 3},
		}
	}

	sig := m.CheckCandidate(p, cand(types.DirectionShort, types.Timeframe5m), d("97"), now)
	if kindOf(sig) != types.ExitExhaustion {
		t.Fatalf("expected exhaustion, got %q", kindOf(sig))
	}
	if !sig.Quantity.Equal(d("10")) || !sig.Timestamp.Equal(now) {
		t.Errorf("exit = %+v", sig)
	}

	if sig := m.CheckCandidate(p, cand(types.DirectionLong, types.Timeframe5m), d("103"), now); sig != nil {
		t.Errorf("extension with the position fired %q", sig.Kind)
	}
	if sig := m.CheckCandidate(p, cand(types.DirectionShort, types.Timeframe1h), d("97"), now); sig != nil {
		t.Errorf("candidate from another timeframe fired %q", sig.Kind)
	}

	other := cand(types.DirectionShort, types.Timeframe5m)
	other.Kind = types.SignalCloudFlipShort
	if sig := m.CheckCandidate(p, other, d("97"), now); sig != nil {
		t.Errorf("non-exhaustion candidate fired %q", sig.Kind)
	}
}

func TestCloudFlipTimeStopAndTrailing(t *testing.T) {
	m := newMonitor(t)

	var flipped [cloud.NumLayers]cloud.State
	flipped[cloud.LayerFast] = cloud.State{Layer: cloud.LayerFast, Defined: true, ShortEMA: 100, LongEMA: 100.4}

	p := openPosition(t, types.Timeframe5m, "100", "98", "10")
	if got := kindOf(m.CheckAll(p, d("100.5"), flipped, nil, openedAt.Add(time.Minute))); got != "" {
		t.Errorf("flip without entry alignment should not fire, got %q", got)
	}
	p.FastCloudAligned = true
	if got := kindOf(m.CheckAll(p, d("100.5"), flipped, nil, openedAt.Add(time.Minute))); got != types.ExitCloudFlip {
		t.Errorf("expected cloud_flip, got %q", got)
	}

	var quiet [cloud.NumLayers]cloud.State
	if got := kindOf(m.CheckAll(p, d("100.2"), quiet, nil, openedAt.Add(121*time.Minute))); got != types.ExitTimeStop {
		t.Errorf("expected time_stop, got %q", got)
	}
	if got := kindOf(m.CheckAll(p, d("100.8"), quiet, nil, openedAt.Add(121*time.Minute))); got != "" {
		t.Errorf("progress outside the band should hold, got %q", got)
	}

	swing := openPosition(t, types.Timeframe1h, "100", "98", "10")
	var pull [cloud.NumLayers]cloud.State
	pull[cloud.LayerPullback] = cloud.State{Layer: cloud.LayerPullback, Defined: true, ShortEMA: 101, LongEMA: 100.5, Bullish: true}
	if got := kindOf(m.CheckAll(swing, d("100.2"), pull, nil, openedAt.Add(3*time.Hour))); got != types.ExitTrailing {
		t.Errorf("expected trailing, got %q", got)
	}
}

func TestFrozenPositionsAreSkipped(t *testing.T) {
	m := newMonitor(t)
	p := openPosition(t, types.Timeframe5m, "100", "98", "10")
	var states [cloud.NumLayers]cloud.State

	if err := p.Freeze("scale_out refired"); err != nil {
		t.Fatalf("freeze: %v", err)
	}
	if sig := m.CheckAll(p, d("90"), states, nil, openedAt); sig != nil {
		t.Fatalf("frozen position produced %q", sig.Kind)
	}
	if err := p.Unfreeze(); err != nil {
		t.Fatalf("unfreeze: %v", err)
	}
	if p.Status != exits.StatusOpen {
		t.Fatalf("unfreeze restored %s, want open", p.Status)
	}

	em := m.Emergency(p, d("99"), "operator", openedAt)
	if em.Kind.Priority() != 0 || !em.Quantity.Equal(d("10")) {
		t.Fatalf("unexpected emergency signal %+v", em)
	}
}

func TestTransitions(t *testing.T) {
	p := openPosition(t, types.Timeframe5m, "100", "98", "10")

	if err := p.MoveStop(d("97")); !errors.Is(err, exits.ErrStopLoosened) {
		t.Errorf("loosening stop: expected ErrStopLoosened, got %v", err)
	}
	if err := p.MoveStop(d("99")); err != nil {
		t.Errorf("tightening stop: %v", err)
	}
	if err := p.Close(d("101"), types.ExitTarget, openedAt); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := p.Open(d("100"), d("1"), openedAt); !errors.Is(err, exits.ErrInvalidTransition) {
		t.Errorf("reopen closed: expected ErrInvalidTransition, got %v", err)
	}
	if err := p.Freeze("late"); !errors.Is(err, exits.ErrInvalidTransition) {
		t.Errorf("freeze closed: expected ErrInvalidTransition, got %v", err)
	}
	if exits.CanTransition(exits.StatusPartiallyClosed, exits.StatusOpen) {
		t.Errorf("partially closed must not reopen")
	}
}
