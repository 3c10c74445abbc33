package strategy_test

import (
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/cloud"
	"github.com/ghantakiran/axion-stock-sub004/internal/conviction"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/internal/signals"
	"github.com/ghantakiran/axion-stock-sub004/internal/strategy"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"go.uber.org/zap"
)

var start = time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)

func newCloudEngine(t *testing.T) *cloud.Engine {
	t.Helper()
	engine, err := cloud.NewEngine(cloud.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

type fakeStrategy struct {
	name   string
	family strategy.Family
	signal *types.TradeSignal
	panics bool
	calls  int
}

func (f *fakeStrategy) Name() string                                       { return f.name }
func (f *fakeStrategy) Description() string                                { return "fake" }
func (f *fakeStrategy) Family() strategy.Family                            { return f.family }
func (f *fakeStrategy) Parameters() map[string]strategy.StrategyParameter { return nil }
func (f *fakeStrategy) Analyze(symbol string, tf types.Timeframe, bars []types.Bar) (*types.TradeSignal, error) {
	f.calls++
	if f.panics {
		panic("boom")
	}
	return f.signal, nil
}

func TestRegistryRegisterIsIdempotent(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	first := &fakeStrategy{name: "a", family: strategy.FamilyTrend}
	if !r.Register(first) {
		t.Fatal("First registration should succeed")
	}
	if r.Register(&fakeStrategy{name: "a", family: strategy.FamilyMeanReversion}) {
		t.Error("Duplicate name should be ignored")
	}
	got, ok := r.Get("a")
	if !ok || got != first {
		t.Error("Registry should keep the first strategy")
	}
	if names := r.List(); len(names) != 1 {
		t.Errorf("Expected one strategy, got %v", names)
	}
}

func TestRegistryAnalyzeAllCollectsNonNil(t *testing.T) {
	r := strategy.NewRegistry(zap.NewNop())
	hit := &fakeStrategy{name: "hit", family: strategy.FamilyTrend, signal: &types.TradeSignal{ID: "x"}}
	miss := &fakeStrategy{name: "miss", family: strategy.FamilyTrend}
	bad := &fakeStrategy{name: "bad", family: strategy.FamilyMeanReversion, panics: true}
	r.Register(hit)
	r.Register(miss)
	r.Register(bad)

	sigs := r.AnalyzeAll("AAPL", types.Timeframe5m, nil)
	if len(sigs) != 1 || sigs[0].ID != "x" {
		t.Fatalf("Expected one signal, got %v", sigs)
	}
	if hit.calls != 1 || miss.calls != 1 || bad.calls != 1 {
		t.Error("Every strategy should be consulted once")
	}

	r.AnalyzeFamily(strategy.FamilyMeanReversion, "AAPL", types.Timeframe5m, nil)
	if hit.calls != 1 || bad.calls != 2 {
		t.Error("AnalyzeFamily should only run the requested family")
	}
}

func TestSelectorRoutesByADX(t *testing.T) {
	sel := strategy.NewSelector(strategy.DefaultSelectorConfig())

	trending := data.BarsFromCloses(start, types.Timeframe5m, data.Linear(100, 1, 60), 1000)
	if got := sel.Select(trending); got.Family != strategy.FamilyTrend || !got.Defined {
		t.Errorf("Expected trend family, got %+v", got)
	}

	// Highs and lows alternate so +DM and -DM cancel out.
	var choppy []types.Bar
	for i := 0; i < 60; i++ {
		ts := start.Add(time.Duration(i) * 5 * time.Minute)
		if i%2 == 0 {
			choppy = append(choppy, data.NewBar(ts, 100.5, 101, 99, 99.5, 1000))
		} else {
			choppy = append(choppy, data.NewBar(ts, 100, 101.5, 99.5, 101, 1000))
		}
	}
	if got := sel.Select(choppy); got.Family != strategy.FamilyMeanReversion {
		t.Errorf("Expected mean reversion family, got %+v", got)
	}

	if got := sel.Select(trending[:10]); got.Defined || got.Family != strategy.FamilyTrend {
		t.Errorf("Short history should fall back to trend, got %+v", got)
	}

	r := strategy.NewRegistry(zap.NewNop())
	trend := &fakeStrategy{name: "t", family: strategy.FamilyTrend}
	mr := &fakeStrategy{name: "m", family: strategy.FamilyMeanReversion}
	r.Register(trend)
	r.Register(mr)
	selection, _ := sel.Dispatch(r, "X", types.Timeframe5m, choppy, nil)
	if selection.Family != strategy.FamilyMeanReversion || trend.calls != 0 || mr.calls != 1 {
		t.Errorf("Dispatch ran the wrong family: %+v trend=%d mr=%d", selection, trend.calls, mr.calls)
	}
}

func pullbackBars(bounceVolume float64) []types.Bar {
	bars := data.BarsFromCloses(start, types.Timeframe5m, data.Linear(100, 0.5, 150), 1000)
	bars = append(bars,
		data.NewBar(start.Add(150*5*time.Minute), 174.5, 174.6, 172.5, 173.2, 1000),
		data.NewBar(start.Add(151*5*time.Minute), 173.2, 175.7, 173.0, 175.5, bounceVolume),
	)
	return bars
}

func TestPullbackToCloud(t *testing.T) {
	s := strategy.NewPullbackStrategy(zap.NewNop(), newCloudEngine(t), strategy.DefaultPullbackConfig())

	sig, err := s.Analyze("AAPL", types.Timeframe5m, pullbackBars(2000))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected a pullback entry")
	}
	if sig.Kind != types.SignalCloudBounceLong || sig.Direction != types.DirectionLong {
		t.Errorf("Unexpected signal %s %s", sig.Kind, sig.Direction)
	}
	if !sig.StopLoss.LessThan(sig.Price) {
		t.Errorf("Stop %s should be below entry %s", sig.StopLoss, sig.Price)
	}
	risk := sig.Price.Sub(sig.StopLoss)
	if !sig.TakeProfit.Equal(sig.Price.Add(risk.Add(risk))) {
		t.Errorf("Expected 2R target, got %s", sig.TakeProfit)
	}
	if sig.Strategy != "pullback_to_cloud" {
		t.Errorf("Unexpected strategy %q", sig.Strategy)
	}
}

func TestPullbackNeedsVolumeAndTrend(t *testing.T) {
	s := strategy.NewPullbackStrategy(zap.NewNop(), newCloudEngine(t), strategy.DefaultPullbackConfig())

	if sig, _ := s.Analyze("AAPL", types.Timeframe5m, pullbackBars(1000)); sig != nil {
		t.Error("Bounce on average volume should not qualify")
	}

	closes := make([]float64, 150)
	for i := range closes {
		closes[i] = 100
	}
	flat := data.BarsFromCloses(start, types.Timeframe5m, closes, 1000)
	if sig, _ := s.Analyze("AAPL", types.Timeframe5m, flat); sig != nil {
		t.Error("No trend, no pullback entry")
	}
}

func utcSession() strategy.Session {
	return strategy.Session{Location: time.UTC, OpenHour: 9, OpenMinute: 30}
}

// trendDayBars rises overnight, builds a quiet 09:30-10:00 range and breaks
// out at 10:00 on heavy volume.
func trendDayBars(breakoutVolume float64) []types.Bar {
	day := time.Date(2024, 3, 5, 1, 30, 0, 0, time.UTC)
	closes := append(data.Linear(100, 0.05, 96), 104.8, 104.85, 104.9, 104.85, 104.9, 104.95)
	bars := data.BarsFromCloses(day, types.Timeframe5m, closes, 1000)
	return append(bars, data.NewBar(time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC), 104.95, 106.5, 104.8, 106.3, breakoutVolume))
}

func TestTrendDayBreakout(t *testing.T) {
	cfg := strategy.DefaultTrendDayConfig()
	cfg.Session = utcSession()
	s := strategy.NewTrendDayStrategy(zap.NewNop(), newCloudEngine(t), conviction.NewScorer(conviction.DefaultConfig()), cfg)

	bars := trendDayBars(3000)
	sig, err := s.Analyze("NVDA", types.Timeframe5m, bars)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected a trend-day breakout")
	}
	if sig.Direction != types.DirectionLong || sig.Kind != types.SignalTrendAlignedLong {
		t.Errorf("Unexpected signal %s %s", sig.Kind, sig.Direction)
	}
	orLow := bars[96].Low
	for _, b := range bars[96:102] {
		if b.Low.LessThan(orLow) {
			orLow = b.Low
		}
	}
	if !sig.StopLoss.Equal(orLow) {
		t.Errorf("Expected stop at opening range low %s, got %s", orLow, sig.StopLoss)
	}
	if floor, _ := sig.Metadata[conviction.MetaFloor].(float64); floor != 80 {
		t.Errorf("Trend-day signals must demand conviction >= 80, got floor %v", sig.Metadata[conviction.MetaFloor])
	}
	local, _ := sig.Metadata["local_conviction"].(float64)
	if local <= 0 || local > 60 {
		t.Errorf("Local conviction without MTF or factor inputs should be in (0, 60], got %f", local)
	}
}

func TestTrendDayRejects(t *testing.T) {
	cfg := strategy.DefaultTrendDayConfig()
	cfg.Session = utcSession()
	s := strategy.NewTrendDayStrategy(zap.NewNop(), newCloudEngine(t), conviction.NewScorer(conviction.DefaultConfig()), cfg)

	if sig, _ := s.Analyze("NVDA", types.Timeframe5m, trendDayBars(1000)); sig != nil {
		t.Error("Breakout without a volume surge should not qualify")
	}
	if sig, _ := s.Analyze("NVDA", types.Timeframe1d, trendDayBars(3000)); sig != nil {
		t.Error("Daily bars are not intraday")
	}
	bars := trendDayBars(3000)
	if sig, _ := s.Analyze("NVDA", types.Timeframe5m, bars[:100]); sig != nil {
		t.Error("Incomplete opening range should not qualify")
	}
}

func TestScalpWindows(t *testing.T) {
	cfg := strategy.DefaultScalpConfig()
	cfg.Session = utcSession()
	s := strategy.NewScalpStrategy(zap.NewNop(), newCloudEngine(t), cfg)

	at := func(h, m int) time.Time { return time.Date(2024, 3, 5, h, m, 0, 0, time.UTC) }
	tests := []struct {
		t    time.Time
		want strategy.SessionWindow
	}{
		{at(9, 45), strategy.WindowOpenBell},
		{at(10, 45), strategy.WindowNone},
		{at(12, 0), strategy.WindowMidday},
		{at(14, 0), strategy.WindowNone},
		{at(15, 30), strategy.WindowPowerHour},
		{at(16, 0), strategy.WindowNone},
	}
	for _, tt := range tests {
		if got := s.Window(tt.t); got != tt.want {
			t.Errorf("Window(%s) = %q, want %q", tt.t.Format("15:04"), got, tt.want)
		}
	}
}

func TestScalpOpenBellBoost(t *testing.T) {
	cfg := strategy.DefaultScalpConfig()
	cfg.Session = utcSession()
	s := strategy.NewScalpStrategy(zap.NewNop(), newCloudEngine(t), cfg)

	sig, err := s.Analyze("AMD", types.Timeframe5m, trendDayBars(1000))
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected an open-bell breakout")
	}
	if sig.ConvictionAdjustment != cfg.OpenBellBoost {
		t.Errorf("Expected boost %f, got %f", cfg.OpenBellBoost, sig.ConvictionAdjustment)
	}
	if sig.Metadata["window"] != string(strategy.WindowOpenBell) {
		t.Errorf("Unexpected window %v", sig.Metadata["window"])
	}
}

func TestScalpMiddayPullbackPenalty(t *testing.T) {
	cfg := strategy.DefaultScalpConfig()
	cfg.Session = utcSession()
	s := strategy.NewScalpStrategy(zap.NewNop(), newCloudEngine(t), cfg)

	first := time.Date(2024, 3, 5, 2, 50, 0, 0, time.UTC)
	bars := data.BarsFromCloses(first, types.Timeframe5m, data.Linear(100, 0.05, 110), 1000)
	bars = append(bars, data.NewBar(time.Date(2024, 3, 5, 12, 0, 0, 0, time.UTC), 105.3, 105.65, 105.1, 105.6, 1000))

	sig, err := s.Analyze("AMD", types.Timeframe5m, bars)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected a midday pullback")
	}
	if sig.Kind != types.SignalCloudBounceLong || sig.ConvictionAdjustment != cfg.MiddayPenalty {
		t.Errorf("Unexpected signal %s adj %f", sig.Kind, sig.ConvictionAdjustment)
	}
	if !sig.StopLoss.LessThan(sig.Price) {
		t.Errorf("Stop %s should be below entry %s", sig.StopLoss, sig.Price)
	}
}

func TestScalpPowerHourMomentum(t *testing.T) {
	cfg := strategy.DefaultScalpConfig()
	cfg.Session = utcSession()
	s := strategy.NewScalpStrategy(zap.NewNop(), newCloudEngine(t), cfg)

	first := time.Date(2024, 3, 5, 6, 20, 0, 0, time.UTC)
	bars := data.BarsFromCloses(first, types.Timeframe5m, data.Linear(100, 0.05, 110), 1000)
	bars = append(bars, data.NewBar(time.Date(2024, 3, 5, 15, 30, 0, 0, time.UTC), 105.45, 105.6, 105.4, 105.55, 2000))

	sig, err := s.Analyze("AMD", types.Timeframe5m, bars)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected a power-hour continuation")
	}
	if sig.ConvictionAdjustment != cfg.PowerHourBoost || sig.Direction != types.DirectionLong {
		t.Errorf("Unexpected signal %s adj %f", sig.Direction, sig.ConvictionAdjustment)
	}

	bars[len(bars)-1].Volume = bars[len(bars)-2].Volume
	if sig, _ := s.Analyze("AMD", types.Timeframe5m, bars); sig != nil {
		t.Error("Power hour needs above-average volume")
	}
}

func TestCloudTrendWrapsDetector(t *testing.T) {
	engine := newCloudEngine(t)
	d, err := signals.NewDetector(engine, signals.DefaultConfig())
	if err != nil {
		t.Fatalf("NewDetector failed: %v", err)
	}
	s := strategy.NewCloudTrendStrategy(zap.NewNop(), d)

	bars := data.BarsFromCloses(start, types.Timeframe15m, data.Linear(200, -0.5, 150), 1000)
	sig, err := s.Analyze("TSLA", types.Timeframe15m, bars)
	if err != nil || sig == nil {
		t.Fatalf("Expected trend signal, got %v / %v", sig, err)
	}
	if sig.Direction != types.DirectionShort || !sig.StopLoss.GreaterThan(sig.Price) {
		t.Errorf("Expected short with stop above price, got %s stop %s price %s", sig.Direction, sig.StopLoss, sig.Price)
	}
	if sig.Metadata["layer"] != cloud.LayerTrend {
		t.Errorf("Expected trend layer for scoring, got %v", sig.Metadata["layer"])
	}
}

func TestBollingerReversion(t *testing.T) {
	s := strategy.NewMeanReversionStrategy(zap.NewNop(), strategy.DefaultMeanReversionConfig())
	if s.Family() != strategy.FamilyMeanReversion {
		t.Fatalf("Unexpected family %s", s.Family())
	}

	var bars []types.Bar
	prev := 100.0
	for i := 0; i < 30; i++ {
		c := 100.0
		if i%2 == 1 {
			c = 100.4
		}
		hi, lo := prev, c
		if c > prev {
			hi, lo = c, prev
		}
		bars = append(bars, data.NewBar(start.Add(time.Duration(i)*5*time.Minute), prev, hi+0.05, lo-0.05, c, 1000))
		prev = c
	}
	bars = append(bars,
		data.NewBar(start.Add(30*5*time.Minute), 99.9, 100.0, 98.55, 98.6, 1000),
		data.NewBar(start.Add(31*5*time.Minute), 98.5, 100.05, 98.4, 100.0, 1000),
	)

	sig, err := s.Analyze("KO", types.Timeframe5m, bars)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if sig == nil {
		t.Fatal("Expected a reversion entry after the engulfing candle")
	}
	if sig.Direction != types.DirectionLong || sig.Kind != types.SignalCandlestickBullish {
		t.Errorf("Unexpected signal %s %s", sig.Kind, sig.Direction)
	}
	if sig.Metadata["pattern"] != string(signals.PatternBullishEngulfing) {
		t.Errorf("Unexpected pattern %v", sig.Metadata["pattern"])
	}
	if !sig.TakeProfit.GreaterThan(sig.Price) || !sig.StopLoss.LessThan(sig.Price) {
		t.Errorf("Expected stop < price < middle band, got %s < %s < %s", sig.StopLoss, sig.Price, sig.TakeProfit)
	}
}
