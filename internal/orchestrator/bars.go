package orchestrator

import (
	"context"
	"errors"

	"github.com/ghantakiran/axion-stock-sub004/internal/conviction"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/internal/events"
	"github.com/ghantakiran/axion-stock-sub004/internal/exits"
	"github.com/ghantakiran/axion-stock-sub004/internal/mtf"
	"github.com/ghantakiran/axion-stock-sub004/internal/signals"
	"github.com/ghantakiran/axion-stock-sub004/internal/strategy"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"go.uber.org/zap"
)

// volumeLookback is how many prior bars the volume factor averages over.
const volumeLookback = 20

// BarResult summarizes what one bar produced.
type BarResult struct {
	Symbol     string                      `json:"symbol"`
	Timeframe  types.Timeframe             `json:"timeframe"`
	Evaluated  bool                        `json:"evaluated"` // false when the timeframe is inactive or history is short
	Selection  strategy.Selection          `json:"selection"`
	Confluence *mtf.Confluence             `json:"confluence,omitempty"`
	Candidates []signals.Candidate         `json:"-"`
	Scores     map[string]conviction.Score `json:"-"` // by signal ID, every scored entry signal
	Advisories []*types.TradeSignal        `json:"advisories,omitempty"`
	Fused      []signals.Fused             `json:"fused"`
	Outcomes   []*Outcome                  `json:"outcomes"`
	Exit       *exits.ExitSignal           `json:"exit,omitempty"`
}

// ProcessBar appends a closed bar, evaluates exits at its close and, on an
// active timeframe, detects, scores, fuses and executes entry signals. The
// caller must hold the symbol's lane.
func (o *Orchestrator) ProcessBar(ctx context.Context, symbol string, tf types.Timeframe, bar types.Bar) (*BarResult, error) {
	if err := o.store.Append(symbol, tf, bar); err != nil {
		return nil, err
	}
	res := &BarResult{Symbol: symbol, Timeframe: tf}

	if p, ok := o.Position(symbol); !ok || p.Timeframe == tf {
		res.Exit = o.EvaluateExits(ctx, symbol, bar.Close)
	} else {
		o.setPrice(symbol, bar.Close)
	}

	settings := o.Settings()
	if !activeTimeframe(settings.ActiveTimeframes, tf) {
		return res, nil
	}
	bars := o.store.Window(symbol, tf)
	if len(bars) < o.detector.MinBars() {
		return res, nil
	}
	res.Evaluated = true
	res.Scores = make(map[string]conviction.Score)

	c := o.engine.ComputeClouds(bars)
	states := o.engine.GetCloudStates(c)
	found := o.detector.DetectComputed(c, symbol, tf)

	adj := o.regime.Adjustments()
	sel, picked := o.selector.Dispatch(o.registry, symbol, tf, bars, func(s strategy.Strategy) bool {
		return !adj.Disables(s.Name())
	})
	res.Selection = sel
	found = append(found, picked...)

	conf, err := o.mtf.Analyze(ctx, symbol, o.store.Windows(symbol, settings.ActiveTimeframes))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		o.logger.Debug("Confluence unavailable", zap.String("symbol", symbol), zap.Error(err))
	} else {
		res.Confluence = conf
		if cs := o.mtf.ConfluenceSignal(conf, tf, bar); cs != nil {
			found = append(found, cs)
		}
	}

	base := conviction.Context{
		Clouds: states[:],
		Candle: &bars[len(bars)-1],
		Volume: volumeContext(bars),
	}
	if o.config.FactorScore >= 0 {
		fs := o.config.FactorScore
		base.FactorScore = &fs
	}

	for _, sig := range found {
		if !sig.Direction.IsEntry() {
			res.Advisories = append(res.Advisories, sig)
			if res.Exit == nil {
				res.Exit = o.exitOnCandidate(ctx, sig, bar.Close)
			}
			continue
		}
		sctx := base
		sctx.Layer = conviction.LayerFromSignal(sig)
		if conf != nil {
			frac := conf.Fraction(sig.Direction)
			sctx.MTFFraction = &frac
		}
		score := o.scorer.Score(sig, sctx)
		conv := score.Effective(sig)
		res.Scores[sig.ID] = score
		if floor, ok := sig.Metadata[conviction.MetaFloor].(float64); ok && conv < floor {
			o.logger.Debug("Candidate below its strategy's conviction floor",
				zap.String("symbol", symbol),
				zap.String("strategy", sig.Strategy),
				zap.Float64("conviction", conv),
				zap.Float64("floor", floor))
			continue
		}
		res.Candidates = append(res.Candidates, signals.Candidate{Signal: sig, Conviction: conv})
	}

	res.Fused = signals.Fuse(res.Candidates)
	for _, f := range res.Fused {
		if len(f.Contributors) > 1 || len(f.Strategies) > 1 {
			o.publisher.Publish(events.NewFusedEvent(symbol, f.Signal.ID, f.Signal.Direction, f.Contributors, f.Strategies, f.Conviction))
			if o.metrics != nil {
				o.metrics.SignalsFused.Inc()
			}
		}
		res.Outcomes = append(res.Outcomes, o.Execute(ctx, f.Signal, f.Conviction))
	}

	if len(res.Fused) > 0 {
		o.logger.Debug("Bar evaluated",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(tf)),
			zap.String("family", string(sel.Family)),
			zap.Int("candidates", len(res.Candidates)),
			zap.Int("fused", len(res.Fused)))
	}
	return res, nil
}

// OnBar queues ProcessBar on the symbol's lane.
func (o *Orchestrator) OnBar(symbol string, tf types.Timeframe, bar types.Bar) error {
	if !o.running.Load() {
		return ErrNotRunning
	}
	return o.lanes.SubmitFunc(symbol, func(ctx context.Context) error {
		_, err := o.ProcessBar(ctx, symbol, tf, bar)
		if errors.Is(err, data.ErrOutOfOrder) || errors.Is(err, data.ErrInvalidBar) {
			return nil // logged by the store
		}
		return err
	})
}

// LoadHistory seeds bar history without evaluating anything. Bars failing a
// critical quality check are dropped.
func (o *Orchestrator) LoadHistory(symbol string, tf types.Timeframe, bars []types.Bar) *data.QualityReport {
	report := o.store.Load(symbol, tf, bars)
	if kept := o.store.Window(symbol, tf); len(kept) > 0 {
		o.setPrice(symbol, kept[len(kept)-1].Close)
	}
	return report
}

func activeTimeframe(active []types.Timeframe, tf types.Timeframe) bool {
	for _, a := range active {
		if a == tf {
			return true
		}
	}
	return false
}

// volumeContext compares the last bar's volume with the mean of the bars
// before it.
func volumeContext(bars []types.Bar) *conviction.VolumeContext {
	n := len(bars)
	if n < 2 {
		return nil
	}
	start := n - 1 - volumeLookback
	if start < 0 {
		start = 0
	}
	prior := make([]float64, 0, n-1-start)
	for _, b := range bars[start : n-1] {
		prior = append(prior, b.Volume.InexactFloat64())
	}
	avg := utils.Mean(prior)
	if avg <= 0 {
		return nil
	}
	return &conviction.VolumeContext{Current: bars[n-1].Volume.InexactFloat64(), Average: avg}
}
