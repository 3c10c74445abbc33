// Package mtf aggregates signal direction across timeframes.
package mtf

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ghantakiran/axion-stock-sub004/internal/signals"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config configures the MTF engine.
type Config struct {
	Timeframes []types.Timeframe `json:"timeframes"`
	// Threshold is the number of confirming timeframes that emits mtf_confluence.
	Threshold int `json:"threshold"`
}

// DefaultConfig returns the standard timeframe set.
func DefaultConfig() Config {
	return Config{
		Timeframes: []types.Timeframe{types.Timeframe5m, types.Timeframe15m, types.Timeframe1h},
		Threshold:  2,
	}
}

// TimeframeResult is the self-contained outcome on one timeframe.
type TimeframeResult struct {
	Timeframe types.Timeframe   `json:"timeframe"`
	Direction types.Direction   `json:"direction"`
	Kinds     []types.SignalKind `json:"kinds,omitempty"`
	Bars      int               `json:"bars"`
}

// Confluence is the aggregate across configured timeframes.
type Confluence struct {
	Symbol       string                              `json:"symbol"`
	Direction    types.Direction                     `json:"direction"`  // majority direction
	Confirming   int                                 `json:"confirming"` // timeframes matching Direction
	Total        int                                 `json:"total"`      // configured timeframes
	Score        float64                             `json:"score"`      // Confirming / Total
	PerTimeframe map[types.Timeframe]TimeframeResult `json:"perTimeframe"`
}

// Count returns how many timeframes point in dir.
func (c *Confluence) Count(dir types.Direction) int {
	if c == nil {
		return 0
	}
	n := 0
	for _, r := range c.PerTimeframe {
		if r.Direction == dir && dir.IsEntry() {
			n++
		}
	}
	return n
}

// Fraction returns the share of configured timeframes pointing in dir.
func (c *Confluence) Fraction(dir types.Direction) float64 {
	if c == nil || c.Total == 0 {
		return 0
	}
	return float64(c.Count(dir)) / float64(c.Total)
}

// Engine fans detection out across timeframes.
type Engine struct {
	logger   *zap.Logger
	detector *signals.Detector

	mu     sync.RWMutex
	config Config
}

// NewEngine creates an MTF engine.
func NewEngine(logger *zap.Logger, detector *signals.Detector, config Config) *Engine {
	return &Engine{
		logger:   logger.Named("mtf"),
		detector: detector,
		config:   config,
	}
}

// SetTimeframes replaces the configured timeframes.
func (e *Engine) SetTimeframes(tfs []types.Timeframe) {
	e.mu.Lock()
	e.config.Timeframes = append([]types.Timeframe(nil), tfs...)
	e.mu.Unlock()
}

// Config returns the current configuration.
func (e *Engine) Config() Config {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cfg := e.config
	cfg.Timeframes = append([]types.Timeframe(nil), e.config.Timeframes...)
	return cfg
}

// Analyze runs the detector on every configured timeframe independently
// and counts agreement. Timeframes without bars count as having no direction.
func (e *Engine) Analyze(ctx context.Context, symbol string, bars map[types.Timeframe][]types.Bar) (*Confluence, error) {
	cfg := e.Config()
	results := make([]TimeframeResult, len(cfg.Timeframes))

	g, ctx := errgroup.WithContext(ctx)
	for i, tf := range cfg.Timeframes {
		i, tf := i, tf
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			results[i] = e.analyzeTimeframe(symbol, tf, bars[tf])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("mtf analysis for %s: %w", symbol, err)
	}

	out := &Confluence{
		Symbol:       symbol,
		Total:        len(cfg.Timeframes),
		PerTimeframe: make(map[types.Timeframe]TimeframeResult, len(results)),
	}
	for _, r := range results {
		out.PerTimeframe[r.Timeframe] = r
	}

	longs, shorts := out.Count(types.DirectionLong), out.Count(types.DirectionShort)
	switch {
	case longs > shorts:
		out.Direction, out.Confirming = types.DirectionLong, longs
	case shorts > longs:
		out.Direction, out.Confirming = types.DirectionShort, shorts
	}
	if out.Total > 0 {
		out.Score = float64(out.Confirming) / float64(out.Total)
	}

	e.logger.Debug("MTF confluence",
		zap.String("symbol", symbol),
		zap.String("direction", string(out.Direction)),
		zap.Int("confirming", out.Confirming),
		zap.Int("total", out.Total))
	return out, nil
}

// analyzeTimeframe takes the majority direction of the entry signals on the
// latest bar.
func (e *Engine) analyzeTimeframe(symbol string, tf types.Timeframe, bars []types.Bar) TimeframeResult {
	res := TimeframeResult{Timeframe: tf, Bars: len(bars)}
	votes := 0
	for _, sig := range e.detector.Detect(bars, symbol, tf) {
		switch sig.Direction {
		case types.DirectionLong:
			votes++
		case types.DirectionShort:
			votes--
		default:
			continue
		}
		res.Kinds = append(res.Kinds, sig.Kind)
	}
	sort.Slice(res.Kinds, func(i, j int) bool { return res.Kinds[i] < res.Kinds[j] })
	switch {
	case votes > 0:
		res.Direction = types.DirectionLong
	case votes < 0:
		res.Direction = types.DirectionShort
	}
	return res
}

// ConfluenceSignal builds an mtf_confluence signal when the confirming count
// reaches the threshold.
func (e *Engine) ConfluenceSignal(c *Confluence, primary types.Timeframe, price types.Bar) *types.TradeSignal {
	cfg := e.Config()
	if c == nil || !c.Direction.IsEntry() || cfg.Threshold <= 0 || c.Confirming < cfg.Threshold {
		return nil
	}
	tfs := make([]string, 0, c.Confirming)
	for _, tf := range cfg.Timeframes {
		if r, ok := c.PerTimeframe[tf]; ok && r.Direction == c.Direction {
			tfs = append(tfs, string(tf))
		}
	}
	return &types.TradeSignal{
		ID:        utils.GenerateSignalID(),
		Kind:      types.SignalMTFConfluence,
		Symbol:    c.Symbol,
		Timeframe: primary,
		Direction: c.Direction,
		Strength:  c.Score,
		Price:     price.Close,
		Strategy:  signals.StrategyName,
		Metadata:  map[string]any{"timeframes": tfs, "confirming": c.Confirming},
		Timestamp: price.Timestamp,
	}
}
