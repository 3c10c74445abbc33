// Package strategy provides the pluggable entry strategies and their registry.
package strategy

import (
	"fmt"
	"sync"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Family groups strategies for the selector.
type Family string

const (
	FamilyTrend         Family = "trend"
	FamilyMeanReversion Family = "mean_reversion"
)

// Strategy is the interface all strategies must implement. Analyze is a pure
// decision over a bar window and returns nil when no setup is present.
type Strategy interface {
	Name() string
	Description() string
	Family() Family
	Parameters() map[string]StrategyParameter
	Analyze(symbol string, tf types.Timeframe, bars []types.Bar) (*types.TradeSignal, error)
}

// StrategyParameter describes a strategy parameter.
type StrategyParameter struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Type        string      `json:"type"` // "int", "float", "duration"
	Current     interface{} `json:"current"`
}

// BaseStrategy provides common functionality.
type BaseStrategy struct {
	logger *zap.Logger
	params map[string]StrategyParameter
}

func newBase(logger *zap.Logger, name string) BaseStrategy {
	return BaseStrategy{
		logger: logger.Named(name),
		params: make(map[string]StrategyParameter),
	}
}

func (s *BaseStrategy) param(name, typ, desc string, current interface{}) {
	s.params[name] = StrategyParameter{Name: name, Description: desc, Type: typ, Current: current}
}

// Parameters returns strategy parameters.
func (s *BaseStrategy) Parameters() map[string]StrategyParameter {
	out := make(map[string]StrategyParameter, len(s.params))
	for k, v := range s.params {
		out[k] = v
	}
	return out
}

// Registry holds strategies keyed by name.
type Registry struct {
	logger     *zap.Logger
	strategies map[string]Strategy
	order      []string
	mu         sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		logger:     logger.Named("strategy-registry"),
		strategies: make(map[string]Strategy),
	}
}

// Register adds a strategy. Registering a name twice keeps the first and
// returns false.
func (r *Registry) Register(s Strategy) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.strategies[s.Name()]; exists {
		return false
	}
	r.strategies[s.Name()] = s
	r.order = append(r.order, s.Name())

	r.logger.Info("Registered strategy",
		zap.String("name", s.Name()),
		zap.String("family", string(s.Family())))
	return true
}

// Get returns a strategy by name.
func (r *Registry) Get(name string) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[name]
	return s, ok
}

// List returns strategy names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// AnalyzeAll runs every registered strategy and returns each non-nil result.
func (r *Registry) AnalyzeAll(symbol string, tf types.Timeframe, bars []types.Bar) []*types.TradeSignal {
	return r.AnalyzeWhere(symbol, tf, bars, nil)
}

// AnalyzeFamily runs only the strategies of one family.
func (r *Registry) AnalyzeFamily(family Family, symbol string, tf types.Timeframe, bars []types.Bar) []*types.TradeSignal {
	return r.AnalyzeWhere(symbol, tf, bars, func(s Strategy) bool { return s.Family() == family })
}

// AnalyzeWhere runs the strategies accepted by keep (all when keep is nil).
// A failing strategy is logged and skipped.
func (r *Registry) AnalyzeWhere(symbol string, tf types.Timeframe, bars []types.Bar, keep func(Strategy) bool) []*types.TradeSignal {
	r.mu.RLock()
	list := make([]Strategy, 0, len(r.order))
	for _, name := range r.order {
		list = append(list, r.strategies[name])
	}
	r.mu.RUnlock()

	var out []*types.TradeSignal
	for _, s := range list {
		if keep != nil && !keep(s) {
			continue
		}
		sig, err := r.analyze(s, symbol, tf, bars)
		if err != nil {
			r.logger.Warn("Strategy failed",
				zap.String("strategy", s.Name()),
				zap.String("symbol", symbol),
				zap.Error(err))
			continue
		}
		if sig != nil {
			out = append(out, sig)
		}
	}
	return out
}

func (r *Registry) analyze(s Strategy, symbol string, tf types.Timeframe, bars []types.Bar) (sig *types.TradeSignal, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("strategy panicked: %v", rec)
		}
	}()
	return s.Analyze(symbol, tf, bars)
}

// newSignal builds an entry signal with a 2R advisory target.
func newSignal(name string, kind types.SignalKind, symbol string, tf types.Timeframe, dir types.Direction, bar types.Bar, stop decimal.Decimal, strength float64) *types.TradeSignal {
	entry := bar.Close
	risk := entry.Sub(stop).Abs()
	target := entry.Add(risk.Mul(decimal.NewFromInt(2)))
	if dir == types.DirectionShort {
		target = entry.Sub(risk.Mul(decimal.NewFromInt(2)))
	}
	return &types.TradeSignal{
		ID:         utils.GenerateSignalID(),
		Kind:       kind,
		Symbol:     symbol,
		Timeframe:  tf,
		Direction:  dir,
		Strength:   utils.Clamp(strength, 0, 1),
		Price:      entry,
		StopLoss:   stop,
		TakeProfit: target,
		Strategy:   name,
		Metadata:   make(map[string]any),
		Timestamp:  bar.Timestamp,
	}
}

// volumeRatio compares bar i's volume with the mean of the lookback bars before it.
func volumeRatio(volume []float64, i, lookback int) (float64, bool) {
	if i < lookback || lookback <= 0 {
		return 0, false
	}
	avg := utils.Mean(volume[i-lookback : i])
	if avg <= 0 {
		return 0, false
	}
	return volume[i] / avg, true
}
