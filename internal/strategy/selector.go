package strategy

import (
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
)

// SelectorConfig configures the family selector.
type SelectorConfig struct {
	ADXPeriod    int     `json:"adxPeriod"`
	ADXThreshold float64 `json:"adxThreshold"`
}

// DefaultSelectorConfig returns the usual ADX(14) > 25 split.
func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{ADXPeriod: 14, ADXThreshold: 25}
}

// Selection is the selector's decision.
type Selection struct {
	Family  Family  `json:"family"`
	ADX     float64 `json:"adx"`
	Defined bool    `json:"defined"` // false when there was too little history for ADX
}

// Selector routes bar windows to trend-following or mean-reversion strategies.
type Selector struct {
	config SelectorConfig
}

// NewSelector creates a selector.
func NewSelector(config SelectorConfig) *Selector {
	return &Selector{config: config}
}

// Select picks the family by trend strength. Without enough history it
// falls back to the trend family, whose strategies suppress themselves on
// short windows.
func (s *Selector) Select(bars []types.Bar) Selection {
	series := types.NewSeries(bars)
	adx, ok := utils.ADX(series.High, series.Low, series.Close, s.config.ADXPeriod)
	if !ok {
		return Selection{Family: FamilyTrend}
	}
	if adx > s.config.ADXThreshold {
		return Selection{Family: FamilyTrend, ADX: adx, Defined: true}
	}
	return Selection{Family: FamilyMeanReversion, ADX: adx, Defined: true}
}

// Dispatch selects a family and runs its strategies in the registry. keep
// can veto individual strategies (for example ones a regime disables).
func (s *Selector) Dispatch(r *Registry, symbol string, tf types.Timeframe, bars []types.Bar, keep func(Strategy) bool) (Selection, []*types.TradeSignal) {
	sel := s.Select(bars)
	sigs := r.AnalyzeWhere(symbol, tf, bars, func(st Strategy) bool {
		if st.Family() != sel.Family {
			return false
		}
		return keep == nil || keep(st)
	})
	return sel, sigs
}
