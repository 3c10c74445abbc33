// Package regime adapts externally supplied market regime labels into
// strategy and risk adjustments.
// The label and confidence come from an upstream detector; when none has
// been supplied the adapter reports a neutral sideways baseline.
package regime

import (
	"sort"
	"sync"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"go.uber.org/zap"
)

// State is the regime currently in force.
type State struct {
	Label      types.RegimeLabel `json:"label"`
	Confidence float64           `json:"confidence"` // 0-1
	StartedAt  time.Time         `json:"started_at"`
	Duration   time.Duration     `json:"duration"`
	Supplied   bool              `json:"supplied"` // false for the default baseline
}

// StrategyAdjustments contains the modifications applied for a regime
type StrategyAdjustments struct {
	Regime                 types.RegimeLabel `json:"regime"`
	PositionSizeMultiplier float64           `json:"position_size_multiplier"`
	StopLossMultiplier     float64           `json:"stop_loss_multiplier"`
	MinConviction          float64           `json:"min_conviction"` // floor on normalized conviction, 0 = none
	PreferredFamily        string            `json:"preferred_family,omitempty"`
	DisabledStrategies     []string          `json:"disabled_strategies"`
}

// Disables reports whether the named strategy is switched off in this regime.
func (a *StrategyAdjustments) Disables(strategy string) bool {
	for _, s := range a.DisabledStrategies {
		if s == strategy {
			return true
		}
	}
	return false
}

// AdapterConfig configures the regime adapter
type AdapterConfig struct {
	// Below this confidence the multipliers are pulled toward neutral.
	ConfidenceFloor float64 `json:"confidenceFloor"`
	HistorySize     int     `json:"historySize"`
}

// DefaultAdapterConfig returns sensible defaults
func DefaultAdapterConfig() AdapterConfig {
	return AdapterConfig{
		ConfidenceFloor: 0.7,
		HistorySize:     500,
	}
}

// Adapter holds the latest external regime and derives adjustments from it.
type Adapter struct {
	logger *zap.Logger
	config AdapterConfig

	mu        sync.RWMutex
	current   *State
	history   []State
	overrides map[types.RegimeLabel]types.RegimeOverride
}

// NewAdapter creates a new regime adapter
func NewAdapter(logger *zap.Logger, config AdapterConfig) *Adapter {
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultAdapterConfig().HistorySize
	}
	return &Adapter{
		logger:    logger.Named("regime"),
		config:    config,
		history:   make([]State, 0, 64),
		overrides: make(map[types.RegimeLabel]types.RegimeOverride),
	}
}

// Update records a label from the upstream detector. Unknown labels map to
// sideways. Confidence is clamped to [0,1].
func (a *Adapter) Update(label string, confidence float64) State {
	parsed := types.ParseRegimeLabel(label)
	if confidence < 0 {
		confidence = 0
	}
	if confidence > 1 {
		confidence = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	now := time.Now()
	if a.current != nil && a.current.Label == parsed {
		a.current.Confidence = confidence
		return a.snapshot(now)
	}

	if a.current != nil {
		prev := *a.current
		prev.Duration = now.Sub(prev.StartedAt)
		a.history = append(a.history, prev)
		if len(a.history) > a.config.HistorySize {
			a.history = a.history[len(a.history)-a.config.HistorySize:]
		}
	}
	a.current = &State{
		Label:      parsed,
		Confidence: confidence,
		StartedAt:  now,
		Supplied:   true,
	}

	a.logger.Info("Regime changed",
		zap.String("regime", string(parsed)),
		zap.String("raw", label),
		zap.Float64("confidence", confidence),
	)
	return a.snapshot(now)
}

// Reset drops the supplied regime and returns to the baseline.
func (a *Adapter) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.current = nil
}

// Current returns the regime in force.
func (a *Adapter) Current() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot(time.Now())
}

func (a *Adapter) snapshot(now time.Time) State {
	if a.current == nil {
		return State{Label: types.RegimeSideways, Confidence: 1}
	}
	s := *a.current
	s.Duration = now.Sub(s.StartedAt)
	return s
}

// SetOverrides replaces the configured per-regime overrides.
func (a *Adapter) SetOverrides(overrides map[types.RegimeLabel]types.RegimeOverride) {
	cp := make(map[types.RegimeLabel]types.RegimeOverride, len(overrides))
	for k, v := range overrides {
		v.DisabledStrategies = append([]string(nil), v.DisabledStrategies...)
		cp[k] = v
	}
	a.mu.Lock()
	a.overrides = cp
	a.mu.Unlock()
}

// Adjustments returns the adjustments for the regime in force.
func (a *Adapter) Adjustments() *StrategyAdjustments {
	a.mu.RLock()
	defer a.mu.RUnlock()

	state := a.snapshot(time.Now())
	adj := builtin(state.Label)

	if o, ok := a.overrides[state.Label]; ok {
		if o.PositionSizeMultiplier > 0 {
			adj.PositionSizeMultiplier = o.PositionSizeMultiplier
		}
		if o.StopLossMultiplier > 0 {
			adj.StopLossMultiplier = o.StopLossMultiplier
		}
		if o.MinConviction > 0 {
			adj.MinConviction = o.MinConviction
		}
		if o.DisabledStrategies != nil {
			adj.DisabledStrategies = append([]string(nil), o.DisabledStrategies...)
		}
	}

	// Low confidence: reduce adjustments toward neutral
	if state.Confidence < a.config.ConfidenceFloor {
		adj.PositionSizeMultiplier = 1 + (adj.PositionSizeMultiplier-1)*state.Confidence
		adj.StopLossMultiplier = 1 + (adj.StopLossMultiplier-1)*state.Confidence
	}

	return adj
}

func builtin(label types.RegimeLabel) *StrategyAdjustments {
	adj := &StrategyAdjustments{Regime: label, DisabledStrategies: []string{}}

	switch label {
	case types.RegimeBull:
		adj.PositionSizeMultiplier = 1.2
		adj.StopLossMultiplier = 1.0
		adj.PreferredFamily = "trend"

	case types.RegimeBear:
		adj.PositionSizeMultiplier = 0.8
		adj.StopLossMultiplier = 0.9 // tighter stops
		adj.MinConviction = 55
		adj.PreferredFamily = "trend"

	case types.RegimeCrisis:
		adj.PositionSizeMultiplier = 0.5
		adj.StopLossMultiplier = 0.8
		adj.MinConviction = 75
		adj.DisabledStrategies = []string{"session_scalp", "bollinger_reversion"}

	default: // sideways
		adj.PositionSizeMultiplier = 1.0
		adj.StopLossMultiplier = 1.0
		adj.PreferredFamily = "mean_reversion"
	}

	return adj
}

// History returns up to limit past regimes, oldest first.
func (a *Adapter) History(limit int) []State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if limit <= 0 || limit > len(a.history) {
		limit = len(a.history)
	}
	out := make([]State, limit)
	copy(out, a.history[len(a.history)-limit:])
	return out
}

// Statistics contains regime statistics
type Statistics struct {
	CurrentRegime     types.RegimeLabel                   `json:"current_regime"`
	CurrentConfidence float64                             `json:"current_confidence"`
	RegimeCounts      map[types.RegimeLabel]int           `json:"regime_counts"`
	RegimeDurations   map[types.RegimeLabel]time.Duration `json:"regime_durations"`
	Labels            []types.RegimeLabel                 `json:"labels"`
}

// Stats summarizes past and current regimes.
func (a *Adapter) Stats() *Statistics {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := &Statistics{
		RegimeCounts:    make(map[types.RegimeLabel]int),
		RegimeDurations: make(map[types.RegimeLabel]time.Duration),
	}
	for _, s := range a.history {
		stats.RegimeCounts[s.Label]++
		stats.RegimeDurations[s.Label] += s.Duration
	}
	cur := a.snapshot(time.Now())
	stats.CurrentRegime = cur.Label
	stats.CurrentConfidence = cur.Confidence
	if a.current != nil {
		stats.RegimeCounts[cur.Label]++
		stats.RegimeDurations[cur.Label] += cur.Duration
	}
	for l := range stats.RegimeCounts {
		stats.Labels = append(stats.Labels, l)
	}
	sort.Slice(stats.Labels, func(i, j int) bool { return stats.Labels[i] < stats.Labels[j] })
	return stats
}
