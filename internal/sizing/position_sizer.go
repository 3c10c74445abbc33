// Package sizing converts a risk budget and a stop distance into an order
// quantity.
package sizing

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrInvalidSize is returned when no positive quantity satisfies the limits.
var ErrInvalidSize = errors.New("invalid position size")

// PositionSizer calculates position sizes from risk per trade
type PositionSizer struct {
	logger *zap.Logger

	mu           sync.RWMutex
	config       SizingConfig
	tradeHistory []TradeResult
}

// SizingConfig configures position sizing
type SizingConfig struct {
	MaxRiskPerTrade     float64 `json:"maxRiskPerTrade"` // fraction of equity lost if stopped out
	MaxPositionPct      float64 `json:"maxPositionPct"`  // notional cap as fraction of equity
	UseRegimeAdjustment bool    `json:"useRegimeAdjustment"`
	WholeUnits          bool    `json:"wholeUnits"`
	LookbackTrades      int     `json:"lookbackTrades"`
}

// DefaultSizingConfig returns conservative defaults
func DefaultSizingConfig() SizingConfig {
	return SizingConfig{
		MaxRiskPerTrade:     0.01, // 1% of equity
		MaxPositionPct:      0.20, // 20% notional
		UseRegimeAdjustment: true,
		WholeUnits:          true,
		LookbackTrades:      100,
	}
}

// TradeResult represents a closed trade outcome
type TradeResult struct {
	Symbol    string          `json:"symbol"`
	Strategy  string          `json:"strategy"`
	Entry     decimal.Decimal `json:"entry"`
	Exit      decimal.Decimal `json:"exit"`
	PnL       decimal.Decimal `json:"pnl"`
	RMultiple float64         `json:"r_multiple"`
}

// IsWin reports whether the trade made money.
func (t TradeResult) IsWin() bool { return t.PnL.IsPositive() }

// NewPositionSizer creates a new position sizer
func NewPositionSizer(logger *zap.Logger, config SizingConfig) *PositionSizer {
	if config.LookbackTrades <= 0 {
		config.LookbackTrades = DefaultSizingConfig().LookbackTrades
	}
	return &PositionSizer{
		logger:       logger.Named("sizing"),
		config:       config,
		tradeHistory: make([]TradeResult, 0, config.LookbackTrades),
	}
}

// Config returns the current configuration.
func (ps *PositionSizer) Config() SizingConfig {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	return ps.config
}

// SetMaxRiskPerTrade updates the risk budget on a config reload.
func (ps *PositionSizer) SetMaxRiskPerTrade(risk float64) {
	ps.mu.Lock()
	ps.config.MaxRiskPerTrade = risk
	ps.mu.Unlock()
}

// SizingRequest contains inputs for position sizing
type SizingRequest struct {
	Symbol           string
	Equity           decimal.Decimal
	EntryPrice       decimal.Decimal
	StopLoss         decimal.Decimal
	RegimeMultiplier float64 // from the regime adapter, 0 means none
}

// SizingResult contains the calculated position size
type SizingResult struct {
	Units          decimal.Decimal `json:"units"`
	Notional       decimal.Decimal `json:"notional"`
	RiskAmount     decimal.Decimal `json:"risk_amount"` // loss if stopped out
	RiskPct        float64         `json:"risk_pct"`
	StopDistance   decimal.Decimal `json:"stop_distance"`
	Adjustments    []string        `json:"adjustments"`
	LimitingFactor string          `json:"limiting_factor"` // risk_per_trade or max_position
}

// CalculateSize returns floor(equity * risk / |entry - stop|) units, capped
// by the notional limit.
func (ps *PositionSizer) CalculateSize(req SizingRequest) (*SizingResult, error) {
	cfg := ps.Config()

	if !req.Equity.IsPositive() || !req.EntryPrice.IsPositive() {
		return nil, fmt.Errorf("%s: equity %s, entry %s: %w", req.Symbol, req.Equity, req.EntryPrice, ErrInvalidSize)
	}
	dist := req.EntryPrice.Sub(req.StopLoss).Abs()
	if dist.IsZero() {
		return nil, fmt.Errorf("%s: zero stop distance: %w", req.Symbol, ErrInvalidSize)
	}
	if cfg.MaxRiskPerTrade <= 0 {
		return nil, fmt.Errorf("%s: risk per trade %v: %w", req.Symbol, cfg.MaxRiskPerTrade, ErrInvalidSize)
	}

	result := &SizingResult{
		StopDistance:   dist,
		Adjustments:    make([]string, 0, 2),
		LimitingFactor: "risk_per_trade",
	}

	budget := req.Equity.Mul(decimal.NewFromFloat(cfg.MaxRiskPerTrade))
	if cfg.UseRegimeAdjustment && req.RegimeMultiplier > 0 && req.RegimeMultiplier != 1 {
		budget = budget.Mul(decimal.NewFromFloat(req.RegimeMultiplier))
		result.Adjustments = append(result.Adjustments, "regime: "+formatPct(req.RegimeMultiplier))
	}
	units := budget.Div(dist)

	if cfg.MaxPositionPct > 0 {
		maxUnits := req.Equity.Mul(decimal.NewFromFloat(cfg.MaxPositionPct)).Div(req.EntryPrice)
		if units.GreaterThan(maxUnits) {
			units = maxUnits
			result.LimitingFactor = "max_position"
			result.Adjustments = append(result.Adjustments, "capped_max_position")
		}
	}
	if cfg.WholeUnits {
		units = units.Floor()
	}
	if !units.IsPositive() {
		return nil, fmt.Errorf("%s: budget %s over stop distance %s rounds to zero: %w",
			req.Symbol, budget.StringFixed(2), dist, ErrInvalidSize)
	}

	result.Units = units
	result.Notional = units.Mul(req.EntryPrice)
	result.RiskAmount = units.Mul(dist)
	result.RiskPct = result.RiskAmount.Div(req.Equity).InexactFloat64()

	ps.logger.Debug("Sized position",
		zap.String("symbol", req.Symbol),
		zap.String("units", units.String()),
		zap.String("risk", result.RiskAmount.StringFixed(2)),
		zap.String("limiting_factor", result.LimitingFactor),
	)
	return result, nil
}

// AddTradeResult adds a trade result for statistics
func (ps *PositionSizer) AddTradeResult(result TradeResult) {
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.tradeHistory = append(ps.tradeHistory, result)
	if len(ps.tradeHistory) > ps.config.LookbackTrades {
		ps.tradeHistory = ps.tradeHistory[len(ps.tradeHistory)-ps.config.LookbackTrades:]
	}
}

// GetTradeStatistics returns statistics from trade history
func (ps *PositionSizer) GetTradeStatistics() *TradeStatistics {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	stats := &TradeStatistics{}
	if len(ps.tradeHistory) == 0 {
		return stats
	}
	stats.TotalTrades = len(ps.tradeHistory)

	var sumWins, sumLosses float64
	for _, trade := range ps.tradeHistory {
		stats.TotalPnL = stats.TotalPnL.Add(trade.PnL)
		if trade.IsWin() {
			stats.Wins++
			sumWins += trade.RMultiple
		} else {
			stats.Losses++
			sumLosses += math.Abs(trade.RMultiple)
		}
	}

	stats.WinRate = float64(stats.Wins) / float64(stats.TotalTrades)
	if stats.Wins > 0 {
		stats.AvgWinR = sumWins / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLossR = sumLosses / float64(stats.Losses)
	}
	stats.ExpectancyR = stats.WinRate*stats.AvgWinR - (1-stats.WinRate)*stats.AvgLossR
	return stats
}

// TradeStatistics contains trading statistics
type TradeStatistics struct {
	TotalTrades int             `json:"total_trades"`
	Wins        int             `json:"wins"`
	Losses      int             `json:"losses"`
	WinRate     float64         `json:"win_rate"`
	AvgWinR     float64         `json:"avg_win_r"`
	AvgLossR    float64         `json:"avg_loss_r"`
	ExpectancyR float64         `json:"expectancy_r"`
	TotalPnL    decimal.Decimal `json:"total_pnl"`
}

// Helper function
func formatPct(pct float64) string {
	return decimal.NewFromFloat(pct*100).Round(1).String() + "%"
}
