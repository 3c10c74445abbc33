package execution

import (
	"fmt"
	"sync"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/regime"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RiskManager applies entry limits and tracks realized daily P&L.
type RiskManager struct {
	logger *zap.Logger
	mu     sync.RWMutex
	config RiskConfig

	day               string
	dailyPnL          decimal.Decimal
	dailyTrades       int
	consecutiveLosses int
	warned            bool
	violations        []RiskViolation
}

// RiskConfig contains risk management configuration.
type RiskConfig struct {
	MaxConcurrentPositions int             `json:"maxConcurrentPositions" mapstructure:"max_concurrent_positions" yaml:"max_concurrent_positions"`
	MinConviction          float64         `json:"minConviction" mapstructure:"min_conviction" yaml:"min_conviction"`
	MaxDailyLoss           decimal.Decimal `json:"maxDailyLoss" mapstructure:"max_daily_loss" yaml:"max_daily_loss"`
	DailyLossWarningPct    float64         `json:"dailyLossWarningPct" mapstructure:"daily_loss_warning_pct" yaml:"daily_loss_warning_pct"`
	MaxDailyTrades         int             `json:"maxDailyTrades" mapstructure:"max_daily_trades" yaml:"max_daily_trades"`
	MaxConsecutiveLosses   int             `json:"maxConsecutiveLosses" mapstructure:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	Location               *time.Location  `json:"-" mapstructure:"-" yaml:"-"` // trading day boundary
}

// DefaultRiskConfig returns default risk configuration.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		MaxConcurrentPositions: 5,
		MinConviction:          50,
		MaxDailyLoss:           decimal.NewFromInt(1000),
		DailyLossWarningPct:    0.8,
		MaxDailyTrades:         50,
		MaxConsecutiveLosses:   5,
		Location:               time.UTC,
	}
}

// RiskViolation represents a risk rule violation.
type RiskViolation struct {
	Rule      string          `json:"rule"`
	Severity  RiskSeverity    `json:"severity"`
	Value     decimal.Decimal `json:"value"`
	Limit     decimal.Decimal `json:"limit"`
	Message   string          `json:"message"`
	Timestamp time.Time       `json:"timestamp"`
}

// RiskSeverity represents severity of risk violation.
type RiskSeverity string

const (
	RiskSeverityWarning  RiskSeverity = "warning"
	RiskSeverityCritical RiskSeverity = "critical"
	RiskSeverityBlock    RiskSeverity = "block"
)

// Rule names reported in violations.
const (
	RuleStrategyDisabled  = "strategy_disabled"
	RuleMinConviction     = "min_conviction"
	RuleMaxPositions      = "max_positions"
	RuleMaxDailyLoss      = "max_daily_loss"
	RuleMaxDailyTrades    = "max_daily_trades"
	RuleConsecutiveLosses = "max_consecutive_losses"
)

// RiskCheckResult represents the result of a risk check.
type RiskCheckResult struct {
	Approved   bool            `json:"approved"`
	Violations []RiskViolation `json:"violations"`
	Warnings   []string        `json:"warnings"`
	// MinConviction is the floor that was applied after the regime override.
	MinConviction float64 `json:"minConviction"`
}

// First returns the first violation, if any.
func (r RiskCheckResult) First() (RiskViolation, bool) {
	if len(r.Violations) == 0 {
		return RiskViolation{}, false
	}
	return r.Violations[0], true
}

// RiskRequest describes a candidate entry.
type RiskRequest struct {
	Symbol        string
	Strategy      string
	Direction     types.Direction
	Conviction    float64 // normalized 0-100, after session adjustments
	OpenPositions int
	Regime        *regime.StrategyAdjustments
	At            time.Time
}

// NewRiskManager creates a new risk manager.
func NewRiskManager(logger *zap.Logger, config RiskConfig) *RiskManager {
	if config.Location == nil {
		config.Location = time.UTC
	}
	return &RiskManager{
		logger: logger.Named("risk-manager"),
		config: config,
	}
}

func (rm *RiskManager) dayKey(t time.Time) string {
	return t.In(rm.config.Location).Format("2006-01-02")
}

// rollover resets daily counters when t falls on a new trading day.
// Callers hold the write lock.
func (rm *RiskManager) rollover(t time.Time) {
	key := rm.dayKey(t)
	if key == rm.day {
		return
	}
	if rm.day != "" {
		rm.logger.Info("New trading day, daily stats reset",
			zap.String("previous", rm.day),
			zap.String("dailyPnL", rm.dailyPnL.String()))
	}
	rm.day = key
	rm.dailyPnL = decimal.Zero
	rm.dailyTrades = 0
	rm.warned = false
}

// CheckEntry validates a candidate entry against the regime-adjusted limits.
func (rm *RiskManager) CheckEntry(req RiskRequest) RiskCheckResult {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if req.At.IsZero() {
		req.At = time.Now()
	}
	rm.rollover(req.At)

	result := RiskCheckResult{Approved: true, MinConviction: rm.config.MinConviction}
	block := func(v RiskViolation) {
		v.Timestamp = req.At
		result.Approved = false
		result.Violations = append(result.Violations, v)
	}

	if req.Regime != nil {
		if req.Regime.Disables(req.Strategy) {
			block(RiskViolation{
				Rule:     RuleStrategyDisabled,
				Severity: RiskSeverityBlock,
				Message:  fmt.Sprintf("%s disabled in %s regime", req.Strategy, req.Regime.Regime),
			})
		}
		if req.Regime.MinConviction > result.MinConviction {
			result.MinConviction = req.Regime.MinConviction
		}
	}

	if req.Conviction < result.MinConviction {
		block(RiskViolation{
			Rule:     RuleMinConviction,
			Severity: RiskSeverityBlock,
			Value:    decimal.NewFromFloat(req.Conviction).Round(2),
			Limit:    decimal.NewFromFloat(result.MinConviction),
			Message:  "Conviction below execution floor",
		})
	}

	if rm.config.MaxConcurrentPositions > 0 && req.OpenPositions >= rm.config.MaxConcurrentPositions {
		block(RiskViolation{
			Rule:     RuleMaxPositions,
			Severity: RiskSeverityBlock,
			Value:    decimal.NewFromInt(int64(req.OpenPositions)),
			Limit:    decimal.NewFromInt(int64(rm.config.MaxConcurrentPositions)),
			Message:  "Maximum concurrent positions reached",
		})
	}

	if rm.config.MaxDailyLoss.IsPositive() && rm.dailyPnL.LessThanOrEqual(rm.config.MaxDailyLoss.Neg()) {
		block(RiskViolation{
			Rule:     RuleMaxDailyLoss,
			Severity: RiskSeverityCritical,
			Value:    rm.dailyPnL,
			Limit:    rm.config.MaxDailyLoss.Neg(),
			Message:  "Maximum daily loss reached",
		})
	}

	if rm.config.MaxDailyTrades > 0 && rm.dailyTrades >= rm.config.MaxDailyTrades {
		block(RiskViolation{
			Rule:     RuleMaxDailyTrades,
			Severity: RiskSeverityBlock,
			Value:    decimal.NewFromInt(int64(rm.dailyTrades)),
			Limit:    decimal.NewFromInt(int64(rm.config.MaxDailyTrades)),
			Message:  "Maximum daily trades reached",
		})
	}

	if rm.config.MaxConsecutiveLosses > 0 && rm.consecutiveLosses >= rm.config.MaxConsecutiveLosses {
		block(RiskViolation{
			Rule:     RuleConsecutiveLosses,
			Severity: RiskSeverityCritical,
			Value:    decimal.NewFromInt(int64(rm.consecutiveLosses)),
			Limit:    decimal.NewFromInt(int64(rm.config.MaxConsecutiveLosses)),
			Message:  "Maximum consecutive losses reached",
		})
	}

	if len(result.Violations) > 0 {
		rm.violations = append(rm.violations, result.Violations...)
		if len(rm.violations) > 1000 {
			rm.violations = rm.violations[len(rm.violations)-1000:]
		}
		rm.logger.Info("Risk violations detected",
			zap.String("symbol", req.Symbol),
			zap.String("strategy", req.Strategy),
			zap.String("rule", result.Violations[0].Rule),
			zap.Int("violationCount", len(result.Violations)))
	}
	return result
}

// RecordEntry counts an opened position against the daily trade limit.
func (rm *RiskManager) RecordEntry(at time.Time) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.rollover(at)
	rm.dailyTrades++
}

// TradeRecord represents realized P&L from a closed or reduced position.
type TradeRecord struct {
	Symbol string
	PnL    decimal.Decimal
	At     time.Time
}

// LossWarning is returned the first time in a day the loss crosses the
// warning threshold.
type LossWarning struct {
	DailyPnL decimal.Decimal `json:"dailyPnl"`
	Limit    decimal.Decimal `json:"limit"`
	Pct      float64         `json:"pct"` // fraction of the limit used
}

// RecordTrade records realized P&L. It returns a warning the first time the
// daily loss crosses DailyLossWarningPct of the limit.
func (rm *RiskManager) RecordTrade(trade TradeRecord) *LossWarning {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if trade.At.IsZero() {
		trade.At = time.Now()
	}
	rm.rollover(trade.At)

	rm.dailyPnL = rm.dailyPnL.Add(trade.PnL)
	if trade.PnL.IsNegative() {
		rm.consecutiveLosses++
	} else if trade.PnL.IsPositive() {
		rm.consecutiveLosses = 0
	}

	rm.logger.Info("Trade recorded",
		zap.String("symbol", trade.Symbol),
		zap.String("pnl", trade.PnL.String()),
		zap.String("dailyPnL", rm.dailyPnL.String()),
		zap.Int("consecutiveLosses", rm.consecutiveLosses))

	limit := rm.config.MaxDailyLoss
	if rm.warned || !limit.IsPositive() || !rm.dailyPnL.IsNegative() {
		return nil
	}
	used := rm.dailyPnL.Neg().Div(limit).InexactFloat64()
	if used < rm.config.DailyLossWarningPct {
		return nil
	}
	rm.warned = true
	rm.logger.Warn("Daily loss warning",
		zap.String("dailyPnL", rm.dailyPnL.String()),
		zap.String("limit", limit.String()),
		zap.Float64("used", used))
	return &LossWarning{DailyPnL: rm.dailyPnL, Limit: limit, Pct: used}
}

// UpdateLimits applies hot-reloaded settings.
func (rm *RiskManager) UpdateLimits(maxPositions int, minConviction float64) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.config.MaxConcurrentPositions = maxPositions
	rm.config.MinConviction = minConviction
	rm.logger.Info("Risk limits updated",
		zap.Int("maxConcurrentPositions", maxPositions),
		zap.Float64("minConviction", minConviction))
}

// ResetDailyStats resets daily statistics.
func (rm *RiskManager) ResetDailyStats() {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	rm.dailyPnL = decimal.Zero
	rm.dailyTrades = 0
	rm.consecutiveLosses = 0
	rm.warned = false
	rm.logger.Info("Daily stats reset")
}

// RiskStats contains current risk statistics.
type RiskStats struct {
	Day               string          `json:"day"`
	DailyPnL          decimal.Decimal `json:"dailyPnL"`
	DailyTrades       int             `json:"dailyTrades"`
	ConsecutiveLosses int             `json:"consecutiveLosses"`
	ViolationCount    int             `json:"violationCount"`
	Config            RiskConfig      `json:"config"`
}

// GetStats returns current risk stats.
func (rm *RiskManager) GetStats() RiskStats {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	return RiskStats{
		Day:               rm.day,
		DailyPnL:          rm.dailyPnL,
		DailyTrades:       rm.dailyTrades,
		ConsecutiveLosses: rm.consecutiveLosses,
		ViolationCount:    len(rm.violations),
		Config:            rm.config,
	}
}

// GetViolations returns recent violations.
func (rm *RiskManager) GetViolations(limit int) []RiskViolation {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	if limit <= 0 || limit > len(rm.violations) {
		limit = len(rm.violations)
	}
	result := make([]RiskViolation, limit)
	copy(result, rm.violations[len(rm.violations)-limit:])
	return result
}
