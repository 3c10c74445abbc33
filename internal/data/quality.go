package data

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/shopspring/decimal"
)

// ErrInvalidBar is returned for bars that fail a critical quality check.
var ErrInvalidBar = errors.New("invalid bar")

// Severity ranks a quality issue. Critical bars are never stored.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
)

// Issue types.
const (
	IssueNonPositivePrice = "NON_POSITIVE_PRICE"
	IssueNegativeVolume   = "NEGATIVE_VOLUME"
	IssueOHLCInconsistent = "OHLC_INCONSISTENT"
	IssueDuplicate        = "DUPLICATE_TIMESTAMP"
	IssueOutOfOrder       = "OUT_OF_ORDER"
	IssueExtremeRange     = "EXTREME_RANGE"
	IssueGapMove          = "GAP_MOVE"
	IssueMissingBars      = "MISSING_BARS"
)

// QualityConfig bounds what counts as an anomaly.
type QualityConfig struct {
	MaxBarRange float64 `json:"maxBarRange"` // (high-low)/low above this is flagged
	MaxGapMove  float64 `json:"maxGapMove"`  // |open-prevClose|/prevClose above this is flagged
	MaxGapBars  int     `json:"maxGapBars"`  // missing intervals before a gap is reported; 0 disables
}

// DefaultQualityConfig returns US equity defaults. Overnight gaps are normal
// for intraday series, so missing-bar detection is off.
func DefaultQualityConfig() QualityConfig {
	return QualityConfig{
		MaxBarRange: 0.20,
		MaxGapMove:  0.15,
	}
}

// Issue is one quality problem found in a series.
type Issue struct {
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
	BarIndex  int       `json:"barIndex"`
}

// QualityReport summarizes a series check.
type QualityReport struct {
	Symbol       string          `json:"symbol"`
	Timeframe    types.Timeframe `json:"timeframe"`
	TotalBars    int             `json:"totalBars"`
	Issues       []Issue         `json:"issues"`
	Critical     int             `json:"critical"`
	QualityScore int             `json:"qualityScore"` // 0-100
}

// Usable reports whether the series has no critical issues.
func (r *QualityReport) Usable() bool {
	return r.Critical == 0
}

// Validator checks bars before they reach the signal path.
type Validator struct {
	config QualityConfig
}

// NewValidator creates a validator.
func NewValidator(config QualityConfig) *Validator {
	return &Validator{config: config}
}

// CheckBar runs the per-bar checks. prev may be nil.
func (v *Validator) CheckBar(prev *types.Bar, bar types.Bar) []Issue {
	var issues []Issue
	add := func(kind string, sev Severity, msg string) {
		issues = append(issues, Issue{Type: kind, Severity: sev, Timestamp: bar.Timestamp, Message: msg})
	}

	if !bar.Open.IsPositive() || !bar.High.IsPositive() || !bar.Low.IsPositive() || !bar.Close.IsPositive() {
		add(IssueNonPositivePrice, SeverityCritical, "price must be positive")
		return issues
	}
	if bar.Volume.IsNegative() {
		add(IssueNegativeVolume, SeverityCritical, "volume is negative")
	}
	if bar.High.LessThan(bar.Open) || bar.High.LessThan(bar.Close) || bar.High.LessThan(bar.Low) ||
		bar.Low.GreaterThan(bar.Open) || bar.Low.GreaterThan(bar.Close) {
		add(IssueOHLCInconsistent, SeverityCritical, fmt.Sprintf("O:%s H:%s L:%s C:%s", bar.Open, bar.High, bar.Low, bar.Close))
	}

	if v.config.MaxBarRange > 0 {
		rng := bar.High.Sub(bar.Low).Div(bar.Low)
		if rng.InexactFloat64() > v.config.MaxBarRange {
			add(IssueExtremeRange, SeverityHigh, "bar range "+pct(rng))
		}
	}
	if prev != nil && prev.Close.IsPositive() && v.config.MaxGapMove > 0 {
		gap := bar.Open.Sub(prev.Close).Div(prev.Close).Abs()
		if gap.InexactFloat64() > v.config.MaxGapMove {
			add(IssueGapMove, SeverityMedium, "gap "+pct(gap))
		}
	}
	return issues
}

// Critical returns an error wrapping ErrInvalidBar when bar fails a
// critical check.
func (v *Validator) Critical(bar types.Bar) error {
	for _, is := range v.CheckBar(nil, bar) {
		if is.Severity == SeverityCritical {
			return fmt.Errorf("%w: %s at %s: %s", ErrInvalidBar, is.Type, bar.Timestamp.Format(time.RFC3339), is.Message)
		}
	}
	return nil
}

// Validate checks a whole series, including ordering and spacing.
func (v *Validator) Validate(symbol string, tf types.Timeframe, bars []types.Bar) *QualityReport {
	report := &QualityReport{Symbol: symbol, Timeframe: tf, TotalBars: len(bars)}
	interval := tf.Duration()

	for i := range bars {
		var prev *types.Bar
		if i > 0 {
			prev = &bars[i-1]
		}
		for _, is := range v.CheckBar(prev, bars[i]) {
			is.BarIndex = i
			report.Issues = append(report.Issues, is)
		}
		if prev == nil {
			continue
		}
		ts, pts := bars[i].Timestamp, prev.Timestamp
		switch {
		case ts.Equal(pts):
			report.Issues = append(report.Issues, Issue{Type: IssueDuplicate, Severity: SeverityHigh, Timestamp: ts, Message: "duplicate timestamp", BarIndex: i})
		case ts.Before(pts):
			report.Issues = append(report.Issues, Issue{Type: IssueOutOfOrder, Severity: SeverityCritical, Timestamp: ts, Message: "bar out of chronological order", BarIndex: i})
		case v.config.MaxGapBars > 0 && interval > 0:
			if missing := int(ts.Sub(pts)/interval) - 1; missing > v.config.MaxGapBars {
				report.Issues = append(report.Issues, Issue{Type: IssueMissingBars, Severity: SeverityMedium, Timestamp: ts, Message: fmt.Sprintf("%d bars missing", missing), BarIndex: i})
			}
		}
	}

	penalty := 0.0
	for _, is := range report.Issues {
		switch is.Severity {
		case SeverityCritical:
			report.Critical++
			penalty += 10
		case SeverityHigh:
			penalty += 5
		case SeverityMedium:
			penalty += 2
		}
	}
	if len(bars) > 0 {
		// More data tolerates more small issues.
		penalty = penalty / math.Max(1, float64(len(bars))/100) * 10
		report.QualityScore = int(math.Max(0, 100-math.Min(penalty, 100)))
	}
	return report
}

// Clean drops bars that fail a critical check. Input order is kept.
func (v *Validator) Clean(bars []types.Bar) []types.Bar {
	out := make([]types.Bar, 0, len(bars))
	for _, b := range bars {
		if v.Critical(b) == nil {
			out = append(out, b)
		}
	}
	return out
}

func pct(d decimal.Decimal) string {
	return d.Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}
