// Package performance summarizes closed positions by strategy, symbol and
// exit kind.
package performance

import (
	"math"
	"sort"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/exits"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Analyzer builds performance reports from closed positions.
type Analyzer struct {
	logger        *zap.Logger
	accountEquity decimal.Decimal
}

// Report is a performance summary over a set of closed positions.
type Report struct {
	TotalTrades  int             `json:"totalTrades"`
	Wins         int             `json:"wins"`
	Losses       int             `json:"losses"`
	WinRate      decimal.Decimal `json:"winRate"`
	ProfitFactor decimal.Decimal `json:"profitFactor"`
	TotalPnL     decimal.Decimal `json:"totalPnl"`
	AverageWin   decimal.Decimal `json:"averageWin"`
	AverageLoss  decimal.Decimal `json:"averageLoss"`
	AverageR     decimal.Decimal `json:"averageR"`
	Expectancy   decimal.Decimal `json:"expectancy"` // mean realized R
	SharpeR      float64         `json:"sharpeR"`    // mean/stddev of realized R, per trade
	MaxDrawdown  decimal.Decimal `json:"maxDrawdown"`
	BestTrade    *Trade          `json:"bestTrade,omitempty"`
	WorstTrade   *Trade          `json:"worstTrade,omitempty"`

	ByStrategy map[string]*Bucket `json:"byStrategy"`
	BySymbol   map[string]*Bucket `json:"bySymbol"`
	ByExit     map[string]*Bucket `json:"byExit"`
	Streaks    Streaks            `json:"streaks"`

	GeneratedAt time.Time `json:"generatedAt"`
}

// Trade is the short form of a closed position used in reports.
type Trade struct {
	PositionID string          `json:"positionId"`
	Symbol     string          `json:"symbol"`
	Strategy   string          `json:"strategy"`
	PnL        decimal.Decimal `json:"pnl"`
	R          decimal.Decimal `json:"r"`
	ClosedAt   time.Time       `json:"closedAt"`
}

// Bucket aggregates trades that share a key.
type Bucket struct {
	Trades   int             `json:"trades"`
	Wins     int             `json:"wins"`
	WinRate  decimal.Decimal `json:"winRate"`
	TotalPnL decimal.Decimal `json:"totalPnl"`
	TotalR   decimal.Decimal `json:"totalR"`
	AverageR decimal.Decimal `json:"averageR"`
}

// Streaks describes consecutive wins and losses in close order.
type Streaks struct {
	Current        int `json:"current"` // positive = wins, negative = losses
	LongestWinning int `json:"longestWinning"`
	LongestLosing  int `json:"longestLosing"`
}

// NewAnalyzer creates an analyzer. accountEquity is the base drawdown is
// measured against.
func NewAnalyzer(logger *zap.Logger, accountEquity decimal.Decimal) *Analyzer {
	return &Analyzer{
		logger:        logger.Named("performance"),
		accountEquity: accountEquity,
	}
}

// Analyze reports on positions. Only closed positions count; the rest are
// ignored. Positions are taken in close order.
func (a *Analyzer) Analyze(positions []exits.Position) *Report {
	report := &Report{
		ByStrategy:  make(map[string]*Bucket),
		BySymbol:    make(map[string]*Bucket),
		ByExit:      make(map[string]*Bucket),
		GeneratedAt: time.Now(),
	}

	closed := make([]exits.Position, 0, len(positions))
	for _, p := range positions {
		if p.Status == exits.StatusClosed {
			closed = append(closed, p)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool { return closed[i].ClosedAt.Before(closed[j].ClosedAt) })

	report.TotalTrades = len(closed)
	if len(closed) == 0 {
		return report
	}

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	totalR := decimal.Zero
	rs := make([]float64, 0, len(closed))

	for i := range closed {
		p := &closed[i]
		pnl := p.RealizedPnL
		r := p.RealizedR()
		won := pnl.IsPositive()

		report.TotalPnL = report.TotalPnL.Add(pnl)
		totalR = totalR.Add(r)
		rs = append(rs, r.InexactFloat64())

		if won {
			report.Wins++
			grossProfit = grossProfit.Add(pnl)
		} else {
			report.Losses++
			grossLoss = grossLoss.Add(pnl.Abs())
		}
		if report.BestTrade == nil || pnl.GreaterThan(report.BestTrade.PnL) {
			report.BestTrade = tradeOf(p)
		}
		if report.WorstTrade == nil || pnl.LessThan(report.WorstTrade.PnL) {
			report.WorstTrade = tradeOf(p)
		}

		addTo(report.ByStrategy, p.Strategy, pnl, r, won)
		addTo(report.BySymbol, p.Symbol, pnl, r, won)
		addTo(report.ByExit, string(p.ExitKind), pnl, r, won)
	}

	n := decimal.NewFromInt(int64(len(closed)))
	report.WinRate = decimal.NewFromInt(int64(report.Wins)).Div(n)
	report.AverageR = totalR.Div(n)
	report.Expectancy = report.AverageR
	if report.Wins > 0 {
		report.AverageWin = grossProfit.Div(decimal.NewFromInt(int64(report.Wins)))
	}
	if report.Losses > 0 {
		report.AverageLoss = grossLoss.Div(decimal.NewFromInt(int64(report.Losses)))
	}
	if !grossLoss.IsZero() {
		report.ProfitFactor = grossProfit.Div(grossLoss)
	}
	report.SharpeR = sharpe(rs)
	report.MaxDrawdown = a.maxDrawdown(closed)
	report.Streaks = streaks(closed)

	for _, set := range []map[string]*Bucket{report.ByStrategy, report.BySymbol, report.ByExit} {
		for _, b := range set {
			trades := decimal.NewFromInt(int64(b.Trades))
			b.WinRate = decimal.NewFromInt(int64(b.Wins)).Div(trades)
			b.AverageR = b.TotalR.Div(trades)
		}
	}

	a.logger.Debug("Performance report built",
		zap.Int("trades", report.TotalTrades),
		zap.String("pnl", report.TotalPnL.String()))
	return report
}

func tradeOf(p *exits.Position) *Trade {
	return &Trade{
		PositionID: p.ID,
		Symbol:     p.Symbol,
		Strategy:   p.Strategy,
		PnL:        p.RealizedPnL,
		R:          p.RealizedR(),
		ClosedAt:   p.ClosedAt,
	}
}

func addTo(set map[string]*Bucket, key string, pnl, r decimal.Decimal, won bool) {
	if key == "" {
		key = "unknown"
	}
	b, ok := set[key]
	if !ok {
		b = &Bucket{}
		set[key] = b
	}
	b.Trades++
	if won {
		b.Wins++
	}
	b.TotalPnL = b.TotalPnL.Add(pnl)
	b.TotalR = b.TotalR.Add(r)
}

// sharpe is the per-trade mean over sample standard deviation. Zero for
// fewer than two trades or no dispersion.
func sharpe(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	mean := 0.0
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	ss := 0.0
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	sd := math.Sqrt(ss / float64(len(xs)-1))
	if sd == 0 {
		return 0
	}
	return mean / sd
}

// maxDrawdown is the deepest peak-to-trough fall of the realized equity
// curve, as a fraction of the peak.
func (a *Analyzer) maxDrawdown(closed []exits.Position) decimal.Decimal {
	equity := a.accountEquity
	if !equity.IsPositive() {
		equity = decimal.NewFromInt(100000)
	}
	peak := equity
	maxDD := decimal.Zero
	for _, p := range closed {
		equity = equity.Add(p.RealizedPnL)
		if equity.GreaterThan(peak) {
			peak = equity
		}
		if dd := peak.Sub(equity).Div(peak); dd.GreaterThan(maxDD) {
			maxDD = dd
		}
	}
	return maxDD
}

func streaks(closed []exits.Position) Streaks {
	var s Streaks
	cur := 0
	for _, p := range closed {
		if p.RealizedPnL.IsPositive() {
			if cur < 0 {
				cur = 0
			}
			cur++
			if cur > s.LongestWinning {
				s.LongestWinning = cur
			}
		} else {
			if cur > 0 {
				cur = 0
			}
			cur--
			if -cur > s.LongestLosing {
				s.LongestLosing = -cur
			}
		}
	}
	s.Current = cur
	return s
}
