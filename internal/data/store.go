// Package data provides bar history storage, bar quality checks and
// synthetic bar generation.
package data

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"go.uber.org/zap"
)

// ErrOutOfOrder is returned when a bar is not newer than the last recorded bar.
var ErrOutOfOrder = errors.New("bar timestamp not after last recorded bar")

// Store keeps a rolling window of bars per (symbol, timeframe).
type Store struct {
	mu      sync.RWMutex
	logger  *zap.Logger
	maxBars int
	series  map[string][]types.Bar
	quality *Validator
}

// NewStore creates a bar store retaining at most maxBars per series.
func NewStore(logger *zap.Logger, maxBars int) *Store {
	if maxBars <= 0 {
		maxBars = 500
	}
	return &Store{
		logger:  logger.Named("bar-store"),
		maxBars: maxBars,
		series:  make(map[string][]types.Bar),
		quality: NewValidator(DefaultQualityConfig()),
	}
}

func seriesKey(symbol string, tf types.Timeframe) string {
	return fmt.Sprintf("%s_%s", symbol, tf)
}

// Append records a bar. Bars must arrive in timestamp order and pass the
// critical quality checks.
func (s *Store) Append(symbol string, tf types.Timeframe, bar types.Bar) error {
	if err := s.quality.Critical(bar); err != nil {
		s.logger.Warn("Dropping invalid bar",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(tf)),
			zap.Error(err))
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := seriesKey(symbol, tf)
	bars := s.series[key]
	if n := len(bars); n > 0 && !bar.Timestamp.After(bars[n-1].Timestamp) {
		s.logger.Debug("Dropping out-of-order bar",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(tf)),
			zap.Time("timestamp", bar.Timestamp))
		return ErrOutOfOrder
	}

	bars = append(bars, bar)
	if len(bars) > s.maxBars {
		bars = bars[len(bars)-s.maxBars:]
	}
	s.series[key] = bars
	return nil
}

// Load replaces a series with the given bars, sorted by timestamp. Bars
// failing a critical check are dropped; the report covers the input.
func (s *Store) Load(symbol string, tf types.Timeframe, bars []types.Bar) *QualityReport {
	report := s.quality.Validate(symbol, tf, bars)
	if len(report.Issues) > 0 {
		s.logger.Warn("History has quality issues",
			zap.String("symbol", symbol),
			zap.String("timeframe", string(tf)),
			zap.Int("issues", len(report.Issues)),
			zap.Int("critical", report.Critical),
			zap.Int("score", report.QualityScore))
	}

	sorted := s.quality.Clean(bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	if len(sorted) > s.maxBars {
		sorted = sorted[len(sorted)-s.maxBars:]
	}

	s.mu.Lock()
	s.series[seriesKey(symbol, tf)] = sorted
	s.mu.Unlock()
	return report
}

// Window returns a copy of the latest bars for a series.
func (s *Store) Window(symbol string, tf types.Timeframe) []types.Bar {
	s.mu.RLock()
	defer s.mu.RUnlock()

	bars := s.series[seriesKey(symbol, tf)]
	out := make([]types.Bar, len(bars))
	copy(out, bars)
	return out
}

// Windows returns the latest bars for each requested timeframe that has data.
func (s *Store) Windows(symbol string, tfs []types.Timeframe) map[types.Timeframe][]types.Bar {
	out := make(map[types.Timeframe][]types.Bar, len(tfs))
	for _, tf := range tfs {
		if bars := s.Window(symbol, tf); len(bars) > 0 {
			out[tf] = bars
		}
	}
	return out
}

// Symbols returns every symbol with at least one series.
func (s *Store) Symbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for key, bars := range s.series {
		if len(bars) == 0 {
			continue
		}
		for i := len(key) - 1; i >= 0; i-- {
			if key[i] == '_' {
				seen[key[:i]] = true
				break
			}
		}
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}
