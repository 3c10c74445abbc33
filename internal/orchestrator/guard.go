package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
)

// GuardConfig configures the signal guard.
type GuardConfig struct {
	Freshness time.Duration `json:"freshness"` // max signal age
	Window    time.Duration `json:"window"`    // dedup window per (symbol, direction, strategy)
	Capacity  int           `json:"capacity"`  // max remembered keys
}

// DefaultGuardConfig returns a 5 minute freshness window and 15 minute dedup.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Freshness: 5 * time.Minute,
		Window:    15 * time.Minute,
		Capacity:  10000,
	}
}

type guardKey struct {
	symbol    string
	direction types.Direction
	strategy  string
}

type guardEntry struct {
	key guardKey
	at  time.Time
}

// SignalGuard rejects stale signals and repeats of a recently accepted
// (symbol, direction, strategy). Memory is bounded by Capacity.
type SignalGuard struct {
	config GuardConfig

	mu    sync.Mutex
	seen  map[guardKey]time.Time
	order []guardEntry // insertion order, oldest first
}

// NewSignalGuard creates a guard.
func NewSignalGuard(config GuardConfig) *SignalGuard {
	if config.Capacity <= 0 {
		config.Capacity = DefaultGuardConfig().Capacity
	}
	return &SignalGuard{
		config: config,
		seen:   make(map[guardKey]time.Time),
	}
}

// Check admits sig at now, remembering it on success. Signals without a
// timestamp are treated as fresh.
func (g *SignalGuard) Check(sig *types.TradeSignal, now time.Time) (RejectReason, string, bool) {
	if g.config.Freshness > 0 && !sig.Timestamp.IsZero() {
		if age := now.Sub(sig.Timestamp); age > g.config.Freshness {
			return ReasonStaleSignal, fmt.Sprintf("signal is %s old", age.Round(time.Second)), false
		}
	}

	key := guardKey{symbol: sig.Symbol, direction: sig.Direction, strategy: sig.Strategy}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.expire(now)

	if last, ok := g.seen[key]; ok && now.Sub(last) < g.config.Window {
		return ReasonDuplicateSignal, fmt.Sprintf("%s %s from %s accepted %s ago",
			sig.Symbol, sig.Direction, sig.Strategy, now.Sub(last).Round(time.Second)), false
	}

	g.seen[key] = now
	g.order = append(g.order, guardEntry{key: key, at: now})
	for len(g.seen) > g.config.Capacity && len(g.order) > 0 {
		g.evictOldest()
	}
	return "", "", true
}

// Len returns the number of remembered keys.
func (g *SignalGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.seen)
}

// Reset forgets every key.
func (g *SignalGuard) Reset() {
	g.mu.Lock()
	g.seen = make(map[guardKey]time.Time)
	g.order = nil
	g.mu.Unlock()
}

func (g *SignalGuard) expire(now time.Time) {
	for len(g.order) > 0 && now.Sub(g.order[0].at) >= g.config.Window {
		g.evictOldest()
	}
}

// evictOldest drops the head of the order queue. The map entry only goes if
// it was not refreshed by a later accept.
func (g *SignalGuard) evictOldest() {
	head := g.order[0]
	g.order = g.order[1:]
	if at, ok := g.seen[head.key]; ok && at.Equal(head.at) {
		delete(g.seen, head.key)
	}
}
