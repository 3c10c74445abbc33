package signals

import (
	"sort"

	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
)

// Candidate is a scored entry signal waiting to be fused.
type Candidate struct {
	Signal     *types.TradeSignal
	Conviction float64
}

// Fused is the single surviving signal for one (symbol, direction) pair.
type Fused struct {
	Signal       *types.TradeSignal `json:"signal"`
	Conviction   float64            `json:"conviction"`
	Contributors []types.SignalKind `json:"contributors"`
	Strategies   []string           `json:"strategies"`
}

type fusionKey struct {
	symbol    string
	direction types.Direction
}

// Fuse collapses co-firing candidates. Within each (symbol, direction) the
// highest conviction wins; ties go to the earliest candidate. Non-entry
// signals are dropped. Results are ordered by conviction, highest first.
func Fuse(candidates []Candidate) []Fused {
	groups := make(map[fusionKey]*Fused)
	var order []fusionKey

	for _, c := range candidates {
		if c.Signal == nil || !c.Signal.Direction.IsEntry() {
			continue
		}
		key := fusionKey{symbol: c.Signal.Symbol, direction: c.Signal.Direction}
		g, ok := groups[key]
		if !ok {
			g = &Fused{Signal: c.Signal, Conviction: c.Conviction}
			groups[key] = g
			order = append(order, key)
		} else if c.Conviction > g.Conviction {
			g.Signal = c.Signal
			g.Conviction = c.Conviction
		}
		g.Contributors = appendKind(g.Contributors, c.Signal.Kind)
		g.Strategies = appendString(g.Strategies, c.Signal.Strategy)
	}

	out := make([]Fused, 0, len(order))
	for _, key := range order {
		g := groups[key]
		g.Signal = annotate(g.Signal, g.Contributors)
		out = append(out, *g)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Conviction > out[j].Conviction
	})
	return out
}

// annotate copies the winner so the caller's candidate is left untouched.
func annotate(sig *types.TradeSignal, kinds []types.SignalKind) *types.TradeSignal {
	cp := *sig
	cp.Metadata = make(map[string]any, len(sig.Metadata)+1)
	for k, v := range sig.Metadata {
		cp.Metadata[k] = v
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = string(k)
	}
	cp.Metadata["fused_kinds"] = names
	return &cp
}

func appendKind(list []types.SignalKind, k types.SignalKind) []types.SignalKind {
	for _, existing := range list {
		if existing == k {
			return list
		}
	}
	return append(list, k)
}

func appendString(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}
