package execution

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
)

var ErrNoRoute = errors.New("no route for symbol")

// RouterConfig maps symbols to venues.
type RouterConfig struct {
	DefaultVenue string            `json:"defaultVenue" mapstructure:"default_venue" yaml:"default_venue"`
	Routes       map[string]string `json:"routes" mapstructure:"routes" yaml:"routes"`
	// Allowed restricts tradable symbols when non-empty.
	Allowed []string `json:"allowed" mapstructure:"allowed" yaml:"allowed"`
}

// DefaultRouterConfig routes everything to the paper venue.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{DefaultVenue: "paper", Routes: map[string]string{}}
}

// Route is a resolved venue for a symbol.
type Route struct {
	Venue      string `json:"venue"`
	Instrument string `json:"instrument"`
	Broker     Broker `json:"-"`
}

// SymbolRouter resolves the tradable instrument and broker for a symbol.
type SymbolRouter struct {
	logger *zap.Logger

	mu      sync.RWMutex
	config  RouterConfig
	allowed map[string]bool
	brokers map[string]Broker
}

// NewSymbolRouter creates a router.
func NewSymbolRouter(logger *zap.Logger, config RouterConfig) *SymbolRouter {
	r := &SymbolRouter{
		logger:  logger.Named("router"),
		brokers: make(map[string]Broker),
	}
	r.SetConfig(config)
	return r
}

// SetConfig replaces the routing table.
func (r *SymbolRouter) SetConfig(config RouterConfig) {
	allowed := make(map[string]bool, len(config.Allowed))
	for _, s := range config.Allowed {
		allowed[strings.ToUpper(s)] = true
	}
	routes := make(map[string]string, len(config.Routes))
	for s, v := range config.Routes {
		routes[strings.ToUpper(s)] = v
	}
	config.Routes = routes

	r.mu.Lock()
	r.config = config
	r.allowed = allowed
	r.mu.Unlock()
}

// Register adds a broker under its venue name.
func (r *SymbolRouter) Register(broker Broker) {
	r.mu.Lock()
	r.brokers[broker.Name()] = broker
	r.mu.Unlock()
	r.logger.Info("Venue registered", zap.String("venue", broker.Name()))
}

// Broker returns the broker registered for venue.
func (r *SymbolRouter) Broker(venue string) (Broker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.brokers[venue]
	return b, ok
}

// Brokers returns every registered broker.
func (r *SymbolRouter) Brokers() []Broker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Broker, 0, len(r.brokers))
	for _, b := range r.brokers {
		out = append(out, b)
	}
	return out
}

// Resolve returns the route for symbol.
func (r *SymbolRouter) Resolve(symbol string) (Route, error) {
	instrument := strings.ToUpper(strings.TrimSpace(symbol))
	if instrument == "" {
		return Route{}, fmt.Errorf("empty symbol: %w", ErrNoRoute)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.allowed) > 0 && !r.allowed[instrument] {
		return Route{}, fmt.Errorf("%s not tradable: %w", instrument, ErrNoRoute)
	}
	venue, ok := r.config.Routes[instrument]
	if !ok {
		venue = r.config.DefaultVenue
	}
	broker, ok := r.brokers[venue]
	if !ok {
		return Route{}, fmt.Errorf("%s: venue %q not registered: %w", instrument, venue, ErrNoRoute)
	}
	return Route{Venue: venue, Instrument: instrument, Broker: broker}, nil
}
