package execution

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState represents the circuit breaker state.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig configures a circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           `json:"failureThreshold" mapstructure:"failure_threshold" yaml:"failure_threshold"`
	SuccessThreshold int           `json:"successThreshold" mapstructure:"success_threshold" yaml:"success_threshold"`
	Cooldown         time.Duration `json:"cooldown" mapstructure:"cooldown" yaml:"cooldown"`
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Cooldown:         30 * time.Second,
	}
}

// CircuitBreaker stops calls to a broker after consecutive transient
// failures, then lets a probe through once the cooldown has passed.
type CircuitBreaker struct {
	logger *zap.Logger
	name   string
	config BreakerConfig

	mu           sync.Mutex
	state        BreakerState
	failureCount int
	successCount int
	openedAt     time.Time
	now          func() time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(logger *zap.Logger, name string, config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		logger: logger.Named("breaker"),
		name:   name,
		config: config,
		state:  BreakerClosed,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Cooldown {
			return false
		}
		cb.state = BreakerHalfOpen
		cb.successCount = 0
		cb.logger.Info("Circuit breaker half-open", zap.String("name", cb.name))
		return true
	default:
		return true
	}
}

// RecordSuccess records a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failureCount = 0
	case BreakerHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.state = BreakerClosed
			cb.failureCount = 0
			cb.successCount = 0
			cb.logger.Info("Circuit breaker closed", zap.String("name", cb.name))
		}
	}
}

// RecordFailure records a transient failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.trip()
		}
	case BreakerHalfOpen:
		cb.trip()
	}
}

func (cb *CircuitBreaker) trip() {
	cb.state = BreakerOpen
	cb.openedAt = cb.now()
	cb.successCount = 0
	cb.logger.Warn("Circuit breaker open",
		zap.String("name", cb.name),
		zap.Int("failures", cb.failureCount),
		zap.Duration("cooldown", cb.config.Cooldown))
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset forces the breaker closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = BreakerClosed
	cb.failureCount = 0
	cb.successCount = 0
}
