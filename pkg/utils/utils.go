// Package utils provides utility functions for the signal pipeline.
package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenerateID generates a unique ID with optional prefix.
func GenerateID(prefix string) string {
	id := uuid.NewString()
	if prefix != "" {
		return fmt.Sprintf("%s_%s", prefix, id)
	}
	return id
}

// GenerateSignalID generates a unique signal ID.
func GenerateSignalID() string {
	return GenerateID("sig")
}

// GeneratePositionID generates a unique position ID.
func GeneratePositionID() string {
	return GenerateID("pos")
}

// IdempotencyToken derives a stable client order ID from a signal ID, so that
// every retry of the same signal carries the same token.
func IdempotencyToken(signalID string) string {
	return "ord_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(signalID)).String()
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// MinDecimal returns the minimum of two decimals.
func MinDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}

// MaxDecimal returns the maximum of two decimals.
func MaxDecimal(a, b decimal.Decimal) decimal.Decimal {
	if a.GreaterThan(b) {
		return a
	}
	return b
}

// RetryConfig is the bounded exponential backoff policy.
type RetryConfig struct {
	MaxAttempts  int           `json:"maxAttempts" mapstructure:"max_attempts" yaml:"max_attempts"`
	InitialDelay time.Duration `json:"initialDelay" mapstructure:"initial_delay" yaml:"initial_delay"`
	MaxDelay     time.Duration `json:"maxDelay" mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier   float64       `json:"multiplier" mapstructure:"multiplier" yaml:"multiplier"`
}

// DefaultRetryConfig returns default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// Delay returns the wait before retry number attempt (1-based), capped at MaxDelay.
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(c.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= c.Multiplier
		if c.MaxDelay > 0 && time.Duration(delay) >= c.MaxDelay {
			return c.MaxDelay
		}
	}
	if c.MaxDelay > 0 && time.Duration(delay) > c.MaxDelay {
		return c.MaxDelay
	}
	return time.Duration(delay)
}
