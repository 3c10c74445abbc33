// Package types provides configuration types shared across packages.
package types

import (
	"time"
)

// RuntimeSettings holds the hot-reloadable risk and sizing options.
type RuntimeSettings struct {
	MaxRiskPerTrade        float64                        `json:"max_risk_per_trade" mapstructure:"max_risk_per_trade" yaml:"max_risk_per_trade"`
	MaxConcurrentPositions int                            `json:"max_concurrent_positions" mapstructure:"max_concurrent_positions" yaml:"max_concurrent_positions"`
	MinConvictionToExecute float64                        `json:"min_conviction_to_execute" mapstructure:"min_conviction_to_execute" yaml:"min_conviction_to_execute"`
	ActiveTimeframes       []Timeframe                    `json:"active_timeframes" mapstructure:"active_timeframes" yaml:"active_timeframes"`
	RegimeOverrides        map[RegimeLabel]RegimeOverride `json:"regime_overrides,omitempty" mapstructure:"regime_overrides" yaml:"regime_overrides,omitempty"`
}

// RegimeOverride replaces the built-in adjustments for one regime.
// Zero values leave the built-in value in place.
type RegimeOverride struct {
	PositionSizeMultiplier float64  `json:"position_size_multiplier,omitempty" mapstructure:"position_size_multiplier" yaml:"position_size_multiplier,omitempty"`
	StopLossMultiplier     float64  `json:"stop_loss_multiplier,omitempty" mapstructure:"stop_loss_multiplier" yaml:"stop_loss_multiplier,omitempty"`
	MinConviction          float64  `json:"min_conviction,omitempty" mapstructure:"min_conviction" yaml:"min_conviction,omitempty"`
	DisabledStrategies     []string `json:"disabled_strategies,omitempty" mapstructure:"disabled_strategies" yaml:"disabled_strategies,omitempty"`
}

// DefaultRuntimeSettings returns conservative defaults.
func DefaultRuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		MaxRiskPerTrade:        0.01, // 1% of equity
		MaxConcurrentPositions: 5,
		MinConvictionToExecute: 50,
		ActiveTimeframes:       []Timeframe{Timeframe5m, Timeframe15m, Timeframe1h},
		RegimeOverrides:        map[RegimeLabel]RegimeOverride{},
	}
}

// Clone returns a deep copy so callers can hand settings across goroutines.
func (s RuntimeSettings) Clone() RuntimeSettings {
	out := s
	out.ActiveTimeframes = append([]Timeframe(nil), s.ActiveTimeframes...)
	out.RegimeOverrides = make(map[RegimeLabel]RegimeOverride, len(s.RegimeOverrides))
	for k, v := range s.RegimeOverrides {
		v.DisabledStrategies = append([]string(nil), v.DisabledStrategies...)
		out.RegimeOverrides[k] = v
	}
	return out
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host          string        `json:"host" mapstructure:"host" yaml:"host"`
	Port          int           `json:"port" mapstructure:"port" yaml:"port"`
	WebSocketPath string        `json:"webSocketPath" mapstructure:"websocket_path" yaml:"websocket_path"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout  time.Duration `json:"writeTimeout" mapstructure:"write_timeout" yaml:"write_timeout"`
	EnableMetrics bool          `json:"enableMetrics" mapstructure:"enable_metrics" yaml:"enable_metrics"`
}
