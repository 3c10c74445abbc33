// Package config loads service configuration from a file, .env and
// AXION_-prefixed environment variables, and watches the file for runtime
// setting changes.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
	_ "time/tzdata" // trading timezone must resolve without a system zoneinfo

	"github.com/fsnotify/fsnotify"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/internal/events"
	"github.com/ghantakiran/axion-stock-sub004/internal/execution"
	"github.com/ghantakiran/axion-stock-sub004/internal/storage"
	"github.com/ghantakiran/axion-stock-sub004/internal/workers"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes every environment override.
const EnvPrefix = "AXION"

// PipelineSettings configures the signal pipeline around the runtime options.
type PipelineSettings struct {
	AccountEquity     float64       `json:"accountEquity" mapstructure:"account_equity" yaml:"account_equity"`
	SlippageTolerance float64       `json:"slippageTolerance" mapstructure:"slippage_tolerance" yaml:"slippage_tolerance"`
	FreshnessWindow   time.Duration `json:"freshnessWindow" mapstructure:"freshness_window" yaml:"freshness_window"`
	DedupWindow       time.Duration `json:"dedupWindow" mapstructure:"dedup_window" yaml:"dedup_window"`
	DedupCapacity     int           `json:"dedupCapacity" mapstructure:"dedup_capacity" yaml:"dedup_capacity"`
	BarHistory        int           `json:"barHistory" mapstructure:"bar_history" yaml:"bar_history"`
	FactorScore       float64       `json:"factorScore" mapstructure:"factor_score" yaml:"factor_score"` // neutral factor input when no upstream model
}

// RiskSettings are the daily limits enforced by the risk stage.
type RiskSettings struct {
	MaxDailyLoss         float64 `json:"maxDailyLoss" mapstructure:"max_daily_loss" yaml:"max_daily_loss"`
	DailyLossWarningPct  float64 `json:"dailyLossWarningPct" mapstructure:"daily_loss_warning_pct" yaml:"daily_loss_warning_pct"`
	MaxDailyTrades       int     `json:"maxDailyTrades" mapstructure:"max_daily_trades" yaml:"max_daily_trades"`
	MaxConsecutiveLosses int     `json:"maxConsecutiveLosses" mapstructure:"max_consecutive_losses" yaml:"max_consecutive_losses"`
	TradingTimezone      string  `json:"tradingTimezone" mapstructure:"trading_timezone" yaml:"trading_timezone"`
}

// ExecutionSettings configures the execution collaborator.
type ExecutionSettings struct {
	PaperSlippageBps float64                 `json:"paperSlippageBps" mapstructure:"paper_slippage_bps" yaml:"paper_slippage_bps"`
	Retry            utils.RetryConfig       `json:"retry" mapstructure:"retry" yaml:"retry"`
	Breaker          execution.BreakerConfig `json:"breaker" mapstructure:"breaker" yaml:"breaker"`
	AttemptTimeout   time.Duration           `json:"attemptTimeout" mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	Router           execution.RouterConfig  `json:"router" mapstructure:"router" yaml:"router"`
}

// ProfilingSettings enables continuous profiling.
type ProfilingSettings struct {
	PyroscopeAddr string `json:"pyroscopeAddr" mapstructure:"pyroscope_addr" yaml:"pyroscope_addr"`
	AppName       string `json:"appName" mapstructure:"app_name" yaml:"app_name"`
}

// Config is the full service configuration.
type Config struct {
	LogLevel  string                `json:"logLevel" mapstructure:"log_level" yaml:"log_level"`
	Symbols   []string              `json:"symbols" mapstructure:"symbols" yaml:"symbols"`
	Server    types.ServerConfig    `json:"server" mapstructure:"server" yaml:"server"`
	Runtime   types.RuntimeSettings `json:"runtime" mapstructure:"runtime" yaml:"runtime"`
	Pipeline  PipelineSettings      `json:"pipeline" mapstructure:"pipeline" yaml:"pipeline"`
	Risk      RiskSettings          `json:"risk" mapstructure:"risk" yaml:"risk"`
	Execution ExecutionSettings     `json:"execution" mapstructure:"execution" yaml:"execution"`
	Feed      data.FeedConfig       `json:"feed" mapstructure:"feed" yaml:"feed"`
	Lanes     workers.PoolConfig    `json:"lanes" mapstructure:"lanes" yaml:"lanes"`
	Events    events.EventBusConfig `json:"events" mapstructure:"events" yaml:"events"`
	Storage   storage.StorageConfig `json:"storage" mapstructure:"storage" yaml:"storage"`
	Profiling ProfilingSettings     `json:"profiling" mapstructure:"profiling" yaml:"profiling"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Symbols:  []string{"AAPL", "MSFT", "SPY"},
		Server: types.ServerConfig{
			Host:          "localhost",
			Port:          8080,
			WebSocketPath: "/ws",
			ReadTimeout:   15 * time.Second,
			WriteTimeout:  15 * time.Second,
			EnableMetrics: true,
		},
		Runtime: types.DefaultRuntimeSettings(),
		Pipeline: PipelineSettings{
			AccountEquity:     100000,
			SlippageTolerance: 0.005,
			FreshnessWindow:   5 * time.Minute,
			DedupWindow:       15 * time.Minute,
			DedupCapacity:     10000,
			BarHistory:        500,
			FactorScore:       0.5,
		},
		Risk: RiskSettings{
			MaxDailyLoss:         1000,
			DailyLossWarningPct:  0.8,
			MaxDailyTrades:       50,
			MaxConsecutiveLosses: 5,
			TradingTimezone:      "America/New_York",
		},
		Execution: ExecutionSettings{
			PaperSlippageBps: 2,
			Retry:            utils.DefaultRetryConfig(),
			Breaker:          execution.DefaultBreakerConfig(),
			AttemptTimeout:   5 * time.Second,
			Router:           execution.DefaultRouterConfig(),
		},
		Feed:    data.DefaultFeedConfig(),
		Lanes:   workers.DefaultPoolConfig("symbols"),
		Events:  events.DefaultEventBusConfig(),
		Storage: storage.DefaultStorageConfig(),
		Profiling: ProfilingSettings{
			AppName: "axion.signal-pipeline",
		},
	}
}

// Validate checks the configuration, including the runtime settings.
func (c *Config) Validate() error {
	if err := ValidateRuntime(c.Runtime); err != nil {
		return err
	}
	var problems []string
	if c.Pipeline.AccountEquity <= 0 {
		problems = append(problems, "pipeline.account_equity must be positive")
	}
	if c.Pipeline.SlippageTolerance <= 0 {
		problems = append(problems, "pipeline.slippage_tolerance must be positive")
	}
	if c.Execution.Retry.MaxAttempts < 1 {
		problems = append(problems, "execution.retry.max_attempts must be at least 1")
	}
	if c.Risk.DailyLossWarningPct <= 0 || c.Risk.DailyLossWarningPct > 1 {
		problems = append(problems, "risk.daily_loss_warning_pct must be in (0, 1]")
	}
	if _, err := time.LoadLocation(c.Risk.TradingTimezone); err != nil {
		problems = append(problems, fmt.Sprintf("risk.trading_timezone: %v", err))
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// ValidateRuntime checks the hot-reloadable options.
func ValidateRuntime(s types.RuntimeSettings) error {
	var problems []string
	if s.MaxRiskPerTrade <= 0 || s.MaxRiskPerTrade > 0.1 {
		problems = append(problems, "max_risk_per_trade must be in (0, 0.1]")
	}
	if s.MaxConcurrentPositions < 1 {
		problems = append(problems, "max_concurrent_positions must be at least 1")
	}
	if s.MinConvictionToExecute < 0 || s.MinConvictionToExecute > 100 {
		problems = append(problems, "min_conviction_to_execute must be in [0, 100]")
	}
	if len(s.ActiveTimeframes) == 0 {
		problems = append(problems, "active_timeframes must not be empty")
	}
	for _, tf := range s.ActiveTimeframes {
		if tf.Duration() == 0 {
			problems = append(problems, fmt.Sprintf("unknown timeframe %q", tf))
		}
	}
	for label, o := range s.RegimeOverrides {
		if types.ParseRegimeLabel(string(label)) != label {
			problems = append(problems, fmt.Sprintf("unknown regime %q", label))
		}
		if o.PositionSizeMultiplier < 0 || o.StopLossMultiplier < 0 {
			problems = append(problems, fmt.Sprintf("regime %s: multipliers must not be negative", label))
		}
		if o.MinConviction < 0 || o.MinConviction > 100 {
			problems = append(problems, fmt.Sprintf("regime %s: min_conviction must be in [0, 100]", label))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// RiskConfig maps the settings onto the risk manager's configuration.
func (c *Config) RiskConfig() execution.RiskConfig {
	rc := execution.DefaultRiskConfig()
	rc.MaxConcurrentPositions = c.Runtime.MaxConcurrentPositions
	rc.MinConviction = c.Runtime.MinConvictionToExecute
	rc.MaxDailyLoss = decimal.NewFromFloat(c.Risk.MaxDailyLoss)
	rc.DailyLossWarningPct = c.Risk.DailyLossWarningPct
	rc.MaxDailyTrades = c.Risk.MaxDailyTrades
	rc.MaxConsecutiveLosses = c.Risk.MaxConsecutiveLosses
	if loc, err := time.LoadLocation(c.Risk.TradingTimezone); err == nil {
		rc.Location = loc
	}
	return rc
}

// LoadDotEnv loads the given .env files into the process environment,
// skipping files that do not exist.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Loader reads the configuration and keeps the last valid copy.
type Loader struct {
	logger *zap.Logger
	v      *viper.Viper
	path   string

	mu      sync.RWMutex
	current *Config
}

// NewLoader creates a loader for path. An empty path uses defaults and
// environment only.
func NewLoader(logger *zap.Logger, path string) *Loader {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{logger: logger.Named("config"), v: v, path: path}
}

// setDefaults registers the keys that environment variables may override.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("symbols", d.Symbols)
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("runtime.max_risk_per_trade", d.Runtime.MaxRiskPerTrade)
	v.SetDefault("runtime.max_concurrent_positions", d.Runtime.MaxConcurrentPositions)
	v.SetDefault("runtime.min_conviction_to_execute", d.Runtime.MinConvictionToExecute)
	v.SetDefault("runtime.active_timeframes", d.Runtime.ActiveTimeframes)
	v.SetDefault("pipeline.account_equity", d.Pipeline.AccountEquity)
	v.SetDefault("risk.max_daily_loss", d.Risk.MaxDailyLoss)
	v.SetDefault("feed.url", d.Feed.URL)
	v.SetDefault("storage.driver", d.Storage.Driver)
	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("profiling.pyroscope_addr", d.Profiling.PyroscopeAddr)
}

// Load reads the file (if any) and the environment, validates the result
// and makes it current.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}
	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()

	l.logger.Info("Configuration loaded",
		zap.String("path", l.path),
		zap.Strings("symbols", cfg.Symbols),
		zap.Float64("maxRiskPerTrade", cfg.Runtime.MaxRiskPerTrade),
		zap.Int("maxConcurrentPositions", cfg.Runtime.MaxConcurrentPositions))
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	cfg := Default()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Current returns the last valid configuration.
func (l *Loader) Current() *Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Reload re-reads the file. An invalid file is logged and the previous
// configuration stays current.
func (l *Loader) Reload() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			l.logger.Warn("Config reload failed, keeping previous", zap.Error(err))
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}
	cfg, err := l.decode()
	if err != nil {
		l.logger.Warn("Config reload rejected, keeping previous", zap.Error(err))
		return nil, err
	}
	l.mu.Lock()
	l.current = cfg
	l.mu.Unlock()
	l.logger.Info("Configuration reloaded", zap.String("path", l.path))
	return cfg, nil
}

// Watch calls onChange with each valid configuration written to the file.
func (l *Loader) Watch(onChange func(*Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		l.logger.Info("Config file changed", zap.String("file", e.Name), zap.String("op", e.Op.String()))
		cfg, err := l.decode()
		if err != nil {
			l.logger.Warn("Config change rejected, keeping previous", zap.Error(err))
			return
		}
		l.mu.Lock()
		l.current = cfg
		l.mu.Unlock()
		onChange(cfg)
	})
	l.v.WatchConfig()
}

// YAML renders cfg as YAML.
func YAML(cfg *Config) ([]byte, error) {
	out, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	return out, nil
}

// Save writes cfg to path as YAML.
func Save(path string, cfg *Config) error {
	out, err := YAML(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
