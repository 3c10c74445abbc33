// Package main runs the signal pipeline service: the orchestrator behind a
// paper execution venue, the control API and the event stream.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/api"
	"github.com/ghantakiran/axion-stock-sub004/internal/config"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/internal/events"
	"github.com/ghantakiran/axion-stock-sub004/internal/execution"
	"github.com/ghantakiran/axion-stock-sub004/internal/metrics"
	"github.com/ghantakiran/axion-stock-sub004/internal/orchestrator"
	"github.com/ghantakiran/axion-stock-sub004/internal/performance"
	"github.com/ghantakiran/axion-stock-sub004/internal/storage"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/grafana/pyroscope-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", "", "Config file (yaml or json)")
	envFile := flag.String("env", ".env", "Optional .env file")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error); overrides the config")
	simulate := flag.Bool("simulate", false, "Feed generated bars through the pipeline")
	simInterval := flag.Duration("sim-interval", 250*time.Millisecond, "Wall time between simulated bars")
	simSeed := flag.Int64("sim-seed", 42, "Random walk seed")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "env: %v\n", err)
		os.Exit(1)
	}

	// Bootstrap logger until the configured level is known.
	logger := setupLogger(*logLevel)
	loader := config.NewLoader(logger, *configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	if *logLevel == "" {
		logger = setupLogger(cfg.LogLevel)
	}
	defer logger.Sync()

	logger.Info("Starting signal pipeline",
		zap.String("config", *configPath),
		zap.Strings("symbols", cfg.Symbols),
		zap.String("storage", cfg.Storage.Driver),
		zap.Bool("simulate", *simulate),
	)

	if addr := cfg.Profiling.PyroscopeAddr; addr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: cfg.Profiling.AppName,
			ServerAddress:   addr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			logger.Warn("Profiler not started", zap.String("addr", addr), zap.Error(err))
		} else {
			defer profiler.Stop()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recorder, err := storage.Open(logger, cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to open audit storage", zap.Error(err))
	}
	defer recorder.Close()

	m := metrics.New()

	router := execution.NewSymbolRouter(logger, cfg.Execution.Router)
	paper := execution.NewPaperBroker(logger, execution.PaperConfig{
		SlippageBps:    decimal.NewFromFloat(cfg.Execution.PaperSlippageBps),
		CommissionRate: decimal.Zero,
	})
	router.Register(paper)

	bus := events.NewEventBus(logger, cfg.Events)
	hub := api.NewHub(logger)
	hub.Attach(bus)
	go hub.Run()

	orch, err := orchestrator.New(logger, orchestratorConfig(cfg), orchestrator.Collaborators{
		Router:    router,
		Recorder:  recorder,
		Publisher: bus,
		Metrics:   m,
	})
	if err != nil {
		logger.Fatal("Failed to initialize orchestrator", zap.Error(err))
	}

	var feed *data.Feed
	if cfg.Feed.URL != "" {
		feed = data.NewFeed(logger, cfg.Feed, cfg.Symbols, orch)
		feed.Tap(paper.SetPrice)
	}

	var sim *simulation
	if *simulate {
		sim = newSimulation(logger, orch, paper, cfg.Symbols, *simSeed)
		orch.SetClock(sim.now)
	}

	loader.Watch(func(c *config.Config) {
		if err := orch.UpdateSettings(c.Runtime); err != nil {
			return
		}
		router.SetConfig(c.Execution.Router)
	})

	if err := orch.Start(ctx); err != nil {
		logger.Fatal("Failed to start orchestrator", zap.Error(err))
	}

	server := api.NewServer(logger, &cfg.Server, orch, api.Options{
		Loader:      loader,
		Metrics:     m,
		Hub:         hub,
		Feed:        feed,
		Performance: performance.NewAnalyzer(logger, decimal.NewFromFloat(cfg.Pipeline.AccountEquity)),
	})
	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	var wg sync.WaitGroup
	if feed != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := feed.Run(ctx); err != nil {
				logger.Error("Feed stopped", zap.Error(err))
			}
		}()
	}
	if sim != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.run(ctx, *simInterval)
		}()
	}

	logger.Info("Service started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Shutdown signal received")

	cancel()
	wg.Wait()

	if err := orch.Stop(); err != nil {
		logger.Error("Error stopping orchestrator", zap.Error(err))
	}
	bus.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Service stopped")
}

// orchestratorConfig maps the service configuration onto the orchestrator's.
func orchestratorConfig(cfg *config.Config) orchestrator.Config {
	oc := orchestrator.DefaultConfig()
	oc.Runtime = cfg.Runtime
	oc.Risk = cfg.RiskConfig()
	oc.Submitter = execution.SubmitterConfig{
		Retry:   cfg.Execution.Retry,
		Breaker: cfg.Execution.Breaker,
		Timeout: cfg.Execution.AttemptTimeout,
	}
	oc.Guard = orchestrator.GuardConfig{
		Freshness: cfg.Pipeline.FreshnessWindow,
		Window:    cfg.Pipeline.DedupWindow,
		Capacity:  cfg.Pipeline.DedupCapacity,
	}
	oc.Lanes = cfg.Lanes
	oc.AccountEquity = decimal.NewFromFloat(cfg.Pipeline.AccountEquity)
	oc.SlippageTolerance = decimal.NewFromFloat(cfg.Pipeline.SlippageTolerance)
	oc.BarHistory = cfg.Pipeline.BarHistory
	oc.FactorScore = cfg.Pipeline.FactorScore
	return oc
}

// simulation drives the pipeline with random-walk bars. The orchestrator's
// clock follows bar time so freshness and session exits line up with it.
type simulation struct {
	logger *zap.Logger
	orch   *orchestrator.Orchestrator
	paper  *execution.PaperBroker
	gens   map[string]*data.Generator
	order  []string
	clock  atomic.Int64
}

const (
	simTimeframe = types.Timeframe5m
	simHistory   = 300
)

func newSimulation(logger *zap.Logger, orch *orchestrator.Orchestrator, paper *execution.PaperBroker, symbols []string, seed int64) *simulation {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	// History ends at the open so live bars walk through one session.
	y, mo, d := time.Now().In(loc).Date()
	open := time.Date(y, mo, d, 9, 30, 0, 0, loc)
	start := open.Add(-time.Duration(simHistory) * simTimeframe.Duration())

	s := &simulation{
		logger: logger.Named("simulation"),
		orch:   orch,
		paper:  paper,
		gens:   make(map[string]*data.Generator),
		order:  symbols,
	}
	s.clock.Store(open.UnixNano())
	for i, sym := range symbols {
		price := 100 + 50*float64(i)
		s.gens[sym] = data.NewGenerator(seed+int64(i), start, simTimeframe, price, 0.0003, 0.004)
	}
	return s
}

func (s *simulation) now() time.Time {
	return time.Unix(0, s.clock.Load())
}

func (s *simulation) run(ctx context.Context, interval time.Duration) {
	for _, sym := range s.order {
		history := s.gens[sym].Bars(simHistory)
		s.orch.LoadHistory(sym, simTimeframe, history)
		s.paper.SetPrice(sym, history[len(history)-1].Close)
	}
	s.logger.Info("History loaded", zap.Int("symbols", len(s.order)), zap.Int("bars", simHistory))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sym := range s.order {
				bar := s.gens[sym].Next()
				s.clock.Store(bar.Timestamp.UnixNano())
				s.paper.SetPrice(sym, bar.Close)
				if err := s.orch.OnBar(sym, simTimeframe, bar); err != nil {
					s.logger.Warn("Bar dropped",
						zap.String("symbol", sym),
						zap.Time("time", bar.Timestamp),
						zap.Error(err))
				}
			}
		}
	}
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	zcfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zcfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
