// Package metrics exposes pipeline instruments to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "axion"

// Metrics holds the pipeline's collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	SignalsReceived *prometheus.CounterVec
	SignalsFused    prometheus.Counter
	Rejections      *prometheus.CounterVec
	SubmitAttempts  *prometheus.CounterVec
	OrdersSubmitted *prometheus.CounterVec
	ExitSignals     *prometheus.CounterVec
	PositionsOpened *prometheus.CounterVec
	PositionsClosed *prometheus.CounterVec
	OpenPositions   prometheus.Gauge
	KillSwitch      prometheus.Gauge
	DailyPnL        prometheus.Gauge
	LaneQueueDepth  prometheus.Gauge
	PipelineLatency prometheus.Histogram
}

// New creates and registers all collectors, plus the Go runtime collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SignalsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "signals_received_total", Help: "Signals that entered the pipeline"},
			[]string{"strategy", "kind"},
		),
		SignalsFused: prometheus.NewCounter(
			prometheus.CounterOpts{Namespace: namespace, Name: "signals_fused_total", Help: "Co-firing candidates merged into one signal"},
		),
		Rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "signal_rejections_total", Help: "Pipeline rejections by stage and reason"},
			[]string{"stage", "reason"},
		),
		SubmitAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "submit_attempts_total", Help: "Order placement attempts"},
			[]string{"venue", "result"},
		),
		OrdersSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "orders_submitted_total", Help: "Order submissions by final outcome"},
			[]string{"venue", "purpose", "outcome"},
		),
		ExitSignals: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "exit_signals_total", Help: "Exit monitor signals acted on"},
			[]string{"kind"},
		),
		PositionsOpened: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "positions_opened_total", Help: "Positions created"},
			[]string{"strategy"},
		),
		PositionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "positions_closed_total", Help: "Positions closed by exit kind"},
			[]string{"exit_kind"},
		),
		OpenPositions: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "open_positions", Help: "Live positions"},
		),
		KillSwitch: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "kill_switch_active", Help: "1 while the kill switch is set"},
		),
		DailyPnL: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "daily_realized_pnl", Help: "Realized P&L for the current trading day"},
		),
		LaneQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Namespace: namespace, Name: "lane_queue_depth", Help: "Tasks queued across symbol lanes"},
		),
		PipelineLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_duration_seconds",
			Help:      "Time from stage 1 to a terminal stage",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.SignalsReceived, m.SignalsFused, m.Rejections, m.SubmitAttempts, m.OrdersSubmitted,
		m.ExitSignals, m.PositionsOpened, m.PositionsClosed,
		m.OpenPositions, m.KillSwitch, m.DailyPnL, m.LaneQueueDepth, m.PipelineLatency,
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePipeline records a pipeline run that started at start.
func (m *Metrics) ObservePipeline(start time.Time) {
	m.PipelineLatency.Observe(time.Since(start).Seconds())
}

// SetKillSwitch mirrors the kill switch state.
func (m *Metrics) SetKillSwitch(active bool) {
	if active {
		m.KillSwitch.Set(1)
		return
	}
	m.KillSwitch.Set(0)
}

// Serve runs a standalone /metrics listener.
func (m *Metrics) Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
