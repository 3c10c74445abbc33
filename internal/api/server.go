// Package api serves the orchestrator's control and status endpoints over
// HTTP and streams its events over WebSocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/config"
	"github.com/ghantakiran/axion-stock-sub004/internal/data"
	"github.com/ghantakiran/axion-stock-sub004/internal/exits"
	"github.com/ghantakiran/axion-stock-sub004/internal/metrics"
	"github.com/ghantakiran/axion-stock-sub004/internal/orchestrator"
	"github.com/ghantakiran/axion-stock-sub004/internal/performance"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Options are the optional collaborators of the server.
type Options struct {
	Loader      *config.Loader        // enables /config and /config/reload
	Metrics     *metrics.Metrics      // served on /metrics when enabled
	Hub         *Hub                  // serves the WebSocket path
	Feed        *data.Feed            // reported on /feed
	Performance *performance.Analyzer // builds /performance
}

// Server is the HTTP/WebSocket API server.
type Server struct {
	logger     *zap.Logger
	config     *types.ServerConfig
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	upgrader   websocket.Upgrader

	orch    *orchestrator.Orchestrator
	loader  *config.Loader
	metrics *metrics.Metrics
	hub     *Hub
	feed    *data.Feed
	perf    *performance.Analyzer
}

// NewServer creates a new API server.
func NewServer(logger *zap.Logger, cfg *types.ServerConfig, orch *orchestrator.Orchestrator, opts Options) *Server {
	s := &Server{
		logger:  logger.Named("api"),
		config:  cfg,
		router:  mux.NewRouter(),
		orch:    orch,
		loader:  opts.Loader,
		metrics: opts.Metrics,
		hub:     opts.Hub,
		feed:    opts.Feed,
		perf:    opts.Performance,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	if s.perf == nil {
		s.perf = performance.NewAnalyzer(logger, decimal.Zero)
	}

	s.setupRoutes()
	s.handler = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.router)
	return s
}

// setupRoutes configures HTTP routes.
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/status", s.handleStatus).Methods("GET")

	// Positions
	api.HandleFunc("/positions", s.handleGetPositions).Methods("GET")
	api.HandleFunc("/positions/close", s.handleCloseAll).Methods("POST")
	api.HandleFunc("/positions/{symbol}", s.handleGetPosition).Methods("GET")
	api.HandleFunc("/positions/{symbol}/close", s.handleClosePosition).Methods("POST")
	api.HandleFunc("/positions/{id}/unfreeze", s.handleUnfreeze).Methods("POST")

	// Kill switch
	api.HandleFunc("/kill", s.handleKill).Methods("POST")
	api.HandleFunc("/resume", s.handleResume).Methods("POST")

	// Settings and configuration
	api.HandleFunc("/settings", s.handleGetSettings).Methods("GET")
	api.HandleFunc("/settings", s.handlePutSettings).Methods("PUT")
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/config/reload", s.handleReloadConfig).Methods("POST")

	// Regime, strategies, orders
	api.HandleFunc("/regime", s.handleGetRegime).Methods("GET")
	api.HandleFunc("/regime", s.handleSetRegime).Methods("POST")
	api.HandleFunc("/strategies", s.handleGetStrategies).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/feed", s.handleGetFeed).Methods("GET")
	api.HandleFunc("/performance", s.handleGetPerformance).Methods("GET")

	if s.metrics != nil && s.config.EnableMetrics {
		s.router.Handle("/metrics", s.metrics.Handler())
	}
	if s.hub != nil && s.config.WebSocketPath != "" {
		s.router.HandleFunc(s.config.WebSocketPath, s.handleWebSocket)
	}
}

// Router returns the CORS-wrapped handler.
func (s *Server) Router() http.Handler {
	return s.handler
}

// Start starts the HTTP server. It blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting API server", zap.String("addr", addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server.
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Stop()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

type regimeRequest struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	if !s.orch.IsRunning() {
		status = "stopped"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": status,
		"time":   time.Now().Unix(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Status())
}

// handleGetPositions returns open and frozen positions; ?closed=N adds the
// last N closed ones.
func (s *Server) handleGetPositions(w http.ResponseWriter, r *http.Request) {
	open := s.orch.Positions()
	sort.Slice(open, func(i, j int) bool { return open[i].Symbol < open[j].Symbol })

	resp := map[string]interface{}{
		"positions": open,
		"count":     len(open),
	}
	if raw := r.URL.Query().Get("closed"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "closed must be a non-negative integer")
			return
		}
		resp["closed"] = s.orch.ClosedPositions(n)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	p, ok := s.orch.Position(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no position on %s", symbol))
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleClosePosition(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	req := decodeReason(r, "manual close")

	closed, err := s.orch.EmergencyClose(r.Context(), symbol, req.Reason)
	if errors.Is(err, orchestrator.ErrPositionNotFound) && len(closed) == 0 {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeCloseResult(w, closed, err)
}

func (s *Server) handleCloseAll(w http.ResponseWriter, r *http.Request) {
	req := decodeReason(r, "manual close all")
	closed, err := s.orch.EmergencyClose(r.Context(), "", req.Reason)
	s.writeCloseResult(w, closed, err)
}

func (s *Server) writeCloseResult(w http.ResponseWriter, closed []*exits.ExitSignal, err error) {
	resp := map[string]interface{}{
		"exits": closed,
		"count": len(closed),
	}
	status := http.StatusOK
	if err != nil {
		s.logger.Warn("Manual close incomplete", zap.Error(err))
		resp["error"] = err.Error()
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleUnfreeze(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.orch.Unfreeze(id)
	switch {
	case errors.Is(err, orchestrator.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, exits.ErrInvalidTransition):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		writeJSON(w, http.StatusOK, p)
	}
}

func (s *Server) handleKill(w http.ResponseWriter, r *http.Request) {
	req := decodeReason(r, "manual")
	cancelled := s.orch.Kill(r.Context(), req.Reason)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"killSwitch":      s.orch.KillSwitch(),
		"cancelledOrders": cancelled,
	})
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	req := decodeReason(r, "manual")
	released := s.orch.Resume(req.Reason)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"killSwitch": s.orch.KillSwitch(),
		"released":   released,
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.Settings())
}

// handlePutSettings applies runtime settings without a restart.
func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var settings types.RuntimeSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid settings: "+err.Error())
		return
	}
	if err := s.orch.UpdateSettings(settings); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Settings())
}

// handleGetConfig returns the loaded configuration as JSON, or as YAML with
// ?format=yaml.
func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil || s.loader.Current() == nil {
		writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	cfg := s.loader.Current()
	if r.URL.Query().Get("format") == "yaml" {
		out, err := config.YAML(cfg)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		w.Write(out)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	if s.loader == nil {
		writeError(w, http.StatusNotFound, "no configuration loaded")
		return
	}
	cfg, err := s.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	if err := s.orch.UpdateSettings(cfg.Runtime); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.orch.Settings())
}

func (s *Server) handleGetRegime(w http.ResponseWriter, r *http.Request) {
	state, adj := s.orch.Regime()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"regime":      state,
		"adjustments": adj,
	})
}

func (s *Server) handleSetRegime(w http.ResponseWriter, r *http.Request) {
	var req regimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Label == "" {
		writeError(w, http.StatusBadRequest, "label is required")
		return
	}
	state := s.orch.UpdateRegime(req.Label, req.Confidence)
	_, adj := s.orch.Regime()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"regime":      state,
		"adjustments": adj,
	})
}

func (s *Server) handleGetStrategies(w http.ResponseWriter, r *http.Request) {
	reg := s.orch.Registry()
	_, adj := s.orch.Regime()

	list := make([]map[string]interface{}, 0)
	for _, name := range reg.List() {
		st, ok := reg.Get(name)
		if !ok {
			continue
		}
		list = append(list, map[string]interface{}{
			"name":        st.Name(),
			"description": st.Description(),
			"family":      st.Family(),
			"parameters":  st.Parameters(),
			"enabled":     !adj.Disables(st.Name()),
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"strategies": list,
		"count":      len(list),
	})
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	pending := s.orch.Orders().PendingOrders()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": pending,
		"count":  len(pending),
		"stats":  s.orch.Orders().GetOrderStats(),
	})
}

func (s *Server) handleGetPerformance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.perf.Analyze(s.orch.ClosedPositions(0)))
}

func (s *Server) handleGetFeed(w http.ResponseWriter, r *http.Request) {
	if s.feed == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"enabled": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"stats":   s.feed.Stats(),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeWS(&s.upgrader, w, r)
}

// decodeReason reads an optional {"reason": "..."} body.
func decodeReason(r *http.Request, fallback string) reasonRequest {
	var req reasonRequest
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Reason == "" {
		req.Reason = fallback
	}
	return req
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
