// Package api_test provides tests for the API server.
package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ghantakiran/axion-stock-sub004/internal/api"
	"github.com/ghantakiran/axion-stock-sub004/internal/config"
	"github.com/ghantakiran/axion-stock-sub004/internal/events"
	"github.com/ghantakiran/axion-stock-sub004/internal/execution"
	"github.com/ghantakiran/axion-stock-sub004/internal/orchestrator"
	"github.com/ghantakiran/axion-stock-sub004/pkg/types"
	"github.com/ghantakiran/axion-stock-sub004/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var sessionNow = time.Date(2026, 10, 14, 15, 0, 0, 0, time.UTC)

type testEnv struct {
	orch *orchestrator.Orchestrator
	ts   *httptest.Server
}

func setupTestServer(t *testing.T, opts api.Options) *testEnv {
	t.Helper()
	logger := zap.NewNop()

	router := execution.NewSymbolRouter(logger, execution.DefaultRouterConfig())
	router.Register(execution.NewPaperBroker(logger, execution.DefaultPaperConfig()))

	cfg := orchestrator.DefaultConfig()
	cfg.MetricsInterval = 0
	orch, err := orchestrator.New(logger, cfg, orchestrator.Collaborators{Router: router})
	if err != nil {
		t.Fatalf("Failed to create orchestrator: %v", err)
	}
	orch.SetClock(func() time.Time { return sessionNow })

	server := api.NewServer(logger, &types.ServerConfig{WebSocketPath: "/ws"}, orch, opts)
	ts := httptest.NewServer(server.Router())
	t.Cleanup(ts.Close)
	return &testEnv{orch: orch, ts: ts}
}

func (e *testEnv) open(t *testing.T, symbol string) {
	t.Helper()
	sig := &types.TradeSignal{
		ID:        utils.GenerateSignalID(),
		Kind:      types.SignalCloudBounceLong,
		Symbol:    symbol,
		Timeframe: types.Timeframe5m,
		Direction: types.DirectionLong,
		Price:     decimal.NewFromInt(100),
		StopLoss:  decimal.NewFromInt(98),
		Strategy:  "pullback_to_cloud",
		Timestamp: sessionNow,
	}
	if out := e.orch.Execute(context.Background(), sig, 80); !out.Accepted {
		t.Fatalf("entry on %s rejected: %+v", symbol, out.Rejection)
	}
}

func do(t *testing.T, method, url string, body interface{}) (*http.Response, map[string]interface{}) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, rd)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()

	var result map[string]interface{}
	json.NewDecoder(resp.Body).Decode(&result)
	return resp, result
}

func TestHealthEndpoint(t *testing.T) {
	env := setupTestServer(t, api.Options{})

	resp, result := do(t, "GET", env.ts.URL+"/api/v1/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if result["status"] != "stopped" {
		t.Errorf("Expected status 'stopped' before Start, got %v", result["status"])
	}
}

func TestStatusEndpoint(t *testing.T) {
	env := setupTestServer(t, api.Options{})
	env.open(t, "AAPL")

	resp, result := do(t, "GET", env.ts.URL+"/api/v1/status", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if result["openPositions"] != float64(1) {
		t.Errorf("openPositions = %v, want 1", result["openPositions"])
	}
	pipeline, ok := result["pipeline"].(map[string]interface{})
	if !ok || pipeline["accepted"] != float64(1) {
		t.Errorf("pipeline = %v", result["pipeline"])
	}
	strategies, _ := result["strategies"].([]interface{})
	if len(strategies) != 5 {
		t.Errorf("strategies = %v, want 5", strategies)
	}
}

func TestKillAndResume(t *testing.T) {
	env := setupTestServer(t, api.Options{})

	resp, result := do(t, "POST", env.ts.URL+"/api/v1/kill", map[string]string{"reason": "drawdown"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	ks, _ := result["killSwitch"].(map[string]interface{})
	if ks["active"] != true || ks["reason"] != "drawdown" {
		t.Errorf("killSwitch = %v", ks)
	}
	if !env.orch.KillSwitch().Active {
		t.Fatal("kill switch not engaged")
	}

	_, result = do(t, "POST", env.ts.URL+"/api/v1/resume", nil)
	if result["released"] != true {
		t.Errorf("released = %v", result["released"])
	}
	if env.orch.KillSwitch().Active {
		t.Error("kill switch still engaged")
	}

	_, result = do(t, "POST", env.ts.URL+"/api/v1/resume", nil)
	if result["released"] != false {
		t.Error("second resume reported a release")
	}
}

func TestPositionsEndpoints(t *testing.T) {
	env := setupTestServer(t, api.Options{})

	_, result := do(t, "GET", env.ts.URL+"/api/v1/positions", nil)
	if result["count"] != float64(0) {
		t.Errorf("count = %v, want 0", result["count"])
	}

	resp, _ := do(t, "GET", env.ts.URL+"/api/v1/positions/AAPL", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing position: status %d, want 404", resp.StatusCode)
	}

	env.open(t, "AAPL")
	env.open(t, "MSFT")

	resp, result = do(t, "GET", env.ts.URL+"/api/v1/positions/AAPL", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	if result["symbol"] != "AAPL" || result["status"] != "open" {
		t.Errorf("position = %v", result)
	}

	resp, result = do(t, "POST", env.ts.URL+"/api/v1/positions/AAPL/close", map[string]string{"reason": "operator"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("close: status %d (%v)", resp.StatusCode, result)
	}
	if result["count"] != float64(1) {
		t.Errorf("closed count = %v, want 1", result["count"])
	}

	_, result = do(t, "GET", env.ts.URL+"/api/v1/positions?closed=10", nil)
	if result["count"] != float64(1) {
		t.Errorf("open count = %v, want 1", result["count"])
	}
	closed, _ := result["closed"].([]interface{})
	if len(closed) != 1 {
		t.Errorf("closed = %v, want 1 entry", closed)
	}

	resp, _ = do(t, "GET", env.ts.URL+"/api/v1/positions?closed=x", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad closed param: status %d, want 400", resp.StatusCode)
	}

	_, result = do(t, "POST", env.ts.URL+"/api/v1/positions/close", nil)
	if result["count"] != float64(1) {
		t.Errorf("close all count = %v, want 1", result["count"])
	}
	if n := len(env.orch.Positions()); n != 0 {
		t.Errorf("positions left = %d", n)
	}

	resp, _ = do(t, "POST", env.ts.URL+"/api/v1/positions/NVDA/close", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("close unknown: status %d, want 404", resp.StatusCode)
	}
	resp, _ = do(t, "POST", env.ts.URL+"/api/v1/positions/pos_missing/unfreeze", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unfreeze unknown: status %d, want 404", resp.StatusCode)
	}
}

func TestSettingsEndpoint(t *testing.T) {
	env := setupTestServer(t, api.Options{})

	good := map[string]interface{}{
		"max_risk_per_trade":        0.02,
		"max_concurrent_positions":  3,
		"min_conviction_to_execute": 60,
		"active_timeframes":         []string{"5m", "1h"},
	}
	resp, result := do(t, "PUT", env.ts.URL+"/api/v1/settings", good)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d (%v)", resp.StatusCode, result)
	}
	if got := env.orch.Settings().MaxConcurrentPositions; got != 3 {
		t.Errorf("max positions = %d, want 3", got)
	}

	bad := map[string]interface{}{
		"max_risk_per_trade":        0.5,
		"max_concurrent_positions":  3,
		"min_conviction_to_execute": 60,
		"active_timeframes":         []string{"5m"},
	}
	resp, _ = do(t, "PUT", env.ts.URL+"/api/v1/settings", bad)
	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Errorf("invalid settings: status %d, want 422", resp.StatusCode)
	}
	if got := env.orch.Settings().MaxRiskPerTrade; got != 0.02 {
		t.Errorf("rejected settings applied: risk = %v", got)
	}
}

func TestConfigEndpoint(t *testing.T) {
	env := setupTestServer(t, api.Options{})
	resp, _ := do(t, "GET", env.ts.URL+"/api/v1/config", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("no loader: status %d, want 404", resp.StatusCode)
	}

	loader := config.NewLoader(zap.NewNop(), "")
	if _, err := loader.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	env = setupTestServer(t, api.Options{Loader: loader})

	r, err := http.Get(env.ts.URL + "/api/v1/config?format=yaml")
	if err != nil {
		t.Fatalf("Config request failed: %v", err)
	}
	defer r.Body.Close()
	body, _ := io.ReadAll(r.Body)
	if r.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", r.StatusCode)
	}
	if !strings.Contains(string(body), "max_risk_per_trade") {
		t.Errorf("yaml missing runtime settings:\n%s", body)
	}

	resp, _ = do(t, "POST", env.ts.URL+"/api/v1/config/reload", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("reload: status %d, want 200", resp.StatusCode)
	}
}

func TestRegimeAndStrategies(t *testing.T) {
	env := setupTestServer(t, api.Options{})

	_, result := do(t, "GET", env.ts.URL+"/api/v1/regime", nil)
	state, _ := result["regime"].(map[string]interface{})
	if state["label"] != "sideways" {
		t.Errorf("default regime = %v", state["label"])
	}

	resp, result := do(t, "POST", env.ts.URL+"/api/v1/regime", map[string]interface{}{"label": "crisis", "confidence": 0.9})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", resp.StatusCode)
	}
	state, _ = result["regime"].(map[string]interface{})
	if state["label"] != "crisis" {
		t.Errorf("regime = %v, want crisis", state["label"])
	}

	_, result = do(t, "GET", env.ts.URL+"/api/v1/strategies", nil)
	list, _ := result["strategies"].([]interface{})
	if len(list) != 5 {
		t.Fatalf("strategies = %d, want 5", len(list))
	}
	for _, item := range list {
		st := item.(map[string]interface{})
		if st["name"] == "session_scalp" && st["enabled"] != false {
			t.Error("scalp should be disabled in crisis")
		}
	}

	resp, _ = do(t, "POST", env.ts.URL+"/api/v1/regime", map[string]interface{}{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing label: status %d, want 400", resp.StatusCode)
	}
}

func TestOrdersEndpoint(t *testing.T) {
	env := setupTestServer(t, api.Options{})
	env.open(t, "AAPL")

	_, result := do(t, "GET", env.ts.URL+"/api/v1/orders", nil)
	if result["count"] != float64(0) {
		t.Errorf("pending = %v, want 0 after a filled entry", result["count"])
	}
	if _, ok := result["stats"]; !ok {
		t.Error("missing order stats")
	}
}

func TestHubHandleEventWithoutClients(t *testing.T) {
	hub := api.NewHub(zap.NewNop())
	ev := events.NewKillSwitchEvent(true, "test", nil)
	if err := hub.HandleEvent(ev); err != nil {
		t.Fatalf("HandleEvent: %v", err)
	}
	if hub.ClientCount() != 0 {
		t.Error("unexpected clients")
	}
	hub.Stop()
	hub.Stop()
}

func TestPerformanceAndFeedEndpoints(t *testing.T) {
	env := setupTestServer(t, api.Options{})

	_, result := do(t, "GET", env.ts.URL+"/api/v1/performance", nil)
	if result["totalTrades"] != float64(0) {
		t.Errorf("totalTrades = %v before any close", result["totalTrades"])
	}

	env.open(t, "AAPL")
	if resp, _ := do(t, "POST", env.ts.URL+"/api/v1/positions/AAPL/close", nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("close: status %d", resp.StatusCode)
	}

	_, result = do(t, "GET", env.ts.URL+"/api/v1/performance", nil)
	if result["totalTrades"] != float64(1) {
		t.Fatalf("totalTrades = %v, want 1", result["totalTrades"])
	}
	byExit, _ := result["byExit"].(map[string]interface{})
	if _, ok := byExit["emergency_close"]; !ok {
		t.Errorf("byExit = %v, want an emergency_close bucket", byExit)
	}

	_, result = do(t, "GET", env.ts.URL+"/api/v1/feed", nil)
	if result["enabled"] != false {
		t.Errorf("feed enabled = %v without a feed", result["enabled"])
	}
}
