package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/internal/agents"
	"onboardr/internal/api/health"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

type fakeOrchestrator struct {
	mu       sync.Mutex
	started  int
	startErr error
	result   orchestration.Result
	refresh  []string
}

func (f *fakeOrchestrator) Start(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started++
	return f.startErr
}

func (f *fakeOrchestrator) Status() orchestration.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return orchestration.Status{Running: f.started > 0 && f.startErr == nil, TotalRuns: 3}
}

func (f *fakeOrchestrator) RefreshData(ctx context.Context, agentID string) (orchestration.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh = append(f.refresh, agentID)
	if agentID == "missing" {
		return orchestration.Result{}, errors.Wrapf(errors.ErrAgentNotFound, "agent %q", agentID)
	}
	return f.result, nil
}

type fakeTrades struct {
	mu     sync.Mutex
	trades map[string]agents.TradeRequest
}

func (f *fakeTrades) AddTrade(in agents.TradeInput) (string, error) {
	if in.FromToken == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "fromToken and toToken are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	id := "trade-1"
	f.trades[id] = agents.TradeRequest{ID: id, FromToken: in.FromToken, ToToken: in.ToToken, Amount: in.Amount, Status: agents.TradePending}
	return id, nil
}

func (f *fakeTrades) Trade(id string) (agents.TradeRequest, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trades[id]
	return t, ok
}

func (f *fakeTrades) Queue() []agents.TradeRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]agents.TradeRequest, 0, len(f.trades))
	for _, t := range f.trades {
		out = append(out, t)
	}
	return out
}

func (f *fakeTrades) CancelTrade(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.trades[id]
	if !ok || t.Status != agents.TradePending {
		return false
	}
	delete(f.trades, id)
	return true
}

type fakeAlerts struct {
	alerts    []agents.Alert
	triggered []agents.Alert
	cleared   bool
}

func (f *fakeAlerts) AddAlert(in agents.AlertInput) (string, error) {
	if in.Type == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "unknown alert type")
	}
	f.alerts = append(f.alerts, agents.Alert{ID: "alert-1", Type: in.Type, Threshold: in.Threshold})
	return "alert-1", nil
}

func (f *fakeAlerts) Alerts() []agents.Alert          { return f.alerts }
func (f *fakeAlerts) TriggeredAlerts() []agents.Alert { return f.triggered }
func (f *fakeAlerts) ClearTriggeredAlerts()           { f.cleared = true }

func (f *fakeAlerts) RemoveAlert(id string) bool {
	for i, al := range f.alerts {
		if al.ID == id && !al.Triggered {
			f.alerts = append(f.alerts[:i], f.alerts[i+1:]...)
			return true
		}
	}
	return false
}

type fixture struct {
	handler http.Handler
	orch    *fakeOrchestrator
	trades  *fakeTrades
	alerts  *fakeAlerts
}

func newFixture() *fixture {
	f := &fixture{
		orch:   &fakeOrchestrator{result: orchestration.Result{Success: true, Timestamp: time.Now()}},
		trades: &fakeTrades{trades: map[string]agents.TradeRequest{}},
		alerts: &fakeAlerts{},
	}
	log := logger.Nop()
	f.handler = NewHandler(ServerConfig{ServiceName: "onboardr", Version: "test"}, Routes{
		Health:        health.New(log, "onboardr", "test"),
		Orchestration: NewOrchestrationHandler(f.orch, log),
		Trades:        NewTradeHandler(f.trades),
		Alerts:        NewAlertHandler(f.alerts),
	}, log)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestServer_ServiceInfoAndProbes(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"service":"onboardr","version":"test","status":"running"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/live", "").Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/ready", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/nope", "").Code)
}

func TestServer_OrchestrationRoutes(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/orchestration/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, 1, f.orch.started)

	rec = f.do(t, http.MethodGet, "/api/orchestration/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, true, data["running"])

	// GET is not routed for start
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(t, http.MethodGet, "/api/orchestration/start", "").Code)
}

func TestServer_StartFailure(t *testing.T) {
	f := newFixture()
	f.orch.startErr = errors.New("redis unreachable")

	rec := f.do(t, http.MethodPost, "/api/orchestration/start", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, errors.CodeInternal, decodeBody(t, rec)["code"])
}

func TestServer_Refresh(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		result   orchestration.Result
		wantCode int
		wantID   string
	}{
		{"default agent", "", orchestration.Result{Success: true}, http.StatusOK, ""},
		{"named agent", `{"agentId":"analytics"}`, orchestration.Result{Success: true}, http.StatusOK, "analytics"},
		{"unknown agent", `{"agentId":"missing"}`, orchestration.Result{}, http.StatusNotFound, "missing"},
		{"already running", `{"agentId":"trading"}`, orchestration.Result{Err: errors.ErrAgentRunning}, http.StatusConflict, "trading"},
		{"run failed", `{"agentId":"trading"}`, orchestration.Result{Err: errors.ErrTimeout}, http.StatusBadGateway, "trading"},
		{"malformed", `{"agent":`, orchestration.Result{}, http.StatusBadRequest, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.orch.result = tt.result

			rec := f.do(t, http.MethodPost, "/api/orchestration/refresh", tt.body)
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusBadRequest {
				assert.Equal(t, []string{tt.wantID}, f.orch.refresh)
			}
		})
	}
}

func TestServer_TradeRoutes(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/trades",
		`{"fromToken":"XLM","toToken":"USDC","amount":"100","userAddress":"GABC"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "trade-1", data["id"])
	assert.Equal(t, "pending", data["status"])
	assert.True(t, decimal.NewFromInt(100).Equal(f.trades.trades["trade-1"].Amount))

	rec = f.do(t, http.MethodGet, "/api/trades/trade-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/trades", "")
	assert.Len(t, decodeBody(t, rec)["data"], 1)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/trades/trade-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/trades/trade-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/trades/trade-1", "").Code)

	rec = f.do(t, http.MethodPost, "/api/trades", `{"toToken":"USDC","amount":"1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, errors.CodeInvalidInput, decodeBody(t, rec)["code"])
}

func TestServer_AlertRoutes(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/api/alerts", `{"type":"tvl","condition":"above","threshold":1000}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "alert-1", data["id"])

	rec = f.do(t, http.MethodGet, "/api/alerts", "")
	assert.Len(t, decodeBody(t, rec)["data"], 1)

	f.alerts.triggered = []agents.Alert{{ID: "alert-9", Triggered: true}}
	rec = f.do(t, http.MethodGet, "/api/alerts?triggered=true", "")
	items := decodeBody(t, rec)["data"].([]interface{})
	require.Len(t, items, 1)
	assert.Equal(t, "alert-9", items[0].(map[string]interface{})["id"])

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/alerts/triggered", "").Code)
	assert.True(t, f.alerts.cleared)

	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/api/alerts/alert-1", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodDelete, "/api/alerts/alert-1", "").Code)

	rec = f.do(t, http.MethodPost, "/api/alerts", `{"condition":"above"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
