package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/pkg/logger"
)

func ok(context.Context) error   { return nil }
func down(context.Context) error { return errors.New("connection refused") }

func serve(t *testing.T, h http.HandlerFunc) (int, HealthStatus) {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	var status HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	return rec.Code, status
}

func TestHandler_Liveness(t *testing.T) {
	h := New(logger.Nop(), "onboardr", "test")
	rec := httptest.NewRecorder()
	h.HandleLiveness(rec, httptest.NewRequest(http.MethodGet, "/live", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"alive"}`, rec.Body.String())
}

func TestHandler_Readiness(t *testing.T) {
	tests := []struct {
		name     string
		critical bool
		check    Check
		wantCode int
	}{
		{"all healthy", true, ok, http.StatusOK},
		{"critical failure", true, down, http.StatusServiceUnavailable},
		{"optional failure", false, down, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New(logger.Nop(), "onboardr", "test")
			h.AddCheck("cache", ok, true)
			h.AddCheck("dep", tt.check, tt.critical)

			code, status := serve(t, h.HandleReadiness)
			assert.Equal(t, tt.wantCode, code)
			assert.Len(t, status.Checks, 2)
			assert.Equal(t, "onboardr", status.Service)
		})
	}
}

func TestHandler_Health(t *testing.T) {
	t.Run("degraded when an optional check fails", func(t *testing.T) {
		h := New(logger.Nop(), "onboardr", "test")
		h.AddCheck("orchestration", ok, true)
		h.AddCheck("clickhouse", down, false)

		code, status := serve(t, h.HandleHealth)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusDegraded, status.Status)
		assert.Equal(t, "connection refused", status.Checks["clickhouse"].Error)
		assert.Equal(t, StatusHealthy, status.Checks["orchestration"].Status)
	})

	t.Run("unhealthy when a critical check fails", func(t *testing.T) {
		h := New(logger.Nop(), "onboardr", "test")
		h.AddCheck("orchestration", down, true)
		h.AddCheck("clickhouse", down, false)

		code, status := serve(t, h.HandleHealth)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, StatusUnhealthy, status.Status)
	})

	t.Run("healthy with no checks", func(t *testing.T) {
		h := New(logger.Nop(), "onboardr", "test")
		code, status := serve(t, h.HandleHealth)
		assert.Equal(t, http.StatusOK, code)
		assert.Equal(t, StatusHealthy, status.Status)
	})
}
