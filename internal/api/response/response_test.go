package response

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/pkg/errors"
)

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode int
		wantBody string
	}{
		{
			name:     "invalid input keeps message",
			err:      errors.Wrap(errors.ErrInvalidInput, "amount must be positive"),
			wantCode: http.StatusBadRequest,
			wantBody: `{"status":"error","message":"amount must be positive: invalid input","code":"INVALID_INPUT"}`,
		},
		{
			name:     "not found",
			err:      errors.Wrap(errors.ErrNotFound, "trade t1"),
			wantCode: http.StatusNotFound,
			wantBody: `{"status":"error","message":"trade t1: resource not found","code":"NOT_FOUND"}`,
		},
		{
			name:     "config error is masked",
			err:      errors.Wrap(errors.ErrConfig, "SOROSWAP_API_KEY missing"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"status":"error","message":"Server configuration error","code":"CONFIG_ERROR"}`,
		},
		{
			name:     "internal error is masked",
			err:      errors.New("dial tcp: refused"),
			wantCode: http.StatusInternalServerError,
			wantBody: `{"status":"error","message":"Internal server error","code":"INTERNAL_ERROR"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			FromError(rec, tt.err)
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.JSONEq(t, tt.wantBody, rec.Body.String())
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestDecode(t *testing.T) {
	var dest struct {
		AgentID string `json:"agentId"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agentId":"trading"}`))
	require.NoError(t, Decode(req, &dest))
	assert.Equal(t, "trading", dest.AgentID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"agent":1}`))
	err := Decode(req, &dest)
	assert.ErrorIs(t, err, errors.ErrInvalidInput)
}
