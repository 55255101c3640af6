package restclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/pkg/errors"
)

func TestClient_GetDecodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/pools", r.URL.Path)
		assert.Equal(t, "mainnet", r.URL.Query().Get("network"))
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := New("soroswap", srv.URL+"/", time.Second, WithHeader("Authorization", "Bearer k"))

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.Get(context.Background(), "/pools?network=mainnet", &out))
	assert.True(t, out.OK)
}

func TestClient_PostSendsJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		_ = json.NewEncoder(w).Encode(map[string]string{"echo": in["v"]})
	}))
	defer srv.Close()

	c := New("soroswap", srv.URL, time.Second)

	var out map[string]string
	require.NoError(t, c.Post(context.Background(), "/quote", map[string]string{"v": "x"}, &out))
	assert.Equal(t, "x", out["echo"])
}

func TestClient_StatusErrors(t *testing.T) {
	tests := []struct {
		code   int
		target error
	}{
		{http.StatusTooManyRequests, errors.ErrRateLimitExceeded},
		{http.StatusNotFound, errors.ErrNotFound},
		{http.StatusBadGateway, errors.ErrUnavailable},
		{http.StatusBadRequest, errors.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.code)
			}))
			defer srv.Close()

			err := New("horizon", srv.URL, time.Second).Get(context.Background(), "/fee_stats", nil)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.target))

			var se *StatusError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.code, se.StatusCode)
			assert.Equal(t, "nope", se.Body)
		})
	}
}

func TestClient_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := New("defindex", srv.URL, time.Second).Get(ctx, "/vaults", nil)
	assert.Error(t, err)
}
