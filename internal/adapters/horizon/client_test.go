package horizon

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/internal/adapters/config"
)

func TestClient_NetworkStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/fee_stats":
			_, _ = w.Write([]byte(`{
				"last_ledger": "50000000",
				"last_ledger_base_fee": "100",
				"ledger_capacity_usage": "0.42",
				"fee_charged": {"p90": "250"}
			}`))
		case "/ledgers":
			assert.Equal(t, "desc", r.URL.Query().Get("order"))
			_, _ = w.Write([]byte(`{"_embedded":{"records":[{
				"sequence": 50000001,
				"closed_at": "2024-05-01T12:00:00Z",
				"successful_transaction_count": 180,
				"failed_transaction_count": 20,
				"operation_count": 600
			}]}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(config.HorizonConfig{BaseURL: srv.URL, Timeout: time.Second})

	stats, err := c.NetworkStats(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 0.00001, stats.GasPrice, 1e-12)
	assert.Equal(t, int64(100), stats.BaseFeeStroops)
	assert.Equal(t, int64(250), stats.FeeP90Stroops)
	assert.InDelta(t, 0.42, stats.CapacityUsage, 1e-9)
	assert.Equal(t, int64(50000001), stats.LatestLedger)
	assert.Equal(t, int64(200), stats.TotalTransactions)
	assert.Equal(t, int64(600), stats.TotalOperations)
	assert.Equal(t, 2024, stats.LedgerClosedAt.Year())
}

func TestClient_NetworkStatsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/fee_stats" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"_embedded":{"records":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(config.HorizonConfig{BaseURL: srv.URL, Timeout: time.Second})
	_, err := c.NetworkStats(context.Background())
	assert.Error(t, err)
}
