package agents

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onboardr/internal/cache"
	"onboardr/internal/domain/defi"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
)

func TestAlertAgent_TriggersExactlyOnce(t *testing.T) {
	actx := newTestContext()
	ctx := context.Background()
	require.NoError(t, actx.Cache.Set(ctx, KeyMetrics, defi.MarketMetrics{TVL: 150, Timestamp: time.Now().UnixMilli()}, time.Minute))

	agent := NewAlertAgent(quick(AlertConfig()), actx)

	var fired []orchestration.Event
	agent.Subscribe(func(ev orchestration.Event) {
		if ev.Type == orchestration.EventAlertTriggered {
			fired = append(fired, ev)
		}
	})

	id, err := agent.AddAlert(AlertInput{
		Type:      AlertTVL,
		Condition: ConditionAbove,
		Threshold: 100,
		Message:   "TVL above 100",
	})
	require.NoError(t, err)

	first := agent.Run(ctx)
	require.True(t, first.Success)
	assert.Equal(t, 1, first.Data.(AlertSummary).Triggered)

	second := agent.Run(ctx)
	require.True(t, second.Success)
	assert.Equal(t, AlertSummary{Checked: 0, Triggered: 0}, second.Data)

	require.Len(t, fired, 1)
	alert := fired[0].Data.(Alert)
	assert.Equal(t, id, alert.ID)
	assert.True(t, alert.Triggered)
	require.NotNil(t, alert.TriggeredAt)

	cached, ok := cache.Value[Alert](ctx, actx.Cache, "alert:"+id+":triggered")
	require.True(t, ok)
	assert.Equal(t, id, cached.ID)

	assert.Len(t, agent.TriggeredAlerts(), 1)
	agent.ClearTriggeredAlerts()
	assert.Empty(t, agent.TriggeredAlerts())
	assert.True(t, agent.Alerts()[0].Triggered)
}

func TestMarketSnapshot_Check(t *testing.T) {
	snap := marketSnapshot{
		tokens: []defi.Token{
			{Symbol: "XLM", Price: 0.12, PriceChange24h: -7.5},
			{Symbol: "DEAD", Price: 0},
		},
		pools:   []defi.Pool{{Pair: "XLM/USDC", APR: 14}},
		metrics: &defi.MarketMetrics{TVL: 5000, Volume24h: 800},
		network: &defi.NetworkStats{GasPrice: 0.00001},
	}

	tests := []struct {
		name  string
		alert Alert
		want  bool
	}{
		{"price above", Alert{Type: AlertPrice, Condition: ConditionAbove, Token: "XLM", Threshold: 0.1}, true},
		{"price below", Alert{Type: AlertPrice, Condition: ConditionBelow, Token: "XLM", Threshold: 0.1}, false},
		{"price change uses magnitude", Alert{Type: AlertPrice, Condition: ConditionChange, Token: "XLM", Threshold: 5}, true},
		{"unknown token", Alert{Type: AlertPrice, Condition: ConditionAbove, Token: "BTC", Threshold: 0}, false},
		{"zero price", Alert{Type: AlertPrice, Condition: ConditionBelow, Token: "DEAD", Threshold: 1}, false},
		{"tvl below", Alert{Type: AlertTVL, Condition: ConditionBelow, Threshold: 6000}, true},
		{"tvl change unsupported", Alert{Type: AlertTVL, Condition: ConditionChange, Threshold: 1}, false},
		{"volume above", Alert{Type: AlertVolume, Condition: ConditionAbove, Threshold: 1000}, false},
		{"apy above", Alert{Type: AlertAPY, Condition: ConditionAbove, Pool: "XLM/USDC", Threshold: 10}, true},
		{"apy unknown pool", Alert{Type: AlertAPY, Condition: ConditionAbove, Pool: "AQUA/XLM", Threshold: 0}, false},
		{"gas below", Alert{Type: AlertGas, Condition: ConditionBelow, Threshold: 0.0001}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, snap.check(tt.alert))
		})
	}

	t.Run("missing data never triggers", func(t *testing.T) {
		empty := marketSnapshot{}
		assert.False(t, empty.check(Alert{Type: AlertTVL, Condition: ConditionBelow, Threshold: 1}))
		assert.False(t, empty.check(Alert{Type: AlertGas, Condition: ConditionBelow, Threshold: 1}))
	})
}

func TestAlertAgent_RemoveAlert(t *testing.T) {
	actx := newTestContext()
	ctx := context.Background()
	require.NoError(t, actx.Cache.Set(ctx, KeyMetrics, defi.MarketMetrics{Volume24h: 10}, time.Minute))

	agent := NewAlertAgent(quick(AlertConfig()), actx)

	fires, err := agent.AddAlert(AlertInput{Type: AlertVolume, Condition: ConditionBelow, Threshold: 100})
	require.NoError(t, err)
	waits, err := agent.AddAlert(AlertInput{Type: AlertVolume, Condition: ConditionAbove, Threshold: 100})
	require.NoError(t, err)

	require.True(t, agent.Run(ctx).Success)

	assert.False(t, agent.RemoveAlert(fires), "triggered alerts stay")
	assert.True(t, agent.RemoveAlert(waits))
	assert.False(t, agent.RemoveAlert("alert-unknown"))
	assert.Len(t, agent.Alerts(), 1)
}

func TestAlertInput_Validate(t *testing.T) {
	tests := []struct {
		name string
		in   AlertInput
	}{
		{"unknown type", AlertInput{Type: "funding", Condition: ConditionAbove}},
		{"unknown condition", AlertInput{Type: AlertTVL, Condition: "equals"}},
		{"price without token", AlertInput{Type: AlertPrice, Condition: ConditionAbove}},
		{"apy without pool", AlertInput{Type: AlertAPY, Condition: ConditionAbove}},
		{"change on tvl", AlertInput{Type: AlertTVL, Condition: ConditionChange}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.in.validate(), errors.ErrInvalidInput)
		})
	}
}
