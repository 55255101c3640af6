package agents

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"onboardr/internal/cache"
	"onboardr/internal/domain/defi"
	"onboardr/internal/metrics"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
)

// AlertType names the metric an alert watches
type AlertType string

const (
	AlertPrice  AlertType = "price"
	AlertTVL    AlertType = "tvl"
	AlertVolume AlertType = "volume"
	AlertAPY    AlertType = "apy"
	AlertGas    AlertType = "gas"
)

// Condition compares the metric against the threshold.
// Change is only meaningful for price alerts, where it checks |priceChange24h|.
type Condition string

const (
	ConditionAbove  Condition = "above"
	ConditionBelow  Condition = "below"
	ConditionChange Condition = "change"
)

const triggeredAlertTTL = time.Hour

// Alert fires once when its condition first holds
type Alert struct {
	ID          string     `json:"id"`
	Type        AlertType  `json:"type"`
	Condition   Condition  `json:"condition"`
	Threshold   float64    `json:"threshold"`
	Token       string     `json:"token,omitempty"`
	Pool        string     `json:"pool,omitempty"`
	Message     string     `json:"message"`
	Triggered   bool       `json:"triggered"`
	CreatedAt   time.Time  `json:"createdAt"`
	TriggeredAt *time.Time `json:"triggeredAt,omitempty"`
}

// AlertInput is what a caller supplies to create an alert
type AlertInput struct {
	Type      AlertType `json:"type"`
	Condition Condition `json:"condition"`
	Threshold float64   `json:"threshold"`
	Token     string    `json:"token,omitempty"`
	Pool      string    `json:"pool,omitempty"`
	Message   string    `json:"message"`
}

func (in AlertInput) validate() error {
	switch in.Type {
	case AlertPrice:
		if in.Token == "" {
			return errors.Wrap(errors.ErrInvalidInput, "price alerts need a token")
		}
	case AlertAPY:
		if in.Pool == "" {
			return errors.Wrap(errors.ErrInvalidInput, "apy alerts need a pool")
		}
	case AlertTVL, AlertVolume, AlertGas:
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown alert type %q", in.Type)
	}

	switch in.Condition {
	case ConditionAbove, ConditionBelow:
	case ConditionChange:
		if in.Type != AlertPrice {
			return errors.Wrap(errors.ErrInvalidInput, "change condition applies to price alerts only")
		}
	default:
		return errors.Wrapf(errors.ErrInvalidInput, "unknown condition %q", in.Condition)
	}
	return nil
}

// AlertSummary is the result of one alert run
type AlertSummary struct {
	Checked   int     `json:"checked"`
	Triggered int     `json:"triggered"`
	Alerts    []Alert `json:"alerts,omitempty"`
}

// AlertAgent evaluates untriggered alerts against cached market data
type AlertAgent struct {
	*orchestration.Agent

	mu        sync.Mutex
	alerts    []*Alert
	triggered []Alert
}

// NewAlertAgent creates the agent
func NewAlertAgent(cfg orchestration.AgentConfig, actx orchestration.Context) *AlertAgent {
	a := &AlertAgent{}
	a.Agent = orchestration.NewAgent(cfg, actx, a.execute)
	return a
}

func (a *AlertAgent) execute(ctx context.Context) (interface{}, error) {
	a.mu.Lock()
	active := make([]*Alert, 0, len(a.alerts))
	for _, al := range a.alerts {
		if !al.Triggered {
			active = append(active, al)
		}
	}
	a.mu.Unlock()

	summary := AlertSummary{Checked: len(active)}
	if len(active) == 0 {
		return summary, nil
	}

	snap := a.snapshot(ctx)
	for _, al := range active {
		if !snap.check(*al) {
			continue
		}

		fired, ok := a.markTriggered(al)
		if !ok {
			continue
		}
		summary.Triggered++
		summary.Alerts = append(summary.Alerts, fired)

		metrics.AlertsTriggered.WithLabelValues(string(fired.Type)).Inc()
		a.Emit(orchestration.EventAlertTriggered, fired)
		if err := a.Context().Cache.Set(ctx, "alert:"+fired.ID+":triggered", fired, triggeredAlertTTL); err != nil {
			a.Logger().Warnw("Failed to cache triggered alert", "alert_id", fired.ID, "error", err)
		}
		a.Logger().Infow("Alert triggered", "alert_id", fired.ID, "type", fired.Type, "message", fired.Message)
	}
	return summary, nil
}

// markTriggered flips the alert once. ok is false when it was removed or
// already triggered in the meantime.
func (a *AlertAgent) markTriggered(al *Alert) (Alert, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if al.Triggered {
		return Alert{}, false
	}
	found := false
	for _, cur := range a.alerts {
		if cur == al {
			found = true
			break
		}
	}
	if !found {
		return Alert{}, false
	}

	now := time.Now()
	al.Triggered = true
	al.TriggeredAt = &now
	a.triggered = append(a.triggered, *al)
	return *al, true
}

// marketSnapshot is the cached data one run evaluates against
type marketSnapshot struct {
	tokens  []defi.Token
	pools   []defi.Pool
	metrics *defi.MarketMetrics
	network *defi.NetworkStats
}

func (a *AlertAgent) snapshot(ctx context.Context) marketSnapshot {
	c := a.Context().Cache
	var snap marketSnapshot

	snap.tokens, _ = cache.Value[[]defi.Token](ctx, c, KeyTokens)
	snap.pools, _ = cache.Value[[]defi.Pool](ctx, c, KeyPools)
	if m, ok := cache.Value[defi.MarketMetrics](ctx, c, KeyMetrics); ok {
		snap.metrics = &m
	}
	if n, ok := cache.Value[defi.NetworkStats](ctx, c, KeyNetwork); ok {
		snap.network = &n
	}
	return snap
}

// check reports whether an alert's condition holds. Missing data never triggers.
func (s marketSnapshot) check(al Alert) bool {
	switch al.Type {
	case AlertPrice:
		for _, t := range s.tokens {
			if t.Symbol != al.Token || t.Price == 0 {
				continue
			}
			if al.Condition == ConditionChange {
				return math.Abs(t.PriceChange24h) > al.Threshold
			}
			return compare(al.Condition, t.Price, al.Threshold)
		}
	case AlertTVL:
		if s.metrics != nil {
			return compare(al.Condition, s.metrics.TVL, al.Threshold)
		}
	case AlertVolume:
		if s.metrics != nil {
			return compare(al.Condition, s.metrics.Volume24h, al.Threshold)
		}
	case AlertAPY:
		for _, p := range s.pools {
			if p.Pair == al.Pool && p.APR != 0 {
				return compare(al.Condition, p.APR, al.Threshold)
			}
		}
	case AlertGas:
		if s.network != nil {
			return compare(al.Condition, s.network.GasPrice, al.Threshold)
		}
	}
	return false
}

func compare(cond Condition, value, threshold float64) bool {
	switch cond {
	case ConditionAbove:
		return value > threshold
	case ConditionBelow:
		return value < threshold
	default:
		return false
	}
}

// AddAlert registers an alert and wakes the agent if it is idle
func (a *AlertAgent) AddAlert(in AlertInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	al := &Alert{
		ID:        "alert-" + uuid.NewString(),
		Type:      in.Type,
		Condition: in.Condition,
		Threshold: in.Threshold,
		Token:     in.Token,
		Pool:      in.Pool,
		Message:   in.Message,
		CreatedAt: time.Now(),
	}

	a.mu.Lock()
	a.alerts = append(a.alerts, al)
	a.mu.Unlock()

	a.Wake()
	return al.ID, nil
}

// RemoveAlert deletes an alert that has not triggered yet
func (a *AlertAgent) RemoveAlert(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, al := range a.alerts {
		if al.ID == id && !al.Triggered {
			a.alerts = append(a.alerts[:i], a.alerts[i+1:]...)
			return true
		}
	}
	return false
}

// Alerts returns a copy of every alert
func (a *AlertAgent) Alerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]Alert, 0, len(a.alerts))
	for _, al := range a.alerts {
		out = append(out, *al)
	}
	return out
}

// TriggeredAlerts returns alerts fired since the last ClearTriggeredAlerts
func (a *AlertAgent) TriggeredAlerts() []Alert {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Alert(nil), a.triggered...)
}

// ClearTriggeredAlerts empties the triggered list. The alerts themselves stay triggered.
func (a *AlertAgent) ClearTriggeredAlerts() {
	a.mu.Lock()
	a.triggered = nil
	a.mu.Unlock()
}
