package orchestration

import (
	"context"
	"encoding/json"
	"time"

	"onboardr/internal/cache"
	"onboardr/internal/domain/defi"
	"onboardr/pkg/errors"
)

// Client to server message types
const (
	MsgRequestRefresh   = "request:refresh"
	MsgSubscribeUpdates = "subscribe:updates"
	MsgExecuteTrade     = "execute:trade"
)

// Server to client message types
const (
	MsgInitialData = "initial:data"
	MsgTradeResult = "trade:result"
	MsgTradeError  = "trade:error"
)

const (
	initialPools  = 10
	initialVaults = 5

	clientRequestTimeout = time.Minute
)

// InitialData is sent to a client when it connects
type InitialData struct {
	Metrics   *defi.MarketMetrics `json:"metrics"`
	Pools     []defi.Pool         `json:"pools"`
	Vaults    []defi.Vault        `json:"vaults"`
	Timestamp int64               `json:"timestamp"`
}

func (m *Manager) setupRelayHandlers() {
	m.relay.OnClientConnected(func(clientID string) {
		m.log.Infow("Client connected", "client_id", clientID)
		m.SendInitialData(context.Background(), clientID)
	})

	// run off the relay read loop
	m.relay.OnClientMessage(func(clientID, msgType string, payload json.RawMessage) {
		go func() {
			defer recoverPanic(m.log, m.actx.Metrics, "client:"+msgType)

			ctx, cancel := context.WithTimeout(context.Background(), clientRequestTimeout)
			defer cancel()
			if err := m.HandleClientMessage(ctx, clientID, msgType, payload); err != nil {
				m.log.Warnw("Client message failed", "client_id", clientID, "type", msgType, "error", err)
			}
		}()
	})
}

// SendInitialData pushes cached metrics, the top pools and the top vaults to one client
func (m *Manager) SendInitialData(ctx context.Context, clientID string) {
	if m.relay == nil {
		return
	}
	m.relay.SendToClient(clientID, MsgInitialData, m.InitialData(ctx))
}

// InitialData builds the initial:data payload from the cache
func (m *Manager) InitialData(ctx context.Context) InitialData {
	c := m.actx.Cache
	data := InitialData{Timestamp: time.Now().UnixMilli()}

	if mm, ok := cache.Value[defi.MarketMetrics](ctx, c, "data:metrics"); ok {
		data.Metrics = &mm
	}
	if pools, ok := cache.Value[[]defi.Pool](ctx, c, "data:pools"); ok {
		data.Pools = head(pools, initialPools)
	}
	if vaults, ok := cache.Value[[]defi.Vault](ctx, c, "data:vaults"); ok {
		data.Vaults = head(vaults, initialVaults)
	}
	return data
}

func head[T any](items []T, n int) []T {
	if len(items) > n {
		return items[:n]
	}
	return items
}

// HandleClientMessage routes one client message. Unknown types are logged and ignored.
func (m *Manager) HandleClientMessage(ctx context.Context, clientID, msgType string, payload json.RawMessage) error {
	switch msgType {
	case MsgRequestRefresh:
		var req struct {
			AgentID string `json:"agentId"`
		}
		if err := decodePayload(payload, &req); err != nil {
			return err
		}
		_, err := m.RefreshData(ctx, req.AgentID)
		return err

	case MsgSubscribeUpdates:
		var req struct {
			Topics []string `json:"topics"`
		}
		if err := decodePayload(payload, &req); err != nil {
			return err
		}
		// events are broadcast to every client; topics are only recorded in the log
		m.log.Infow("Client subscribed to topics", "client_id", clientID, "topics", req.Topics)
		return nil

	case MsgExecuteTrade:
		return m.executeTrade(ctx, clientID, payload)

	default:
		m.log.Warnw("Unknown client message type", "client_id", clientID, "type", msgType)
		return nil
	}
}

func decodePayload(payload json.RawMessage, dest interface{}) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, dest); err != nil {
		return errors.Wrapf(errors.ErrInvalidInput, "malformed payload: %v", err)
	}
	return nil
}

// executeTrade queues the trade on the trading agent, runs it and reports
// the outcome to the requesting client
func (m *Manager) executeTrade(ctx context.Context, clientID string, payload json.RawMessage) error {
	agent, ok := m.Agent(TradingAgentID)
	if !ok {
		m.log.Errorw("Trading agent not found")
		return errors.Wrapf(errors.ErrAgentNotFound, "agent %q", TradingAgentID)
	}

	var req struct {
		TradeData json.RawMessage `json:"tradeData"`
	}
	if err := decodePayload(payload, &req); err != nil {
		m.sendTradeError(clientID, "", err)
		return err
	}
	if len(req.TradeData) == 0 {
		req.TradeData = payload
	}

	var tradeID string
	if submitter, ok := agent.(TradeSubmitter); ok {
		id, err := submitter.SubmitTrade(req.TradeData)
		if err != nil {
			m.sendTradeError(clientID, "", err)
			return err
		}
		tradeID = id
	}

	res := agent.Run(ctx)
	if !res.Success && !errors.Is(res.Err, errors.ErrAgentRunning) {
		m.sendTradeError(clientID, tradeID, res.Err)
		return res.Err
	}

	// an in-flight run picks the trade up on its next pass
	if m.relay != nil {
		m.relay.SendToClient(clientID, MsgTradeResult, map[string]interface{}{
			"tradeId": tradeID,
			"result":  res,
		})
	}
	return nil
}

func (m *Manager) sendTradeError(clientID, tradeID string, err error) {
	if m.relay == nil {
		return
	}
	payload := map[string]interface{}{"error": err.Error()}
	if tradeID != "" {
		payload["tradeId"] = tradeID
	}
	m.relay.SendToClient(clientID, MsgTradeError, payload)
}
