package agents

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"onboardr/internal/domain/defi"
	"onboardr/internal/metrics"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
)

// TradeStatus is a trade's position in its lifecycle
type TradeStatus string

const (
	TradePending   TradeStatus = "pending"
	TradeExecuting TradeStatus = "executing"
	TradeCompleted TradeStatus = "completed"
	TradeFailed    TradeStatus = "failed"
)

const (
	quoteTTL       = time.Minute
	tradeResultTTL = 5 * time.Minute

	defaultMaxPerTick = 5
	defaultRetention  = time.Hour
)

// TradeInput is what a caller supplies to queue a swap
type TradeInput struct {
	FromToken   string           `json:"fromToken"`
	ToToken     string           `json:"toToken"`
	Amount      decimal.Decimal  `json:"amount"`
	UserAddress string           `json:"userAddress"`
	Slippage    *decimal.Decimal `json:"slippage,omitempty"`
}

func (in TradeInput) validate() error {
	switch {
	case in.FromToken == "" || in.ToToken == "":
		return errors.Wrap(errors.ErrInvalidInput, "fromToken and toToken are required")
	case in.FromToken == in.ToToken:
		return errors.Wrap(errors.ErrInvalidInput, "fromToken and toToken must differ")
	case !in.Amount.IsPositive():
		return errors.Wrap(errors.ErrInvalidInput, "amount must be positive")
	case in.UserAddress == "":
		return errors.Wrap(errors.ErrInvalidInput, "userAddress is required")
	case in.Slippage != nil && in.Slippage.IsNegative():
		return errors.Wrap(errors.ErrInvalidInput, "slippage must not be negative")
	}
	return nil
}

// TradeRequest is a queued swap. Only the trading agent's run changes its status.
type TradeRequest struct {
	ID          string           `json:"id"`
	FromToken   string           `json:"fromToken"`
	ToToken     string           `json:"toToken"`
	Amount      decimal.Decimal  `json:"amount"`
	UserAddress string           `json:"userAddress"`
	Slippage    *decimal.Decimal `json:"slippage,omitempty"`
	Status      TradeStatus      `json:"status"`
	Error       string           `json:"error,omitempty"`
	CreatedAt   time.Time        `json:"createdAt"`
	UpdatedAt   time.Time        `json:"updatedAt"`
}

// TradeSummary is the result of one trading run
type TradeSummary struct {
	Processed  int `json:"processed"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
	Queue      int `json:"queue"`
}

// TradingDeps configures the trading agent
type TradingDeps struct {
	Router          defi.SwapRouter
	MaxPerTick      int
	Retention       time.Duration
	DefaultSlippage decimal.Decimal
}

// TradingAgent executes queued swaps in FIFO order, at most MaxPerTick per run
type TradingAgent struct {
	*orchestration.Agent

	router          defi.SwapRouter
	maxPerTick      int
	retention       time.Duration
	defaultSlippage decimal.Decimal

	queueMu sync.Mutex
	queue   []*TradeRequest
}

// NewTradingAgent creates the agent
func NewTradingAgent(cfg orchestration.AgentConfig, actx orchestration.Context, deps TradingDeps) *TradingAgent {
	if deps.MaxPerTick <= 0 {
		deps.MaxPerTick = defaultMaxPerTick
	}
	if deps.Retention <= 0 {
		deps.Retention = defaultRetention
	}
	if deps.DefaultSlippage.IsZero() {
		deps.DefaultSlippage = decimal.RequireFromString("0.5")
	}

	a := &TradingAgent{
		router:          deps.Router,
		maxPerTick:      deps.MaxPerTick,
		retention:       deps.Retention,
		defaultSlippage: deps.DefaultSlippage,
	}
	a.Agent = orchestration.NewAgent(cfg, actx, a.execute)
	return a
}

func (a *TradingAgent) execute(ctx context.Context) (interface{}, error) {
	a.prune(time.Now())

	pending := a.pending(a.maxPerTick)
	summary := TradeSummary{}

	for _, trade := range pending {
		if ctx.Err() != nil {
			break
		}
		if !a.claim(trade) {
			continue
		}
		summary.Processed++
		if err := a.processTrade(ctx, trade); err != nil {
			a.Logger().Errorw("Trade failed", "trade_id", trade.ID, "error", err)
			summary.Failed++
			continue
		}
		summary.Successful++
	}

	summary.Queue = len(a.Queue())
	return summary, nil
}

// pending returns up to limit pending trades, oldest first
func (a *TradingAgent) pending(limit int) []*TradeRequest {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	out := make([]*TradeRequest, 0, limit)
	for _, t := range a.queue {
		if len(out) == limit {
			break
		}
		if t.Status == TradePending {
			out = append(out, t)
		}
	}
	return out
}

// claim moves a trade that is still queued and pending to executing.
// It fails when the trade was cancelled after the tick picked it.
func (a *TradingAgent) claim(trade *TradeRequest) bool {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	if trade.Status != TradePending {
		return false
	}
	for _, t := range a.queue {
		if t == trade {
			trade.Status = TradeExecuting
			trade.UpdatedAt = time.Now()
			return true
		}
	}
	return false
}

func (a *TradingAgent) setStatus(trade *TradeRequest, status TradeStatus, cause error) {
	a.queueMu.Lock()
	trade.Status = status
	trade.UpdatedAt = time.Now()
	if cause != nil {
		trade.Error = cause.Error()
	}
	a.queueMu.Unlock()
}

// processTrade quotes and swaps a claimed trade
func (a *TradingAgent) processTrade(ctx context.Context, trade *TradeRequest) error {
	c := a.Context().Cache
	slippage := a.defaultSlippage
	if trade.Slippage != nil {
		slippage = *trade.Slippage
	}

	fail := func(err error) error {
		a.setStatus(trade, TradeFailed, err)
		metrics.TradesProcessed.WithLabelValues(string(TradeFailed)).Inc()
		a.Emit(orchestration.EventTradeFailed, map[string]interface{}{
			"tradeId": trade.ID,
			"error":   err.Error(),
		})
		return err
	}

	quote, err := a.router.Quote(ctx, defi.QuoteRequest{
		TokenIn:  trade.FromToken,
		TokenOut: trade.ToToken,
		AmountIn: trade.Amount,
		Slippage: slippage,
	})
	if err != nil {
		return fail(errors.Wrap(err, "quote"))
	}
	if err := c.Set(ctx, "trade:"+trade.ID+":quote", quote, quoteTTL); err != nil {
		a.Logger().Warnw("Failed to cache quote", "trade_id", trade.ID, "error", err)
	}

	result, err := a.router.Swap(ctx, defi.SwapRequest{
		TokenIn:     trade.FromToken,
		TokenOut:    trade.ToToken,
		AmountIn:    trade.Amount,
		UserAddress: trade.UserAddress,
		Slippage:    slippage,
	})
	if err != nil {
		return fail(errors.Wrap(err, "swap"))
	}

	a.setStatus(trade, TradeCompleted, nil)
	metrics.TradesProcessed.WithLabelValues(string(TradeCompleted)).Inc()
	if err := c.Set(ctx, "trade:"+trade.ID+":result", result, tradeResultTTL); err != nil {
		a.Logger().Warnw("Failed to cache trade result", "trade_id", trade.ID, "error", err)
	}

	a.Emit(orchestration.EventTradeCompleted, map[string]interface{}{
		"tradeId": trade.ID,
		"result":  result,
	})
	a.Logger().Infow("Trade completed",
		"trade_id", trade.ID,
		"from", trade.FromToken,
		"to", trade.ToToken,
		"amount", trade.Amount.String(),
		"tx_hash", result.TxHash,
	)
	return nil
}

// prune drops finished trades older than the retention window
func (a *TradingAgent) prune(now time.Time) {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	kept := a.queue[:0]
	for _, t := range a.queue {
		finished := t.Status == TradeCompleted || t.Status == TradeFailed
		if finished && now.Sub(t.UpdatedAt) > a.retention {
			continue
		}
		kept = append(kept, t)
	}
	for i := len(kept); i < len(a.queue); i++ {
		a.queue[i] = nil
	}
	a.queue = kept
}

func (a *TradingAgent) enqueue(in TradeInput) (string, error) {
	if err := in.validate(); err != nil {
		return "", err
	}

	now := time.Now()
	trade := &TradeRequest{
		ID:          "trade-" + uuid.NewString(),
		FromToken:   in.FromToken,
		ToToken:     in.ToToken,
		Amount:      in.Amount,
		UserAddress: in.UserAddress,
		Slippage:    in.Slippage,
		Status:      TradePending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	a.queueMu.Lock()
	a.queue = append(a.queue, trade)
	a.queueMu.Unlock()

	a.Logger().Infow("Trade queued", "trade_id", trade.ID, "from", in.FromToken, "to", in.ToToken)
	return trade.ID, nil
}

// AddTrade queues a trade and wakes the agent if it is idle
func (a *TradingAgent) AddTrade(in TradeInput) (string, error) {
	id, err := a.enqueue(in)
	if err != nil {
		return "", err
	}
	a.Wake()
	return id, nil
}

// SubmitTrade queues a trade from a client payload. The caller runs the agent.
func (a *TradingAgent) SubmitTrade(raw json.RawMessage) (string, error) {
	var in TradeInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return "", errors.Wrapf(errors.ErrInvalidInput, "malformed trade: %v", err)
	}
	return a.enqueue(in)
}

// Trade returns a copy of one trade
func (a *TradingAgent) Trade(id string) (TradeRequest, bool) {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	for _, t := range a.queue {
		if t.ID == id {
			return *t, true
		}
	}
	return TradeRequest{}, false
}

// Queue returns a copy of every tracked trade in submission order
func (a *TradingAgent) Queue() []TradeRequest {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	out := make([]TradeRequest, 0, len(a.queue))
	for _, t := range a.queue {
		out = append(out, *t)
	}
	return out
}

// CancelTrade removes a trade that has not started executing
func (a *TradingAgent) CancelTrade(id string) bool {
	a.queueMu.Lock()
	defer a.queueMu.Unlock()

	for i, t := range a.queue {
		if t.ID == id && t.Status == TradePending {
			a.queue = append(a.queue[:i], a.queue[i+1:]...)
			return true
		}
	}
	return false
}
