package api

import (
	"net/http"

	"onboardr/internal/agents"
	"onboardr/internal/api/response"
	"onboardr/pkg/errors"
)

// TradeQueue is implemented by the trading agent
type TradeQueue interface {
	AddTrade(in agents.TradeInput) (string, error)
	Trade(id string) (agents.TradeRequest, bool)
	Queue() []agents.TradeRequest
	CancelTrade(id string) bool
}

// TradeHandler serves /api/trades
type TradeHandler struct {
	trades TradeQueue
}

// NewTradeHandler creates the handler
func NewTradeHandler(trades TradeQueue) *TradeHandler {
	return &TradeHandler{trades: trades}
}

// HandleCreate queues a trade and returns it with 202
func (h *TradeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in agents.TradeInput
	if err := response.Decode(r, &in); err != nil {
		response.FromError(w, err)
		return
	}

	id, err := h.trades.AddTrade(in)
	if err != nil {
		response.FromError(w, err)
		return
	}

	trade, _ := h.trades.Trade(id)
	response.Success(w, http.StatusAccepted, trade)
}

// HandleList returns every tracked trade
func (h *TradeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, h.trades.Queue())
}

// HandleGet returns one trade
func (h *TradeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	trade, ok := h.trades.Trade(id)
	if !ok {
		response.FromError(w, errors.Wrapf(errors.ErrNotFound, "trade %s", id))
		return
	}
	response.Success(w, http.StatusOK, trade)
}

// HandleCancel cancels a pending trade
func (h *TradeHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.trades.CancelTrade(id) {
		response.FromError(w, errors.Wrapf(errors.ErrNotFound, "pending trade %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
