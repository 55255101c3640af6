package api

import (
	"context"
	"net/http"
	"time"

	"onboardr/internal/api/response"
	"onboardr/internal/orchestration"
	"onboardr/pkg/errors"
	"onboardr/pkg/logger"
)

const (
	codeAgentRunning = "AGENT_RUNNING"
	codeAgentFailed  = "AGENT_FAILED"

	startTimeout = 2 * time.Minute
)

// Orchestrator is the part of the orchestration manager the HTTP routes drive
type Orchestrator interface {
	Start(ctx context.Context) error
	Status() orchestration.Status
	RefreshData(ctx context.Context, agentID string) (orchestration.Result, error)
}

// OrchestrationHandler serves /api/orchestration/*
type OrchestrationHandler struct {
	orch Orchestrator
	log  *logger.Logger
}

// NewOrchestrationHandler creates the handler
func NewOrchestrationHandler(orch Orchestrator, log *logger.Logger) *OrchestrationHandler {
	return &OrchestrationHandler{orch: orch, log: log.Component("orchestration_api")}
}

// HandleStart starts the manager if needed and returns the resulting status.
// Starting an already running manager is a no-op.
func (h *OrchestrationHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	// agents outlive the request; only the first runs are bounded
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), startTimeout)
	defer cancel()

	if err := h.orch.Start(ctx); err != nil {
		h.log.Errorw("Failed to start orchestration", "error", err)
		response.FromError(w, err)
		return
	}

	response.Success(w, http.StatusOK, map[string]interface{}{
		"message": "Orchestration started successfully",
		"status":  h.orch.Status(),
	})
}

// HandleStatus returns the aggregated agent status
func (h *OrchestrationHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	response.Success(w, http.StatusOK, h.orch.Status())
}

type refreshRequest struct {
	AgentID string `json:"agentId"`
}

// HandleRefresh runs one agent now. An empty body refreshes the data preload agent.
func (h *OrchestrationHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength != 0 {
		if err := response.Decode(r, &req); err != nil {
			response.FromError(w, err)
			return
		}
	}

	res, err := h.orch.RefreshData(r.Context(), req.AgentID)
	if err != nil {
		response.FromError(w, err)
		return
	}

	switch {
	case res.Success:
		response.Success(w, http.StatusOK, res)
	case errors.Is(res.Err, errors.ErrAgentRunning):
		response.Error(w, http.StatusConflict, codeAgentRunning, res.Err.Error())
	default:
		h.log.Warnw("Refresh failed", "agent_id", req.AgentID, "error", res.Err)
		response.Error(w, http.StatusBadGateway, codeAgentFailed, res.Err.Error())
	}
}
