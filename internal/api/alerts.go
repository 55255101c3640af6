package api

import (
	"net/http"

	"onboardr/internal/agents"
	"onboardr/internal/api/response"
	"onboardr/pkg/errors"
)

// AlertBook is implemented by the alert agent
type AlertBook interface {
	AddAlert(in agents.AlertInput) (string, error)
	Alerts() []agents.Alert
	TriggeredAlerts() []agents.Alert
	RemoveAlert(id string) bool
	ClearTriggeredAlerts()
}

// AlertHandler serves /api/alerts
type AlertHandler struct {
	alerts AlertBook
}

// NewAlertHandler creates the handler
func NewAlertHandler(alerts AlertBook) *AlertHandler {
	return &AlertHandler{alerts: alerts}
}

// HandleList returns all alerts, or only triggered ones with ?triggered=true
func (h *AlertHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("triggered") == "true" {
		response.Success(w, http.StatusOK, h.alerts.TriggeredAlerts())
		return
	}
	response.Success(w, http.StatusOK, h.alerts.Alerts())
}

// HandleCreate registers an alert
func (h *AlertHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var in agents.AlertInput
	if err := response.Decode(r, &in); err != nil {
		response.FromError(w, err)
		return
	}

	id, err := h.alerts.AddAlert(in)
	if err != nil {
		response.FromError(w, err)
		return
	}
	response.Success(w, http.StatusCreated, map[string]string{"id": id})
}

// HandleDelete removes an untriggered alert
func (h *AlertHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.alerts.RemoveAlert(id) {
		response.FromError(w, errors.Wrapf(errors.ErrNotFound, "untriggered alert %s", id))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleClearTriggered empties the triggered list
func (h *AlertHandler) HandleClearTriggered(w http.ResponseWriter, r *http.Request) {
	h.alerts.ClearTriggeredAlerts()
	w.WriteHeader(http.StatusNoContent)
}
