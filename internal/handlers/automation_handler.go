package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/interfaces"
	"github.com/ternarybob/gramflow/internal/models"
)

// AutomationHandler handles automation CRUD and manual triggers
type AutomationHandler struct {
	scheduler interfaces.SchedulerService
	logger    arbor.ILogger
}

// NewAutomationHandler creates a new automation handler
func NewAutomationHandler(scheduler interfaces.SchedulerService, logger arbor.ILogger) *AutomationHandler {
	return &AutomationHandler{
		scheduler: scheduler,
		logger:    logger,
	}
}

// CreateAutomationHandler stores an automation
// POST /api/automations
func (h *AutomationHandler) CreateAutomationHandler(w http.ResponseWriter, r *http.Request) {
	var automation models.Automation
	if err := DecodeJSON(r, &automation); err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	created, err := h.scheduler.CreateAutomation(r.Context(), &automation)
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	WriteSuccess(w, http.StatusCreated, map[string]interface{}{
		"automation": created,
	})
}

// ListAutomationsHandler lists automations
// GET /api/automations?workspaceId=
func (h *AutomationHandler) ListAutomationsHandler(w http.ResponseWriter, r *http.Request) {
	automations, err := h.scheduler.ListAutomations(r.Context(), r.URL.Query().Get("workspaceId"))
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}
	if automations == nil {
		automations = []*models.Automation{}
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"automations": automations,
		"count":       len(automations),
	})
}

// AutomationRoutes dispatches /api/automations/ sub-paths
// GET|DELETE /api/automations/{id}, POST /api/automations/{id}/trigger
func (h *AutomationHandler) AutomationRoutes(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r.URL.Path, "/api/automations/")

	switch {
	case len(segments) == 1 && r.Method == http.MethodGet:
		automation, err := h.scheduler.GetAutomation(r.Context(), segments[0])
		if err != nil {
			WriteServiceError(w, h.logger, r, err)
			return
		}
		WriteSuccess(w, http.StatusOK, map[string]interface{}{"automation": automation})

	case len(segments) == 1 && r.Method == http.MethodDelete:
		if err := h.scheduler.DeleteAutomation(r.Context(), segments[0]); err != nil {
			WriteServiceError(w, h.logger, r, err)
			return
		}
		WriteSuccess(w, http.StatusOK, map[string]interface{}{"id": segments[0]})

	case len(segments) == 1:
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")

	case len(segments) == 2 && segments[1] == "trigger":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		job, err := h.scheduler.TriggerAutomation(r.Context(), segments[0])
		if err != nil {
			WriteServiceError(w, h.logger, r, err)
			return
		}
		h.logger.Info().Str("automation_id", segments[0]).Str("job_id", job.ID).Msg("Automation triggered")
		WriteSuccess(w, http.StatusAccepted, map[string]interface{}{"job": job})

	default:
		WriteError(w, http.StatusNotFound, "endpoint not found: "+r.URL.Path)
	}
}
