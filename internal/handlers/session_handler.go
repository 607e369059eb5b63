package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
)

// SessionHandler exposes the login session orchestrator
type SessionHandler struct {
	sessions SessionOrchestrator
	logger   arbor.ILogger
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionOrchestrator, logger arbor.ILogger) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		logger:   logger,
	}
}

type startSessionRequest struct {
	WorkspaceID string `json:"workspaceId"`
}

// StartSessionHandler starts or returns the workspace's active login session
// POST /api/sessions {"workspaceId": "..."}
func (h *SessionHandler) StartSessionHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req startSessionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	session, err := h.sessions.StartSession(r.Context(), req.WorkspaceID)
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"session": session.Status(),
	})
}

// GetSessionHandler polls a session
// GET /api/sessions/{id}
func (h *SessionHandler) GetSessionHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	status, err := h.sessions.PollSession(r.Context(), sessionID)
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"session": status,
	})
}

// CancelSessionHandler requests cancellation of a session
// POST /api/sessions/{id}/cancel
func (h *SessionHandler) CancelSessionHandler(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := h.sessions.CancelSession(r.Context(), sessionID)
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"session": session.Status(),
	})
}

// ExistingHandler reports whether the workspace already has usable credentials
// GET /api/sessions/existing?workspaceId=...
func (h *SessionHandler) ExistingHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	existing, err := h.sessions.CheckExisting(r.Context(), r.URL.Query().Get("workspaceId"))
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	WriteSuccess(w, http.StatusOK, map[string]interface{}{
		"existing": existing,
	})
}

// SessionRoutes dispatches /api/sessions/ sub-paths
func (h *SessionHandler) SessionRoutes(w http.ResponseWriter, r *http.Request) {
	segments := PathSegments(r.URL.Path, "/api/sessions/")

	switch {
	case len(segments) == 1 && segments[0] == "existing":
		h.ExistingHandler(w, r)
	case len(segments) == 1:
		if !RequireMethod(w, r, http.MethodGet) {
			return
		}
		h.GetSessionHandler(w, r, segments[0])
	case len(segments) == 2 && segments[1] == "cancel":
		if !RequireMethod(w, r, http.MethodPost) {
			return
		}
		h.CancelSessionHandler(w, r, segments[0])
	default:
		WriteError(w, http.StatusNotFound, "endpoint not found: "+r.URL.Path)
	}
}
