package handlers

import (
	"net/http"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/models"
)

// ExtensionHandler receives credential harvesting channel messages from the browser extension
type ExtensionHandler struct {
	bridge ExtensionBridge
	logger arbor.ILogger
}

// NewExtensionHandler creates a new extension handler
func NewExtensionHandler(bridge ExtensionBridge, logger arbor.ILogger) *ExtensionHandler {
	return &ExtensionHandler{
		bridge: bridge,
		logger: logger,
	}
}

// MessageHandler answers one channel message
// POST /api/extension {"type": "SAVE_COOKIES"|"VERIFY_SESSION", ...}
func (h *ExtensionHandler) MessageHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var req models.ExtensionRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	resp, err := h.bridge.Handle(r.Context(), &req)
	if err != nil {
		WriteServiceError(w, h.logger, r, err)
		return
	}

	// The bridge already answers in the channel's {success,...} shape
	WriteJSON(w, http.StatusOK, resp)
}
