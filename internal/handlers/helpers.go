package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gramflow/internal/models"
	"github.com/ternarybob/gramflow/internal/services/extension"
	"github.com/ternarybob/gramflow/internal/services/sessions"
)

// maxBodyBytes bounds request bodies accepted by the API
const maxBodyBytes = 1 << 20

// RequireMethod validates that the HTTP request uses the specified method.
// Returns true if the method matches, false otherwise (and writes error response).
func RequireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return false
	}
	return true
}

// WriteJSON writes a JSON response with the specified status code and data.
func WriteJSON(w http.ResponseWriter, statusCode int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes the success envelope: {"success": true} merged with fields
func WriteSuccess(w http.ResponseWriter, statusCode int, fields map[string]interface{}) error {
	body := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	return WriteJSON(w, statusCode, body)
}

// WriteError writes the error envelope: {"success": false, "error": message}
func WriteError(w http.ResponseWriter, statusCode int, message string) error {
	return WriteJSON(w, statusCode, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// StatusForError maps service errors onto HTTP status codes
func StatusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrSessionNotFound),
		errors.Is(err, models.ErrJobNotFound),
		errors.Is(err, models.ErrAutomationNotFound),
		errors.Is(err, models.ErrCredentialNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidCredentialSet),
		errors.Is(err, models.ErrInvalidJob),
		errors.Is(err, models.ErrInvalidAutomation),
		errors.Is(err, sessions.ErrWorkspaceRequired),
		errors.Is(err, extension.ErrUnsupportedMessage),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// WriteServiceError writes err in the error envelope with its mapped status.
// Server-side failures are logged; their detail is still returned for diagnostics.
func WriteServiceError(w http.ResponseWriter, logger arbor.ILogger, r *http.Request, err error) {
	status := StatusForError(err)
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	}
	WriteError(w, status, err.Error())
}

var errBadRequest = errors.New("bad request")

// DecodeJSON decodes the request body into v, rejecting unknown fields
func DecodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", errBadRequest)
		}
		return fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err)
	}
	return nil
}

// PathSegments returns the path segments after prefix, e.g. "/api/jobs/" + "job_1" -> ["job_1"]
func PathSegments(path, prefix string) []string {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return nil
	}
	return strings.Split(rest, "/")
}
