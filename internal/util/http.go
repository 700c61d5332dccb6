package util

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// =============================================================================
// HTTP Response Helpers
// =============================================================================

// WriteJSON encodes v as the JSON response body with the given status.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write JSON response", "error", err)
	}
}

// =============================================================================
// HTTP Error Helpers
// =============================================================================

// RespondError sends a JSON error body with the given status.
func RespondError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// RespondBadRequest sends a 400 Bad Request error response.
func RespondBadRequest(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusBadRequest, message)
}

// RespondNotFound sends a 404 Not Found error response.
func RespondNotFound(w http.ResponseWriter, message string) {
	RespondError(w, http.StatusNotFound, message)
}
