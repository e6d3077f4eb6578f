package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/armature/armature/internal/logging"
)

var logger = logging.NewLogger("apiserver")

// ErrorResponse is the JSON body written for every API error
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// WriteJSON marshals before touching the ResponseWriter so an encoding
// failure can still produce a clean error status
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	body, err := json.Marshal(data)
	if err != nil {
		logger.Errorf("failed to encode response: %v", err)
		WriteError(w, http.StatusInternalServerError, "encoding_error", "Failed to encode response")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		logger.Errorf("failed to write response body: %v", err)
	}
}

// WriteError writes a structured error response, degrading to plain text
// when even the error body cannot be encoded
func WriteError(w http.ResponseWriter, status int, code, message string) {
	body, err := json.Marshal(ErrorResponse{Error: code, Message: message})
	if err != nil {
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
