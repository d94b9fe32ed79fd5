package routes

import (
	"encoding/json"
	"net/http"

	"imgforge/logger"
)

// envelope is the body of every JSON response.
type envelope struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Errorf("Failed to encode response: %v", err)
	}
}

func respondSuccess(w http.ResponseWriter, code int, message string, data interface{}) {
	writeJSON(w, code, envelope{Status: "success", Message: message, Data: data})
}

func respondError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, envelope{Status: "error", Message: message})
}

// respondInternal logs err and answers with a generic 500.
func respondInternal(w http.ResponseWriter, context string, err error) {
	logger.Errorf("%s: %v", context, err)
	respondError(w, http.StatusInternalServerError, "Internal server error")
}
