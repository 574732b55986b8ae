package middleware

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// WriteError writes the API error envelope shared by handlers and middleware.
func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorBody{
		Success:   false,
		Error:     message,
		RequestID: GetRequestID(r.Context()),
	})
}
