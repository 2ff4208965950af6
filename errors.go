package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Credential-store errors shared by all adapters.
var (
	ErrNotFound          = errors.New("record not found")
	ErrDuplicateEmail    = errors.New("email already registered")
	ErrDuplicateUsername = errors.New("username already taken")
)

// APIError represents a structured API error response
type APIError struct {
	Code    string `json:"error_code"`
	Message string `json:"error_message"`
	Details string `json:"details,omitempty"`
}

// writeError writes a structured error response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// writeUnauthorized is the uniform response for every token-validation
// failure. The specific reason is logged, never surfaced to the client.
func writeUnauthorized(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Token is missing, invalid, expired, or revoked")
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write json", "error", err)
	}
}
