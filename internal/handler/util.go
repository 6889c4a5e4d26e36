// Package handler provides HTTP handlers for the chat API.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reading-room/persona-chat/internal/middleware"
	"github.com/reading-room/persona-chat/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// requestLogger scopes log to the request's correlation ID and {id} session.
func requestLogger(log *logger.Logger, r *http.Request) *logger.Logger {
	return log.WithRequest(middleware.GetCorrelationID(r.Context()), chi.URLParam(r, "id"))
}
