package handler

import (
	"net/http"

	"github.com/reading-room/persona-chat/internal/llm"
	natsclient "github.com/reading-room/persona-chat/internal/nats"
	"github.com/reading-room/persona-chat/internal/service"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	natsClient *natsclient.Client
	sessions   *service.SessionService
	llmClient  llm.Client
}

// NewHealthHandler creates a new health handler. natsClient may be nil when
// the transcript archive is disabled.
func NewHealthHandler(natsClient *natsclient.Client, sessions *service.SessionService, llmClient llm.Client) *HealthHandler {
	return &HealthHandler{
		natsClient: natsClient,
		sessions:   sessions,
		llmClient:  llmClient,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.natsClient != nil && !h.natsClient.IsConnected() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "NATS not connected",
		})
		return
	}

	writeJSON(w, http.StatusOK, &readyResponse{
		Status:   "ready",
		Sessions: h.sessions.Len(),
		Provider: h.llmClient.Name(),
		Models:   h.llmClient.Models(),
	})
}

type readyResponse struct {
	Status   string   `json:"status"`
	Sessions int      `json:"sessions"`
	Provider string   `json:"provider"`
	Models   []string `json:"models"`
}
