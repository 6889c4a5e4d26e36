package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/reading-room/persona-chat/internal/middleware"
	"github.com/reading-room/persona-chat/internal/model"
	"github.com/reading-room/persona-chat/internal/service"
	"github.com/reading-room/persona-chat/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	service *service.SessionService
	logger  *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(svc *service.SessionService, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		service: svc,
		logger:  log,
	}
}

// Send handles POST /api/v1/sessions/{id}/messages
// With ?wait=true the response is written once the attempt has concluded.
func (h *MessageHandler) Send(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(w, r, h.service)
	if !ok {
		return
	}

	var req model.SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4*middleware.MaxMessageBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateMessageText(req.Text); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	log := requestLogger(h.logger, r)

	task := sess.Submit(r.Context(), req.Text)
	if task == nil {
		log.Debug("submission dropped")
		snap := sess.Snapshot()
		writeJSON(w, http.StatusOK, &model.SendMessageResponse{Accepted: false, Session: &snap})
		return
	}

	status := http.StatusAccepted
	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		if err := task.Wait(r.Context()); err != nil {
			// Client went away; the attempt still runs to completion.
			log.Debug("client left before the reply", zap.Error(err))
			return
		}
		status = http.StatusOK
	}

	snap := sess.Snapshot()
	writeJSON(w, status, &model.SendMessageResponse{Accepted: true, Session: &snap})
}
