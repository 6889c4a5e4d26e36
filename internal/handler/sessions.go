package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reading-room/persona-chat/internal/middleware"
	"github.com/reading-room/persona-chat/internal/model"
	"github.com/reading-room/persona-chat/internal/service"
	"github.com/reading-room/persona-chat/pkg/logger"
)

// SessionHandler handles session endpoints.
type SessionHandler struct {
	service   *service.SessionService
	jwtSecret string
	tokenTTL  time.Duration
	logger    *logger.Logger
}

// NewSessionHandler creates a new session handler.
func NewSessionHandler(svc *service.SessionService, jwtSecret string, tokenTTL time.Duration, log *logger.Logger) *SessionHandler {
	return &SessionHandler{
		service:   svc,
		jwtSecret: jwtSecret,
		tokenTTL:  tokenTTL,
		logger:    log,
	}
}

// Create handles POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := h.service.Create(r.Context())

	token, err := middleware.IssueSessionToken(h.jwtSecret, sess.ID(), h.tokenTTL)
	if err != nil {
		h.logger.WithRequest(middleware.GetCorrelationID(r.Context()), sess.ID()).
			Error("failed to sign session token", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	snap := sess.Snapshot()
	writeJSON(w, http.StatusCreated, &model.CreateSessionResponse{
		Session: &snap,
		Token:   token,
	})
}

// Get handles GET /api/v1/sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(w, r, h.service)
	if !ok {
		return
	}

	snap := sess.Snapshot()
	writeJSON(w, http.StatusOK, &snap)
}

// lookupSession resolves the {id} URL parameter, writing the error response
// itself when it fails.
func lookupSession(w http.ResponseWriter, r *http.Request, svc *service.SessionService) (*service.Session, bool) {
	sessionID := chi.URLParam(r, "id")
	if err := middleware.ValidateSessionID(sessionID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}

	sess, err := svc.Get(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}
