package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/reading-room/persona-chat/internal/model"
	"github.com/reading-room/persona-chat/internal/service"
	"github.com/reading-room/persona-chat/pkg/logger"
	"github.com/reading-room/persona-chat/pkg/metrics"
)

// heartbeatInterval keeps idle SSE connections open through proxies.
const heartbeatInterval = 30 * time.Second

// TranscriptReader reads archived session messages.
type TranscriptReader interface {
	GetMessages(ctx context.Context, sessionID string, afterSequence uint64, limit int) ([]model.ArchivedMessage, uint64, bool, error)
}

// StreamHandler handles SSE streaming and transcript endpoints.
type StreamHandler struct {
	service     *service.SessionService
	transcripts TranscriptReader
	logger      *logger.Logger
}

// NewStreamHandler creates a new stream handler. transcripts may be nil.
func NewStreamHandler(svc *service.SessionService, transcripts TranscriptReader, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		service:     svc,
		transcripts: transcripts,
		logger:      log,
	}
}

// Stream handles GET /api/v1/sessions/{id}/stream
// The current snapshot is sent first, then one snapshot per change.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	sess, ok := lookupSession(w, r, h.service)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	updates, cancel := sess.Subscribe()
	defer cancel()

	ctx := r.Context()
	log := requestLogger(h.logger, r)
	current := sess.Snapshot()
	if err := sendSSEEvent(w, flusher, "snapshot", &current); err != nil {
		return
	}
	lastVersion := current.Version

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug("SSE client disconnected")
			return

		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Version <= lastVersion {
				continue
			}
			lastVersion = snap.Version
			if err := sendSSEEvent(w, flusher, "snapshot", &snap); err != nil {
				return
			}

		case <-heartbeat.C:
			if err := sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			}); err != nil {
				return
			}
		}
	}
}

// Transcript handles GET /api/v1/sessions/{id}/transcript
// Supports ?after_sequence=N and ?limit=N for paging through the archive.
func (h *StreamHandler) Transcript(w http.ResponseWriter, r *http.Request) {
	if h.transcripts == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript archive not configured")
		return
	}

	sessionID := chi.URLParam(r, "id")

	var afterSequence uint64
	if seq := r.URL.Query().Get("after_sequence"); seq != "" {
		if parsed, err := strconv.ParseUint(seq, 10, 64); err == nil {
			afterSequence = parsed
		}
	}

	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	messages, lastSeq, hasMore, err := h.transcripts.GetMessages(r.Context(), sessionID, afterSequence, limit)
	if err != nil {
		requestLogger(h.logger, r).Error("failed to read transcript", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to read transcript")
		return
	}
	if messages == nil {
		messages = []model.ArchivedMessage{}
	}

	writeJSON(w, http.StatusOK, &model.TranscriptResponse{
		Messages:     messages,
		HasMore:      hasMore,
		LastSequence: lastSeq,
	})
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()

	return nil
}
