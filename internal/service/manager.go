package service

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reading-room/persona-chat/internal/llm"
	"github.com/reading-room/persona-chat/internal/model"
	"github.com/reading-room/persona-chat/pkg/logger"
	"github.com/reading-room/persona-chat/pkg/metrics"
)

// ErrSessionNotFound is returned for unknown or evicted sessions.
var ErrSessionNotFound = errors.New("session not found")

// SessionService creates and tracks sessions.
type SessionService struct {
	llmClient llm.Client
	recorder  Recorder
	logger    *logger.Logger
	opts      []SessionOption

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewSessionService creates a new session service. opts are applied to every
// session it creates.
func NewSessionService(client llm.Client, recorder Recorder, log *logger.Logger, opts ...SessionOption) *SessionService {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if log == nil {
		log = logger.Global()
	}
	return &SessionService{
		llmClient: client,
		recorder:  recorder,
		logger:    log,
		opts:      opts,
		sessions:  make(map[string]*Session),
	}
}

// Create opens a new session.
func (s *SessionService) Create(ctx context.Context) *Session {
	id := uuid.Must(uuid.NewV7()).String()

	opts := append([]SessionOption{WithRecorder(s.recorder), WithLogger(s.logger)}, s.opts...)
	sess := NewSession(id, s.llmClient, opts...)

	s.mu.Lock()
	s.sessions[id] = sess
	active := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Set(float64(active))

	s.logger.Info("session created",
		zap.String("session_id", id),
		zap.Int("max_turns", sess.MaxTurns()),
	)
	s.recordEvent(ctx, id, model.EventTypeCreated, "", map[string]string{
		"max_turns": strconv.Itoa(sess.MaxTurns()),
	})

	return sess
}

// Get retrieves a session by ID.
func (s *SessionService) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// Len returns the number of live sessions.
func (s *SessionService) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// EvictIdle removes sessions not seen for longer than ttl. Sessions with a
// task in flight or an attached subscriber are kept. It returns the number evicted.
func (s *SessionService) EvictIdle(ctx context.Context, ttl time.Duration) int {
	cutoff := time.Now().Add(-ttl)

	var evicted []string
	s.mu.Lock()
	for id, sess := range s.sessions {
		if sess.Busy() || sess.Watched() || sess.LastSeen().After(cutoff) {
			continue
		}
		delete(s.sessions, id)
		evicted = append(evicted, id)
	}
	active := len(s.sessions)
	s.mu.Unlock()

	metrics.SessionsActive.Set(float64(active))
	for _, id := range evicted {
		s.recordEvent(ctx, id, model.EventTypeEvicted, "idle", map[string]string{
			"ttl": ttl.String(),
		})
	}
	if len(evicted) > 0 {
		s.logger.Info("evicted idle sessions", zap.Int("count", len(evicted)), zap.Int("active", active))
	}

	return len(evicted)
}

// StartEvictor runs EvictIdle every interval until ctx is done.
func (s *SessionService) StartEvictor(ctx context.Context, ttl, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.EvictIdle(ctx, ttl)
			}
		}
	}()
}

func (s *SessionService) recordEvent(ctx context.Context, sessionID string, typ model.EventType, reason string, metadata map[string]string) {
	err := s.recorder.RecordEvent(ctx, &model.SessionEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		SessionID: sessionID,
		Type:      typ,
		Reason:    reason,
		Metadata:  metadata,
		CreatedAt: time.Now(),
	})
	if err != nil {
		s.logger.Warn("failed to archive event", zap.String("session_id", sessionID), zap.Error(err))
	}
}
