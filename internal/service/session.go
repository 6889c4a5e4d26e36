// Package service provides the conversation state management for the reading room.
package service

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/reading-room/persona-chat/internal/llm"
	"github.com/reading-room/persona-chat/internal/model"
	"github.com/reading-room/persona-chat/pkg/logger"
	"github.com/reading-room/persona-chat/pkg/metrics"
)

const (
	// MinTurns and MaxTurns bound the inclusive range a session's turn limit is drawn from.
	MinTurns = 10
	MaxTurns = 30

	// EndingDelay is how long the persona "thinks" before saying goodbye.
	EndingDelay = 1500 * time.Millisecond

	// Temperature and MaxOutputTokens are the fixed generation settings.
	Temperature     = 0.7
	MaxOutputTokens = 200
)

// Task is the handle of a session's single in-flight attempt. A session holds
// at most one Task at a time; Submit while one is present is dropped.
type Task struct {
	placeholderID string
	ending        bool
	done          chan struct{}
}

// Done is closed once the attempt has concluded and its outcome is visible.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Ending reports whether the task is the farewell sequence rather than a generation.
func (t *Task) Ending() bool {
	return t.ending
}

// Wait blocks until the attempt concludes or ctx is done.
func (t *Task) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// state is everything a session owns. It is only touched with Session.mu held.
type state struct {
	version   uint64
	messages  []model.Message
	history   []model.HistoryEntry
	turnCount int
	maxTurns  int
	ended     bool
	loading   bool
	inflight  *Task
	lastSeen  time.Time
}

// outcome is the change a concluded attempt applies to the session.
type outcome struct {
	message model.Message
	history *model.HistoryEntry
	end     bool
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithPersona overrides the default persona.
func WithPersona(p Persona) SessionOption {
	return func(s *Session) { s.persona = p }
}

// WithMaxTurns fixes the turn limit instead of drawing it.
func WithMaxTurns(n int) SessionOption {
	return func(s *Session) { s.st.maxTurns = n }
}

// WithRand sets the source the turn limit is drawn from.
func WithRand(r *rand.Rand) SessionOption {
	return func(s *Session) { s.rng = r }
}

// WithEndingDelay overrides EndingDelay.
func WithEndingDelay(d time.Duration) SessionOption {
	return func(s *Session) { s.endingDelay = d }
}

// WithRecorder sets where displayed messages and events are archived.
func WithRecorder(r Recorder) SessionOption {
	return func(s *Session) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// Session is the conversation state manager of one browser session.
type Session struct {
	id          string
	persona     Persona
	llmClient   llm.Client
	recorder    Recorder
	logger      *logger.Logger
	endingDelay time.Duration
	rng         *rand.Rand

	mu      sync.Mutex
	st      state
	subs    map[int]chan model.Snapshot
	nextSub int
}

// NewSession creates a session with its history seeded and its turn limit fixed.
func NewSession(id string, client llm.Client, opts ...SessionOption) *Session {
	s := &Session{
		id:          id,
		persona:     DefaultPersona(),
		llmClient:   client,
		recorder:    nopRecorder{},
		logger:      logger.Global(),
		endingDelay: EndingDelay,
		subs:        make(map[int]chan model.Snapshot),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.st.maxTurns <= 0 {
		s.st.maxTurns = drawMaxTurns(s.rng)
	}
	s.st.history = s.persona.seedHistory()
	s.st.messages = []model.Message{}
	s.st.lastSeen = time.Now()
	s.logger = s.logger.With(zap.String("session_id", id))

	return s
}

// drawMaxTurns picks uniformly from [MinTurns, MaxTurns].
func drawMaxTurns(r *rand.Rand) int {
	if r == nil {
		return rand.IntN(MaxTurns-MinTurns+1) + MinTurns
	}
	return r.IntN(MaxTurns-MinTurns+1) + MinTurns
}

// ID returns the session ID.
func (s *Session) ID() string {
	return s.id
}

// Submit accepts user-authored text. It returns nil, and changes nothing, when
// a task is already in flight, the text is blank, or the chat has ended.
// Otherwise the returned Task concludes once the reply, error notice or
// farewell is visible. The attempt is not tied to ctx's cancellation.
func (s *Session) Submit(ctx context.Context, text string) *Task {
	s.mu.Lock()
	if reason := s.dropReasonLocked(text); reason != "" {
		s.mu.Unlock()
		metrics.SubmitsDropped.WithLabelValues(reason).Inc()
		return nil
	}

	userMsg := model.Message{ID: newMessageID(), Role: model.RoleUser, Text: text}
	s.st.messages = append(s.st.messages, userMsg)
	s.st.history = append(s.st.history, model.HistoryEntry{Role: model.HistoryRoleUser, Text: text})
	s.st.turnCount++

	task := &Task{
		placeholderID: newMessageID(),
		ending:        s.st.turnCount >= s.st.maxTurns,
		done:          make(chan struct{}),
	}
	s.st.messages = append(s.st.messages, model.Message{
		ID:      task.placeholderID,
		Role:    model.RoleAssistant,
		Text:    s.persona.Placeholder,
		Pending: true,
	})
	s.st.loading = true
	s.st.inflight = task
	s.st.lastSeen = time.Now()

	turn := s.st.turnCount
	history := slices.Clone(s.st.history)
	s.changedLocked()
	s.mu.Unlock()

	metrics.TurnsTotal.Inc()
	s.record(ctx, userMsg)

	runCtx := context.WithoutCancel(ctx)
	if task.ending {
		s.logger.Info("turn limit reached", zap.Int("turn", turn))
		go s.finish(runCtx, task)
	} else {
		go s.generate(runCtx, task, history)
	}

	return task
}

func (s *Session) dropReasonLocked(text string) string {
	switch {
	case s.st.inflight != nil:
		return "in_flight"
	case strings.TrimSpace(text) == "":
		return "empty"
	case s.st.ended:
		return "ended"
	default:
		return ""
	}
}

// finish runs the farewell sequence. No generation request is made.
func (s *Session) finish(ctx context.Context, task *Task) {
	timer := time.NewTimer(s.endingDelay)
	<-timer.C

	farewell := s.persona.Farewell
	s.conclude(ctx, task, outcome{
		message: model.Message{ID: newMessageID(), Role: model.RoleAssistant, Text: farewell},
		history: &model.HistoryEntry{Role: model.HistoryRoleModel, Text: farewell},
		end:     true,
	})

	metrics.ChatsEnded.Inc()
	s.recordEvent(ctx, model.EventTypeEnded, "turn limit reached")
}

// generate issues the single outbound call of a normal turn.
func (s *Session) generate(ctx context.Context, task *Task, history []model.HistoryEntry) {
	messages := make([]llm.ChatMessage, len(history))
	for i, h := range history {
		messages[i] = llm.ChatMessage{Role: string(h.Role), Content: h.Text}
	}

	start := time.Now()
	resp, err := s.llmClient.Complete(ctx, &llm.CompletionRequest{
		Messages:    messages,
		MaxTokens:   MaxOutputTokens,
		Temperature: Temperature,
	})
	if err != nil {
		metrics.RecordGeneration(s.llmClient.Name(), "error", time.Since(start).Seconds(), 0, 0)
		s.logger.Warn("generation failed", zap.Error(err))

		s.conclude(ctx, task, outcome{
			message: model.Message{
				ID:   newMessageID(),
				Role: model.RoleSystem,
				Text: fmt.Sprintf("%s(エラー: %s)", s.persona.ApologyPrefix, err.Error()),
			},
		})
		s.recordEvent(ctx, model.EventTypeError, err.Error())
		return
	}

	metrics.RecordGeneration(s.llmClient.Name(), "success", time.Since(start).Seconds(), resp.TokensIn, resp.TokensOut)
	s.logger.Debug("generation complete",
		zap.String("model", resp.Model),
		zap.Int64("latency_ms", resp.LatencyMs),
		zap.Int("tokens_out", resp.TokensOut),
	)

	s.conclude(ctx, task, outcome{
		message: model.Message{ID: newMessageID(), Role: model.RoleAssistant, Text: resp.Content},
		history: &model.HistoryEntry{Role: model.HistoryRoleModel, Text: resp.Content},
	})
}

// conclude swaps the task's placeholder for the terminal message and frees the slot.
func (s *Session) conclude(ctx context.Context, task *Task, out outcome) {
	s.mu.Lock()
	if s.st.inflight != task {
		s.mu.Unlock()
		s.logger.Error("stale task ignored")
		return
	}

	s.st.messages = slices.DeleteFunc(s.st.messages, func(m model.Message) bool {
		return m.ID == task.placeholderID
	})
	s.st.messages = append(s.st.messages, out.message)
	if out.history != nil {
		s.st.history = append(s.st.history, *out.history)
	}
	if out.end {
		s.st.ended = true
	}
	s.st.loading = false
	s.st.inflight = nil
	s.st.lastSeen = time.Now()
	s.changedLocked()
	s.mu.Unlock()

	s.record(ctx, out.message)
	close(task.done)
}

// changedLocked bumps the version and pushes a snapshot to every subscriber.
func (s *Session) changedLocked() {
	s.st.version++
	snap := s.snapshotLocked()
	for _, ch := range s.subs {
		select {
		case ch <- snap:
		default:
		}
	}
}

func (s *Session) snapshotLocked() model.Snapshot {
	return model.Snapshot{
		SessionID:   s.id,
		Version:     s.st.version,
		Messages:    slices.Clone(s.st.messages),
		IsLoading:   s.st.loading,
		IsSending:   s.st.inflight != nil,
		IsChatEnded: s.st.ended,
	}
}

// Snapshot returns a copy of the presentation-facing state. Reading counts
// as activity for idle eviction.
func (s *Session) Snapshot() model.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.lastSeen = time.Now()
	return s.snapshotLocked()
}

// Subscribe returns a channel receiving a snapshot after every change, and a
// function that releases it. Snapshots are dropped for a subscriber that
// falls behind; each one carries the full state.
func (s *Session) Subscribe() (<-chan model.Snapshot, func()) {
	ch := make(chan model.Snapshot, 16)

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.st.lastSeen = time.Now()
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			close(ch)
			s.st.lastSeen = time.Now()
			s.mu.Unlock()
		})
	}
}

// Watched reports whether any subscriber is attached.
func (s *Session) Watched() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs) > 0
}

// History returns a copy of the model-facing history, seed entries included.
func (s *Session) History() []model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.st.history)
}

// TurnCount returns the number of accepted submissions.
func (s *Session) TurnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.turnCount
}

// MaxTurns returns the turn limit fixed at creation.
func (s *Session) MaxTurns() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.maxTurns
}

// Busy reports whether a task is in flight.
func (s *Session) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.inflight != nil
}

// LastSeen returns when the session was last changed, read or subscribed to.
func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st.lastSeen
}

func (s *Session) record(ctx context.Context, msg model.Message) {
	if err := s.recorder.RecordMessage(ctx, s.id, msg); err != nil {
		s.logger.Warn("failed to archive message", zap.String("message_id", msg.ID), zap.Error(err))
	}
}

func (s *Session) recordEvent(ctx context.Context, typ model.EventType, reason string) {
	event := &model.SessionEvent{
		ID:        newMessageID(),
		SessionID: s.id,
		Type:      typ,
		Reason:    reason,
		Metadata: map[string]string{
			"turn":      strconv.Itoa(s.TurnCount()),
			"max_turns": strconv.Itoa(s.MaxTurns()),
		},
		CreatedAt: time.Now(),
	}
	if err := s.recorder.RecordEvent(ctx, event); err != nil {
		s.logger.Warn("failed to archive event", zap.String("event", string(typ)), zap.Error(err))
	}
}

func newMessageID() string {
	return uuid.Must(uuid.NewV7()).String()
}
