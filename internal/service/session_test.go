package service

import (
	"context"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/reading-room/persona-chat/internal/llm"
	"github.com/reading-room/persona-chat/internal/model"
	"github.com/reading-room/persona-chat/pkg/logger"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []*llm.CompletionRequest
	ctxs  []context.Context
	reply string
	err   error
	gate  chan struct{}
}

func (f *fakeClient) Name() string     { return "fake" }
func (f *fakeClient) Models() []string { return []string{"fake-1"} }

func (f *fakeClient) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.ctxs = append(f.ctxs, ctx)
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.reply, Model: "fake-1"}, nil
}

func (f *fakeClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestSession(t *testing.T, client llm.Client, opts ...SessionOption) *Session {
	t.Helper()
	base := []SessionOption{WithLogger(logger.NewNop()), WithEndingDelay(50 * time.Millisecond)}
	return NewSession("test-session", client, append(base, opts...)...)
}

func waitTask(t *testing.T, task *Task) {
	t.Helper()
	if task == nil {
		t.Fatal("expected submission to be accepted")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := task.Wait(ctx); err != nil {
		t.Fatalf("task did not conclude: %v", err)
	}
}

func pendingCount(msgs []model.Message) int {
	n := 0
	for _, m := range msgs {
		if m.Pending {
			n++
		}
	}
	return n
}

func TestSubmitReplyThenTurnLimitEndsChat(t *testing.T) {
	client := &fakeClient{reply: "……こんにちは。"}
	sess := newTestSession(t, client, WithMaxTurns(2))
	persona := DefaultPersona()

	task := sess.Submit(context.Background(), "hello")
	waitTask(t, task)

	if got := sess.TurnCount(); got != 1 {
		t.Fatalf("expected turn count 1, got %d", got)
	}
	if got := client.callCount(); got != 1 {
		t.Fatalf("expected 1 generation call, got %d", got)
	}
	snap := sess.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %+v", snap.Messages)
	}
	if snap.Messages[0].Role != model.RoleUser || snap.Messages[0].Text != "hello" {
		t.Errorf("unexpected first message: %+v", snap.Messages[0])
	}
	if snap.Messages[1].Role != model.RoleAssistant || snap.Messages[1].Text != client.reply {
		t.Errorf("unexpected reply message: %+v", snap.Messages[1])
	}
	if snap.IsSending || snap.IsLoading || snap.IsChatEnded {
		t.Errorf("unexpected flags after reply: %+v", snap)
	}

	task = sess.Submit(context.Background(), "again")
	if task == nil || !task.Ending() {
		t.Fatal("expected the second turn to start the farewell sequence")
	}
	during := sess.Snapshot()
	if !during.IsSending || !during.IsLoading {
		t.Errorf("expected sending and loading during the ending delay: %+v", during)
	}
	if last := during.Messages[len(during.Messages)-1]; !last.Pending || last.Text != persona.Placeholder {
		t.Errorf("expected placeholder during the ending delay, got %+v", last)
	}
	waitTask(t, task)

	if got := client.callCount(); got != 1 {
		t.Fatalf("farewell must not call the model, got %d calls", got)
	}
	snap = sess.Snapshot()
	want := []struct {
		role model.Role
		text string
	}{
		{model.RoleUser, "hello"},
		{model.RoleAssistant, client.reply},
		{model.RoleUser, "again"},
		{model.RoleAssistant, persona.Farewell},
	}
	if len(snap.Messages) != len(want) {
		t.Fatalf("expected %d messages, got %+v", len(want), snap.Messages)
	}
	for i, w := range want {
		if snap.Messages[i].Role != w.role || snap.Messages[i].Text != w.text {
			t.Errorf("message %d: expected %s %q, got %+v", i, w.role, w.text, snap.Messages[i])
		}
	}
	if !snap.IsChatEnded || snap.IsSending || snap.IsLoading {
		t.Errorf("unexpected flags after farewell: %+v", snap)
	}

	history := sess.History()
	if len(history) != 6 {
		t.Fatalf("expected 6 history entries, got %d", len(history))
	}
	if last := history[5]; last.Role != model.HistoryRoleModel || last.Text != persona.Farewell {
		t.Errorf("expected farewell as last history entry, got %+v", last)
	}
}

func TestSubmitServerErrorLeavesHistoryOneSided(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("server error"))
	}))
	defer srv.Close()

	client := llm.NewGeminiClient(llm.GeminiConfig{APIKey: "k", BaseURL: srv.URL})
	sess := newTestSession(t, client, WithMaxTurns(10))

	waitTask(t, sess.Submit(context.Background(), "hello"))

	snap := sess.Snapshot()
	if len(snap.Messages) != 2 {
		t.Fatalf("expected user message and error notice, got %+v", snap.Messages)
	}
	notice := snap.Messages[1]
	if notice.Role != model.RoleSystem {
		t.Fatalf("expected system notice, got %+v", notice)
	}
	if !strings.HasPrefix(notice.Text, DefaultPersona().ApologyPrefix) {
		t.Errorf("expected apology prefix, got %q", notice.Text)
	}
	if !strings.Contains(notice.Text, "500") || !strings.Contains(notice.Text, "server error") {
		t.Errorf("expected status and body in notice, got %q", notice.Text)
	}
	if pendingCount(snap.Messages) != 0 {
		t.Error("placeholder was not removed")
	}
	if snap.IsSending || snap.IsLoading || snap.IsChatEnded {
		t.Errorf("unexpected flags after failure: %+v", snap)
	}

	history := sess.History()
	if len(history) != 3 {
		t.Fatalf("expected seed entries plus the user entry, got %+v", history)
	}
	if history[2].Role != model.HistoryRoleUser || history[2].Text != "hello" {
		t.Errorf("unexpected last history entry: %+v", history[2])
	}

	// The session stays usable after a failure.
	if task := sess.Submit(context.Background(), "still there?"); task == nil {
		t.Fatal("expected submission after failure to be accepted")
	} else {
		waitTask(t, task)
	}
	if got := len(sess.History()); got != 4 {
		t.Errorf("expected 4 history entries after second failure, got %d", got)
	}
}

func TestSubmitTransportFailureShowsNoticeWithoutKey(t *testing.T) {
	const key = "SECRET-KEY-123"

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	refused := httptest.NewServer(http.NotFoundHandler())
	refusedURL := refused.URL
	refused.Close()

	tests := []struct {
		name string
		cfg  llm.GeminiConfig
	}{
		{name: "timeout", cfg: llm.GeminiConfig{APIKey: key, BaseURL: slow.URL, Timeout: 50 * time.Millisecond}},
		{name: "connection refused", cfg: llm.GeminiConfig{APIKey: key, BaseURL: refusedURL}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &memoryRecorder{}
			sess := newTestSession(t, llm.NewGeminiClient(tt.cfg), WithMaxTurns(10), WithRecorder(rec))

			waitTask(t, sess.Submit(context.Background(), "hello"))

			snap := sess.Snapshot()
			if len(snap.Messages) != 2 {
				t.Fatalf("expected user message and error notice, got %+v", snap.Messages)
			}
			notice := snap.Messages[1]
			if notice.Role != model.RoleSystem || !strings.HasPrefix(notice.Text, DefaultPersona().ApologyPrefix) {
				t.Fatalf("expected system notice, got %+v", notice)
			}
			if strings.Contains(notice.Text, key) {
				t.Errorf("API key shown in chat: %q", notice.Text)
			}
			if snap.IsSending || snap.IsLoading || snap.IsChatEnded {
				t.Errorf("unexpected flags after failure: %+v", snap)
			}
			if got := len(sess.History()); got != 3 {
				t.Errorf("expected seed entries plus the user entry, got %d", got)
			}

			rec.mu.Lock()
			defer rec.mu.Unlock()
			for _, m := range rec.messages {
				if strings.Contains(m.Text, key) {
					t.Errorf("API key archived: %q", m.Text)
				}
			}
		})
	}
}

func TestSubmitBlankTextIsIgnored(t *testing.T) {
	client := &fakeClient{reply: "unused"}
	sess := newTestSession(t, client)
	before := sess.Snapshot()

	for _, text := range []string{"", "   ", "\n\t "} {
		if task := sess.Submit(context.Background(), text); task != nil {
			t.Errorf("expected %q to be dropped", text)
		}
	}

	after := sess.Snapshot()
	if after.Version != before.Version || len(after.Messages) != 0 {
		t.Errorf("blank submissions changed state: %+v", after)
	}
	if after.IsSending || after.IsLoading {
		t.Errorf("blank submissions changed flags: %+v", after)
	}
	if sess.TurnCount() != 0 || client.callCount() != 0 {
		t.Error("blank submissions must not count turns or call the model")
	}
}

func TestSubmitWhileInFlightIsDropped(t *testing.T) {
	client := &fakeClient{reply: "ふふ", gate: make(chan struct{})}
	sess := newTestSession(t, client, WithMaxTurns(10))

	first := sess.Submit(context.Background(), "first")
	if first == nil {
		t.Fatal("expected first submission to be accepted")
	}
	if second := sess.Submit(context.Background(), "second"); second != nil {
		t.Fatal("expected second submission to be dropped")
	}

	snap := sess.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[0].Text != "first" || !snap.Messages[1].Pending {
		t.Fatalf("unexpected in-flight messages: %+v", snap.Messages)
	}
	if !snap.IsSending || !snap.IsLoading {
		t.Errorf("expected sending and loading while in flight: %+v", snap)
	}
	if sess.TurnCount() != 1 {
		t.Errorf("dropped submission counted a turn: %d", sess.TurnCount())
	}

	close(client.gate)
	waitTask(t, first)

	if got := client.callCount(); got != 1 {
		t.Errorf("expected 1 generation call, got %d", got)
	}
	snap = sess.Snapshot()
	if len(snap.Messages) != 2 || snap.Messages[1].Text != "ふふ" || pendingCount(snap.Messages) != 0 {
		t.Errorf("unexpected final messages: %+v", snap.Messages)
	}
}

func TestSubmitAfterEndHasNoEffect(t *testing.T) {
	client := &fakeClient{reply: "unused"}
	sess := newTestSession(t, client, WithMaxTurns(1))

	waitTask(t, sess.Submit(context.Background(), "goodbye?"))
	ended := sess.Snapshot()
	if !ended.IsChatEnded {
		t.Fatal("expected chat to end on the first turn")
	}

	if task := sess.Submit(context.Background(), "wait"); task != nil {
		t.Fatal("expected submission after end to be dropped")
	}

	after := sess.Snapshot()
	if after.Version != ended.Version || len(after.Messages) != len(ended.Messages) {
		t.Errorf("submission after end changed state: %+v", after)
	}
	if client.callCount() != 0 || sess.TurnCount() != 1 {
		t.Error("submission after end must not call the model or count a turn")
	}
}

func TestGenerationRequestCarriesSeededHistory(t *testing.T) {
	client := &fakeClient{reply: "『こころ』です。"}
	sess := newTestSession(t, client, WithMaxTurns(10))
	persona := DefaultPersona()

	waitTask(t, sess.Submit(context.Background(), "何を読んでいるの?"))

	req := client.calls[0]
	if req.Temperature != Temperature || req.MaxTokens != MaxOutputTokens {
		t.Errorf("unexpected generation settings: %v / %d", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 3 {
		t.Fatalf("expected seed entries plus user entry, got %+v", req.Messages)
	}
	if req.Messages[0].Role != llm.RoleUser || req.Messages[0].Content != persona.Instructions {
		t.Errorf("expected persona instructions first, got %+v", req.Messages[0])
	}
	if req.Messages[1].Role != llm.RoleModel || req.Messages[1].Content != persona.Acknowledgment {
		t.Errorf("expected acknowledgment second, got %+v", req.Messages[1])
	}
	if req.Messages[2].Role != llm.RoleUser || req.Messages[2].Content != "何を読んでいるの?" {
		t.Errorf("unexpected user entry: %+v", req.Messages[2])
	}
}

func TestSubmitSurvivesCallerCancellation(t *testing.T) {
	client := &fakeClient{reply: "……", gate: make(chan struct{})}
	sess := newTestSession(t, client, WithMaxTurns(10))

	ctx, cancel := context.WithCancel(context.Background())
	task := sess.Submit(ctx, "hello")
	cancel()
	close(client.gate)
	waitTask(t, task)

	client.mu.Lock()
	callCtx := client.ctxs[0]
	client.mu.Unlock()
	if callCtx.Err() != nil {
		t.Errorf("generation context was cancelled with the caller: %v", callCtx.Err())
	}
	if msgs := sess.Snapshot().Messages; msgs[len(msgs)-1].Role != model.RoleAssistant {
		t.Errorf("expected reply despite caller cancellation, got %+v", msgs)
	}
}

func TestDrawMaxTurnsCoversInclusiveRange(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	seen := make(map[int]bool)
	for i := 0; i < 5000; i++ {
		n := drawMaxTurns(r)
		if n < MinTurns || n > MaxTurns {
			t.Fatalf("draw %d outside [%d, %d]", n, MinTurns, MaxTurns)
		}
		seen[n] = true
	}
	if !seen[MinTurns] || !seen[MaxTurns] {
		t.Errorf("expected both bounds to be drawn, saw %v", seen)
	}
	if len(seen) != MaxTurns-MinTurns+1 {
		t.Errorf("expected every value in range, saw %d distinct", len(seen))
	}
}

func TestMaxTurnsFixedForSession(t *testing.T) {
	client := &fakeClient{reply: "ええ"}
	sess := newTestSession(t, client, WithRand(rand.New(rand.NewPCG(7, 7))))

	limit := sess.MaxTurns()
	if limit < MinTurns || limit > MaxTurns {
		t.Fatalf("limit %d outside range", limit)
	}
	for i := 0; i < 3; i++ {
		waitTask(t, sess.Submit(context.Background(), "turn"))
		if sess.MaxTurns() != limit {
			t.Fatalf("limit changed from %d to %d", limit, sess.MaxTurns())
		}
	}
}

func TestSubscribeReceivesEveryChange(t *testing.T) {
	client := &fakeClient{reply: "ふふ"}
	sess := newTestSession(t, client, WithMaxTurns(10))

	updates, cancel := sess.Subscribe()
	defer cancel()

	waitTask(t, sess.Submit(context.Background(), "hello"))

	var got []model.Snapshot
	timeout := time.After(time.Second)
	for len(got) < 2 {
		select {
		case snap := <-updates:
			got = append(got, snap)
		case <-timeout:
			t.Fatalf("expected 2 snapshots, got %d", len(got))
		}
	}

	if !got[0].IsLoading || pendingCount(got[0].Messages) != 1 {
		t.Errorf("first snapshot should show the placeholder: %+v", got[0])
	}
	if got[1].Version <= got[0].Version {
		t.Errorf("versions not increasing: %d then %d", got[0].Version, got[1].Version)
	}
	if got[1].IsLoading || pendingCount(got[1].Messages) != 0 {
		t.Errorf("second snapshot should show the reply: %+v", got[1])
	}

	cancel()
	if _, ok := <-updates; ok {
		t.Error("expected channel to be closed after cancel")
	}
}
