package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func TestSessionTokenRoundTrip(t *testing.T) {
	token, err := IssueSessionToken("secret", "session-1", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	id, err := ParseSessionToken("secret", token)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if id != "session-1" {
		t.Errorf("expected session-1, got %q", id)
	}

	if _, err := ParseSessionToken("other-secret", token); err == nil {
		t.Error("expected wrong secret to fail")
	}

	expired, err := IssueSessionToken("secret", "session-1", -time.Minute)
	if err != nil {
		t.Fatalf("issue expired: %v", err)
	}
	if _, err := ParseSessionToken("secret", expired); err == nil {
		t.Error("expected expired token to fail")
	}
}

func newAuthRouter() http.Handler {
	r := chi.NewRouter()
	r.With(SessionAuth("secret")).Get("/sessions/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetSessionID(r.Context())))
	})
	return r
}

func TestSessionAuth(t *testing.T) {
	token, err := IssueSessionToken("secret", "abc", time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{name: "bearer header", path: "/sessions/abc", header: "Bearer " + token, want: http.StatusOK},
		{name: "query token", path: "/sessions/abc?token=" + token, want: http.StatusOK},
		{name: "missing", path: "/sessions/abc", want: http.StatusUnauthorized},
		{name: "wrong scheme", path: "/sessions/abc", header: "Basic " + token, want: http.StatusUnauthorized},
		{name: "other session", path: "/sessions/xyz", header: "Bearer " + token, want: http.StatusForbidden},
	}

	h := newAuthRouter()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, rec.Code, rec.Body.String())
			}
			if tt.want == http.StatusOK && rec.Body.String() != "abc" {
				t.Errorf("expected session ID in context, got %q", rec.Body.String())
			}
		})
	}
}

func TestValidateMessageText(t *testing.T) {
	if err := ValidateMessageText("   "); err != nil {
		t.Errorf("blank text should pass validation: %v", err)
	}
	if err := ValidateMessageText(strings.Repeat("あ", MaxMessageBytes)); err == nil {
		t.Error("expected oversized text to fail")
	}
	if err := ValidateMessageText(string([]byte{0xff, 0xfe})); err == nil {
		t.Error("expected invalid UTF-8 to fail")
	}
}
