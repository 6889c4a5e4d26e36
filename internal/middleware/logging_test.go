package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/reading-room/persona-chat/pkg/logger"
)

func TestLoggingCorrelationID(t *testing.T) {
	var seen string
	h := Logging(logger.NewNop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetCorrelationID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Correlation-ID", "corr-1")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		if seen != "corr-1" {
			t.Errorf("expected corr-1 in context, got %q", seen)
		}
		if got := rec.Header().Get("X-Correlation-ID"); got != "corr-1" {
			t.Errorf("expected corr-1 echoed, got %q", got)
		}
		if rec.Code != http.StatusNoContent {
			t.Errorf("expected 204, got %d", rec.Code)
		}
	})

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

		if seen == "" || seen != rec.Header().Get("X-Correlation-ID") {
			t.Errorf("expected generated ID in context and header, got %q / %q", seen, rec.Header().Get("X-Correlation-ID"))
		}
	})
}
