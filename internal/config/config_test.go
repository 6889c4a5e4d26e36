package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LLM_PROVIDER", "GEMINI_API_KEY", "VITE_GEMINI_API_KEY", "GEMINI_MODEL",
		"SESSION_IDLE_TTL", "NATS_URL", "SERVER_WRITE_TIMEOUT", "ALLOWED_ORIGINS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ServerPort != "8080" {
		t.Errorf("expected port 8080, got %q", cfg.ServerPort)
	}
	if cfg.LLMProvider != "gemini" || cfg.GeminiModel != "gemini-2.5-flash-lite" {
		t.Errorf("unexpected provider defaults: %s / %s", cfg.LLMProvider, cfg.GeminiModel)
	}
	if cfg.ServerWriteTimeout != 0 {
		t.Errorf("expected no write timeout, got %v", cfg.ServerWriteTimeout)
	}
	if cfg.SessionIdleTTL != 2*time.Hour {
		t.Errorf("expected 2h idle TTL, got %v", cfg.SessionIdleTTL)
	}
	if cfg.NATSEnabled() {
		t.Error("expected transcript archive disabled by default")
	}
	if cfg.ActiveAPIKey() != "" {
		t.Errorf("expected empty key, got %q", cfg.ActiveAPIKey())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("SESSION_IDLE_TTL", "30m")
	t.Setenv("RATE_LIMIT_REQUESTS", "not-a-number")
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg := Load()

	if cfg.ServerPort != "9090" {
		t.Errorf("expected port 9090, got %q", cfg.ServerPort)
	}
	if cfg.ActiveAPIKey() != "sk-test" {
		t.Errorf("expected openai key, got %q", cfg.ActiveAPIKey())
	}
	if cfg.SessionIdleTTL != 30*time.Minute {
		t.Errorf("expected 30m, got %v", cfg.SessionIdleTTL)
	}
	if cfg.RateLimitRequests != 60 {
		t.Errorf("expected fallback to 60, got %d", cfg.RateLimitRequests)
	}
	if !cfg.TracingEnabled {
		t.Error("expected tracing enabled")
	}
	if want := []string{"http://a.test", "http://b.test"}; !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("expected %v, got %v", want, cfg.AllowedOrigins)
	}
	if !cfg.NATSEnabled() {
		t.Error("expected transcript archive enabled")
	}
}

func TestGeminiKeyFallsBackToViteVariable(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("VITE_GEMINI_API_KEY", "vite-key")

	if got := Load().ActiveAPIKey(); got != "vite-key" {
		t.Errorf("expected vite-key, got %q", got)
	}

	t.Setenv("GEMINI_API_KEY", "primary-key")
	if got := Load().ActiveAPIKey(); got != "primary-key" {
		t.Errorf("expected primary-key, got %q", got)
	}
}
