package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reading-room/persona-chat/internal/middleware"
	"github.com/reading-room/persona-chat/pkg/logger"
)

// RouterConfig carries the settings the router needs.
type RouterConfig struct {
	JWTSecret         string
	AllowedOrigins    []string
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// Handlers groups the endpoint handlers mounted by NewRouter.
type Handlers struct {
	Health   *HealthHandler
	Sessions *SessionHandler
	Messages *MessageHandler
	Stream   *StreamHandler

	// Page serves the browser client; optional.
	Page http.Handler
}

// NewRouter wires middleware and routes.
func NewRouter(cfg RouterConfig, h Handlers, log *logger.Logger) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.Sessions.Create)

		r.Route("/{id}", func(r chi.Router) {
			r.Use(middleware.SessionAuth(cfg.JWTSecret))
			r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))

			r.Get("/", h.Sessions.Get)
			r.Post("/messages", h.Messages.Send)
			r.Get("/stream", h.Stream.Stream)
			r.Get("/transcript", h.Stream.Transcript)
		})
	})

	if h.Page != nil {
		r.Handle("/*", h.Page)
	}

	return r
}
