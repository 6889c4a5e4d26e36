// Package main is the entry point for the reading room chat server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/reading-room/persona-chat/internal/config"
	"github.com/reading-room/persona-chat/internal/handler"
	"github.com/reading-room/persona-chat/internal/llm"
	natsclient "github.com/reading-room/persona-chat/internal/nats"
	"github.com/reading-room/persona-chat/internal/service"
	"github.com/reading-room/persona-chat/pkg/logger"
	"github.com/reading-room/persona-chat/pkg/tracing"
	"github.com/reading-room/persona-chat/web"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("starting reading room server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "reading-room", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer func() { _ = tracing.Shutdown(context.Background(), tp) }()
		}
	}

	// A missing key is reported but not fatal: requests fail at call time.
	provider := llm.ParseProvider(cfg.LLMProvider)
	if cfg.ActiveAPIKey() == "" {
		log.Error("API key is not set for the selected provider", zap.String("provider", string(provider)))
	}

	llmClient, err := llm.NewClient(llm.Config{
		Provider:        provider,
		GeminiAPIKey:    cfg.GeminiAPIKey,
		GeminiBaseURL:   cfg.GeminiBaseURL,
		GeminiModel:     cfg.GeminiModel,
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIModel:     cfg.OpenAIModel,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
		AnthropicModel:  cfg.AnthropicModel,
		Timeout:         cfg.LLMTimeout,
	})
	if err != nil {
		log.Error("failed to create LLM client", zap.String("provider", string(provider)), zap.Error(err))
		llmClient = llm.Unavailable(provider, err)
	}

	// Transcript archive is optional.
	var (
		natsClient  *natsclient.Client
		recorder    service.Recorder
		transcripts handler.TranscriptReader
	)
	if cfg.NATSEnabled() {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer natsClient.Close()

		streamManager := natsclient.NewStreamManager(natsClient)
		if err := streamManager.EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
		recorder = streamManager
		transcripts = streamManager
		log.Info("transcript archive enabled", zap.String("stream", natsclient.StreamName))
	}

	sessionSvc := service.NewSessionService(llmClient, recorder, log)
	sessionSvc.StartEvictor(ctx, cfg.SessionIdleTTL, cfg.SessionEvictInterval)

	router := handler.NewRouter(handler.RouterConfig{
		JWTSecret:         cfg.JWTSecret,
		AllowedOrigins:    cfg.AllowedOrigins,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	}, handler.Handlers{
		Health:   handler.NewHealthHandler(natsClient, sessionSvc, llmClient),
		Sessions: handler.NewSessionHandler(sessionSvc, cfg.JWTSecret, cfg.JWTExpiration, log),
		Messages: handler.NewMessageHandler(sessionSvc, log),
		Stream:   handler.NewStreamHandler(sessionSvc, transcripts, log),
		Page:     web.Handler(),
	}, log)

	// SSE needs WriteTimeout 0 unless configured otherwise.
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort), zap.String("provider", llmClient.Name()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}
