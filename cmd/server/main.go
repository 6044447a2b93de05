package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lexiqai/speech-assistant/internal/app"
	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/server"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("llm_backend", cfg.LLMBackend).
		Str("tts_backend", cfg.TTSBackend).
		Str("log_level", cfg.LogLevel).
		Bool("voice_input", cfg.VoiceInputEnabled()).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Speech assistant service starting")

	components, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to wire backends")
	}
	defer components.Close()

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	components.LoadFillers(startCtx)
	logger.Info().Str("model", components.ModelName(startCtx)).Msg("Language model ready")
	cancelStart()

	srv := server.New(server.Config{
		Deps:             components.Deps(),
		NewRecognizer:    components.RecognizerFactory(),
		History:          components.History,
		Encoding:         cfg.AudioEncoding,
		OutputSampleRate: cfg.OutputSampleRate,
		Checks:           components.Checks(),
		MetricsEnabled:   cfg.MetricsEnabled,
	}, logger)

	// No write timeout: WebSocket connections stream audio for minutes
	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%s", cfg.Port),
		Handler:     srv.Routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/ws", cfg.Port)).
			Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
