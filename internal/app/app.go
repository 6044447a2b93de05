// Package app builds the collaborators selected by the configuration.
// Both binaries share it.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/assistant"
	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/generation"
	"github.com/lexiqai/speech-assistant/internal/history"
	"github.com/lexiqai/speech-assistant/internal/inference"
	"github.com/lexiqai/speech-assistant/internal/llm"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/stt"
	"github.com/lexiqai/speech-assistant/internal/tts"
)

// App holds the long-lived, shared collaborators
type App struct {
	Config      *config.Config
	Runtime     *inference.GRPCRuntime // nil unless a backend uses the runtime
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Fillers     *tts.FillerBank
	KV          history.KV
	History     *history.Repository

	logger zerolog.Logger
}

// New wires the backends named by cfg
func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{Config: cfg, logger: logger}

	if cfg.LLMBackend == config.BackendRuntime || cfg.TTSBackend == config.BackendRuntime {
		rt, err := inference.NewGRPCRuntime(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Runtime = rt
	}

	switch cfg.LLMBackend {
	case config.BackendOpenAI:
		a.Generator = llm.NewOpenAIGenerator(llm.OpenAIConfig{
			APIKey:       cfg.OpenAIAPIKey,
			BaseURL:      cfg.OpenAIBaseURL,
			Model:        cfg.OpenAIModel,
			SystemPrompt: cfg.SystemPrompt,
		}, logger)
	default:
		a.Generator = llm.NewRuntimeGenerator(a.Runtime, logger)
	}

	switch cfg.TTSBackend {
	case config.BackendCartesia:
		a.Synthesizer = tts.NewCartesiaClient(cfg, logger)
	default:
		a.Synthesizer = tts.NewRuntimeSynthesizer(a.Runtime, cfg.RuntimeSampleRate, logger)
	}

	if cfg.FillerEnabled {
		a.Fillers = tts.NewFillerBank(cfg.FillerDir, cfg.FillerPhrases, a.Synthesizer, logger)
	}

	if cfg.HistoryDBPath == "" {
		a.KV = history.NewMemoryKV()
	} else {
		kv, err := history.NewSQLiteKV(cfg.HistoryDBPath)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.KV = kv
	}
	a.History = history.NewRepository(a.KV, cfg.HistoryMaxChats, logger)

	return a, nil
}

// LoadFillers prepares the filler clips. Failures only disable fillers.
func (a *App) LoadFillers(ctx context.Context) {
	if a.Fillers == nil {
		return
	}
	if err := a.Fillers.Load(ctx); err != nil {
		a.logger.Warn().Err(err).Msg("Failed to load filler clips")
		return
	}
	a.logger.Info().Int("clips", a.Fillers.Len()).Msg("Filler clips loaded")
}

// Deps returns the assistant template; Player is left to the caller
func (a *App) Deps() assistant.Deps {
	return assistant.Deps{
		Generator:    a.Generator,
		Synthesizer:  a.Synthesizer,
		Fillers:      a.Fillers,
		History:      a.History,
		Generation:   generation.ConfigFromEnv(a.Config),
		PollInterval: a.Config.PlaybackPollInterval(),
		Listen: stt.ListenOptions{
			SampleRate:      a.Config.STTSampleRate,
			SilenceTimeout:  a.Config.STTSilenceTimeout(),
			EnergyThreshold: a.Config.VADEnergyThreshold,
		},
	}
}

// RecognizerFactory returns a constructor for per-session recognizers, or nil
// when voice input is not configured
func (a *App) RecognizerFactory() func() stt.Recognizer {
	if !a.Config.VoiceInputEnabled() {
		return nil
	}
	return func() stt.Recognizer {
		return stt.NewDeepgramRecognizer(a.Config, a.logger)
	}
}

// Checks returns the readiness probes of the wired dependencies
func (a *App) Checks() map[string]observability.HealthCheckFunc {
	checks := map[string]observability.HealthCheckFunc{
		"history": func(ctx context.Context) (bool, error) {
			_, err := a.KV.Get(ctx, "flag:first_boot_done")
			if err != nil && !errors.Is(err, history.ErrNotFound) {
				return false, err
			}
			return true, nil
		},
	}
	if a.Runtime != nil {
		checks["runtime"] = a.Runtime.HealthCheck
	}
	return checks
}

// ModelName reports the model behind the generator
func (a *App) ModelName(ctx context.Context) string {
	name, err := a.Generator.ModelName(ctx)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to read model name")
		return "unknown"
	}
	return name
}

// Close releases the runtime connection and the history store
func (a *App) Close() error {
	var errs []error
	if a.Runtime != nil {
		if err := a.Runtime.Close(); err != nil {
			errs = append(errs, fmt.Errorf("runtime: %w", err))
		}
	}
	if a.KV != nil {
		if err := a.KV.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history: %w", err))
		}
	}
	return errors.Join(errs...)
}
