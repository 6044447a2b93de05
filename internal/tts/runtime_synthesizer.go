package tts

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/inference"
	"github.com/lexiqai/speech-assistant/internal/observability"
)

const (
	backendRuntime = "runtime"

	inputText        = "text"
	outputAudio      = "audio"
	outputSampleRate = "sample_rate"
)

// RuntimeSynthesizer calls the runtime's synthesize method and converts the
// returned float samples to 16-bit PCM
type RuntimeSynthesizer struct {
	runtime           inference.Runtime
	defaultSampleRate int
	logger            zerolog.Logger
}

// NewRuntimeSynthesizer creates a synthesizer. defaultSampleRate is used when
// the runtime does not report one.
func NewRuntimeSynthesizer(runtime inference.Runtime, defaultSampleRate int, logger zerolog.Logger) *RuntimeSynthesizer {
	return &RuntimeSynthesizer{
		runtime:           runtime,
		defaultSampleRate: defaultSampleRate,
		logger:            logger.With().Str("component", "tts_runtime").Logger(),
	}
}

// Synthesize converts text to speech
func (s *RuntimeSynthesizer) Synthesize(ctx context.Context, text string) (*Audio, error) {
	start := time.Now()
	out, err := s.runtime.RunMethod(ctx, inference.MethodSynthesize, inference.Tensors{
		inputText: inference.StringTensor(text),
	})
	if err != nil {
		observability.RecordTTS(backendRuntime, false, time.Since(start))
		return nil, fmt.Errorf("failed to synthesize: %w", err)
	}

	samples, err := out.FloatArray(outputAudio)
	if err != nil {
		observability.RecordTTS(backendRuntime, false, time.Since(start))
		return nil, fmt.Errorf("failed to read synthesized audio: %w", err)
	}

	rate := s.defaultSampleRate
	if out.Has(outputSampleRate) {
		if r, err := out.Int(outputSampleRate); err == nil && r > 0 {
			rate = int(r)
		}
	}

	observability.RecordTTS(backendRuntime, true, time.Since(start))
	s.logger.Debug().
		Int("chars", len(text)).
		Int("samples", len(samples)).
		Dur("latency", time.Since(start)).
		Msg("Synthesized chunk")

	return &Audio{PCM: audio.FloatToPCM(samples), SampleRate: rate}, nil
}
