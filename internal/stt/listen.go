package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/observability"
)

const (
	vadFrameDuration = 20 * time.Millisecond
	drainTimeout     = 500 * time.Millisecond
)

// ListenOptions tunes end-of-speech detection
type ListenOptions struct {
	SampleRate      int           // Hz of the incoming PCM
	SilenceTimeout  time.Duration // trailing silence that ends listening
	EnergyThreshold float64       // RMS level that counts as speech

	// OnTranscript receives every partial and final result with the current input volume
	OnTranscript func(Transcription)
}

func (o ListenOptions) vadConfig() *audio.VADConfig {
	cfg := audio.DefaultVADConfig()
	if o.EnergyThreshold > 0 {
		cfg.EnergyThreshold = o.EnergyThreshold
	}
	if o.SampleRate > 0 {
		cfg.FrameSize = o.SampleRate * int(vadFrameDuration/time.Millisecond) / 1000
	}
	if o.SilenceTimeout > 0 {
		cfg.SilenceFrames = int(o.SilenceTimeout / vadFrameDuration)
		if cfg.SilenceFrames < 1 {
			cfg.SilenceFrames = 1
		}
	}
	return cfg
}

// Listen streams PCM from in to the recognizer until the speaker falls silent,
// the provider signals the end of the utterance, or in is closed. It returns
// the final transcript.
func Listen(ctx context.Context, rec Recognizer, in <-chan []byte, opts ListenOptions, logger zerolog.Logger) (string, error) {
	start := time.Now()
	results, err := rec.Start(ctx)
	if err != nil {
		observability.RecordSTT(false, time.Since(start))
		return "", err
	}
	defer rec.Finish()

	var (
		vad     = audio.NewVADDetector(opts.vadConfig())
		finals  []string
		interim string
		heard   bool
		volume  float64
	)

	handle := func(t Transcription) {
		if t.Text == "" {
			return
		}
		t.Volume = volume
		if opts.OnTranscript != nil {
			opts.OnTranscript(t)
		}
		if t.IsFinal {
			finals = append(finals, t.Text)
			interim = ""
		} else {
			interim = t.Text
		}
	}

loop:
	for {
		select {
		case <-ctx.Done():
			observability.RecordSTT(false, time.Since(start))
			return "", ctx.Err()

		case pcm, ok := <-in:
			if !ok {
				break loop
			}
			if err := rec.Write(pcm); err != nil {
				observability.RecordSTT(false, time.Since(start))
				return "", fmt.Errorf("failed to stream audio: %w", err)
			}
			ended := false
			for _, ev := range vad.Write(pcm) {
				switch ev {
				case audio.VADSpeechStarted:
					heard = true
				case audio.VADSpeechEnded:
					ended = heard
				}
			}
			volume = vad.Volume()
			if ended {
				logger.Debug().Msg("Silence timeout reached")
				break loop
			}

		case t, ok := <-results:
			if !ok {
				results = nil
				break loop
			}
			if t.UtteranceEnd {
				if len(finals) > 0 {
					break loop
				}
				continue
			}
			handle(t)
		}
	}

	rec.Finish()
	if results != nil {
		timeout := time.After(drainTimeout)
	drain:
		for {
			select {
			case t, ok := <-results:
				if !ok {
					break drain
				}
				handle(t)
			case <-timeout:
				break drain
			}
		}
	}

	text := strings.TrimSpace(strings.Join(finals, " "))
	if text == "" {
		text = strings.TrimSpace(interim)
	}
	if text == "" {
		observability.RecordSTT(false, time.Since(start))
		return "", ErrNoSpeech
	}
	observability.RecordSTT(true, time.Since(start))
	return text, nil
}
