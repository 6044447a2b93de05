package speaker

import (
	"context"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
)

// Microphone streams 16-bit PCM from the default input device
type Microphone struct {
	sampleRate      int
	framesPerBuffer int
	logger          zerolog.Logger
}

// NewMicrophone creates a microphone capturing at sampleRate. PortAudio must
// already be initialized, which New does.
func NewMicrophone(sampleRate, framesPerBuffer int, logger zerolog.Logger) *Microphone {
	if framesPerBuffer <= 0 {
		framesPerBuffer = 512
	}
	return &Microphone{
		sampleRate:      sampleRate,
		framesPerBuffer: framesPerBuffer,
		logger:          logger.With().Str("component", "microphone").Logger(),
	}
}

// Capture opens the input stream and sends PCM buffers until ctx is done.
// The returned channel is closed when capture stops.
func (m *Microphone) Capture(ctx context.Context) (<-chan []byte, error) {
	buffer := make([]float32, m.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(m.sampleRate), len(buffer), buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start input stream: %w", err)
	}

	out := make(chan []byte, 100)
	go func() {
		defer close(out)
		defer stream.Close()
		defer stream.Stop()

		for ctx.Err() == nil {
			if err := stream.Read(); err != nil {
				m.logger.Debug().Err(err).Msg("Input overflow")
				continue
			}
			select {
			case out <- audio.FloatToPCM(buffer):
			case <-ctx.Done():
				return
			default:
				m.logger.Warn().Msg("Microphone backlog full, dropping buffer")
			}
		}
	}()
	return out, nil
}
