// Package speaker plays assistant audio on the local output device and
// captures microphone input through PortAudio.
package speaker

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
)

// DefaultFramesPerBuffer is the PortAudio buffer size in frames
const DefaultFramesPerBuffer = 1024

// Speaker is a playback.Player writing to the default output device
type Speaker struct {
	framesPerBuffer int
	logger          zerolog.Logger

	mu sync.Mutex // one segment at a time
}

// New initializes PortAudio. Close must be called to release it.
func New(framesPerBuffer int, logger zerolog.Logger) (*Speaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = DefaultFramesPerBuffer
	}
	return &Speaker{
		framesPerBuffer: framesPerBuffer,
		logger:          logger.With().Str("component", "speaker").Logger(),
	}, nil
}

// Play writes seg to the output device buffer by buffer and stops between
// buffers once ctx is done
func (s *Speaker) Play(ctx context.Context, seg *audio.Segment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := audio.PCMToFloat(seg.PCM)
	if len(samples) == 0 || seg.SampleRate <= 0 {
		return nil
	}

	buffer := make([]float32, s.framesPerBuffer)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(seg.SampleRate), len(buffer), &buffer)
	if err != nil {
		return fmt.Errorf("failed to open output stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return fmt.Errorf("failed to start output stream: %w", err)
	}
	defer stream.Stop()

	for pos := 0; pos < len(samples); {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos = fill(buffer, samples, pos)
		if err := stream.Write(); err != nil {
			return fmt.Errorf("failed to write to stream: %w", err)
		}
	}
	return nil
}

// Close releases PortAudio
func (s *Speaker) Close() error {
	return portaudio.Terminate()
}

// fill copies samples from pos into buffer, padding with silence, and returns
// the next position
func fill(buffer, samples []float32, pos int) int {
	n := copy(buffer, samples[pos:])
	for i := n; i < len(buffer); i++ {
		buffer[i] = 0
	}
	return pos + n
}
