// Package tts turns text into 16-bit PCM speech.
package tts

import (
	"context"

	"github.com/lexiqai/speech-assistant/internal/audio"
)

// Audio is the result of one synthesis call
type Audio struct {
	PCM        []byte // 16-bit little-endian mono
	SampleRate int    // Hz
}

// Segment wraps the audio as a playable queue segment
func (a *Audio) Segment(index int, filler bool, text string) *audio.Segment {
	seg := &audio.Segment{Index: index, Filler: filler, Text: text}
	if a != nil {
		seg.PCM = a.PCM
		seg.SampleRate = a.SampleRate
	}
	return seg
}

// Synthesizer converts one chunk of text to speech.
// Implementations must be safe for concurrent use.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (*Audio, error)
}

// SynthesizerFunc adapts a function to Synthesizer
type SynthesizerFunc func(ctx context.Context, text string) (*Audio, error)

// Synthesize calls f
func (f SynthesizerFunc) Synthesize(ctx context.Context, text string) (*Audio, error) {
	return f(ctx, text)
}
