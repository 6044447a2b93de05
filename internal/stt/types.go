// Package stt turns microphone audio into text through a streaming
// speech-to-text provider.
package stt

import (
	"context"
	"errors"
)

// ErrNoSpeech is returned when listening ended without any recognised words
var ErrNoSpeech = errors.New("no speech recognised")

// Transcription is one partial or final recognition result
type Transcription struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates the provider will not revise this text again
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// Volume is the 0..1 input level when the result was produced
	Volume float64

	// UtteranceEnd marks the provider's end-of-speech signal; it carries no text
	UtteranceEnd bool
}

// Recognizer is a streaming speech-to-text session factory.
// Start opens a session whose results arrive on the returned channel; the
// channel is closed after Finish or when ctx is done.
type Recognizer interface {
	Start(ctx context.Context) (<-chan Transcription, error)
	Write(pcm []byte) error
	Finish() error
}
