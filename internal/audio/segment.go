package audio

import "time"

// BytesPerSample is the width of one PCM sample (16-bit signed, little-endian, mono)
const BytesPerSample = 2

// Segment is one playable piece of synthesized speech
type Segment struct {
	// Index establishes the strict playback order within its mapping
	Index int

	// Filler marks audio that only masks latency before real content is ready
	Filler bool

	// PCM holds 16-bit little-endian mono samples
	PCM []byte

	// SampleRate in Hz
	SampleRate int

	// Text is the utterance the audio was synthesized from, if any
	Text string
}

// Duration returns the playback length of the segment
func (s *Segment) Duration() time.Duration {
	if s == nil || s.SampleRate <= 0 {
		return 0
	}
	samples := len(s.PCM) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

// Empty reports whether the segment carries no audio. Empty segments still hold
// their index so that ordered playback can move past a failed synthesis.
func (s *Segment) Empty() bool {
	return s == nil || len(s.PCM) < BytesPerSample
}
