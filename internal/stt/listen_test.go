package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
)

type fakeRecognizer struct {
	mu       sync.Mutex
	out      chan Transcription
	written  int
	finished bool
	writeErr error
}

func newFakeRecognizer(results ...Transcription) *fakeRecognizer {
	r := &fakeRecognizer{out: make(chan Transcription, 16)}
	for _, t := range results {
		r.out <- t
	}
	return r
}

func (r *fakeRecognizer) Start(ctx context.Context) (<-chan Transcription, error) {
	return r.out, nil
}

func (r *fakeRecognizer) Write(pcm []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.writeErr != nil {
		return r.writeErr
	}
	r.written += len(pcm)
	return nil
}

func (r *fakeRecognizer) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.finished {
		r.finished = true
		close(r.out)
	}
	return nil
}

func pcmFrame(amplitude int16, samples int) []byte {
	s := make([]int16, samples)
	for i := range s {
		if i%2 == 0 {
			s[i] = amplitude
		} else {
			s[i] = -amplitude
		}
	}
	return audio.SamplesToBytes(s)
}

func testListenOptions() ListenOptions {
	return ListenOptions{SampleRate: 16000, SilenceTimeout: 100 * time.Millisecond, EnergyThreshold: 500}
}

func TestListen_StopReturnsFinalTranscript(t *testing.T) {
	rec := newFakeRecognizer(
		Transcription{Text: "hel"},
		Transcription{Text: "hello world", IsFinal: true},
	)
	in := make(chan []byte)
	close(in)

	var seen []Transcription
	opts := testListenOptions()
	opts.OnTranscript = func(tr Transcription) { seen = append(seen, tr) }

	text, err := Listen(context.Background(), rec, in, opts, zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Expected 'hello world', got '%s'", text)
	}
	if len(seen) != 2 {
		t.Errorf("Expected 2 transcripts reported, got %d", len(seen))
	}
	if !rec.finished {
		t.Error("Expected recognizer to be finished")
	}
}

func TestListen_FallsBackToInterim(t *testing.T) {
	rec := newFakeRecognizer(Transcription{Text: "partial words"})
	in := make(chan []byte)
	close(in)

	text, err := Listen(context.Background(), rec, in, testListenOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if text != "partial words" {
		t.Errorf("Expected 'partial words', got '%s'", text)
	}
}

func TestListen_EndsOnSilence(t *testing.T) {
	rec := newFakeRecognizer(Transcription{Text: "stop here", IsFinal: true})
	in := make(chan []byte, 8)
	in <- pcmFrame(2000, 320)
	for i := 0; i < 5; i++ {
		in <- pcmFrame(0, 320)
	}

	text, err := Listen(context.Background(), rec, in, testListenOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if text != "stop here" {
		t.Errorf("Expected 'stop here', got '%s'", text)
	}
	if rec.written != 6*640 {
		t.Errorf("Expected %d bytes streamed, got %d", 6*640, rec.written)
	}
}

func TestListen_EndsOnUtteranceEnd(t *testing.T) {
	rec := newFakeRecognizer(
		Transcription{Text: "yes", IsFinal: true},
		Transcription{UtteranceEnd: true},
	)
	in := make(chan []byte)

	text, err := Listen(context.Background(), rec, in, testListenOptions(), zerolog.Nop())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	if text != "yes" {
		t.Errorf("Expected 'yes', got '%s'", text)
	}
}

func TestListen_NoSpeech(t *testing.T) {
	rec := newFakeRecognizer()
	in := make(chan []byte)
	close(in)

	_, err := Listen(context.Background(), rec, in, testListenOptions(), zerolog.Nop())
	if !errors.Is(err, ErrNoSpeech) {
		t.Errorf("Expected ErrNoSpeech, got %v", err)
	}
}

func TestListen_Cancelled(t *testing.T) {
	rec := newFakeRecognizer()
	in := make(chan []byte)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Listen(ctx, rec, in, testListenOptions(), zerolog.Nop())
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestListen_WriteError(t *testing.T) {
	rec := newFakeRecognizer()
	rec.writeErr = errors.New("socket closed")
	in := make(chan []byte, 1)
	in <- pcmFrame(100, 320)

	if _, err := Listen(context.Background(), rec, in, testListenOptions(), zerolog.Nop()); err == nil {
		t.Error("Expected write error to be returned")
	}
}

func TestListenOptions_VADConfig(t *testing.T) {
	cfg := ListenOptions{SampleRate: 16000, SilenceTimeout: 1500 * time.Millisecond, EnergyThreshold: 300}.vadConfig()
	if cfg.FrameSize != 320 {
		t.Errorf("Expected frame size 320, got %d", cfg.FrameSize)
	}
	if cfg.SilenceFrames != 75 {
		t.Errorf("Expected 75 silence frames, got %d", cfg.SilenceFrames)
	}
	if cfg.EnergyThreshold != 300 {
		t.Errorf("Expected threshold 300, got %f", cfg.EnergyThreshold)
	}
}
