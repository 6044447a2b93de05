package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/inference"
)

func TestRuntimeSynthesizer_Synthesize(t *testing.T) {
	var gotText string
	rt := inference.RuntimeFunc(func(ctx context.Context, method string, inputs inference.Tensors) (inference.Tensors, error) {
		if method != inference.MethodSynthesize {
			t.Errorf("Expected method %s, got %s", inference.MethodSynthesize, method)
		}
		gotText, _ = inputs.String("text")
		return inference.Tensors{
			"audio":       inference.FloatArrayTensor([]float32{0, 0.5, -0.5, 1}),
			"sample_rate": inference.IntTensor(16000),
		}, nil
	})

	synth := NewRuntimeSynthesizer(rt, 24000, zerolog.Nop())
	a, err := synth.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if gotText != "hello" {
		t.Errorf("Expected text 'hello', got '%s'", gotText)
	}
	if a.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", a.SampleRate)
	}
	samples := audio.BytesToSamples(a.PCM)
	if len(samples) != 4 {
		t.Fatalf("Expected 4 samples, got %d", len(samples))
	}
	if samples[3] != 32767 {
		t.Errorf("Expected full scale sample 32767, got %d", samples[3])
	}
}

func TestRuntimeSynthesizer_DefaultSampleRate(t *testing.T) {
	rt := inference.RuntimeFunc(func(ctx context.Context, method string, inputs inference.Tensors) (inference.Tensors, error) {
		return inference.Tensors{"audio": inference.FloatArrayTensor([]float32{0.1})}, nil
	})

	a, err := NewRuntimeSynthesizer(rt, 24000, zerolog.Nop()).Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if a.SampleRate != 24000 {
		t.Errorf("Expected default sample rate 24000, got %d", a.SampleRate)
	}
}

func TestRuntimeSynthesizer_Failure(t *testing.T) {
	rt := inference.RuntimeFunc(func(ctx context.Context, method string, inputs inference.Tensors) (inference.Tensors, error) {
		return nil, &inference.MethodError{Method: method, Message: "voice not loaded"}
	})

	_, err := NewRuntimeSynthesizer(rt, 24000, zerolog.Nop()).Synthesize(context.Background(), "hi")
	var methodErr *inference.MethodError
	if !errors.As(err, &methodErr) {
		t.Errorf("Expected *inference.MethodError, got %v", err)
	}
}

func TestRuntimeSynthesizer_MissingAudio(t *testing.T) {
	rt := inference.RuntimeFunc(func(ctx context.Context, method string, inputs inference.Tensors) (inference.Tensors, error) {
		return inference.Tensors{}, nil
	})

	if _, err := NewRuntimeSynthesizer(rt, 24000, zerolog.Nop()).Synthesize(context.Background(), "hi"); err == nil {
		t.Error("Expected error for missing audio output")
	}
}
