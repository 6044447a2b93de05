package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoadFromEnv_Defaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}
	if cfg.LLMBackend != BackendRuntime || cfg.TTSBackend != BackendRuntime {
		t.Errorf("Expected runtime backends, got %s/%s", cfg.LLMBackend, cfg.TTSBackend)
	}
	if cfg.RuntimeURL != "localhost:50051" {
		t.Errorf("Expected default RuntimeURL 'localhost:50051', got '%s'", cfg.RuntimeURL)
	}
	if cfg.AudioEncoding != EncodingPCM16 {
		t.Errorf("Expected default AudioEncoding 'pcm16', got '%s'", cfg.AudioEncoding)
	}
	if cfg.DeepgramModel != "nova-2" {
		t.Errorf("Expected default DeepgramModel 'nova-2', got '%s'", cfg.DeepgramModel)
	}
	if cfg.VoiceInputEnabled() {
		t.Error("Expected voice input disabled without a Deepgram key")
	}
}

func TestLoadFromEnv_PipelineDefaults(t *testing.T) {
	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	tests := []struct {
		name     string
		got      int
		expected int
	}{
		{"CHUNK_MAX_CHARS", cfg.ChunkMaxChars, 200},
		{"FIRST_CHUNK_THRESHOLD", cfg.FirstChunkThreshold, 60},
		{"CHUNK_THRESHOLD", cfg.ChunkThreshold, 30},
		{"MAX_CONCURRENT_SYNTHESIS", cfg.MaxConcurrentSynthesis, 3},
		{"PLAYBACK_POLL_MS", cfg.PlaybackPollMs, 30},
		{"FILLER_COUNT", cfg.FillerCount, 2},
		{"HISTORY_MAX_CHATS", cfg.HistoryMaxChats, 25},
		{"CIRCUIT_BREAKER_MAX_FAILURES", cfg.CircuitBreakerMaxFailures, 5},
		{"RETRY_MAX_ATTEMPTS", cfg.RetryMaxAttempts, 3},
		{"RECONNECT_BACKOFF", cfg.ReconnectBackoff, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.expected {
				t.Errorf("Expected default %d, got %d", tt.expected, tt.got)
			}
		})
	}

	if !reflect.DeepEqual(cfg.FillerPhrases, []string{"Hmm.", "Let me think."}) {
		t.Errorf("Expected default filler phrases, got %v", cfg.FillerPhrases)
	}
	if cfg.PlaybackPollInterval() != 30*time.Millisecond {
		t.Errorf("Expected 30ms poll interval, got %v", cfg.PlaybackPollInterval())
	}
	if cfg.RuntimeCallTimeout() != 30*time.Second {
		t.Errorf("Expected 30s runtime timeout, got %v", cfg.RuntimeCallTimeout())
	}
}

func TestLoadFromEnv_Overrides(t *testing.T) {
	t.Setenv("CHUNK_MAX_CHARS", "120")
	t.Setenv("MAX_CONCURRENT_SYNTHESIS", "2")
	t.Setenv("FILLER_PHRASES", "Okay,One moment")
	t.Setenv("DEEPGRAM_API_KEY", "test-deepgram-key")

	cfg, err := LoadFromEnv()
	if err != nil {
		t.Fatalf("LoadFromEnv() failed: %v", err)
	}

	if cfg.ChunkMaxChars != 120 {
		t.Errorf("Expected ChunkMaxChars 120, got %d", cfg.ChunkMaxChars)
	}
	if cfg.MaxConcurrentSynthesis != 2 {
		t.Errorf("Expected MaxConcurrentSynthesis 2, got %d", cfg.MaxConcurrentSynthesis)
	}
	if !reflect.DeepEqual(cfg.FillerPhrases, []string{"Okay", "One moment"}) {
		t.Errorf("Expected overridden phrases, got %v", cfg.FillerPhrases)
	}
	if !cfg.VoiceInputEnabled() {
		t.Error("Expected voice input enabled with a Deepgram key")
	}
}

func TestLoadFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown llm backend", map[string]string{"LLM_BACKEND": "magic"}},
		{"openai without key", map[string]string{"LLM_BACKEND": "openai", "OPENAI_API_KEY": "", "OPENAI_BASE_URL": ""}},
		{"cartesia without key", map[string]string{"TTS_BACKEND": "cartesia", "CARTESIA_API_KEY": ""}},
		{"unknown encoding", map[string]string{"AUDIO_ENCODING": "opus"}},
		{"zero concurrency", map[string]string{"MAX_CONCURRENT_SYNTHESIS": "0"}},
		{"zero chunk size", map[string]string{"CHUNK_MAX_CHARS": "0"}},
		{"not a number", map[string]string{"CHUNK_THRESHOLD": "many"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := LoadFromEnv(); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestLoadFromEnv_OpenAIWithBaseURL(t *testing.T) {
	t.Setenv("LLM_BACKEND", "openai")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "http://localhost:11434/v1")

	if _, err := LoadFromEnv(); err != nil {
		t.Errorf("Expected local OpenAI-compatible endpoint to be accepted, got %v", err)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_KEY", "test-value")

	if value := GetEnv("TEST_KEY", "default"); value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}
	if value := GetEnv("NON_EXISTENT_KEY", "default"); value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
