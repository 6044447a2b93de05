package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Backend and encoding names accepted by the configuration
const (
	BackendRuntime  = "runtime"
	BackendOpenAI   = "openai"
	BackendCartesia = "cartesia"

	EncodingPCM16 = "pcm16"
	EncodingMulaw = "mulaw"
)

// Config holds all configuration for the speech assistant
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Backends: which collaborator produces text and speech
	LLMBackend string `envconfig:"LLM_BACKEND" default:"runtime"` // runtime, openai
	TTSBackend string `envconfig:"TTS_BACKEND" default:"runtime"` // runtime, cartesia

	// On-device inference runtime sidecar (gRPC)
	RuntimeURL        string `envconfig:"RUNTIME_URL" default:"localhost:50051"`
	RuntimeTimeout    int    `envconfig:"RUNTIME_TIMEOUT" default:"30"`           // seconds per method call
	RuntimeSampleRate int    `envconfig:"RUNTIME_TTS_SAMPLE_RATE" default:"24000"` // used when synthesize omits it

	// OpenAI-compatible endpoint
	OpenAIAPIKey  string `envconfig:"OPENAI_API_KEY" default:""`
	OpenAIBaseURL string `envconfig:"OPENAI_BASE_URL" default:""`
	OpenAIModel   string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	SystemPrompt  string `envconfig:"SYSTEM_PROMPT" default:"You are a helpful voice assistant. Answer briefly in plain spoken sentences."`

	// Cartesia TTS API configuration
	CartesiaAPIKey  string `envconfig:"CARTESIA_API_KEY" default:""`
	CartesiaVoiceID string `envconfig:"CARTESIA_VOICE_ID" default:"sonic-english"`
	CartesiaModelID string `envconfig:"CARTESIA_MODEL_ID" default:"sonic"`

	// Deepgram STT API configuration; voice input is disabled without a key
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en"`
	STTSampleRate    int    `envconfig:"STT_SAMPLE_RATE" default:"16000"`
	STTSilenceMs     int    `envconfig:"STT_SILENCE_MS" default:"1500"` // ends listening after this much trailing silence

	// Incremental speech pipeline
	ChunkMaxChars          int `envconfig:"CHUNK_MAX_CHARS" default:"200"`
	FirstChunkThreshold    int `envconfig:"FIRST_CHUNK_THRESHOLD" default:"60"`
	ChunkThreshold         int `envconfig:"CHUNK_THRESHOLD" default:"30"`
	MaxConcurrentSynthesis int `envconfig:"MAX_CONCURRENT_SYNTHESIS" default:"3"`
	PlaybackPollMs         int `envconfig:"PLAYBACK_POLL_MS" default:"30"`

	// Filler audio played while the first chunk synthesizes
	FillerEnabled bool     `envconfig:"FILLER_ENABLED" default:"true"`
	FillerCount   int      `envconfig:"FILLER_COUNT" default:"2"`
	FillerDir     string   `envconfig:"FILLER_DIR" default:""`
	FillerPhrases []string `envconfig:"FILLER_PHRASES" default:"Hmm.,Let me think."`

	// Audio processing configuration
	AudioEncoding      string  `envconfig:"AUDIO_ENCODING" default:"pcm16"`        // pcm16, mulaw
	OutputSampleRate   int     `envconfig:"AUDIO_OUTPUT_SAMPLE_RATE" default:"0"`  // 0 keeps the synthesized rate
	VADEnergyThreshold float64 `envconfig:"VAD_ENERGY_THRESHOLD" default:"500.0"` // RMS energy threshold for VAD
	VADSilenceFrames   int     `envconfig:"VAD_SILENCE_FRAMES" default:"30"`      // frames of silence to mark speech end

	// Chat history persistence
	HistoryDBPath   string `envconfig:"HISTORY_DB_PATH" default:"speech-assistant.db"` // empty keeps history in memory
	HistoryMaxChats int    `envconfig:"HISTORY_MAX_CHATS" default:"25"`

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // seconds
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if it exists.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load a .env file
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	switch c.LLMBackend {
	case BackendRuntime:
	case BackendOpenAI:
		if c.OpenAIAPIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY is required when LLM_BACKEND=openai")
		}
	default:
		return fmt.Errorf("unsupported LLM_BACKEND %q", c.LLMBackend)
	}

	switch c.TTSBackend {
	case BackendRuntime:
	case BackendCartesia:
		if c.CartesiaAPIKey == "" {
			return fmt.Errorf("CARTESIA_API_KEY is required when TTS_BACKEND=cartesia")
		}
	default:
		return fmt.Errorf("unsupported TTS_BACKEND %q", c.TTSBackend)
	}

	switch c.AudioEncoding {
	case EncodingPCM16, EncodingMulaw:
	default:
		return fmt.Errorf("unsupported AUDIO_ENCODING %q", c.AudioEncoding)
	}

	if c.ChunkMaxChars <= 0 {
		return fmt.Errorf("CHUNK_MAX_CHARS must be positive")
	}
	if c.FirstChunkThreshold <= 0 || c.ChunkThreshold <= 0 {
		return fmt.Errorf("chunk thresholds must be positive")
	}
	if c.MaxConcurrentSynthesis < 1 {
		return fmt.Errorf("MAX_CONCURRENT_SYNTHESIS must be at least 1")
	}
	if c.HistoryMaxChats < 1 {
		return fmt.Errorf("HISTORY_MAX_CHATS must be at least 1")
	}
	return nil
}

// VoiceInputEnabled reports whether a speech-to-text provider is configured
func (c *Config) VoiceInputEnabled() bool {
	return c.DeepgramAPIKey != ""
}

// RuntimeCallTimeout returns the per-call deadline for runtime methods
func (c *Config) RuntimeCallTimeout() time.Duration {
	return time.Duration(c.RuntimeTimeout) * time.Second
}

// PlaybackPollInterval returns the idle poll delay of the playback loop
func (c *Config) PlaybackPollInterval() time.Duration {
	return time.Duration(c.PlaybackPollMs) * time.Millisecond
}

// STTSilenceTimeout returns the trailing silence that ends listening
func (c *Config) STTSilenceTimeout() time.Duration {
	return time.Duration(c.STTSilenceMs) * time.Millisecond
}

// CircuitBreakerResetDuration returns how long the breaker stays open
func (c *Config) CircuitBreakerResetDuration() time.Duration {
	return time.Duration(c.CircuitBreakerResetTimeout) * time.Second
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
