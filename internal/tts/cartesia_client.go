package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/resilience"
)

const (
	backendCartesia = "cartesia"

	// DefaultCartesiaURL is the Cartesia bytes endpoint
	DefaultCartesiaURL = "https://api.cartesia.ai/tts/bytes"
	cartesiaVersion    = "2024-06-10"
	cartesiaSampleRate = 24000
)

// CartesiaClient implements Synthesizer using Cartesia's TTS API
type CartesiaClient struct {
	apiKey         string
	apiURL         string
	voiceID        string
	modelID        string
	sampleRate     int
	httpClient     *http.Client
	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// CartesiaRequest represents the request payload for Cartesia TTS API
type CartesiaRequest struct {
	ModelID      string               `json:"model_id"`
	Transcript   string               `json:"transcript"`
	Voice        CartesiaVoice        `json:"voice"`
	OutputFormat CartesiaOutputFormat `json:"output_format"`
	Language     string               `json:"language,omitempty"`
}

// CartesiaVoice selects the voice by id
type CartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

// CartesiaOutputFormat requests raw 16-bit PCM
type CartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sample_rate"`
}

// CartesiaOption customises the client
type CartesiaOption func(*CartesiaClient)

// WithCartesiaURL overrides the API endpoint
func WithCartesiaURL(url string) CartesiaOption {
	return func(c *CartesiaClient) { c.apiURL = url }
}

// WithHTTPClient overrides the HTTP client
func WithHTTPClient(client *http.Client) CartesiaOption {
	return func(c *CartesiaClient) { c.httpClient = client }
}

// NewCartesiaClient creates a new Cartesia TTS client
func NewCartesiaClient(cfg *config.Config, logger zerolog.Logger, opts ...CartesiaOption) *CartesiaClient {
	c := &CartesiaClient{
		apiKey:     cfg.CartesiaAPIKey,
		apiURL:     DefaultCartesiaURL,
		voiceID:    cfg.CartesiaVoiceID,
		modelID:    cfg.CartesiaModelID,
		sampleRate: cartesiaSampleRate,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        2 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		circuitBreaker: resilience.NewCircuitBreaker("cartesia", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetDuration()),
		logger:         logger.With().Str("component", "tts_cartesia").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.circuitBreaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		c.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Cartesia circuit breaker changed state")
	})
	return c
}

// Synthesize converts text to 16-bit PCM at 24kHz
func (c *CartesiaClient) Synthesize(ctx context.Context, text string) (*Audio, error) {
	body, err := sonic.Marshal(CartesiaRequest{
		ModelID:    c.modelID,
		Transcript: text,
		Voice:      CartesiaVoice{Mode: "id", ID: c.voiceID},
		OutputFormat: CartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: c.sampleRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	start := time.Now()
	var pcm []byte
	err = c.circuitBreaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var callErr error
			pcm, callErr = c.post(ctx, body)
			return callErr
		}, c.retryConfig, resilience.IsRetryableNetworkError)
	})
	observability.RecordTTS(backendCartesia, err == nil, time.Since(start))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("cartesia synthesis failed: %w", err)
	}

	c.logger.Debug().
		Int("chars", len(text)).
		Int("bytes", len(pcm)).
		Dur("latency", time.Since(start)).
		Msg("Synthesized chunk")
	return &Audio{PCM: pcm, SampleRate: c.sampleRate}, nil
}

func (c *CartesiaClient) post(ctx context.Context, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Cartesia-Version", cartesiaVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		statusErr := fmt.Errorf("cartesia API returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
			return nil, resilience.NewRetryableError(statusErr)
		}
		return nil, statusErr
	}

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio: %w", err)
	}
	if len(pcm) == 0 {
		return nil, errors.New("cartesia returned empty audio data")
	}
	// drop a trailing odd byte so the buffer stays sample aligned
	return pcm[:len(pcm)-len(pcm)%2], nil
}
