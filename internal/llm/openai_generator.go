package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible endpoint
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string // optional; self-hosted or compatible servers
	Model        string
	SystemPrompt string
	HTTPClient   *http.Client
}

// OpenAIGenerator streams chat completions from an OpenAI-compatible API.
// Used in development when the on-device runtime is not available.
type OpenAIGenerator struct {
	client       *openai.Client
	model        string
	systemPrompt string
	logger       zerolog.Logger
}

// NewOpenAIGenerator creates a generator for cfg
func NewOpenAIGenerator(cfg OpenAIConfig, logger zerolog.Logger) *OpenAIGenerator {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}
	if cfg.HTTPClient != nil {
		config.HTTPClient = cfg.HTTPClient
	} else {
		config.HTTPClient = &http.Client{Timeout: 90 * time.Second}
	}

	return &OpenAIGenerator{
		client:       openai.NewClientWithConfig(config),
		model:        cfg.Model,
		systemPrompt: cfg.SystemPrompt,
		logger:       logger.With().Str("component", "llm_openai").Logger(),
	}
}

// Generate opens a streaming completion. Cancelling ctx closes the HTTP
// stream of this request only.
func (g *OpenAIGenerator) Generate(ctx context.Context, req Request) (<-chan Event, error) {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if g.systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: g.systemPrompt})
	}
	for _, m := range req.History {
		messages = append(messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	streamCtx, cancel := context.WithCancel(ctx)

	stream, err := g.client.CreateChatCompletionStream(streamCtx, openai.ChatCompletionRequest{
		Model:    g.model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		cancel()
		return nil, err
	}

	ch := make(chan Event, 32)
	go func() {
		defer close(ch)
		defer cancel()
		defer stream.Close()

		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					send(streamCtx, ch, Event{Done: true})
					return
				}
				if streamCtx.Err() == nil {
					send(streamCtx, ch, Event{Err: err})
				} else {
					g.logger.Debug().Msg("Completion stream abandoned")
				}
				return
			}
			for _, choice := range resp.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !send(streamCtx, ch, Event{Delta: choice.Delta.Content}) {
					return
				}
			}
		}
	}()
	return ch, nil
}

// ModelName returns the configured model
func (g *OpenAIGenerator) ModelName(ctx context.Context) (string, error) {
	return g.model, nil
}
