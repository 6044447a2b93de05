package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/lexiqai/speech-assistant/internal/inference"
)

const (
	outputText     = "str"
	outputFinished = "finished"
	outputName     = "name"

	idlePollDelay = 10 * time.Millisecond
	cancelTimeout = 2 * time.Second
)

// RuntimeGenerator drives the on-device model through feed_input and
// repeated get_next_output calls until the finished flag is set.
//
// The runtime holds a single generation and its methods carry no stream key,
// so streams are serialized: Generate waits until the previous stream has
// finished or been abandoned.
type RuntimeGenerator struct {
	runtime inference.Runtime
	active  *semaphore.Weighted
	logger  zerolog.Logger
}

// NewRuntimeGenerator creates a generator over the inference runtime
func NewRuntimeGenerator(runtime inference.Runtime, logger zerolog.Logger) *RuntimeGenerator {
	return &RuntimeGenerator{
		runtime: runtime,
		active:  semaphore.NewWeighted(1),
		logger:  logger.With().Str("component", "llm_runtime").Logger(),
	}
}

// Generate feeds the prompt and streams outputs on the returned channel.
// It blocks while another stream owns the runtime.
func (g *RuntimeGenerator) Generate(ctx context.Context, req Request) (<-chan Event, error) {
	if err := g.active.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	inputs := inference.Tensors{"prompt": inference.StringTensor(req.Prompt)}
	if len(req.History) > 0 {
		messages := make([]any, 0, len(req.History))
		for _, m := range req.History {
			messages = append(messages, map[string]any{"role": m.Role, "content": m.Content})
		}
		inputs["history"] = inference.JSONTensor(map[string]any{"messages": messages})
	}

	if _, err := g.runtime.RunMethod(ctx, inference.MethodFeedInput, inputs); err != nil {
		g.active.Release(1)
		return nil, fmt.Errorf("failed to feed input: %w", err)
	}

	ch := make(chan Event, 32)
	go g.stream(ctx, ch)
	return ch, nil
}

func (g *RuntimeGenerator) stream(ctx context.Context, ch chan<- Event) {
	defer close(ch)
	defer g.active.Release(1)

	for {
		if ctx.Err() != nil {
			g.abandon()
			return
		}

		out, err := g.runtime.RunMethod(ctx, inference.MethodGetNextOutput, nil)
		if err != nil {
			if ctx.Err() != nil {
				g.abandon()
				return
			}
			g.abandon()
			send(ctx, ch, Event{Err: fmt.Errorf("failed to get next output: %w", err)})
			return
		}

		text, _ := out.String(outputText)
		finished, _ := out.Int(outputFinished)

		if text != "" && !send(ctx, ch, Event{Delta: text}) {
			g.abandon()
			return
		}
		if finished != 0 {
			send(ctx, ch, Event{Done: true})
			return
		}
		if text == "" {
			select {
			case <-ctx.Done():
			case <-time.After(idlePollDelay):
			}
		}
	}
}

// abandon tells the runtime to stop generating after the consumer went away
// or the stream failed.
// It runs before the stream releases the runtime, so it cannot hit the next
// stream's generation.
func (g *RuntimeGenerator) abandon() {
	ctx, cancel := context.WithTimeout(context.Background(), cancelTimeout)
	defer cancel()
	if _, err := g.runtime.RunMethod(ctx, inference.MethodCancel, nil); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to cancel runtime generation")
	}
}

// ModelName returns the name of the loaded model
func (g *RuntimeGenerator) ModelName(ctx context.Context) (string, error) {
	out, err := g.runtime.RunMethod(ctx, inference.MethodGetModelName, nil)
	if err != nil {
		return "", fmt.Errorf("failed to get model name: %w", err)
	}
	return out.String(outputName)
}
