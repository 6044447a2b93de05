package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/inference"
)

// scriptedRuntime returns the given outputs from successive get_next_output calls
type scriptedRuntime struct {
	mu      sync.Mutex
	outputs []inference.Tensors
	calls   []string
	prompt  string
	history map[string]any
	failOn  string
}

func (r *scriptedRuntime) RunMethod(ctx context.Context, method string, inputs inference.Tensors) (inference.Tensors, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, method)

	if method == r.failOn {
		return nil, &inference.MethodError{Method: method, Message: "boom"}
	}

	switch method {
	case inference.MethodFeedInput:
		r.prompt, _ = inputs.String("prompt")
		if inputs.Has("history") {
			r.history, _ = inputs.JSON("history")
		}
		return inference.Tensors{}, nil
	case inference.MethodGetNextOutput:
		if len(r.outputs) == 0 {
			return inference.Tensors{"str": inference.StringTensor("")}, nil
		}
		out := r.outputs[0]
		r.outputs = r.outputs[1:]
		return out, nil
	case inference.MethodGetModelName:
		return inference.Tensors{"name": inference.StringTensor("llama-3.2-1b")}, nil
	}
	return inference.Tensors{}, nil
}

func (r *scriptedRuntime) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *scriptedRuntime) called(method string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c == method {
			return true
		}
	}
	return false
}

func output(text string, finished bool) inference.Tensors {
	out := inference.Tensors{"str": inference.StringTensor(text)}
	if finished {
		out["finished"] = inference.IntTensor(1)
	}
	return out
}

func collect(t *testing.T, ch <-chan Event) ([]string, Event) {
	t.Helper()
	var deltas []string
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatal("Expected a terminal event before the channel closed")
			}
			if ev.Done || ev.Err != nil {
				return deltas, ev
			}
			deltas = append(deltas, ev.Delta)
		case <-timeout:
			t.Fatal("Timed out waiting for stream")
		}
	}
}

func TestRuntimeGenerator_StreamsUntilFinished(t *testing.T) {
	rt := &scriptedRuntime{outputs: []inference.Tensors{
		output("Hello", false),
		output("", false),
		output(" there", false),
		output("!", true),
	}}
	gen := NewRuntimeGenerator(rt, zerolog.Nop())

	ch, err := gen.Generate(context.Background(), Request{
		Prompt:  "hi",
		History: []Message{{Role: "user", Content: "earlier"}},
	})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	deltas, last := collect(t, ch)
	if !last.Done {
		t.Fatalf("Expected Done, got %+v", last)
	}
	if got := strings.Join(deltas, ""); got != "Hello there!" {
		t.Errorf("Expected 'Hello there!', got '%s'", got)
	}
	if rt.prompt != "hi" {
		t.Errorf("Expected prompt 'hi', got '%s'", rt.prompt)
	}
	if msgs, ok := rt.history["messages"].([]any); !ok || len(msgs) != 1 {
		t.Errorf("Expected one history message, got %v", rt.history)
	}
	if _, ok := <-ch; ok {
		t.Error("Expected channel to be closed after Done")
	}
}

func TestRuntimeGenerator_FeedInputFailure(t *testing.T) {
	rt := &scriptedRuntime{failOn: inference.MethodFeedInput}
	gen := NewRuntimeGenerator(rt, zerolog.Nop())

	_, err := gen.Generate(context.Background(), Request{Prompt: "hi"})
	var methodErr *inference.MethodError
	if !errors.As(err, &methodErr) {
		t.Errorf("Expected *inference.MethodError, got %v", err)
	}
}

func TestRuntimeGenerator_OutputFailure(t *testing.T) {
	rt := &scriptedRuntime{failOn: inference.MethodGetNextOutput}
	gen := NewRuntimeGenerator(rt, zerolog.Nop())

	ch, err := gen.Generate(context.Background(), Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	_, last := collect(t, ch)
	if last.Err == nil {
		t.Error("Expected stream to end with an error")
	}
}

func TestRuntimeGenerator_CancelStopsAndNotifiesRuntime(t *testing.T) {
	rt := &scriptedRuntime{} // never finishes
	gen := NewRuntimeGenerator(rt, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := gen.Generate(ctx, Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected stream to close after cancel")
	}

	if !rt.called(inference.MethodCancel) {
		t.Error("Expected runtime cancel to be called")
	}
}

func TestRuntimeGenerator_SerializesStreams(t *testing.T) {
	rt := &scriptedRuntime{} // never finishes
	gen := NewRuntimeGenerator(rt, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	first, err := gen.Generate(ctx, Request{Prompt: "first"})
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer waitCancel()
	if _, err := gen.Generate(waitCtx, Request{Prompt: "second"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected second stream to wait for the first, got %v", err)
	}

	cancel()
	for range first {
	}

	second, err := gen.Generate(context.Background(), Request{Prompt: "second"})
	if err != nil {
		t.Fatalf("Generate after release failed: %v", err)
	}
	if rt.prompt != "second" {
		t.Errorf("Expected prompt 'second', got '%s'", rt.prompt)
	}

	calls := rt.Calls()
	lastCancel, lastFeed := -1, -1
	for i, c := range calls {
		switch c {
		case inference.MethodCancel:
			lastCancel = i
		case inference.MethodFeedInput:
			lastFeed = i
		}
	}
	if lastCancel < 0 || lastCancel > lastFeed {
		t.Errorf("Expected the first stream to be abandoned before the second was fed, got %v", calls)
	}

	rt.mu.Lock()
	rt.outputs = []inference.Tensors{output("ok", true)}
	rt.mu.Unlock()
	if _, last := collect(t, second); !last.Done {
		t.Errorf("Expected second stream to finish, got %+v", last)
	}
}

func TestRuntimeGenerator_ModelName(t *testing.T) {
	gen := NewRuntimeGenerator(&scriptedRuntime{}, zerolog.Nop())

	name, err := gen.ModelName(context.Background())
	if err != nil {
		t.Fatalf("ModelName failed: %v", err)
	}
	if name != "llama-3.2-1b" {
		t.Errorf("Expected 'llama-3.2-1b', got '%s'", name)
	}
}
