// Package llm streams generated text from a language model as an explicit
// channel of events with context cancellation.
package llm

import (
	"context"
)

// Event is one step of a generation stream.
// A stream ends with exactly one event carrying Done or Err, then the channel closes.
type Event struct {
	Delta string
	Err   error
	Done  bool
}

// Message is a prior turn passed as conversation context
type Message struct {
	Role    string // system | user | assistant
	Content string
}

// Request is the input of one generation turn
type Request struct {
	Prompt  string
	History []Message
}

// Generator produces a token stream for a request. One generator may serve
// many sessions at once.
//
// The ctx passed to Generate scopes the stream: cancelling it stops that stream
// only, asks the backend to abandon its work and closes the channel without a
// terminal event.
type Generator interface {
	Generate(ctx context.Context, req Request) (<-chan Event, error)
	ModelName(ctx context.Context) (string, error)
}

// send delivers ev unless ctx is done first
func send(ctx context.Context, ch chan<- Event, ev Event) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
