// Package inference is the method-invocation surface of the on-device
// inference runtime. Every capability (LLM, TTS) is reached through a named
// method taking and returning typed tensors.
package inference

import (
	"context"
	"errors"
	"fmt"
)

// Runtime method names
const (
	MethodFeedInput     = "feed_input"
	MethodGetNextOutput = "get_next_output"
	MethodCancel        = "cancel"
	MethodGetModelName  = "get_model_name"
	MethodSynthesize    = "synthesize"
)

// ErrRuntimeUnavailable is returned when the runtime cannot be reached at all
var ErrRuntimeUnavailable = errors.New("inference runtime unavailable")

// MethodError is a method call the runtime answered with a failure status
type MethodError struct {
	Method  string
	Message string
}

func (e *MethodError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("runtime method %s failed", e.Method)
	}
	return fmt.Sprintf("runtime method %s failed: %s", e.Method, e.Message)
}

// Runtime invokes named methods. Implementations check the status flag and
// return *MethodError instead of outputs when the call failed.
type Runtime interface {
	RunMethod(ctx context.Context, method string, inputs Tensors) (Tensors, error)
}

// RuntimeFunc adapts an ordinary function to the Runtime interface
type RuntimeFunc func(ctx context.Context, method string, inputs Tensors) (Tensors, error)

// RunMethod calls f(ctx, method, inputs)
func (f RuntimeFunc) RunMethod(ctx context.Context, method string, inputs Tensors) (Tensors, error) {
	return f(ctx, method, inputs)
}
