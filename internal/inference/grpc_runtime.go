package inference

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/resilience"
)

const (
	// ServiceName is the gRPC service exposed by the runtime sidecar
	ServiceName = "nimblenet.Runtime"
	// RunMethodPath is the full method path of the unary call
	RunMethodPath = "/" + ServiceName + "/RunMethod"
)

// GRPCRuntime reaches the inference runtime sidecar over gRPC
type GRPCRuntime struct {
	target         string
	callTimeout    time.Duration
	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger

	mu   sync.RWMutex
	conn *grpc.ClientConn
}

// NewGRPCRuntime creates a client for cfg.RuntimeURL. Extra dial options are
// appended after the defaults.
func NewGRPCRuntime(cfg *config.Config, logger zerolog.Logger, extra ...grpc.DialOption) (*GRPCRuntime, error) {
	r := &GRPCRuntime{
		target:      cfg.RuntimeURL,
		callTimeout: cfg.RuntimeCallTimeout(),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		circuitBreaker: resilience.NewCircuitBreaker("runtime", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetDuration()),
		logger:         logger.With().Str("component", "runtime").Logger(),
	}
	r.circuitBreaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
		r.logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("Runtime circuit breaker changed state")
	})

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	opts = append(opts, extra...)

	conn, err := grpc.NewClient(r.target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create runtime client for %s: %w", r.target, err)
	}
	r.conn = conn

	r.logger.Info().Str("target", r.target).Msg("Inference runtime client created")
	return r, nil
}

// RunMethod invokes a named method with circuit breaker and retry protection
func (r *GRPCRuntime) RunMethod(ctx context.Context, method string, inputs Tensors) (Tensors, error) {
	req, err := EncodeRequest(method, inputs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	start := time.Now()
	var resp *structpb.Struct
	// Only transport failures count against the breaker; a failure status is
	// a valid answer from a healthy runtime.
	err = r.circuitBreaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = r.invoke(ctx, req)
			return callErr
		}, r.retryConfig, resilience.IsRetryableNetworkError)
	})

	var outputs Tensors
	if err == nil {
		outputs, err = DecodeResponse(method, resp)
	}
	observability.RecordRuntimeCall(method, err == nil, time.Since(start))

	if err != nil {
		var methodErr *MethodError
		switch {
		case errors.As(err, &methodErr):
			return nil, methodErr
		case errors.Is(err, resilience.ErrCircuitOpen):
			return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		case status.Code(err) == codes.Unavailable:
			return nil, fmt.Errorf("%w: %v", ErrRuntimeUnavailable, err)
		}
		return nil, fmt.Errorf("runtime method %s: %w", method, err)
	}
	return outputs, nil
}

func (r *GRPCRuntime) invoke(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil {
		return nil, ErrRuntimeUnavailable
	}

	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, RunMethodPath, req, resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// HealthCheck asks the runtime's standard gRPC health service
func (r *GRPCRuntime) HealthCheck(ctx context.Context) (bool, error) {
	r.mu.RLock()
	conn := r.conn
	r.mu.RUnlock()
	if conn == nil {
		return false, ErrRuntimeUnavailable
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// BreakerState reports the runtime circuit breaker state
func (r *GRPCRuntime) BreakerState() resilience.CircuitState {
	return r.circuitBreaker.GetState()
}

// Close closes the gRPC connection
func (r *GRPCRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}
