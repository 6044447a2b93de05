package stt

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/resilience"
)

const (
	// Deepgram rejects utterance_end_ms below one second
	minUtteranceEndMs = 1000

	reconnectBacklogSeconds = 5
)

// messageCallbackHandler embeds the default handler and overrides only the
// callbacks a recognition session needs
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	session *session
}

// Message forwards transcripts to the session
func (m *messageCallbackHandler) Message(msg *msginterfaces.MessageResponse) error {
	if msg == nil || len(msg.Channel.Alternatives) == 0 {
		return nil
	}
	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}
	m.session.emit(Transcription{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
	})
	return nil
}

// UtteranceEnd forwards the provider's end-of-speech signal
func (m *messageCallbackHandler) UtteranceEnd(ur *msginterfaces.UtteranceEndResponse) error {
	m.session.emit(Transcription{UtteranceEnd: true})
	return nil
}

// Error records the failure and lets the recognizer reconnect
func (m *messageCallbackHandler) Error(er *msginterfaces.ErrorResponse) error {
	m.session.fail(fmt.Errorf("deepgram error: %+v", er))
	return nil
}

// session fans results into a channel that is closed exactly once
type session struct {
	mu     sync.Mutex
	out    chan Transcription
	closed bool
	onFail func(error)
}

func newSession(onFail func(error)) *session {
	return &session{out: make(chan Transcription, 100), onFail: onFail}
}

func (s *session) emit(t Transcription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.out <- t:
		return true
	default:
		return false
	}
}

func (s *session) fail(err error) {
	if s.onFail != nil {
		s.onFail(err)
	}
}

func (s *session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.out)
	}
}

// DeepgramRecognizer implements Recognizer using Deepgram's streaming API.
// It accepts 16-bit linear PCM at the configured sample rate.
type DeepgramRecognizer struct {
	config         *config.Config
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
	reconnecting   atomic.Bool

	mu      sync.Mutex
	client  *listenClient.WSCallback
	session *session
	cancel  context.CancelFunc
	backlog *audio.RingBuffer // audio written while reconnecting
}

// NewDeepgramRecognizer creates a new Deepgram streaming recognizer
func NewDeepgramRecognizer(cfg *config.Config, logger zerolog.Logger) *DeepgramRecognizer {
	d := &DeepgramRecognizer{
		config:         cfg,
		circuitBreaker: resilience.NewCircuitBreaker("deepgram", cfg.CircuitBreakerMaxFailures, cfg.CircuitBreakerResetDuration()),
		logger:         logger.With().Str("component", "stt_deepgram").Logger(),
		backlog:        audio.NewRingBuffer(cfg.STTSampleRate * audio.BytesPerSample * reconnectBacklogSeconds),
	}
	d.circuitBreaker.OnStateChange(func(name string, from, to resilience.CircuitState) {
		observability.UpdateCircuitBreakerState(name, int(to))
	})
	return d
}

func (d *DeepgramRecognizer) transcriptionOptions() *interfaces.LiveTranscriptionOptions {
	utteranceEnd := d.config.STTSilenceMs
	if utteranceEnd < minUtteranceEndMs {
		utteranceEnd = minUtteranceEndMs
	}
	return &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: strconv.Itoa(utteranceEnd),
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.config.STTSampleRate,
	}
}

// Start opens a new streaming session
func (d *DeepgramRecognizer) Start(ctx context.Context) (<-chan Transcription, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.session != nil {
		return nil, errors.New("deepgram session is already active")
	}

	sessCtx, cancel := context.WithCancel(ctx)
	sess := newSession(func(err error) { d.handleFailure(sessCtx, err) })

	err := d.circuitBreaker.Call(sessCtx, func(ctx context.Context) error {
		return d.connectLocked(ctx, sess)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start deepgram session: %w", err)
	}

	d.session = sess
	d.cancel = cancel

	go func() {
		<-sessCtx.Done()
		d.mu.Lock()
		if d.session == sess {
			d.stopLocked()
		}
		d.mu.Unlock()
	}()

	d.logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Msg("Deepgram session started")
	return sess.out, nil
}

func (d *DeepgramRecognizer) connectLocked(ctx context.Context, sess *session) error {
	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		session:                sess,
	}

	client, err := listenClient.NewWSUsingCallback(ctx, d.config.DeepgramAPIKey, &interfaces.ClientOptions{}, d.transcriptionOptions(), callback)
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}
	if !client.Connect() {
		return resilience.NewRetryableError(errors.New("deepgram websocket connect failed"))
	}
	d.client = client
	return nil
}

// handleFailure reconnects the active session in the background
func (d *DeepgramRecognizer) handleFailure(ctx context.Context, err error) {
	d.logger.Warn().Err(err).Msg("Deepgram session error")
	observability.RecordError("provider_error", "stt")
	d.circuitBreaker.RecordResult(false)

	if !d.reconnecting.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer d.reconnecting.Store(false)
		reconnectConfig := &resilience.ReconnectConfig{
			MaxAttempts: d.config.ReconnectMaxAttempts,
			Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		}
		err := resilience.Reconnect(ctx, func(ctx context.Context) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.session == nil || ctx.Err() != nil {
				return nil
			}
			if d.client != nil {
				d.client.Stop()
				d.client = nil
			}
			if err := d.connectLocked(ctx, d.session); err != nil {
				return err
			}
			d.flushBacklogLocked()
			return nil
		}, reconnectConfig, d.logger)
		if err != nil {
			d.logger.Error().Err(err).Msg("Failed to reconnect Deepgram session")
		}
	}()
}

// Write sends a chunk of PCM audio. While a dropped connection is being
// re-established the most recent audio is held back and sent after reconnecting.
func (d *DeepgramRecognizer) Write(pcm []byte) error {
	d.mu.Lock()
	client := d.client
	if client == nil && d.session != nil {
		if lost := d.backlog.Write(pcm); lost > 0 {
			d.logger.Debug().Int("bytes", lost).Msg("Reconnect backlog full, dropping oldest audio")
		}
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if client == nil {
		return errors.New("deepgram session is not active")
	}
	if _, err := client.Write(pcm); err != nil {
		return fmt.Errorf("failed to send audio to Deepgram: %w", err)
	}
	observability.RecordAudioBytes("stt", len(pcm))
	return nil
}

func (d *DeepgramRecognizer) flushBacklogLocked() {
	pending := d.backlog.Drain()
	if len(pending) == 0 || d.client == nil {
		return
	}
	if _, err := d.client.Write(pending); err != nil {
		d.logger.Warn().Err(err).Msg("Failed to send reconnect backlog")
		return
	}
	observability.RecordAudioBytes("stt", len(pending))
	d.logger.Info().Int("bytes", len(pending)).Msg("Sent audio buffered during reconnect")
}

// Finish flushes the session and closes its result channel
func (d *DeepgramRecognizer) Finish() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	return nil
}

func (d *DeepgramRecognizer) stopLocked() {
	if d.client != nil {
		d.client.Finish()
		d.client = nil
	}
	if d.session != nil {
		d.session.close()
		d.session = nil
	}
	d.backlog.Reset()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.logger.Debug().Msg("Deepgram session stopped")
}
