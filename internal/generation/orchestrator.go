// Package generation drives one assistant turn: it consumes the LLM stream,
// cuts the text into speakable chunks, synthesizes them under a concurrency cap
// and enqueues the audio at its dispatch-order index.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/chunker"
	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/llm"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/tts"
)

var (
	// ErrCancelled is returned when the turn was stopped by its caller
	ErrCancelled = errors.New("generation cancelled")
	// ErrStreamClosed is returned when the model stream ended without
	// finishing or failing
	ErrStreamClosed = errors.New("stream closed before finished")
)

const streamStopTimeout = 2 * time.Second

// Turn outcomes used for metrics
const (
	outcomeCompleted = "completed"
	outcomeCancelled = "cancelled"
	outcomeFailed    = "failed"
)

// Config tunes chunking and dispatch
type Config struct {
	MaxChunkChars          int // upper bound of one synthesized chunk
	FirstChunkThreshold    int // buffered runes before the first dispatch attempt
	ChunkThreshold         int // buffered runes before later dispatch attempts
	MaxConcurrentSynthesis int
	FillerCount            int // filler clips enqueued while the first chunk is pending; 0 disables
}

// ConfigFromEnv maps the service configuration onto orchestrator settings
func ConfigFromEnv(cfg *config.Config) Config {
	c := Config{
		MaxChunkChars:          cfg.ChunkMaxChars,
		FirstChunkThreshold:    cfg.FirstChunkThreshold,
		ChunkThreshold:         cfg.ChunkThreshold,
		MaxConcurrentSynthesis: cfg.MaxConcurrentSynthesis,
	}
	if cfg.FillerEnabled {
		c.FillerCount = cfg.FillerCount
	}
	return c
}

// DefaultConfig returns the stock chunking settings
func DefaultConfig() Config {
	return Config{
		MaxChunkChars:          chunker.DefaultMaxLen,
		FirstChunkThreshold:    60,
		ChunkThreshold:         30,
		MaxConcurrentSynthesis: 3,
		FillerCount:            2,
	}
}

// Listener receives progress of a turn. Any callback may be nil.
// OnError is called at most once per turn.
type Listener struct {
	OnText  func(delta string)
	OnChunk func(index int, text string)
	OnError func(err error)
}

// Result summarises a finished, failed or cancelled turn
type Result struct {
	Text              string  // everything the model produced, including partial output
	TokensPerSecond   float64 // streamed deltas per second after the first one
	Chunks            int     // chunks dispatched for synthesis
	SynthesisFailures int
}

// Interrupter stops playback and clears the audio queue
type Interrupter interface {
	Interrupt()
}

// Orchestrator runs turns against one queue. Turns must not overlap.
type Orchestrator struct {
	generator   llm.Generator
	synth       tts.Synthesizer
	queue       *audio.Queue
	fillers     *tts.FillerBank
	interrupter Interrupter
	config      Config
	logger      zerolog.Logger
}

// New creates an orchestrator. fillers may be nil; interrupter may be nil, in
// which case a cancelled turn only resets the queue.
func New(generator llm.Generator, synth tts.Synthesizer, queue *audio.Queue, fillers *tts.FillerBank, interrupter Interrupter, cfg Config, logger zerolog.Logger) *Orchestrator {
	if cfg.MaxChunkChars <= 0 {
		cfg.MaxChunkChars = chunker.DefaultMaxLen
	}
	if cfg.MaxConcurrentSynthesis < 1 {
		cfg.MaxConcurrentSynthesis = 1
	}
	return &Orchestrator{
		generator:   generator,
		synth:       synth,
		queue:       queue,
		fillers:     fillers,
		interrupter: interrupter,
		config:      cfg,
		logger:      logger.With().Str("component", "generation").Logger(),
	}
}

// Run drives one turn to completion. Audio left over from an earlier turn is
// discarded first. Run returns once the stream finished and every dispatched
// synthesis job has enqueued its audio. On cancellation the partial result is
// returned together with ErrCancelled, playback is interrupted and no error is
// reported to the listener. A stream that closes without finishing fails the
// turn with ErrStreamClosed.
func (o *Orchestrator) Run(ctx context.Context, req llm.Request, listener Listener) (*Result, error) {
	o.resetPlayback()
	s := newSession(ctx, o, listener)
	metrics := observability.NewTurnMetrics()

	// cancelling streamCtx ends this turn's stream only
	streamCtx, stopStream := context.WithCancel(ctx)
	defer stopStream()

	stream, err := o.generator.Generate(streamCtx, req)
	if err != nil {
		if ctx.Err() != nil {
			return s.cancel(metrics)
		}
		err = fmt.Errorf("failed to start generation: %w", err)
		s.reportError(err)
		metrics.RecordTurnEnd(outcomeFailed)
		return s.result(), err
	}

	s.stream, s.stopStream = stream, stopStream
	s.enqueueFillers()

	for {
		select {
		case <-ctx.Done():
			return s.cancel(metrics)

		case ev, ok := <-stream:
			if !ok {
				if ctx.Err() != nil {
					return s.cancel(metrics)
				}
				return s.fail(metrics, ErrStreamClosed)
			}
			switch {
			case ev.Err != nil:
				if ctx.Err() != nil {
					return s.cancel(metrics)
				}
				return s.fail(metrics, ev.Err)
			case ev.Done:
				return s.finish(metrics)
			case ev.Delta != "":
				metrics.RecordToken()
				s.append(ev.Delta)
				s.dispatchReady(false)
			}
		}
	}
}

// session is the state of one turn
type session struct {
	o        *Orchestrator
	ctx      context.Context
	listener Listener

	stream     <-chan llm.Event
	stopStream context.CancelFunc

	text       strings.Builder
	buffer     string
	nextIndex  int
	tokens     int
	firstToken time.Time
	lastToken  time.Time

	firstDone chan struct{}
	sem       *semaphore.Weighted
	group     errgroup.Group
	failures  atomic.Int32
	errOnce   sync.Once
}

func newSession(ctx context.Context, o *Orchestrator, listener Listener) *session {
	return &session{
		o:        o,
		ctx:      ctx,
		listener: listener,
		sem:      semaphore.NewWeighted(int64(o.config.MaxConcurrentSynthesis)),
	}
}

func (s *session) append(delta string) {
	now := time.Now()
	if s.tokens == 0 {
		s.firstToken = now
	}
	s.tokens++
	s.lastToken = now
	s.text.WriteString(delta)
	s.buffer += delta
	if s.listener.OnText != nil {
		s.listener.OnText(delta)
	}
}

func (s *session) enqueueFillers() {
	if s.o.config.FillerCount <= 0 {
		return
	}
	for _, clip := range s.o.fillers.Clips(s.o.config.FillerCount) {
		s.o.queue.Insert(clip)
	}
}

// dispatchReady cuts the speakable prefix off the buffer once enough text
// accumulated, or everything when final is set
func (s *session) dispatchReady(final bool) {
	threshold := s.o.config.ChunkThreshold
	if s.nextIndex == 0 {
		threshold = s.o.config.FirstChunkThreshold
	}
	if !final && utf8.RuneCountInString(s.buffer) < threshold {
		return
	}

	ready, rest := chunker.SplitReady(s.buffer, s.o.config.MaxChunkChars, final)
	if strings.TrimSpace(ready) == "" {
		if final {
			s.buffer = ""
		}
		return
	}
	s.buffer = rest

	for _, chunk := range s.o.chunk(ready) {
		s.dispatch(chunk)
	}
}

// chunk prepares ready text for synthesis: sentences first, then the
// clause and word rules, then merging of short neighbours
func (o *Orchestrator) chunk(ready string) []string {
	text := tts.Normalize(ready)
	if text == "" {
		return nil
	}

	var chunks []string
	for _, sentence := range chunker.Sentences(text) {
		chunks = append(chunks, chunker.Chunk(sentence, o.config.MaxChunkChars)...)
	}
	merged := chunker.Merge(chunks, o.config.MaxChunkChars)
	if len(merged) == 0 {
		merged = chunker.Chunk(text, o.config.MaxChunkChars)
	}
	return merged
}

// dispatch assigns the next index now and synthesizes in the background.
// The first chunk runs alone; later chunks wait for it to be enqueued and then
// share the semaphore.
func (s *session) dispatch(text string) {
	s.nextIndex++
	index := s.nextIndex
	if s.listener.OnChunk != nil {
		s.listener.OnChunk(index, text)
	}

	if index == 1 {
		s.firstDone = make(chan struct{})
		done := s.firstDone
		s.group.Go(func() error {
			defer close(done)
			return s.synthesize(index, text)
		})
		return
	}

	first := s.firstDone
	s.group.Go(func() error {
		select {
		case <-first:
		case <-s.ctx.Done():
			return nil
		}
		if err := s.sem.Acquire(s.ctx, 1); err != nil {
			return nil
		}
		defer s.sem.Release(1)
		return s.synthesize(index, text)
	})
}

// synthesize enqueues the audio of one chunk. A failed chunk is replaced by a
// silent placeholder and its error returned; a cancelled one is dropped.
func (s *session) synthesize(index int, text string) error {
	observability.SynthesisStarted()
	defer observability.SynthesisFinished()

	a, err := s.o.synth.Synthesize(s.ctx, text)
	if s.ctx.Err() != nil {
		return nil
	}
	if err != nil {
		err = fmt.Errorf("synthesis of chunk %d failed: %w", index, err)
		s.failures.Add(1)
		observability.RecordError("synthesis_error", "generation")
		s.o.logger.Warn().Err(err).Int("index", index).Msg("Inserting placeholder")
		s.reportError(err)
		// an empty segment keeps the index so playback moves past it
		s.o.queue.Insert(&audio.Segment{Index: index, Text: text})
		return err
	}
	s.o.queue.Insert(a.Segment(index, false, text))
	return nil
}

func (s *session) reportError(err error) {
	s.errOnce.Do(func() {
		if s.listener.OnError != nil {
			s.listener.OnError(err)
		}
	})
}

func (s *session) finish(metrics *observability.TurnMetrics) (*Result, error) {
	s.dispatchReady(true)
	synthErr := s.group.Wait()
	if s.ctx.Err() != nil {
		return s.cancel(metrics)
	}
	metrics.RecordTurnEnd(outcomeCompleted)

	res := s.result()
	s.o.logger.Info().
		AnErr("first_synthesis_error", synthErr).
		Int("chunks", res.Chunks).
		Int("failures", res.SynthesisFailures).
		Float64("tokens_per_second", res.TokensPerSecond).
		Msg("Turn completed")
	return res, nil
}

func (s *session) fail(metrics *observability.TurnMetrics, err error) (*Result, error) {
	err = fmt.Errorf("generation failed: %w", err)
	observability.RecordError("llm_error", "generation")
	s.o.logger.Error().Err(err).Msg("Turn aborted")
	s.reportError(err)
	s.stop()
	s.group.Wait()
	metrics.RecordTurnEnd(outcomeFailed)
	return s.result(), err
}

func (s *session) cancel(metrics *observability.TurnMetrics) (*Result, error) {
	s.stop()
	s.group.Wait()
	s.o.resetPlayback()
	metrics.RecordTurnEnd(outcomeCancelled)
	s.o.logger.Info().Int("chunks", s.nextIndex).Msg("Turn cancelled")
	return s.result(), fmt.Errorf("%w: %v", ErrCancelled, context.Cause(s.ctx))
}

func (o *Orchestrator) resetPlayback() {
	if o.interrupter != nil {
		o.interrupter.Interrupt()
		return
	}
	o.queue.Reset()
}

// stop cancels this turn's stream and waits for the generator to close it, so
// that the backend has let go of the turn before the next one starts
func (s *session) stop() {
	if s.stream == nil {
		return
	}
	s.stopStream()

	timer := time.NewTimer(streamStopTimeout)
	defer timer.Stop()
	for {
		select {
		case _, ok := <-s.stream:
			if !ok {
				return
			}
		case <-timer.C:
			s.o.logger.Warn().Msg("Generator did not close its stream")
			return
		}
	}
}

func (s *session) result() *Result {
	res := &Result{
		Text:              s.text.String(),
		Chunks:            s.nextIndex,
		SynthesisFailures: int(s.failures.Load()),
	}
	if s.tokens > 1 {
		if elapsed := s.lastToken.Sub(s.firstToken).Seconds(); elapsed > 0 {
			res.TokensPerSecond = float64(s.tokens-1) / elapsed
		}
	}
	return res
}
