// Package playback plays queued speech segments strictly in order.
package playback

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/observability"
)

// DefaultPollInterval bounds how long an idle loop waits before checking the queue again
const DefaultPollInterval = 30 * time.Millisecond

// State is the playback loop state
type State int

const (
	StateWaiting State = iota
	StatePlaying
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StatePlaying:
		return "playing"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Player renders one segment and blocks until it finished playing or ctx is done
type Player interface {
	Play(ctx context.Context, seg *audio.Segment) error
}

// PlayerFunc adapts a function to Player
type PlayerFunc func(ctx context.Context, seg *audio.Segment) error

// Play calls f
func (f PlayerFunc) Play(ctx context.Context, seg *audio.Segment) error {
	return f(ctx, seg)
}

// Observer receives state changes. Callbacks run on the loop goroutine (or the
// goroutine calling Interrupt/Close) and must not block.
type Observer interface {
	OnPlaybackState(state State)
	OnSpeaking(speaking bool)
}

// Loop is the single consumer of an audio queue
type Loop struct {
	queue        *audio.Queue
	player       Player
	observer     Observer
	pollInterval time.Duration
	logger       zerolog.Logger

	mu         sync.Mutex
	state      State
	speaking   bool
	generation uint64
	playCancel context.CancelFunc

	closed    chan struct{}
	closeOnce sync.Once
}

// NewLoop creates a loop over queue. observer may be nil; a non-positive poll
// interval selects DefaultPollInterval.
func NewLoop(queue *audio.Queue, player Player, observer Observer, pollInterval time.Duration, logger zerolog.Logger) *Loop {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Loop{
		queue:        queue,
		player:       player,
		observer:     observer,
		pollInterval: pollInterval,
		logger:       logger.With().Str("component", "playback").Logger(),
		closed:       make(chan struct{}),
	}
}

// change collects observer notifications so they can be sent after unlocking
type change struct {
	state           State
	stateChanged    bool
	speaking        bool
	speakingChanged bool
}

// Run plays segments until ctx is done or Close is called
func (l *Loop) Run(ctx context.Context) {
	l.logger.Debug().Msg("Playback loop started")
	defer l.logger.Debug().Msg("Playback loop stopped")

	for {
		select {
		case <-ctx.Done():
			l.cancelled()
			return
		case <-l.closed:
			l.cancelled()
			return
		default:
		}

		seg, playCtx, cancel, gen := l.next(ctx)
		if seg == nil {
			l.wait(ctx)
			continue
		}

		l.play(playCtx, seg)
		cancel()
		l.finish(gen)
	}
}

// next pops the following segment and moves to Playing in one critical section
// so that Interrupt can never observe a popped segment that is not yet playing
func (l *Loop) next(ctx context.Context) (*audio.Segment, context.Context, context.CancelFunc, uint64) {
	l.mu.Lock()
	if l.state == StateCancelled {
		l.mu.Unlock()
		return nil, nil, nil, 0
	}

	seg := l.queue.PopNext()
	if seg == nil {
		c := l.refreshSpeakingLocked()
		l.mu.Unlock()
		l.notify(c)
		return nil, nil, nil, 0
	}

	l.queue.SetPlaying(true)
	playCtx, cancel := context.WithCancel(ctx)
	l.playCancel = cancel
	gen := l.generation
	c := l.setStateLocked(StatePlaying)
	c = l.mergeSpeakingLocked(c)
	l.mu.Unlock()

	l.notify(c)
	observability.SetQueueDepth(l.queue.Len())
	return seg, playCtx, cancel, gen
}

func (l *Loop) play(ctx context.Context, seg *audio.Segment) {
	kind := "main"
	if seg.Filler {
		kind = "filler"
	}
	if seg.Empty() {
		// placeholder for a chunk whose synthesis failed
		observability.RecordPlayback("placeholder")
		return
	}

	err := l.player.Play(ctx, seg)
	switch {
	case err == nil:
		observability.RecordPlayback(kind)
	case errors.Is(err, context.Canceled) && ctx.Err() != nil:
		l.logger.Debug().Int("index", seg.Index).Msg("Playback interrupted")
	default:
		observability.RecordPlayback("failed")
		observability.RecordError("playback_error", "playback")
		l.logger.Warn().Err(err).Int("index", seg.Index).Bool("filler", seg.Filler).Msg("Failed to play segment, skipping")
	}
}

// finish returns to Waiting unless an Interrupt already did
func (l *Loop) finish(gen uint64) {
	l.mu.Lock()
	if gen != l.generation {
		l.mu.Unlock()
		return
	}
	l.playCancel = nil
	l.queue.SetPlaying(false)
	c := l.setStateLocked(StateWaiting)
	c = l.mergeSpeakingLocked(c)
	l.mu.Unlock()
	l.notify(c)
}

func (l *Loop) wait(ctx context.Context) {
	timer := time.NewTimer(l.pollInterval)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-l.closed:
	case <-l.queue.Ready():
	case <-timer.C:
	}
}

// Interrupt stops the segment being played, clears the queue and returns to
// Waiting. It is safe to call at any time from any goroutine.
func (l *Loop) Interrupt() {
	l.mu.Lock()
	l.generation++
	if l.playCancel != nil {
		l.playCancel()
		l.playCancel = nil
	}
	l.queue.Reset()
	l.queue.SetPlaying(false)
	c := l.setStateLocked(StateWaiting)
	c = l.mergeSpeakingLocked(c)
	l.mu.Unlock()

	l.notify(c)
	observability.SetQueueDepth(0)
}

// Close interrupts playback and stops the loop for good
func (l *Loop) Close() {
	l.closeOnce.Do(func() {
		l.Interrupt()
		close(l.closed)
		l.cancelled()
	})
}

func (l *Loop) cancelled() {
	l.mu.Lock()
	l.generation++
	if l.playCancel != nil {
		l.playCancel()
		l.playCancel = nil
	}
	l.queue.SetPlaying(false)
	c := l.setStateLocked(StateCancelled)
	c = l.mergeSpeakingLocked(c)
	l.mu.Unlock()
	l.notify(c)
}

// State returns the current loop state
func (l *Loop) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Speaking reports whether audio is playing or waiting to be played
func (l *Loop) Speaking() bool {
	return l.queue.HasPendingAudio()
}

func (l *Loop) setStateLocked(to State) change {
	// Cancelled is terminal
	if l.state == to || l.state == StateCancelled {
		return change{}
	}
	l.state = to
	return change{state: to, stateChanged: true}
}

func (l *Loop) refreshSpeakingLocked() change {
	return l.mergeSpeakingLocked(change{})
}

func (l *Loop) mergeSpeakingLocked(c change) change {
	speaking := l.queue.HasPendingAudio()
	if speaking != l.speaking {
		l.speaking = speaking
		c.speaking = speaking
		c.speakingChanged = true
	}
	return c
}

func (l *Loop) notify(c change) {
	if l.observer == nil {
		return
	}
	if c.stateChanged {
		l.observer.OnPlaybackState(c.state)
	}
	if c.speakingChanged {
		l.observer.OnSpeaking(c.speaking)
	}
}
