// Package assistant ties one audio queue, playback loop, orchestrator and chat
// together for the lifetime of a screen or connection.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/generation"
	"github.com/lexiqai/speech-assistant/internal/history"
	"github.com/lexiqai/speech-assistant/internal/llm"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/playback"
	"github.com/lexiqai/speech-assistant/internal/stt"
	"github.com/lexiqai/speech-assistant/internal/tts"
)

const contextMessages = 10

var (
	// ErrClosed is returned by operations on a closed assistant
	ErrClosed = errors.New("assistant closed")
	// ErrEmptyInput is returned when the submitted text is blank
	ErrEmptyInput = errors.New("empty input")
	// ErrVoiceDisabled is returned by voice input without a recognizer
	ErrVoiceDisabled = errors.New("voice input is not configured")

	errSuperseded  = errors.New("superseded by a new turn")
	errInterrupted = errors.New("interrupted")
)

// Deps are the collaborators of an assistant. Fillers, History and
// Recognizer are optional.
type Deps struct {
	Generator   llm.Generator
	Synthesizer tts.Synthesizer
	Player      playback.Player
	Fillers     *tts.FillerBank
	History     *history.Repository
	Recognizer  stt.Recognizer

	Generation   generation.Config
	PollInterval time.Duration
	Listen       stt.ListenOptions
}

// Events forwards turn and playback progress. Any field may be nil.
type Events struct {
	OnText          func(delta string)
	OnChunk         func(index int, text string)
	OnError         func(err error)
	OnSpeaking      func(speaking bool)
	OnPlaybackState func(state playback.State)
	OnTranscript    func(t stt.Transcription)
}

// observer adapts Events to playback.Observer
type observer struct {
	events Events
}

func (o observer) OnPlaybackState(state playback.State) {
	if o.events.OnPlaybackState != nil {
		o.events.OnPlaybackState(state)
	}
}

func (o observer) OnSpeaking(speaking bool) {
	if o.events.OnSpeaking != nil {
		o.events.OnSpeaking(speaking)
	}
}

// Assistant owns the speech pipeline of one chat
type Assistant struct {
	queue        *audio.Queue
	loop         *playback.Loop
	orchestrator *generation.Orchestrator
	history      *history.Repository
	recognizer   stt.Recognizer
	listenOpts   stt.ListenOptions
	events       Events
	logger       zerolog.Logger

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	mu         sync.Mutex
	chatID     string
	closed     bool
	turnCancel context.CancelCauseFunc
	turnDone   chan struct{}

	closeOnce sync.Once
}

// New creates an assistant and starts its playback loop
func New(deps Deps, events Events, logger zerolog.Logger) *Assistant {
	queue := audio.NewQueue()
	a := &Assistant{
		queue:      queue,
		history:    deps.History,
		recognizer: deps.Recognizer,
		listenOpts: deps.Listen,
		events:     events,
		chatID:     history.NewChatID(),
		loopDone:   make(chan struct{}),
	}
	a.logger = logger.With().Str("component", "assistant").Logger()
	a.loop = playback.NewLoop(queue, deps.Player, observer{events: events}, deps.PollInterval, logger)
	a.orchestrator = generation.New(deps.Generator, deps.Synthesizer, queue, deps.Fillers, a.loop, deps.Generation, logger)

	ctx, cancel := context.WithCancel(context.Background())
	a.loopCancel = cancel
	go func() {
		defer close(a.loopDone)
		a.loop.Run(ctx)
	}()

	observability.RecordSessionStart()
	return a
}

// ChatID returns the chat new turns are recorded in
func (a *Assistant) ChatID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.chatID
}

// NewChat cancels any running turn and starts recording into a fresh chat
func (a *Assistant) NewChat() string {
	a.Cancel()
	a.mu.Lock()
	defer a.mu.Unlock()
	a.chatID = history.NewChatID()
	a.logger.Debug().Str("chat_id", a.chatID).Msg("Started new chat")
	return a.chatID
}

// Speaking reports whether audio is queued or playing
func (a *Assistant) Speaking() bool {
	return a.loop.Speaking()
}

// Turn is a reserved place in the order in which an assistant runs turns
type Turn struct {
	parent   context.Context
	ctx      context.Context
	done     chan struct{}
	prevDone chan struct{}
}

// Reserve claims the next turn and cancels the running one without waiting
// for it. Reserved turns run in reservation order, whatever order their
// SubmitTurn calls arrive in. Every reserved turn must be passed to SubmitTurn.
func (a *Assistant) Reserve(ctx context.Context) (*Turn, error) {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil, ErrClosed
	}
	prevCancel, prevDone := a.turnCancel, a.turnDone
	turnCtx, cancel := context.WithCancelCause(ctx)
	turn := &Turn{parent: ctx, ctx: turnCtx, done: make(chan struct{}), prevDone: prevDone}
	a.turnCancel, a.turnDone = cancel, turn.done
	a.mu.Unlock()

	if prevCancel != nil {
		prevCancel(errSuperseded)
	}
	return turn, nil
}

// Submit runs one turn for text. A turn that is still running is cancelled
// and fully torn down first. The user message and the assistant output, full
// or partial, are each appended to the chat once.
func (a *Assistant) Submit(ctx context.Context, text string) (*generation.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	turn, err := a.Reserve(ctx)
	if err != nil {
		return nil, err
	}
	return a.SubmitTurn(turn, text)
}

// SubmitTurn waits until the turns reserved before turn are torn down, then
// runs text in it
func (a *Assistant) SubmitTurn(turn *Turn, text string) (*generation.Result, error) {
	defer a.endTurn(turn.done)
	if turn.prevDone != nil {
		<-turn.prevDone
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	ctx := turn.parent

	chatID := a.ChatID()
	req := llm.Request{Prompt: text, History: a.chatContext(ctx, chatID)}
	a.record(ctx, chatID, history.Message{Text: text, FromUser: true})

	res, runErr := a.orchestrator.Run(turn.ctx, req, generation.Listener{
		OnText:  a.events.OnText,
		OnChunk: a.events.OnChunk,
		OnError: a.events.OnError,
	})

	if res != nil && strings.TrimSpace(res.Text) != "" {
		msg := history.Message{Text: res.Text}
		if res.TokensPerSecond > 0 {
			tps := res.TokensPerSecond
			msg.TokensPerSecond = &tps
		}
		// the turn may have been cancelled; the partial answer is still kept
		a.record(context.WithoutCancel(ctx), chatID, msg)
	}
	return res, runErr
}

// SubmitVoice transcribes audio and submits the transcript
func (a *Assistant) SubmitVoice(ctx context.Context, in <-chan []byte) (*generation.Result, error) {
	text, err := a.Transcribe(ctx, in)
	if err != nil {
		return nil, err
	}
	return a.Submit(ctx, text)
}

// Transcribe stops any playback and listens to audio until the speaker falls
// silent or in is closed. Recognition failures other than silence are also
// reported through OnError.
func (a *Assistant) Transcribe(ctx context.Context, in <-chan []byte) (string, error) {
	if a.recognizer == nil {
		return "", ErrVoiceDisabled
	}
	if a.isClosed() {
		return "", ErrClosed
	}
	a.Cancel()

	opts := a.listenOpts
	opts.OnTranscript = a.events.OnTranscript
	text, err := stt.Listen(ctx, a.recognizer, in, opts, a.logger)
	if err != nil {
		if !errors.Is(err, stt.ErrNoSpeech) && ctx.Err() == nil && a.events.OnError != nil {
			a.events.OnError(fmt.Errorf("failed to transcribe: %w", err))
		}
		return "", err
	}
	return text, nil
}

// Cancel stops the running turn, if any, and any audio still playing
func (a *Assistant) Cancel() {
	a.mu.Lock()
	cancel := a.turnCancel
	a.mu.Unlock()

	if cancel != nil {
		cancel(errInterrupted)
	}
	a.loop.Interrupt()
}

// Close cancels the running turn, waits for it and stops playback for good
func (a *Assistant) Close() {
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		cancel, done := a.turnCancel, a.turnDone
		a.mu.Unlock()

		if cancel != nil {
			cancel(ErrClosed)
			<-done
		}
		a.loop.Close()
		a.loopCancel()
		<-a.loopDone

		observability.RecordSessionEnd()
		a.logger.Debug().Msg("Assistant closed")
	})
}

func (a *Assistant) isClosed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

func (a *Assistant) endTurn(done chan struct{}) {
	a.mu.Lock()
	cancel := a.turnCancel
	if a.turnDone == done {
		a.turnCancel, a.turnDone = nil, nil
	} else {
		cancel = nil
	}
	a.mu.Unlock()

	if cancel != nil {
		cancel(nil)
	}
	close(done)
}

// chatContext returns the latest messages of the chat as generation history
func (a *Assistant) chatContext(ctx context.Context, chatID string) []llm.Message {
	if a.history == nil {
		return nil
	}
	chat, err := a.history.GetChat(ctx, chatID)
	if err != nil {
		if !errors.Is(err, history.ErrNotFound) {
			a.logger.Warn().Err(err).Msg("Failed to load chat context")
		}
		return nil
	}

	msgs := chat.Messages
	if len(msgs) > contextMessages {
		msgs = msgs[len(msgs)-contextMessages:]
	}
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		role := "assistant"
		if m.FromUser {
			role = "user"
		}
		out = append(out, llm.Message{Role: role, Content: m.Text})
	}
	return out
}

func (a *Assistant) record(ctx context.Context, chatID string, msg history.Message) {
	if a.history == nil {
		return
	}
	if _, err := a.history.AppendMessage(ctx, chatID, msg); err != nil {
		observability.RecordError("history_error", "assistant")
		a.logger.Warn().Err(err).Str("chat_id", chatID).Msg("Failed to record message")
	}
}
