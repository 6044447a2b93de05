package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/generation"
	"github.com/lexiqai/speech-assistant/internal/history"
	"github.com/lexiqai/speech-assistant/internal/llm"
	"github.com/lexiqai/speech-assistant/internal/playback"
	"github.com/lexiqai/speech-assistant/internal/stt"
	"github.com/lexiqai/speech-assistant/internal/tts"
)

// scriptGenerator answers every prompt from replies and optionally blocks
// after streaming until cancelled
type scriptGenerator struct {
	mu       sync.Mutex
	replies  map[string][]string
	blockOn  map[string]bool
	requests []llm.Request
}

func (g *scriptGenerator) Generate(ctx context.Context, req llm.Request) (<-chan llm.Event, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	deltas := g.replies[req.Prompt]
	block := g.blockOn[req.Prompt]
	g.mu.Unlock()

	ch := make(chan llm.Event)
	go func() {
		defer close(ch)
		for _, d := range deltas {
			select {
			case ch <- llm.Event{Delta: d}:
			case <-ctx.Done():
				return
			}
		}
		if block {
			<-ctx.Done()
			return
		}
		select {
		case ch <- llm.Event{Done: true}:
		case <-ctx.Done():
		}
	}()
	return ch, nil
}

func (g *scriptGenerator) ModelName(ctx context.Context) (string, error) { return "script", nil }

func (g *scriptGenerator) Requests() []llm.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]llm.Request(nil), g.requests...)
}

func quickSynth() tts.Synthesizer {
	return tts.SynthesizerFunc(func(ctx context.Context, text string) (*tts.Audio, error) {
		return &tts.Audio{PCM: []byte{1, 0}, SampleRate: 16000}, nil
	})
}

type playedLog struct {
	mu    sync.Mutex
	texts []string
}

func (p *playedLog) Play(ctx context.Context, seg *audio.Segment) error {
	p.mu.Lock()
	p.texts = append(p.texts, seg.Text)
	p.mu.Unlock()
	return nil
}

func newTestAssistant(t *testing.T, gen llm.Generator, events Events) (*Assistant, *history.Repository) {
	t.Helper()
	repo := history.NewRepository(history.NewMemoryKV(), 25, zerolog.Nop())
	cfg := generation.DefaultConfig()
	cfg.FillerCount = 0
	a := New(Deps{
		Generator:    gen,
		Synthesizer:  quickSynth(),
		Player:       &playedLog{},
		History:      repo,
		Generation:   cfg,
		PollInterval: 5 * time.Millisecond,
	}, events, zerolog.Nop())
	t.Cleanup(a.Close)
	return a, repo
}

func messages(t *testing.T, repo *history.Repository, chatID string) []history.Message {
	t.Helper()
	chat, err := repo.GetChat(context.Background(), chatID)
	if err != nil {
		t.Fatalf("GetChat failed: %v", err)
	}
	return chat.Messages
}

func TestAssistant_SubmitRecordsBothSides(t *testing.T) {
	gen := &scriptGenerator{replies: map[string][]string{
		"first":  {"Hello ", "there."},
		"second": {"Fine."},
	}}
	a, repo := newTestAssistant(t, gen, Events{})

	res, err := a.Submit(context.Background(), "  first ")
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if res.Text != "Hello there." {
		t.Errorf("Expected 'Hello there.', got '%s'", res.Text)
	}
	if _, err := a.Submit(context.Background(), "second"); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	msgs := messages(t, repo, a.ChatID())
	want := []struct {
		text     string
		fromUser bool
	}{
		{"first", true},
		{"Hello there.", false},
		{"second", true},
		{"Fine.", false},
	}
	if len(msgs) != len(want) {
		t.Fatalf("Expected %d messages, got %d", len(want), len(msgs))
	}
	for i, w := range want {
		if msgs[i].Text != w.text || msgs[i].FromUser != w.fromUser {
			t.Errorf("Expected message %d %q (user=%v), got %q (user=%v)", i, w.text, w.fromUser, msgs[i].Text, msgs[i].FromUser)
		}
	}

	reqs := gen.Requests()
	if len(reqs) != 2 || len(reqs[1].History) != 2 {
		t.Fatalf("Expected second turn to carry 2 history messages, got %+v", reqs)
	}
	if reqs[1].History[0].Role != "user" || reqs[1].History[1].Role != "assistant" {
		t.Errorf("Expected user then assistant roles, got %+v", reqs[1].History)
	}
}

func TestAssistant_CancelKeepsPartialOnce(t *testing.T) {
	gen := &scriptGenerator{
		replies: map[string][]string{"tell me": {"Once upon ", "a time"}},
		blockOn: map[string]bool{"tell me": true},
	}
	streamed := make(chan struct{}, 8)
	var errs []error
	var mu sync.Mutex
	a, repo := newTestAssistant(t, gen, Events{
		OnText: func(delta string) { streamed <- struct{}{} },
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	})

	done := make(chan error, 1)
	go func() {
		_, err := a.Submit(context.Background(), "tell me")
		done <- err
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-streamed:
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for streamed text")
		}
	}
	a.Cancel()

	select {
	case err := <-done:
		if !errors.Is(err, generation.ErrCancelled) {
			t.Errorf("Expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Submit did not return after Cancel")
	}

	msgs := messages(t, repo, a.ChatID())
	if len(msgs) != 2 {
		t.Fatalf("Expected user message and one partial answer, got %d messages", len(msgs))
	}
	if msgs[1].Text != "Once upon a time" || msgs[1].FromUser {
		t.Errorf("Expected partial answer 'Once upon a time', got %q", msgs[1].Text)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 0 {
		t.Errorf("Expected no error callbacks on cancel, got %v", errs)
	}
	if a.Speaking() {
		t.Error("Expected nothing queued after cancel")
	}
}

func TestAssistant_NewTurnSupersedesRunningTurn(t *testing.T) {
	gen := &scriptGenerator{
		replies: map[string][]string{"slow": {"Thinking "}, "fast": {"Done."}},
		blockOn: map[string]bool{"slow": true},
	}
	streamed := make(chan string, 8)
	a, repo := newTestAssistant(t, gen, Events{
		OnText: func(delta string) { streamed <- delta },
	})

	first := make(chan error, 1)
	go func() {
		_, err := a.Submit(context.Background(), "slow")
		first <- err
	}()
	select {
	case <-streamed:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for first turn")
	}

	res, err := a.Submit(context.Background(), "fast")
	if err != nil {
		t.Fatalf("Second submit failed: %v", err)
	}
	if res.Text != "Done." {
		t.Errorf("Expected 'Done.', got '%s'", res.Text)
	}
	if err := <-first; !errors.Is(err, generation.ErrCancelled) {
		t.Errorf("Expected first turn to be cancelled, got %v", err)
	}

	var texts []string
	for _, m := range messages(t, repo, a.ChatID()) {
		texts = append(texts, m.Text)
	}
	want := []string{"slow", "Thinking ", "fast", "Done."}
	if len(texts) != len(want) {
		t.Fatalf("Expected %q, got %q", want, texts)
	}
	for i := range want {
		if texts[i] != want[i] {
			t.Errorf("Expected message %d %q, got %q", i, want[i], texts[i])
		}
	}
}

func TestAssistant_Errors(t *testing.T) {
	a, _ := newTestAssistant(t, &scriptGenerator{}, Events{})

	if _, err := a.Submit(context.Background(), "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Expected ErrEmptyInput, got %v", err)
	}
	if _, err := a.SubmitVoice(context.Background(), nil); !errors.Is(err, ErrVoiceDisabled) {
		t.Errorf("Expected ErrVoiceDisabled, got %v", err)
	}

	a.Close()
	if _, err := a.Submit(context.Background(), "hi"); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

func TestAssistant_NewChat(t *testing.T) {
	gen := &scriptGenerator{replies: map[string][]string{"a": {"A."}, "b": {"B."}}}
	a, repo := newTestAssistant(t, gen, Events{})

	a.Submit(context.Background(), "a")
	firstID := a.ChatID()
	secondID := a.NewChat()
	if secondID == firstID {
		t.Fatal("Expected a new chat id")
	}
	a.Submit(context.Background(), "b")

	items, _ := repo.List(context.Background())
	if len(items) != 2 || items[0].ChatID != secondID {
		t.Errorf("Expected new chat first in history, got %+v", items)
	}
	if len(gen.Requests()[1].History) != 0 {
		t.Error("Expected a fresh chat to carry no history")
	}
}

type voiceRecognizer struct {
	mu   sync.Mutex
	out  chan stt.Transcription
	done bool
}

func (r *voiceRecognizer) Start(ctx context.Context) (<-chan stt.Transcription, error) {
	return r.out, nil
}

func (r *voiceRecognizer) Write(pcm []byte) error { return nil }

func (r *voiceRecognizer) Finish() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.done {
		r.done = true
		close(r.out)
	}
	return nil
}

func TestAssistant_SubmitVoice(t *testing.T) {
	rec := &voiceRecognizer{out: make(chan stt.Transcription, 4)}
	rec.out <- stt.Transcription{Text: "what time is it", IsFinal: true}

	gen := &scriptGenerator{replies: map[string][]string{"what time is it": {"Noon."}}}
	var transcripts []string
	var mu sync.Mutex

	repo := history.NewRepository(history.NewMemoryKV(), 25, zerolog.Nop())
	a := New(Deps{
		Generator:   gen,
		Synthesizer: quickSynth(),
		Player:      &playedLog{},
		History:     repo,
		Recognizer:  rec,
		Generation:  generation.DefaultConfig(),
		Listen:      stt.ListenOptions{SampleRate: 16000, SilenceTimeout: 100 * time.Millisecond},
	}, Events{
		OnTranscript: func(t stt.Transcription) {
			mu.Lock()
			transcripts = append(transcripts, t.Text)
			mu.Unlock()
		},
	}, zerolog.Nop())
	defer a.Close()

	in := make(chan []byte)
	close(in)
	res, err := a.SubmitVoice(context.Background(), in)
	if err != nil {
		t.Fatalf("SubmitVoice failed: %v", err)
	}
	if res.Text != "Noon." {
		t.Errorf("Expected 'Noon.', got '%s'", res.Text)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(transcripts) != 1 || transcripts[0] != "what time is it" {
		t.Errorf("Expected transcript callback, got %q", transcripts)
	}
}

func TestObserverForwardsPlaybackEvents(t *testing.T) {
	var states []playback.State
	var speaking []bool
	o := observer{events: Events{
		OnPlaybackState: func(s playback.State) { states = append(states, s) },
		OnSpeaking:      func(v bool) { speaking = append(speaking, v) },
	}}
	o.OnPlaybackState(playback.StatePlaying)
	o.OnSpeaking(true)
	observer{}.OnSpeaking(false)

	if len(states) != 1 || states[0] != playback.StatePlaying {
		t.Errorf("Expected [Playing], got %v", states)
	}
	if len(speaking) != 1 || !speaking[0] {
		t.Errorf("Expected [true], got %v", speaking)
	}
}

func TestAssistant_TurnsRunInReservationOrder(t *testing.T) {
	gen := &scriptGenerator{
		replies: map[string][]string{"first": {"Hmm "}, "second": {"Okay."}},
		blockOn: map[string]bool{"first": true},
	}
	a, repo := newTestAssistant(t, gen, Events{})

	firstTurn, err := a.Reserve(context.Background())
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	secondTurn, err := a.Reserve(context.Background())
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	type outcome struct {
		res *generation.Result
		err error
	}
	second := make(chan outcome, 1)
	go func() {
		res, err := a.SubmitTurn(secondTurn, "second")
		second <- outcome{res, err}
	}()
	time.Sleep(20 * time.Millisecond)

	if _, err := a.SubmitTurn(firstTurn, "first"); !errors.Is(err, generation.ErrCancelled) {
		t.Errorf("Expected the earlier turn to be superseded, got %v", err)
	}

	var out outcome
	select {
	case out = <-second:
	case <-time.After(2 * time.Second):
		t.Fatal("Second turn did not run")
	}
	if out.err != nil || out.res.Text != "Okay." {
		t.Fatalf("Expected second turn to answer 'Okay.', got %+v %v", out.res, out.err)
	}

	var users []string
	msgs := messages(t, repo, a.ChatID())
	for _, m := range msgs {
		if m.FromUser {
			users = append(users, m.Text)
		}
	}
	if len(users) != 2 || users[0] != "first" || users[1] != "second" {
		t.Errorf("Expected user messages [first second], got %q", users)
	}
	if last := msgs[len(msgs)-1]; last.Text != "Okay." || last.FromUser {
		t.Errorf("Expected the chat to end with 'Okay.', got %q", last.Text)
	}
}

// wordServer is an OpenAI-compatible endpoint streaming w0 .. w<n-1>
func wordServer(n int) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for i := 0; i < n; i++ {
			fmt.Fprintf(w, `data: {"id":"c1","object":"chat.completion.chunk","created":0,"model":"test","choices":[{"index":0,"delta":{"content":"w%d "}}]}`+"\n\n", i)
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
		io.WriteString(w, "data: [DONE]\n\n")
	}))
}

func TestAssistant_CancelLeavesOtherSessionsOnSharedGenerator(t *testing.T) {
	srv := wordServer(20)
	defer srv.Close()
	gen := llm.NewOpenAIGenerator(llm.OpenAIConfig{APIKey: "test", BaseURL: srv.URL + "/v1", Model: "m"}, zerolog.Nop())

	streamed := make(chan struct{}, 1)
	sessionA, _ := newTestAssistant(t, gen, Events{
		OnText: func(string) {
			select {
			case streamed <- struct{}{}:
			default:
			}
		},
	})
	sessionB, _ := newTestAssistant(t, gen, Events{})

	type outcome struct {
		res *generation.Result
		err error
	}
	doneA := make(chan outcome, 1)
	doneB := make(chan outcome, 1)
	go func() {
		res, err := sessionA.Submit(context.Background(), "a")
		doneA <- outcome{res, err}
	}()
	go func() {
		res, err := sessionB.Submit(context.Background(), "b")
		doneB <- outcome{res, err}
	}()

	select {
	case <-streamed:
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for session A to stream")
	}
	sessionA.Cancel()

	select {
	case out := <-doneA:
		if !errors.Is(out.err, generation.ErrCancelled) {
			t.Errorf("Expected session A to be cancelled, got %v", out.err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Session A did not return after Cancel")
	}

	select {
	case out := <-doneB:
		if out.err != nil {
			t.Fatalf("Expected session B to complete, got %v", out.err)
		}
		if n := len(strings.Fields(out.res.Text)); n != 20 {
			t.Errorf("Expected 20 words in session B, got %d: %q", n, out.res.Text)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Session B did not finish")
	}
}
