package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/lexiqai/speech-assistant/internal/app"
	"github.com/lexiqai/speech-assistant/internal/assistant"
	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/generation"
	"github.com/lexiqai/speech-assistant/internal/playback"
	"github.com/lexiqai/speech-assistant/internal/speaker"
	"github.com/lexiqai/speech-assistant/internal/stt"
)

var (
	chatVoice bool
	chatMute  bool
)

var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Chat with the assistant",
	Long: `Starts a chat session. Answers are printed as they stream and spoken
through the default output device.

Without an argument an interactive session starts. Commands:
  /new    start a new chat
  /quit   leave

With --voice an empty line records one utterance from the microphone.

Examples:
  assistant chat "What is the capital of France?"
  assistant chat --voice
  assistant chat --mute`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	chatCmd.Flags().BoolVar(&chatVoice, "voice", false, "Record questions from the microphone on an empty line")
	chatCmd.Flags().BoolVar(&chatMute, "mute", false, "Print answers without speaking them")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, logger, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	greet(ctx, a, out)
	a.LoadFillers(ctx)

	var player playback.Player = playback.PlayerFunc(func(ctx context.Context, seg *audio.Segment) error {
		return nil
	})
	var spk *speaker.Speaker
	if !chatMute || chatVoice {
		if spk, err = speaker.New(0, logger); err != nil {
			return err
		}
		defer spk.Close()
		if !chatMute {
			player = spk
		}
	}

	deps := a.Deps()
	deps.Player = player
	if factory := a.RecognizerFactory(); factory != nil {
		deps.Recognizer = factory()
	} else if chatVoice {
		return assistant.ErrVoiceDisabled
	}

	asst := assistant.New(deps, assistant.Events{
		OnText: func(delta string) { fmt.Fprint(out, delta) },
		OnError: func(err error) {
			fmt.Fprintln(out)
			printError("turn failed", err)
		},
		OnTranscript: func(t stt.Transcription) {
			if t.IsFinal {
				fmt.Fprintf(out, "\r> %s\n", t.Text)
			}
		},
	}, logger)
	defer asst.Close()

	if len(args) > 0 {
		return ask(ctx, asst, out, func() (*generation.Result, error) {
			return asst.Submit(ctx, strings.Join(args, " "))
		})
	}

	var mic *speaker.Microphone
	if chatVoice {
		mic = speaker.NewMicrophone(a.Config.STTSampleRate, 0, logger)
	}
	return interactive(ctx, asst, mic, cmd.InOrStdin(), out, logger)
}

func interactive(ctx context.Context, asst *assistant.Assistant, mic *speaker.Microphone, in io.Reader, out io.Writer, logger zerolog.Logger) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		fmt.Fprint(out, "> ")
		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimSpace(l)
		}

		switch {
		case line == "/quit":
			return nil
		case line == "/new":
			fmt.Fprintf(out, "New chat %s\n", asst.NewChat())
		case line == "" && mic != nil:
			fmt.Fprintln(out, "(listening...)")
			err := ask(ctx, asst, out, func() (*generation.Result, error) {
				return listen(ctx, asst, mic)
			})
			if err != nil && !errors.Is(err, stt.ErrNoSpeech) {
				return err
			}
		case line == "":
		default:
			if err := ask(ctx, asst, out, func() (*generation.Result, error) {
				return asst.Submit(ctx, line)
			}); err != nil {
				return err
			}
		}
	}
}

// listen records one utterance and submits it
func listen(ctx context.Context, asst *assistant.Assistant, mic *speaker.Microphone) (*generation.Result, error) {
	captureCtx, stop := context.WithCancel(ctx)
	pcm, err := mic.Capture(captureCtx)
	if err != nil {
		stop()
		printError("microphone unavailable", err)
		return nil, err
	}
	text, err := asst.Transcribe(ctx, pcm)
	stop()
	if err != nil {
		return nil, err
	}
	return asst.Submit(ctx, text)
}

// ask runs one turn and waits until its audio has been spoken
func ask(ctx context.Context, asst *assistant.Assistant, out io.Writer, turn func() (*generation.Result, error)) error {
	res, err := turn()
	fmt.Fprintln(out)
	switch {
	case err == nil:
		if res.TokensPerSecond > 0 {
			fmt.Fprintf(out, "(%.1f tok/s)\n", res.TokensPerSecond)
		}
	case errors.Is(err, generation.ErrCancelled), errors.Is(err, context.Canceled):
		return nil
	case errors.Is(err, stt.ErrNoSpeech):
		fmt.Fprintln(out, "(no speech heard)")
		return err
	default:
		// reported through OnError; the session goes on
		return nil
	}

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for asst.Speaking() {
		select {
		case <-ctx.Done():
			asst.Cancel()
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

// greet counts the launch, welcomes first-time users and shows the commands
// until they have been seen once
func greet(ctx context.Context, a *app.App, out io.Writer) {
	if _, err := a.History.IncrementAppOpens(ctx); err != nil {
		printError("failed to update launch counter", err)
	}

	if first, err := a.History.IsFirstBoot(ctx); err == nil && first {
		fmt.Fprintf(out, "Welcome! You are talking to %s.\n", a.ModelName(ctx))
		if err := a.History.MarkBooted(ctx); err != nil {
			printError("failed to record first launch", err)
		}
	}

	if seen, err := a.History.OnboardingSeen(ctx); err == nil && !seen {
		fmt.Fprintln(out, "Type a question and press enter. /new starts a new chat, /quit leaves.")
		if err := a.History.SetOnboardingSeen(ctx); err != nil {
			printError("failed to record onboarding", err)
		}
	}
}
