package server

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/assistant"
	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/generation"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/stt"
)

const (
	writeTimeout   = 10 * time.Second
	audioInBacklog = 100
)

// voiceInput is one utterance streamed by the client
type voiceInput struct {
	in       chan []byte
	listened chan struct{} // closed once transcription ended
}

// connection is one client session; it owns one assistant
type connection struct {
	ws        *websocket.Conn
	config    Config
	assistant *assistant.Assistant
	logger    zerolog.Logger

	writeMu sync.Mutex

	// voice is only touched by the read loop
	voice *voiceInput

	turns sync.WaitGroup
}

func newConnection(ws *websocket.Conn, cfg Config, logger zerolog.Logger) *connection {
	sessionID := observability.NewSessionID()
	c := &connection{
		ws:     ws,
		config: cfg,
		logger: logger.With().Str("session_id", sessionID).Logger(),
	}

	deps := cfg.Deps
	deps.Player = NewSocketPlayer(c.send, cfg.Encoding, cfg.OutputSampleRate, cfg.FrameDuration)
	deps.History = cfg.History
	if cfg.NewRecognizer != nil {
		deps.Recognizer = cfg.NewRecognizer()
	}

	c.assistant = assistant.New(deps, assistant.Events{
		OnText: func(delta string) {
			c.send(ServerMessage{Type: TypeToken, Text: delta})
		},
		OnChunk: func(index int, text string) {
			c.send(ServerMessage{Type: TypeChunk, Index: index, Text: text})
		},
		OnError: func(err error) {
			c.send(ServerMessage{Type: TypeError, Message: err.Error()})
		},
		OnSpeaking: func(speaking bool) {
			c.send(ServerMessage{Type: TypeSpeaking, Value: boolPtr(speaking)})
		},
		OnTranscript: func(t stt.Transcription) {
			c.send(ServerMessage{Type: TypeTranscript, Text: t.Text, Final: boolPtr(t.IsFinal)})
		},
	}, c.logger)
	return c
}

// serve runs the read loop until the client goes away
func (c *connection) serve(ctx context.Context) {
	c.logger.Info().Str("chat_id", c.assistant.ChatID()).Msg("Client connected")
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		c.endVoice()
		cancel()
		c.assistant.Close()
		c.turns.Wait()
		c.logger.Info().Msg("Client disconnected")
	}()

	if err := c.send(ServerMessage{Type: TypeReady, ChatID: c.assistant.ChatID()}); err != nil {
		return
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}

		var msg ClientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to parse client message")
			c.send(ServerMessage{Type: TypeError, Message: "malformed message"})
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *connection) handle(ctx context.Context, msg ClientMessage) {
	switch msg.Type {
	case TypeText:
		if strings.TrimSpace(msg.Text) == "" {
			c.send(ServerMessage{Type: TypeError, Message: assistant.ErrEmptyInput.Error()})
			return
		}
		// reserved here so turns start in the order the frames arrived
		turn, err := c.assistant.Reserve(ctx)
		if err != nil {
			c.logger.Debug().Err(err).Msg("Failed to reserve turn")
			return
		}
		c.runTurn(func() (*generation.Result, error) {
			return c.assistant.SubmitTurn(turn, msg.Text)
		})

	case TypeCancel:
		c.endVoice()
		c.assistant.Cancel()

	case TypeAudio:
		c.handleAudio(ctx, msg.Payload)

	case TypeAudioEnd:
		c.endVoice()

	case TypeNewChat:
		c.send(ServerMessage{Type: TypeReady, ChatID: c.assistant.NewChat()})

	default:
		c.logger.Debug().Str("type", msg.Type).Msg("Unknown client message")
	}
}

func (c *connection) handleAudio(ctx context.Context, payload string) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to decode audio payload")
		return
	}
	if c.config.Encoding == config.EncodingMulaw {
		if data, err = audio.ConvertMulawToPCM(data); err != nil {
			return
		}
	}
	observability.RecordAudioBytes("in", len(data))

	if c.voice != nil {
		select {
		case <-c.voice.listened:
			// audio after the end of an utterance starts the next one
			c.endVoice()
		default:
		}
	}
	if c.voice == nil {
		v := &voiceInput{in: make(chan []byte, audioInBacklog), listened: make(chan struct{})}
		c.voice = v
		c.runTurn(func() (*generation.Result, error) {
			text, err := c.assistant.Transcribe(ctx, v.in)
			close(v.listened)
			if err != nil {
				return nil, err
			}
			return c.assistant.Submit(ctx, text)
		})
	}

	select {
	case c.voice.in <- data:
	default:
		c.logger.Warn().Msg("Audio input backlog full, dropping chunk")
	}
}

// endVoice closes the running voice input so that listening finishes
func (c *connection) endVoice() {
	if c.voice != nil {
		close(c.voice.in)
		c.voice = nil
	}
}

func (c *connection) runTurn(turn func() (*generation.Result, error)) {
	c.turns.Add(1)
	go func() {
		defer c.turns.Done()
		res, err := turn()
		switch {
		case err == nil:
			c.send(ServerMessage{
				Type:            TypeTurnComplete,
				Text:            res.Text,
				TokensPerSecond: res.TokensPerSecond,
			})
		case errors.Is(err, generation.ErrCancelled), errors.Is(err, context.Canceled), errors.Is(err, assistant.ErrClosed):
		case errors.Is(err, stt.ErrNoSpeech), errors.Is(err, assistant.ErrEmptyInput), errors.Is(err, assistant.ErrVoiceDisabled):
			c.send(ServerMessage{Type: TypeError, Message: err.Error()})
		default:
			// already reported through OnError
			c.logger.Debug().Err(err).Msg("Turn ended with error")
		}
	}()
}

// send writes one frame; safe for concurrent use
func (c *connection) send(msg ServerMessage) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}
