// Package server exposes assistants to mobile and web clients over a
// WebSocket and serves the chat history over HTTP.
package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/assistant"
	"github.com/lexiqai/speech-assistant/internal/history"
	"github.com/lexiqai/speech-assistant/internal/observability"
	"github.com/lexiqai/speech-assistant/internal/stt"
)

var upgrader = websocket.Upgrader{
	// Clients are the app's own UIs; origin is not checked
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Config wires the collaborators shared by every connection
type Config struct {
	// Deps is the template for each connection's assistant. Player and
	// Recognizer are set per connection.
	Deps assistant.Deps

	// NewRecognizer creates a speech recognizer per connection; nil disables voice input
	NewRecognizer func() stt.Recognizer

	History          *history.Repository
	Encoding         string // pcm16 or mulaw, for audio in both directions
	OutputSampleRate int    // 0 keeps the synthesized rate
	FrameDuration    time.Duration

	Checks         map[string]observability.HealthCheckFunc
	MetricsEnabled bool
}

// Server routes HTTP and WebSocket traffic
type Server struct {
	config Config
	logger zerolog.Logger
}

// New creates a server
func New(cfg Config, logger zerolog.Logger) *Server {
	return &Server{
		config: cfg,
		logger: logger.With().Str("component", "server").Logger(),
	}
}

// Routes returns the HTTP handler of the service
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWS)

	mux.HandleFunc("GET /chats", s.listChats)
	mux.HandleFunc("DELETE /chats", s.clearChats)
	mux.HandleFunc("GET /chats/{id}", s.getChat)
	mux.HandleFunc("DELETE /chats/{id}", s.deleteChat)

	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(s.config.Checks))

	if s.config.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
		return
	}
	defer conn.Close()

	c := newConnection(conn, s.config, s.logger)
	c.serve(r.Context())
}

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	if s.config.History == nil {
		writeJSON(w, http.StatusOK, []history.Item{})
		return
	}
	items, err := s.config.History.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if items == nil {
		items = []history.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) getChat(w http.ResponseWriter, r *http.Request) {
	if s.config.History == nil {
		s.writeError(w, history.ErrNotFound)
		return
	}
	chat, err := s.config.History.GetChat(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

func (s *Server) deleteChat(w http.ResponseWriter, r *http.Request) {
	if s.config.History == nil {
		s.writeError(w, history.ErrNotFound)
		return
	}
	if err := s.config.History.DeleteChat(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearChats(w http.ResponseWriter, r *http.Request) {
	if s.config.History != nil {
		if err := s.config.History.Clear(r.Context()); err != nil {
			s.writeError(w, err)
			return
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "chat not found"})
		return
	}
	s.logger.Error().Err(err).Msg("History request failed")
	observability.RecordError("history_error", "server")
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
