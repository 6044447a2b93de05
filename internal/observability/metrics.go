package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_assistant_active_sessions",
		Help: "Number of open assistant sessions",
	})

	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_assistant_turns_total",
		Help: "Total number of generation turns by outcome",
	}, []string{"outcome"}) // completed, cancelled, failed

	turnDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_assistant_turn_duration_seconds",
		Help:    "Duration of a generation turn in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	// LLM metrics
	llmTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "speech_assistant_llm_tokens_total",
		Help: "Total number of streamed LLM text deltas",
	})

	llmFirstToken = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_assistant_llm_first_token_seconds",
		Help:    "Latency from submission to the first LLM token",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// STT metrics
	sttRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_assistant_stt_requests_total",
		Help: "Total number of STT requests",
	}, []string{"status"})

	sttLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "speech_assistant_stt_latency_seconds",
		Help:    "STT processing latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	})

	// TTS metrics
	ttsRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_assistant_tts_requests_total",
		Help: "Total number of TTS synthesis requests",
	}, []string{"backend", "status"})

	ttsLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_assistant_tts_latency_seconds",
		Help:    "TTS synthesis latency in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 5.0},
	}, []string{"backend"})

	synthesisInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_assistant_synthesis_in_flight",
		Help: "Number of synthesis jobs currently running",
	})

	// Playback metrics
	playbackSegments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_assistant_playback_segments_total",
		Help: "Total number of audio segments played",
	}, []string{"kind"}) // main, filler, failed, skipped

	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "speech_assistant_audio_queue_depth",
		Help: "Segments buffered in the most recently polled audio queue",
	})

	// Runtime metrics
	runtimeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_assistant_runtime_calls_total",
		Help: "Total number of inference runtime method calls",
	}, []string{"method", "status"})

	runtimeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "speech_assistant_runtime_latency_seconds",
		Help:    "Inference runtime method latency in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
	}, []string{"method"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_assistant_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "speech_assistant_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	// Audio metrics
	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "speech_assistant_audio_bytes_total",
		Help: "Total audio bytes processed",
	}, []string{"direction"}) // in, out
)

// TurnMetrics tracks metrics for a single generation turn
type TurnMetrics struct {
	startTime      time.Time
	firstTokenSeen bool
	mu             sync.Mutex
}

// NewTurnMetrics starts tracking a turn
func NewTurnMetrics() *TurnMetrics {
	return &TurnMetrics{startTime: time.Now()}
}

// RecordToken counts a streamed delta and observes time-to-first-token once
func (m *TurnMetrics) RecordToken() {
	llmTokens.Inc()

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.firstTokenSeen {
		m.firstTokenSeen = true
		llmFirstToken.Observe(time.Since(m.startTime).Seconds())
	}
}

// RecordTurnEnd observes the turn duration under the given outcome
func (m *TurnMetrics) RecordTurnEnd(outcome string) {
	turnsTotal.WithLabelValues(outcome).Inc()
	turnDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordSessionStart records an opened assistant session
func RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records a closed assistant session
func RecordSessionEnd() {
	activeSessions.Dec()
}

// RecordSTT records one recognition request
func RecordSTT(success bool, latency time.Duration) {
	sttLatency.Observe(latency.Seconds())
	sttRequests.WithLabelValues(statusLabel(success)).Inc()
}

// RecordTTS records one synthesis request for the given backend
func RecordTTS(backend string, success bool, latency time.Duration) {
	ttsLatency.WithLabelValues(backend).Observe(latency.Seconds())
	ttsRequests.WithLabelValues(backend, statusLabel(success)).Inc()
}

// SynthesisStarted increments the in-flight synthesis gauge
func SynthesisStarted() {
	synthesisInFlight.Inc()
}

// SynthesisFinished decrements the in-flight synthesis gauge
func SynthesisFinished() {
	synthesisInFlight.Dec()
}

// RecordPlayback counts a played, skipped or failed segment
func RecordPlayback(kind string) {
	playbackSegments.WithLabelValues(kind).Inc()
}

// SetQueueDepth reports the number of buffered segments
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// RecordRuntimeCall records one inference runtime method call
func RecordRuntimeCall(method string, success bool, latency time.Duration) {
	runtimeLatency.WithLabelValues(method).Observe(latency.Seconds())
	runtimeCalls.WithLabelValues(method, statusLabel(success)).Inc()
}

// RecordError records an error
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordAudioBytes records audio bytes processed
func RecordAudioBytes(direction string, bytes int) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
