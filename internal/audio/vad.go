package audio

// VADConfig holds configuration for energy-based voice activity detection
type VADConfig struct {
	EnergyThreshold float64 // RMS energy above which a frame counts as speech
	SilenceFrames   int     // consecutive quiet frames that end an utterance
	FrameSize       int     // samples per frame
}

// DefaultVADConfig returns 20ms frames at 16kHz with 600ms of trailing silence
func DefaultVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   30,
		FrameSize:       320,
	}
}

// VADEvent is a transition reported by the detector
type VADEvent int

const (
	VADNone VADEvent = iota
	VADSpeechStarted
	VADSpeechEnded
)

func (e VADEvent) String() string {
	switch e {
	case VADSpeechStarted:
		return "speech_started"
	case VADSpeechEnded:
		return "speech_ended"
	default:
		return "none"
	}
}

// VADDetector tracks speech/silence over a stream of PCM frames.
// It is not safe for concurrent use.
type VADDetector struct {
	config         *VADConfig
	silenceCounter int
	isSpeaking     bool
	pending        []byte
	lastVolume     float64
}

// NewVADDetector creates a detector; nil config selects the defaults
func NewVADDetector(config *VADConfig) *VADDetector {
	if config == nil {
		config = DefaultVADConfig()
	}
	if config.FrameSize <= 0 {
		config.FrameSize = DefaultVADConfig().FrameSize
	}
	return &VADDetector{config: config}
}

// ProcessFrame classifies one frame of samples and reports the transition it caused
func (v *VADDetector) ProcessFrame(samples []int16) VADEvent {
	rms := CalculateRMS(samples)
	v.lastVolume = Volume(samples)

	if rms > v.config.EnergyThreshold {
		v.silenceCounter = 0
		if !v.isSpeaking {
			v.isSpeaking = true
			return VADSpeechStarted
		}
		return VADNone
	}

	v.silenceCounter++
	if v.isSpeaking && v.silenceCounter >= v.config.SilenceFrames {
		v.isSpeaking = false
		v.silenceCounter = 0
		return VADSpeechEnded
	}
	return VADNone
}

// Write feeds arbitrary-length 16-bit PCM, frames it and returns every
// transition it produced. A partial trailing frame is kept for the next call.
func (v *VADDetector) Write(pcm []byte) []VADEvent {
	v.pending = append(v.pending, pcm...)
	frameBytes := v.config.FrameSize * BytesPerSample

	var events []VADEvent
	for len(v.pending) >= frameBytes {
		if ev := v.ProcessFrame(BytesToSamples(v.pending[:frameBytes])); ev != VADNone {
			events = append(events, ev)
		}
		v.pending = v.pending[frameBytes:]
	}
	if len(v.pending) == 0 {
		v.pending = nil
	}
	return events
}

// Reset clears the detector state
func (v *VADDetector) Reset() {
	v.silenceCounter = 0
	v.isSpeaking = false
	v.pending = nil
	v.lastVolume = 0
}

// IsSpeaking returns whether speech is currently detected
func (v *VADDetector) IsSpeaking() bool {
	return v.isSpeaking
}

// Volume returns the 0..1 level of the most recent frame
func (v *VADDetector) Volume() float64 {
	return v.lastVolume
}

// DetectSilence reports whether samples fall below the energy threshold
func DetectSilence(samples []int16, threshold float64) bool {
	return CalculateRMS(samples) < threshold
}
