package audio

import (
	"testing"
)

func frame(amplitude int16, size int) []int16 {
	samples := make([]int16, size)
	for i := range samples {
		samples[i] = amplitude
	}
	return samples
}

func testVADConfig() *VADConfig {
	return &VADConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   10,
		FrameSize:       160,
	}
}

func TestVADDetector_Speech(t *testing.T) {
	vad := NewVADDetector(testVADConfig())

	for i := 0; i < 5; i++ {
		ev := vad.ProcessFrame(frame(5000, 160))
		if i == 0 && ev != VADSpeechStarted {
			t.Errorf("Expected speech to start on first frame, got %v", ev)
		}
		if i > 0 && ev != VADNone {
			t.Errorf("Expected no transition on frame %d, got %v", i, ev)
		}
		if !vad.IsSpeaking() {
			t.Errorf("Expected speech detection on frame %d", i)
		}
	}
}

func TestVADDetector_Silence(t *testing.T) {
	vad := NewVADDetector(testVADConfig())

	for i := 0; i < 15; i++ {
		if ev := vad.ProcessFrame(frame(10, 160)); ev != VADNone {
			t.Errorf("Expected no transition on frame %d, got %v", i, ev)
		}
		if vad.IsSpeaking() {
			t.Errorf("Expected silence on frame %d", i)
		}
	}
}

func TestVADDetector_SpeechToSilence(t *testing.T) {
	vad := NewVADDetector(testVADConfig())

	for i := 0; i < 5; i++ {
		vad.ProcessFrame(frame(5000, 160))
	}

	endedAt := -1
	for i := 0; i < 15; i++ {
		if vad.ProcessFrame(frame(10, 160)) == VADSpeechEnded {
			endedAt = i
			break
		}
	}

	if endedAt != 9 {
		t.Errorf("Expected speech to end on the 10th silent frame, got %d", endedAt)
	}
	if vad.IsSpeaking() {
		t.Error("Expected speaking to be false after speech ended")
	}
}

func TestVADDetector_Threshold(t *testing.T) {
	low := NewVADDetector(&VADConfig{EnergyThreshold: 100, SilenceFrames: 10, FrameSize: 160})
	high := NewVADDetector(&VADConfig{EnergyThreshold: 5000, SilenceFrames: 10, FrameSize: 160})

	samples := frame(1000, 160)
	if low.ProcessFrame(samples) != VADSpeechStarted {
		t.Error("Expected low threshold to detect speech")
	}
	if high.ProcessFrame(samples) != VADNone {
		t.Error("Expected high threshold to not detect speech")
	}
}

func TestVADDetector_WriteFramesPartialInput(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	loud := SamplesToBytes(frame(5000, 160))

	// Half a frame is buffered, not classified
	if events := vad.Write(loud[:160]); len(events) != 0 {
		t.Fatalf("Expected no events for a partial frame, got %v", events)
	}
	events := vad.Write(loud[160:])
	if len(events) != 1 || events[0] != VADSpeechStarted {
		t.Fatalf("Expected [speech_started], got %v", events)
	}

	quiet := SamplesToBytes(frame(0, 160*10))
	events = vad.Write(quiet)
	if len(events) != 1 || events[0] != VADSpeechEnded {
		t.Errorf("Expected [speech_ended], got %v", events)
	}
	if vad.Volume() != 0 {
		t.Errorf("Expected volume 0 after silence, got %f", vad.Volume())
	}
}

func TestVADDetector_Reset(t *testing.T) {
	vad := NewVADDetector(testVADConfig())
	vad.ProcessFrame(frame(5000, 160))
	if !vad.IsSpeaking() {
		t.Fatal("Expected speech to be detected")
	}

	vad.Reset()
	if vad.IsSpeaking() {
		t.Error("Expected speech state to be false after reset")
	}
}

func TestDefaultVADConfig(t *testing.T) {
	config := DefaultVADConfig()
	if config.EnergyThreshold != 500.0 {
		t.Errorf("Expected default EnergyThreshold 500.0, got %f", config.EnergyThreshold)
	}
	if config.SilenceFrames != 30 {
		t.Errorf("Expected default SilenceFrames 30, got %d", config.SilenceFrames)
	}
	if config.FrameSize != 320 {
		t.Errorf("Expected default FrameSize 320, got %d", config.FrameSize)
	}
}

func TestDetectSilence(t *testing.T) {
	if DetectSilence([]int16{5000, 5000, 5000}, 1000.0) {
		t.Error("Expected high energy samples to not be silence")
	}
	if !DetectSilence([]int16{10, 10, 10}, 1000.0) {
		t.Error("Expected low energy samples to be silence")
	}
}
