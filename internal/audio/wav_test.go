package audio

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestEncodeParseWAV(t *testing.T) {
	pcm := SamplesToBytes([]int16{1, -1, 1000, -1000})
	wav := EncodeWAV(pcm, 22050)

	rate, data, err := ParseWAV(wav)
	if err != nil {
		t.Fatalf("ParseWAV failed: %v", err)
	}
	if rate != 22050 {
		t.Errorf("Expected sample rate 22050, got %d", rate)
	}
	if !bytes.Equal(data, pcm) {
		t.Errorf("Expected PCM %v, got %v", pcm, data)
	}
}

func TestParseWAV_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"too small", []byte("RIFF")},
		{"not riff", append([]byte("RIFX"), make([]byte, 60)...)},
		{"stereo", stereoWAV()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := ParseWAV(tt.data); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestLoadWAV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filler.wav")
	pcm := SamplesToBytes([]int16{5, 6, 7})
	if err := os.WriteFile(path, EncodeWAV(pcm, 16000), 0o644); err != nil {
		t.Fatal(err)
	}

	rate, data, err := LoadWAV(path)
	if err != nil {
		t.Fatalf("LoadWAV failed: %v", err)
	}
	if rate != 16000 || !bytes.Equal(data, pcm) {
		t.Errorf("Expected 16000Hz %v, got %dHz %v", pcm, rate, data)
	}

	if _, _, err := LoadWAV(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func stereoWAV() []byte {
	wav := EncodeWAV(make([]byte, 8), 16000)
	wav[22] = 2
	return wav
}
