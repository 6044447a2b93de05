package server

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/lexiqai/speech-assistant/internal/audio"
	"github.com/lexiqai/speech-assistant/internal/config"
	"github.com/lexiqai/speech-assistant/internal/observability"
)

// DefaultFrameDuration is the audio length carried by one socket frame
const DefaultFrameDuration = 200 * time.Millisecond

// SocketPlayer streams a segment to the client as audio frames paced at real
// time, so that a segment counts as played only once its duration has passed
type SocketPlayer struct {
	send          func(ServerMessage) error
	encoding      string
	outputRate    int
	frameDuration time.Duration
}

// NewSocketPlayer creates a player writing through send. outputRate 0 keeps the
// synthesized rate.
func NewSocketPlayer(send func(ServerMessage) error, encoding string, outputRate int, frameDuration time.Duration) *SocketPlayer {
	if encoding == "" {
		encoding = config.EncodingPCM16
	}
	if frameDuration <= 0 {
		frameDuration = DefaultFrameDuration
	}
	return &SocketPlayer{
		send:          send,
		encoding:      encoding,
		outputRate:    outputRate,
		frameDuration: frameDuration,
	}
}

// Play sends seg frame by frame and returns when it has been played out or ctx is done
func (p *SocketPlayer) Play(ctx context.Context, seg *audio.Segment) error {
	pcm, rate := seg.PCM, seg.SampleRate
	if p.outputRate > 0 && rate > 0 && rate != p.outputRate {
		pcm = audio.SamplesToBytes(audio.Resample(audio.BytesToSamples(pcm), rate, p.outputRate))
		rate = p.outputRate
	}
	if rate <= 0 || len(pcm) < audio.BytesPerSample {
		return nil
	}

	frameBytes := rate * int(p.frameDuration/time.Millisecond) / 1000 * audio.BytesPerSample
	if frameBytes < audio.BytesPerSample {
		frameBytes = audio.BytesPerSample
	}

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm) - len(pcm)%audio.BytesPerSample
		}
		frame := pcm[off:end]
		if len(frame) == 0 {
			break
		}

		payload, err := p.encode(frame, rate)
		if err != nil {
			return err
		}
		if err := p.send(ServerMessage{
			Type:       TypeAudio,
			Index:      seg.Index,
			Filler:     seg.Filler,
			SampleRate: rate,
			Encoding:   p.encoding,
			Payload:    base64.StdEncoding.EncodeToString(payload),
		}); err != nil {
			return fmt.Errorf("failed to send audio frame: %w", err)
		}
		observability.RecordAudioBytes("out", len(payload))

		played := (&audio.Segment{PCM: frame, SampleRate: rate}).Duration()
		timer.Reset(played)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

func (p *SocketPlayer) encode(pcm []byte, rate int) ([]byte, error) {
	if p.encoding == config.EncodingMulaw {
		return audio.ConvertPCMToMulaw(pcm, rate, rate)
	}
	return pcm, nil
}
