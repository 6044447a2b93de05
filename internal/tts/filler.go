package tts

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/lexiqai/speech-assistant/internal/audio"
)

// FillerBank holds short clips ("Hmm.", "Let me think.") played while the
// first real chunk is still synthesizing
type FillerBank struct {
	dir     string
	phrases []string
	synth   Synthesizer
	logger  zerolog.Logger

	mu     sync.Mutex
	clips  []*audio.Segment
	loaded bool
	next   int
}

// NewFillerBank creates a bank that reads *.wav files from dir and synthesizes
// phrases with synth. Either source may be empty.
func NewFillerBank(dir string, phrases []string, synth Synthesizer, logger zerolog.Logger) *FillerBank {
	return &FillerBank{
		dir:     dir,
		phrases: phrases,
		synth:   synth,
		logger:  logger.With().Str("component", "filler_bank").Logger(),
	}
}

// Load reads and synthesizes the clips once. A failed phrase is skipped; Load
// only fails when the directory cannot be listed.
func (b *FillerBank) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return nil
	}

	var clips []*audio.Segment
	if b.dir != "" {
		paths, err := filepath.Glob(filepath.Join(b.dir, "*.wav"))
		if err != nil {
			return fmt.Errorf("failed to list filler clips: %w", err)
		}
		sort.Strings(paths)
		for _, path := range paths {
			rate, pcm, err := audio.LoadWAV(path)
			if err != nil {
				b.logger.Warn().Err(err).Str("path", path).Msg("Skipping filler clip")
				continue
			}
			clips = append(clips, &audio.Segment{Filler: true, PCM: pcm, SampleRate: rate, Text: filepath.Base(path)})
		}
	}

	if b.synth != nil {
		for _, phrase := range b.phrases {
			if phrase == "" {
				continue
			}
			a, err := b.synth.Synthesize(ctx, phrase)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				b.logger.Warn().Err(err).Str("phrase", phrase).Msg("Failed to synthesize filler phrase")
				continue
			}
			clips = append(clips, a.Segment(0, true, phrase))
		}
	}

	b.clips = clips
	b.loaded = true
	b.logger.Info().Int("clips", len(clips)).Msg("Filler bank loaded")
	return nil
}

// Len returns the number of loaded clips
func (b *FillerBank) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clips)
}

// Clips returns up to n filler segments indexed 1..n, rotating through the
// bank so consecutive turns do not always start with the same clip
func (b *FillerBank) Clips(n int) []*audio.Segment {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 || len(b.clips) == 0 {
		return nil
	}
	if n > len(b.clips) {
		n = len(b.clips)
	}

	out := make([]*audio.Segment, 0, n)
	for i := 0; i < n; i++ {
		src := b.clips[(b.next+i)%len(b.clips)]
		out = append(out, &audio.Segment{
			Index:      i + 1,
			Filler:     true,
			PCM:        src.PCM,
			SampleRate: src.SampleRate,
			Text:       src.Text,
		})
	}
	b.next = (b.next + 1) % len(b.clips)
	return out
}
