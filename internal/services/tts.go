package services

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
)

// ---------------------------------------------------------------------------
// Synthesizer is implemented by every text-to-speech backend.
// The narration engine only sees this interface, so ElevenLabs, Cartesia and
// OpenAI speech are interchangeable.
// ---------------------------------------------------------------------------

// SynthesisOptions carries per-call knobs a backend may honour.
type SynthesisOptions struct {
	// RandomVoice asks the backend to pick one of its configured voices at random.
	RandomVoice bool
	// Voice overrides the backend's default voice when non-empty.
	Voice string
}

// Synthesizer converts text into an audio file on disk.
type Synthesizer interface {
	// Synthesize writes the spoken form of text to outputPath (mp3).
	Synthesize(ctx context.Context, text, outputPath string, opts SynthesisOptions) error
	// MaxChars is the longest text the backend accepts in one call.
	MaxChars() int
	// Name identifies the backend in logs.
	Name() string
}

// Translator translates narration text into a target language.
type Translator interface {
	Translate(ctx context.Context, text, targetLang string) (string, error)
}

// pickVoice resolves the voice for one call: explicit override, then a random
// pool member when requested, then the default.
func pickVoice(opts SynthesisOptions, defaultVoice string, pool []string) string {
	if opts.Voice != "" {
		return opts.Voice
	}
	if opts.RandomVoice && len(pool) > 0 {
		return pool[rand.Intn(len(pool))]
	}
	return defaultVoice
}

// writeAudioFile stores synthesized bytes, creating the parent directory.
func writeAudioFile(outputPath string, audio []byte) error {
	if len(audio) == 0 {
		return fmt.Errorf("empty audio")
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
		return fmt.Errorf("failed to create audio dir: %w", err)
	}
	if err := os.WriteFile(outputPath, audio, 0644); err != nil {
		return fmt.Errorf("failed to write audio file: %w", err)
	}
	return nil
}
