package narration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bobarin/threadcast/internal/services"
)

// fakeTTS writes the spoken text as the "audio" so tests can inspect it.
type fakeTTS struct {
	maxChars int
	failOn   string // fail any text containing this

	mu    sync.Mutex
	calls []string
}

func (f *fakeTTS) Name() string { return "fake" }

func (f *fakeTTS) MaxChars() int {
	if f.maxChars == 0 {
		return 1000
	}
	return f.maxChars
}

func (f *fakeTTS) Synthesize(ctx context.Context, text, outputPath string, opts services.SynthesisOptions) error {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()

	if f.failOn != "" && strings.Contains(text, f.failOn) {
		// leave a partial file behind like a backend dying mid-write would
		os.WriteFile(outputPath, []byte("partial"), 0644)
		return errors.New("backend unavailable")
	}
	return os.WriteFile(outputPath, []byte(text), 0644)
}

// fakeAudio answers probes from a table keyed by file name, falling back to
// one second per word of the file's content.
type fakeAudio struct {
	durations map[string]float64
	probeFail map[string]bool

	concatEntries []string
	silences      int
}

func (f *fakeAudio) ProbeDuration(ctx context.Context, path string) (float64, error) {
	name := filepath.Base(path)
	if f.probeFail[name] {
		return 0, errors.New("moov atom not found")
	}
	if d, ok := f.durations[name]; ok {
		return d, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return float64(len(strings.Fields(string(data)))), nil
}

func (f *fakeAudio) GenerateSilence(ctx context.Context, seconds float64, outputPath string) error {
	f.silences++
	return os.WriteFile(outputPath, nil, 0644)
}

func (f *fakeAudio) ConcatAudio(ctx context.Context, listPath string, files []string, outputPath string) error {
	f.concatEntries = append([]string(nil), files...)
	var sb strings.Builder
	for _, p := range files {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sb.Write(data)
		sb.WriteString(" ")
	}
	return os.WriteFile(outputPath, []byte(sb.String()), 0644)
}

type fakeTranslator struct {
	err error
}

func (f *fakeTranslator) Translate(ctx context.Context, text, lang string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return strings.ToUpper(text) + " (" + lang + ")", nil
}
