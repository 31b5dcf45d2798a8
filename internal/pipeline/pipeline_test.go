package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/bobarin/threadcast/internal/narration"
	"github.com/bobarin/threadcast/internal/overlay"
	"github.com/bobarin/threadcast/internal/services"
	"go.uber.org/zap"
)

type fakeTTS struct{}

func (fakeTTS) Name() string  { return "fake" }
func (fakeTTS) MaxChars() int { return 500 }
func (fakeTTS) Synthesize(ctx context.Context, text, path string, opts services.SynthesisOptions) error {
	return os.WriteFile(path, []byte(text), 0644)
}

// fakeMedia reports one second per word of a file and records renders.
type fakeMedia struct {
	mu         sync.Mutex
	renders    []services.RenderRequest
	background struct {
		start, seconds float64
	}
	renderErr error
}

func (f *fakeMedia) ProbeDuration(ctx context.Context, path string) (float64, error) {
	if strings.HasSuffix(path, "background.mp4") {
		return 100, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return float64(len(strings.Fields(string(data)))), nil
}

func (f *fakeMedia) GenerateSilence(ctx context.Context, seconds float64, out string) error {
	return os.WriteFile(out, nil, 0644)
}

func (f *fakeMedia) ConcatAudio(ctx context.Context, list string, files []string, out string) error {
	var sb strings.Builder
	for _, p := range files {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		sb.Write(data)
		sb.WriteString(" ")
	}
	return os.WriteFile(out, []byte(sb.String()), 0644)
}

func (f *fakeMedia) PrepareBackground(ctx context.Context, in, out string, start, seconds float64, w, h int) error {
	f.background.start, f.background.seconds = start, seconds
	return os.WriteFile(out, []byte("video"), 0644)
}

func (f *fakeMedia) MixBackgroundAudio(ctx context.Context, narrationPath, music, out string, volume float64) (string, error) {
	if music == "" || volume <= 0 {
		return narrationPath, nil
	}
	return out, os.WriteFile(out, []byte("mixed"), 0644)
}

func (f *fakeMedia) Render(ctx context.Context, req services.RenderRequest, onProgress func(float64)) error {
	if f.renderErr != nil {
		return f.renderErr
	}
	f.mu.Lock()
	f.renders = append(f.renders, req)
	f.mu.Unlock()
	onProgress(0.5)
	onProgress(1)
	return os.WriteFile(req.Output, []byte("mp4"), 0644)
}

func testSettings(t *testing.T) Settings {
	root := t.TempDir()
	images := filepath.Join(root, "shots")
	os.MkdirAll(images, 0755)
	for _, f := range []string{"title.png", "comment_0.png"} {
		os.WriteFile(filepath.Join(images, f), []byte("png"), 0644)
	}
	return Settings{
		TempDir:          filepath.Join(root, "temp"),
		OutputDir:        filepath.Join(root, "results"),
		ImageDir:         images,
		BackgroundVideo:  filepath.Join(root, "background.mp4"),
		BackgroundAudio:  filepath.Join(root, "background.mp3"),
		BackgroundVolume: 0.15,
		Opacity:          0.9,
		OnlyTTS:          true,
		Subtitles:        true,
		Narration:        narration.Settings{WordTimings: true},
	}
}

func TestRunProducesVideo(t *testing.T) {
	media := &fakeMedia{}
	s := testSettings(t)
	p := New(fakeTTS{}, nil, media, s, zap.NewNop())
	p.randFloat = func() float64 { return 0.5 }

	n := models.Narrative{
		ThreadID: "t3_abc",
		Title:    "Best advice w/o cost?",
		Comments: []models.Comment{{Body: "Drink water"}, {Body: "Sleep more often"}},
	}

	var stages []Stage
	out, err := p.Run(context.Background(), n, func(st Stage, f float64) {
		if f == 1 {
			stages = append(stages, st)
		}
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Name != "Best advice without cost" {
		t.Errorf("name = %q", out.Name)
	}
	if out.VideoPath != filepath.Join(s.OutputDir, "Best advice without cost.mp4") {
		t.Errorf("video path = %q", out.VideoPath)
	}
	// spoken title "Best advice w o cost?" 5 words, "Drink water." 2, "Sleep more often." 3
	if out.Duration != 10 {
		t.Errorf("duration = %v, want 10", out.Duration)
	}
	if media.background.seconds != 10 || media.background.start != 45 {
		t.Errorf("background = %+v", media.background)
	}

	images := overlay.Images(out.Directives)
	if len(images) != 3 {
		t.Fatalf("image directives = %d", len(images))
	}
	if images[2].Image != "" || images[2].Start != 7 || images[2].End != 10 {
		t.Errorf("comment_1 has no screenshot, got %+v", images[2])
	}
	if n := len(overlay.Captions(out.Directives)); n != 10 {
		t.Errorf("captions = %d, want one per word", n)
	}

	if len(media.renders) != 2 {
		t.Fatalf("renders = %d, want main + OnlyTTS", len(media.renders))
	}
	main, only := media.renders[0], media.renders[1]
	if !strings.HasSuffix(main.Audio, "audio_mixed.mp3") || !strings.HasSuffix(only.Audio, "audio.mp3") {
		t.Errorf("audio tracks = %q / %q", main.Audio, only.Audio)
	}
	if !main.ApplyOpacity || main.Duration != 10 {
		t.Errorf("render request = %+v", main)
	}
	if out.OnlyTTSPath != filepath.Join(s.OutputDir, "OnlyTTS", out.Name+".mp4") {
		t.Errorf("OnlyTTS path = %q", out.OnlyTTSPath)
	}
	if out.SubtitlePath == "" {
		t.Error("expected subtitle sidecar")
	}
	if len(stages) != 3 || stages[0] != StageSynthesizing || stages[2] != StageOnlyTTS {
		t.Errorf("completed stages = %v", stages)
	}

	if _, err := os.Stat(filepath.Join(s.TempDir, "t3_abc")); !os.IsNotExist(err) {
		t.Error("workspace should be removed")
	}
}

func TestRunWithoutBackgroundAudioSkipsOnlyTTS(t *testing.T) {
	media := &fakeMedia{}
	s := testSettings(t)
	s.BackgroundVolume = 0
	p := New(fakeTTS{}, nil, media, s, zap.NewNop())

	out, err := p.Run(context.Background(), models.Narrative{ThreadID: "x", Title: "Title"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(media.renders) != 1 || out.OnlyTTSPath != "" {
		t.Errorf("renders = %d, OnlyTTS = %q", len(media.renders), out.OnlyTTSPath)
	}
}

func TestRunRemovesWorkspaceOnFailure(t *testing.T) {
	media := &fakeMedia{renderErr: errors.New("encoder crashed")}
	s := testSettings(t)
	p := New(fakeTTS{}, nil, media, s, zap.NewNop())

	_, err := p.Run(context.Background(), models.Narrative{ThreadID: "x", Title: "Title"}, nil)
	if err == nil || !strings.Contains(err.Error(), "encoder crashed") {
		t.Fatalf("err = %v", err)
	}
	if _, err := os.Stat(filepath.Join(s.TempDir, "x")); !os.IsNotExist(err) {
		t.Error("workspace should be removed after failure")
	}
}

func TestRunRequiresBackground(t *testing.T) {
	s := testSettings(t)
	s.BackgroundVideo = ""
	p := New(fakeTTS{}, nil, &fakeMedia{}, s, zap.NewNop())

	if _, err := p.Run(context.Background(), models.Narrative{ThreadID: "x", Title: "T"}, nil); err == nil {
		t.Fatal("expected error without background video")
	}
}

func TestRunPropagatesNoUnits(t *testing.T) {
	p := New(fakeTTS{}, nil, &fakeMedia{}, testSettings(t), zap.NewNop())

	_, err := p.Run(context.Background(), models.Narrative{ThreadID: "x"}, nil)
	if !errors.Is(err, narration.ErrNoUnits) {
		t.Fatalf("err = %v, want ErrNoUnits", err)
	}
}
