// Package pipeline runs a narrative end to end: narration, overlay
// scheduling and the final ffmpeg render.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/bobarin/threadcast/internal/narration"
	"github.com/bobarin/threadcast/internal/overlay"
	"github.com/bobarin/threadcast/internal/services"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// probeConcurrency bounds parallel ffprobe calls when re-reading unit durations.
const probeConcurrency = 4

// Stage names a phase reported to the progress callback.
type Stage string

const (
	StageSynthesizing Stage = "synthesizing"
	StageRendering    Stage = "rendering"
	StageOnlyTTS      Stage = "only_tts"
)

// ProgressFunc receives the fraction of the current stage that is done.
type ProgressFunc func(stage Stage, fraction float64)

// Media is the ffmpeg surface the pipeline drives.
type Media interface {
	narration.AudioTools
	PrepareBackground(ctx context.Context, inputPath, outputPath string, start, seconds float64, width, height int) error
	MixBackgroundAudio(ctx context.Context, narrationPath, musicPath, outputPath string, volume float64) (string, error)
	Render(ctx context.Context, req services.RenderRequest, onProgress func(float64)) error
}

// Settings configures a Pipeline.
type Settings struct {
	// TempDir holds one <thread id>/ workspace per run.
	TempDir string
	// OutputDir receives <name>.mp4 and, when enabled, OnlyTTS/<name>.mp4.
	OutputDir string
	// ImageDir overrides where screenshots are read from.
	ImageDir string
	// ImageRoot holds screenshots as <ImageRoot>/<thread id>/. ImageDir wins
	// when both are set; with neither the run's <workspace>/png is used.
	ImageRoot string

	Width  int
	Height int

	Narration narration.Settings

	BackgroundVideo  string
	BackgroundCredit string
	BackgroundAudio  string
	BackgroundVolume float64
	// Opacity of comment screenshots in comment mode.
	Opacity  float64
	FontFile string
	// OnlyTTS also renders a variant without background audio.
	OnlyTTS bool
	// Subtitles writes an .ass caption sidecar next to the video.
	Subtitles bool
	// KeepWorkspace leaves the temp workspace in place for debugging.
	KeepWorkspace bool
}

// ScreenshotDir returns the directory holding the screenshots of thread id,
// or "" when neither ImageDir nor ImageRoot is set.
func (s Settings) ScreenshotDir(id string) string {
	if s.ImageDir != "" {
		return s.ImageDir
	}
	if s.ImageRoot != "" && id != "" {
		return filepath.Join(s.ImageRoot, id)
	}
	return ""
}

// Output describes a finished run. The workspace is gone by the time it is
// returned, so it carries everything callers may persist.
type Output struct {
	Name         string
	VideoPath    string
	OnlyTTSPath  string
	SubtitlePath string
	Duration     float64
	Narration    *narration.Result
	Units        []overlay.Unit
	Directives   []overlay.Directive
}

// Pipeline is safe for concurrent runs of different threads.
type Pipeline struct {
	tts        services.Synthesizer
	translator services.Translator
	media      Media
	settings   Settings
	logger     *zap.Logger

	randFloat func() float64
}

func New(tts services.Synthesizer, translator services.Translator, media Media, settings Settings, logger *zap.Logger) *Pipeline {
	if settings.Width <= 0 || settings.Height <= 0 {
		settings.Width, settings.Height = services.DefaultWidth, services.DefaultHeight
	}
	return &Pipeline{
		tts:        tts,
		translator: translator,
		media:      media,
		settings:   settings,
		logger:     logger,
		randFloat:  rand.Float64,
	}
}

// Settings returns the pipeline defaults.
func (p *Pipeline) Settings() Settings { return p.settings }

// Run produces the video for n with the pipeline defaults.
func (p *Pipeline) Run(ctx context.Context, n models.Narrative, onProgress ProgressFunc) (*Output, error) {
	return p.RunWith(ctx, n, p.settings, onProgress)
}

// RunWith produces the video for n with per-run settings.
func (p *Pipeline) RunWith(ctx context.Context, n models.Narrative, s Settings, onProgress ProgressFunc) (*Output, error) {
	if onProgress == nil {
		onProgress = func(Stage, float64) {}
	}
	if s.Width <= 0 || s.Height <= 0 {
		s.Width, s.Height = services.DefaultWidth, services.DefaultHeight
	}
	if s.BackgroundVideo == "" {
		return nil, errors.New("no background video configured")
	}

	id := SafeID(n.ThreadID)
	if id == "" {
		return nil, errors.New("narrative has no usable thread id")
	}
	workspace := filepath.Join(s.TempDir, id)
	if err := os.MkdirAll(filepath.Join(workspace, "png"), 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if !s.KeepWorkspace {
		defer func() {
			if err := os.RemoveAll(workspace); err != nil {
				p.logger.Warn("failed to remove workspace", zap.String("path", workspace), zap.Error(err))
			}
		}()
	}
	imageDir := s.ScreenshotDir(id)
	if imageDir == "" {
		imageDir = filepath.Join(workspace, "png")
	}

	log := p.logger.With(zap.String("thread", id))

	// 1. Narration
	onProgress(StageSynthesizing, 0)
	ns := s.Narration
	ns.AudioDir = filepath.Join(workspace, "mp3")
	engine := narration.NewEngine(p.tts, p.media, p.translator, ns, log)
	res, err := engine.Run(ctx, n)
	if err != nil {
		return nil, fmt.Errorf("narration failed: %w", err)
	}
	onProgress(StageSynthesizing, 1)

	// 2. Unit durations as the renderer will see them
	durations, err := p.probeUnits(ctx, res.Units, log)
	if err != nil {
		return nil, err
	}

	audioFiles := make([]string, len(res.Units))
	images := make([]string, len(res.Units))
	timingPaths := make([]string, len(res.Units))
	total := 0.0
	for i, u := range res.Units {
		audioFiles[i] = u.Path
		images[i] = p.imageFor(imageDir, u, ns, log)
		timingPaths[i] = u.TimingPath
		total += durations[i]
	}
	log.Info("video will be", zap.Float64("seconds", total), zap.Int("units", len(res.Units)))

	narrationPath := filepath.Join(workspace, "audio.mp3")
	if err := p.media.ConcatAudio(ctx, filepath.Join(workspace, "audio_list.txt"), audioFiles, narrationPath); err != nil {
		return nil, fmt.Errorf("failed to join narration: %w", err)
	}

	// 3. Background
	background := filepath.Join(workspace, "background_noaudio.mp4")
	start := p.backgroundStart(ctx, s.BackgroundVideo, total, log)
	if err := p.media.PrepareBackground(ctx, s.BackgroundVideo, background, start, total, s.Width, s.Height); err != nil {
		return nil, fmt.Errorf("failed to prepare background: %w", err)
	}

	audioPath, err := p.media.MixBackgroundAudio(ctx, narrationPath, s.BackgroundAudio, filepath.Join(workspace, "audio_mixed.mp3"), s.BackgroundVolume)
	if err != nil {
		return nil, fmt.Errorf("failed to mix background audio: %w", err)
	}

	// 4. Overlay schedule
	units := overlay.LoadUnits(durations, images, timingPaths, log)
	directives := overlay.Schedule(units)

	// 5. Render
	name := localizedName(ctx, n.Title, ns.Language, p.translator, log)
	if name == "" {
		name = id
	}
	if err := os.MkdirAll(s.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output dir: %w", err)
	}

	out := &Output{
		Name:       name,
		VideoPath:  filepath.Join(s.OutputDir, name+".mp4"),
		Duration:   total,
		Narration:  res,
		Units:      units,
		Directives: directives,
	}

	req := services.RenderRequest{
		Background:   background,
		Audio:        audioPath,
		Directives:   directives,
		Width:        s.Width,
		Height:       s.Height,
		Opacity:      s.Opacity,
		ApplyOpacity: !ns.StoryMode,
		FontFile:     s.FontFile,
		Credit:       s.BackgroundCredit,
		Output:       out.VideoPath,
		Duration:     total,
	}
	onProgress(StageRendering, 0)
	if err := p.media.Render(ctx, req, func(f float64) { onProgress(StageRendering, f) }); err != nil {
		return nil, fmt.Errorf("render failed: %w", err)
	}

	if s.OnlyTTS && audioPath != narrationPath {
		onlyDir := filepath.Join(s.OutputDir, "OnlyTTS")
		if err := os.MkdirAll(onlyDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create OnlyTTS dir: %w", err)
		}
		req.Audio = narrationPath
		req.Output = filepath.Join(onlyDir, name+".mp4")
		if err := p.media.Render(ctx, req, func(f float64) { onProgress(StageOnlyTTS, f) }); err != nil {
			return nil, fmt.Errorf("OnlyTTS render failed: %w", err)
		}
		out.OnlyTTSPath = req.Output
	}

	if s.Subtitles && len(overlay.Captions(directives)) > 0 {
		path := filepath.Join(s.OutputDir, name+".ass")
		if err := overlay.WriteASS(directives, path, overlay.ASSOptions{Width: s.Width, Height: s.Height}); err != nil {
			log.Warn("could not write subtitle sidecar", zap.Error(err))
		} else {
			out.SubtitlePath = path
		}
	}

	log.Info("video ready", zap.String("path", out.VideoPath), zap.Float64("duration", total))
	return out, nil
}

// probeUnits re-reads every unit's duration in parallel. A failed probe keeps
// the duration measured during narration.
func (p *Pipeline) probeUnits(ctx context.Context, units []narration.AudioSegment, log *zap.Logger) ([]float64, error) {
	durations := make([]float64, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(probeConcurrency)
	for i, u := range units {
		g.Go(func() error {
			d, err := p.media.ProbeDuration(gctx, u.Path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Warn("could not re-probe unit, using narration duration",
					zap.String("unit", u.Name), zap.Error(err))
				d = u.Duration
			}
			durations[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("probing unit durations: %w", err)
	}
	return durations, nil
}

// imageFor returns the screenshot shown while a unit is narrated, or "" when
// the file is missing.
func (p *Pipeline) imageFor(dir string, u narration.AudioSegment, ns narration.Settings, log *zap.Logger) string {
	var file string
	switch {
	case u.Index < 0:
		file = "title.png"
	case ns.StoryMode && ns.StoryModeMethod == 0:
		file = "story_content.png"
	case ns.StoryMode:
		file = "img" + strconv.Itoa(u.Index) + ".png"
	default:
		file = "comment_" + strconv.Itoa(u.Index) + ".png"
	}

	path := filepath.Join(dir, file)
	if _, err := os.Stat(path); err != nil {
		log.Warn("screenshot missing, unit renders without image", zap.String("unit", u.Name), zap.String("path", path))
		return ""
	}
	return path
}

// backgroundStart picks a random offset into the background video that
// leaves room for the whole narration.
func (p *Pipeline) backgroundStart(ctx context.Context, video string, total float64, log *zap.Logger) float64 {
	length, err := p.media.ProbeDuration(ctx, video)
	if err != nil {
		log.Warn("could not probe background, starting at 0", zap.Error(err))
		return 0
	}
	if length <= total {
		return 0
	}
	return p.randFloat() * (length - total)
}
