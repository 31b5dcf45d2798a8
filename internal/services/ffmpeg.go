package services

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bobarin/threadcast/internal/overlay"
	"go.uber.org/zap"
)

// Output / rendering defaults: portrait 1080x1920 at 30fps
const (
	DefaultWidth  = 1080
	DefaultHeight = 1920
	videoFPS      = 30

	// Screenshots are scaled to 45% of the frame width and centred.
	screenshotWidthPercent = 45

	captionFontSize = 64
	creditFontSize  = 28
)

// ---------------------------------------------------------------------------
// FFmpegService
// ---------------------------------------------------------------------------

type FFmpegService struct {
	tempDir string
	ffmpeg  string
	ffprobe string
	logger  *zap.Logger
}

func NewFFmpegService(tempDir string, logger *zap.Logger) (*FFmpegService, error) {
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	return &FFmpegService{
		tempDir: tempDir,
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		logger:  logger,
	}, nil
}

// run executes one ffmpeg/ffprobe invocation, keeping stderr for the error.
func (s *FFmpegService) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", bin, err, tail(stderr.String(), 500))
	}
	return stdout.Bytes(), nil
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// ProbeDuration returns the duration of a media file in seconds.
func (s *FFmpegService) ProbeDuration(ctx context.Context, path string) (float64, error) {
	output, err := s.run(ctx, s.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}

	durationSec, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration %q: %w", strings.TrimSpace(string(output)), err)
	}
	return durationSec, nil
}

// GenerateSilence writes a silent MP3 of the given length.
func (s *FFmpegService) GenerateSilence(ctx context.Context, seconds float64, outputPath string) error {
	_, err := s.run(ctx, s.ffmpeg,
		"-f", "lavfi",
		"-i", "anullsrc=r=44100:cl=stereo",
		"-t", formatSeconds(seconds),
		"-c:a", "libmp3lame",
		"-q:a", "9",
		"-y",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg generate silence failed: %w", err)
	}
	return nil
}

// ConcatAudio joins files in order into outputPath through an ffmpeg concat
// list written to listPath. The list file is left in place for the caller's
// workspace cleanup.
func (s *FFmpegService) ConcatAudio(ctx context.Context, listPath string, files []string, outputPath string) error {
	if len(files) == 0 {
		return fmt.Errorf("no files to concatenate")
	}
	if err := writeConcatList(listPath, files); err != nil {
		return err
	}

	_, err := s.run(ctx, s.ffmpeg,
		"-f", "concat",
		"-safe", "0",
		"-i", listPath,
		"-c", "copy",
		"-y",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg concatenate failed: %w", err)
	}
	return nil
}

// writeConcatList writes files in ffmpeg concat demuxer format.
func writeConcatList(listPath string, files []string) error {
	var sb strings.Builder
	for _, path := range files {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		fmt.Fprintf(&sb, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	return nil
}

// PrepareBackground cuts seconds of video starting at start, crops it to the
// target aspect ratio, scales it to width x height and drops its audio.
func (s *FFmpegService) PrepareBackground(ctx context.Context, inputPath, outputPath string, start, seconds float64, width, height int) error {
	vf := fmt.Sprintf("crop=trunc(ih*%d/%d/2)*2:ih,scale=%d:%d", width, height, width, height)

	s.logger.Info("preparing background",
		zap.String("input", inputPath),
		zap.Float64("start", start),
		zap.Float64("duration", seconds),
	)

	_, err := s.run(ctx, s.ffmpeg,
		"-ss", formatSeconds(start),
		"-t", formatSeconds(seconds),
		"-i", inputPath,
		"-vf", vf,
		"-an",
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-y",
		outputPath,
	)
	if err != nil {
		return fmt.Errorf("ffmpeg prepare background failed: %w", err)
	}
	return nil
}

// MixBackgroundAudio lays looping background audio under the narration at the
// given volume and returns the path of the track to render with. A volume of
// 0, an empty musicPath or a missing file return the narration unchanged.
func (s *FFmpegService) MixBackgroundAudio(ctx context.Context, narrationPath, musicPath, outputPath string, volume float64) (string, error) {
	if musicPath == "" || volume <= 0 {
		s.logger.Debug("background audio disabled, skipping mix")
		return narrationPath, nil
	}
	if _, err := os.Stat(musicPath); os.IsNotExist(err) {
		s.logger.Warn("background audio file not found, skipping mix", zap.String("path", musicPath))
		return narrationPath, nil
	}

	// [0:a] narration at full volume, [1:a] music looped underneath;
	// duration=first ends the mix with the narration.
	filterComplex := fmt.Sprintf(
		"[0:a]volume=1.0[narration];[1:a]volume=%s[music];[narration][music]amix=inputs=2:duration=first:dropout_transition=3[aout]",
		strconv.FormatFloat(volume, 'f', -1, 64),
	)

	_, err := s.run(ctx, s.ffmpeg,
		"-i", narrationPath,
		"-stream_loop", "-1",
		"-i", musicPath,
		"-filter_complex", filterComplex,
		"-map", "[aout]",
		"-c:a", "libmp3lame",
		"-b:a", "192k",
		"-y",
		outputPath,
	)
	if err != nil {
		return "", fmt.Errorf("ffmpeg mix background audio failed: %w", err)
	}
	return outputPath, nil
}

// ---------------------------------------------------------------------------
// Final render
// ---------------------------------------------------------------------------

// RenderRequest describes one final video render.
type RenderRequest struct {
	Background string // prepared background video (already cropped, silent)
	Audio      string // narration track
	Directives []overlay.Directive
	Width      int
	Height     int
	// Opacity is applied to image overlays when ApplyOpacity is set (comment mode).
	Opacity      float64
	ApplyOpacity bool
	// FontFile is used for captions and the credit line. Captions are skipped
	// when it is empty or missing.
	FontFile string
	Credit   string
	Output   string
	Duration float64 // seconds, drives -t and progress
}

// captionFile is a drawtext text file the render needs on disk.
type captionFile struct {
	path string
	text string
}

// renderPlan is the ffmpeg invocation for a RenderRequest, minus the
// progress flag.
type renderPlan struct {
	args         []string
	filter       string
	captionFiles []captionFile
}

// buildRenderPlan turns a request into ffmpeg arguments. Inputs are the
// background (0), the audio (1) and one input per image directive. Caption
// text is referenced through textfile= so it never has to be escaped into
// the filter graph.
func buildRenderPlan(req RenderRequest, workDir string, withText bool) renderPlan {
	var plan renderPlan
	args := []string{"-i", req.Background, "-i", req.Audio}

	var chains []string
	current := "[0:v]"
	next := func(prefix string, i int) string { return fmt.Sprintf("[%s%d]", prefix, i) }

	imageWidth := req.Width * screenshotWidthPercent / 100
	input := 2
	imageIdx := 0
	for _, d := range req.Directives {
		if d.Kind != overlay.KindImage || d.Image == "" || d.End <= d.Start {
			continue
		}
		args = append(args, "-i", d.Image)

		scaled := next("img", imageIdx)
		prep := fmt.Sprintf("[%d:v]scale=%d:-1", input, imageWidth)
		if req.ApplyOpacity && req.Opacity < 1 {
			prep += fmt.Sprintf(",format=rgba,colorchannelmixer=aa=%s", strconv.FormatFloat(req.Opacity, 'f', 2, 64))
		}
		chains = append(chains, prep+scaled)

		out := next("v", imageIdx)
		chains = append(chains, fmt.Sprintf(
			"%s%soverlay=(main_w-overlay_w)/2:(main_h-overlay_h)/2:enable='%s'%s",
			current, scaled, enableExpr(d.Start, d.End), out,
		))
		current = out
		input++
		imageIdx++
	}

	if withText {
		font := escapeFFmpegFilterPath(req.FontFile)
		captionIdx := 0
		for _, d := range req.Directives {
			if d.Kind != overlay.KindCaption || d.End <= d.Start || strings.TrimSpace(d.Text) == "" {
				continue
			}
			file := captionFile{
				path: filepath.Join(workDir, fmt.Sprintf("caption_%04d.txt", captionIdx)),
				text: d.Text,
			}
			plan.captionFiles = append(plan.captionFiles, file)

			out := next("c", captionIdx)
			chains = append(chains, fmt.Sprintf(
				"%sdrawtext=fontfile='%s':textfile='%s':expansion=none:fontsize=%d:fontcolor=white:borderw=4:bordercolor=black:x=(w-text_w)/2:y=h*3/4:enable='%s'%s",
				current, font, escapeFFmpegFilterPath(file.path), captionFontSize, enableExpr(d.Start, d.End), out,
			))
			current = out
			captionIdx++
		}

		if req.Credit != "" {
			file := captionFile{
				path: filepath.Join(workDir, "credit.txt"),
				text: "Background by " + req.Credit,
			}
			plan.captionFiles = append(plan.captionFiles, file)
			chains = append(chains, fmt.Sprintf(
				"%sdrawtext=fontfile='%s':textfile='%s':expansion=none:fontsize=%d:fontcolor=white@0.6:x=w-text_w-20:y=h-text_h-20[credit]",
				current, font, escapeFFmpegFilterPath(file.path), creditFontSize,
			))
			current = "[credit]"
		}
	}

	chains = append(chains, current+"null[vout]")
	plan.filter = strings.Join(chains, ";")

	args = append(args,
		"-filter_complex", plan.filter,
		"-map", "[vout]",
		"-map", "1:a",
	)
	if req.Duration > 0 {
		args = append(args, "-t", formatSeconds(req.Duration))
	}
	args = append(args,
		"-r", strconv.Itoa(videoFPS),
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
	)
	plan.args = args
	return plan
}

// Render produces the final video described by req. onProgress receives the
// completed fraction while ffmpeg runs and exactly 1.0 on success.
func (s *FFmpegService) Render(ctx context.Context, req RenderRequest, onProgress func(float64)) error {
	if req.Background == "" || req.Audio == "" || req.Output == "" {
		return fmt.Errorf("render request needs background, audio and output")
	}
	if req.Width <= 0 || req.Height <= 0 {
		req.Width, req.Height = DefaultWidth, DefaultHeight
	}

	workDir, err := os.MkdirTemp(s.tempDir, "render-*")
	if err != nil {
		return fmt.Errorf("failed to create render workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	withText := req.FontFile != ""
	if withText {
		if _, err := os.Stat(req.FontFile); err != nil {
			s.logger.Warn("font file unavailable, rendering without captions",
				zap.String("font", req.FontFile), zap.Error(err))
			withText = false
		}
	}

	plan := buildRenderPlan(req, workDir, withText)
	for _, f := range plan.captionFiles {
		if err := os.WriteFile(f.path, []byte(f.text), 0644); err != nil {
			return fmt.Errorf("failed to write caption file: %w", err)
		}
	}

	progressPath := filepath.Join(workDir, "progress.txt")
	args := append([]string{"-nostats", "-progress", progressPath}, plan.args...)
	args = append(args, "-y", req.Output)

	s.logger.Info("rendering video",
		zap.String("output", req.Output),
		zap.Int("directives", len(req.Directives)),
		zap.Int("text_overlays", len(plan.captionFiles)),
		zap.Float64("duration", req.Duration),
	)

	watcher := NewProgressWatcher(progressPath, req.Duration, onProgress, s.logger)
	watcher.Start()
	// Stop runs before the workdir removal on every path.
	defer watcher.Stop()

	if _, err := s.run(ctx, s.ffmpeg, args...); err != nil {
		return fmt.Errorf("ffmpeg render failed: %w", err)
	}

	watcher.Finish()
	return nil
}

// enableExpr is the half-open visibility window [start, end) in ffmpeg
// expression syntax.
func enableExpr(start, end float64) string {
	return fmt.Sprintf("gte(t,%s)*lt(t,%s)", formatSeconds(start), formatSeconds(end))
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// escapeFFmpegFilterPath escapes special characters in file paths for FFmpeg filter syntax.
// FFmpeg filter strings treat colons, backslashes, and single quotes specially.
func escapeFFmpegFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}
