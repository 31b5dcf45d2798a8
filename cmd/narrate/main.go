// Command narrate renders one narrative file into a video on this machine,
// without the API, database or queue.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bobarin/threadcast/internal/app"
	"github.com/bobarin/threadcast/internal/config"
	"github.com/bobarin/threadcast/internal/pipeline"
	"go.uber.org/zap"
)

func main() {
	var (
		input     = flag.String("input", "", "narrative file (.json, .yaml)")
		outputDir = flag.String("out", "", "output directory (default OUTPUT_DIR)")
		imageDir  = flag.String("images", "", "directory with title.png, comment_<i>.png, ...")
		lang      = flag.String("lang", "", "translate narration to this language code")
		maxLen    = flag.Float64("max", -1, "max narration seconds, 0 = unlimited (default MAX_VIDEO_LENGTH)")
		story     = flag.Bool("story", false, "narrate the post instead of comments")
		subtitles = flag.Bool("subtitles", false, "write an .ass caption sidecar")
		keep      = flag.Bool("keep", false, "keep the temp workspace")
		debug     = flag.Bool("debug", false, "development logging")
	)
	flag.Parse()

	if *input == "" {
		fmt.Fprintln(os.Stderr, "usage: narrate -input thread.yaml [flags]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(logger, *input, func(s *pipeline.Settings) {
		if *outputDir != "" {
			s.OutputDir = *outputDir
		}
		if *imageDir != "" {
			s.ImageDir = *imageDir
		}
		if *lang != "" {
			s.Narration.Language = *lang
		}
		if *maxLen >= 0 {
			s.Narration.MaxTotalDuration = *maxLen
		}
		if *story {
			s.Narration.StoryMode = true
		}
		s.Subtitles = s.Subtitles || *subtitles
		s.KeepWorkspace = s.KeepWorkspace || *keep
	}); err != nil {
		logger.Fatal("narration failed", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(logger *zap.Logger, input string, override func(*pipeline.Settings)) error {
	req, err := readRequest(input)
	if err != nil {
		return err
	}

	cfg, err := config.LoadPipeline()
	if err != nil {
		return err
	}

	p, err := app.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}

	s := p.Settings().WithOptions(req.Options)
	override(&s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	last := map[pipeline.Stage]int{}
	out, err := p.RunWith(ctx, req.Narrative, s, func(stage pipeline.Stage, f float64) {
		pct := int(f * 100)
		if pct/10 == last[stage]/10 && pct != 100 {
			return
		}
		last[stage] = pct
		logger.Info("progress", zap.String("stage", string(stage)), zap.Int("percent", pct))
	})
	if err != nil {
		return err
	}

	logger.Info("done",
		zap.String("video", out.VideoPath),
		zap.String("only_tts", out.OnlyTTSPath),
		zap.String("subtitles", out.SubtitlePath),
		zap.Float64("duration", out.Duration),
		zap.Int("last_index", out.Narration.LastIndex),
	)
	return nil
}
