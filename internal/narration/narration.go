// Package narration turns a narrative into per-unit audio files, caption
// timing files and a duration budget.
//
// Units are synthesized strictly in order: the budget decision after each
// unit depends on the real duration of everything produced before it.
package narration

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/bobarin/threadcast/internal/segment"
	"github.com/bobarin/threadcast/internal/services"
	"github.com/bobarin/threadcast/internal/timing"
	"go.uber.org/zap"
)

// ProbePolicy decides what a failed duration probe does to the run.
type ProbePolicy string

const (
	// ProbeTolerate counts the unit as 0 seconds and logs a warning.
	ProbeTolerate ProbePolicy = "tolerate"
	// ProbeAbort stops the run with a *DurationProbeError.
	ProbeAbort ProbePolicy = "abort"
)

// Settings configures one Engine. The zero value of each field is usable.
type Settings struct {
	// AudioDir receives every mp3 and timing file of the run.
	AudioDir string
	// MaxTotalDuration bounds comment-mode narration in seconds; 0 disables it.
	MaxTotalDuration float64
	// WordTimings writes <unit>_timings.json next to each unit's audio.
	WordTimings bool
	// SilenceDuration is the gap injected after every part of a split unit.
	SilenceDuration float64
	StoryMode       bool
	// StoryModeMethod 0 reads the post as one unit, 1 reads one unit per paragraph.
	StoryModeMethod int
	// Language is the ISO 639-1 target for translation; empty disables it.
	Language    string
	Voice       string
	RandomVoice bool
	ProbePolicy ProbePolicy
}

// AudioTools is the audio plumbing the engine needs around the synthesizer.
type AudioTools interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	GenerateSilence(ctx context.Context, seconds float64, outputPath string) error
	ConcatAudio(ctx context.Context, listPath string, files []string, outputPath string) error
}

// AudioSegment is one narrated unit on disk.
type AudioSegment struct {
	Name       string  // file stem: "title", "0", "postaudio", "postaudio-2"
	Index      int     // comment or paragraph index, -1 for the title
	Path       string  // unit mp3
	Duration   float64 // seconds, 0 when the probe failed and was tolerated
	TimingPath string  // empty when no timing file was written
	Parts      int     // number of synthesized parts, 0 when not split
	Text       string  // the text that was spoken
}

// Budget is the duration accounting of one run.
type Budget struct {
	Total        float64
	LastDuration float64
	LastIndex    int
	// RolledBack is set when the last produced unit pushed the total over
	// MaxTotalDuration and was excluded.
	RolledBack bool
}

// Result is what Run produced.
type Result struct {
	TotalDuration float64
	// LastIndex is the last comment (or paragraph) included in the video,
	// -1 when only the title was narrated.
	LastIndex int
	// Units are the included units in narration order, title first.
	Units  []AudioSegment
	Budget Budget
}

// Engine synthesizes narratives. It is safe to reuse across runs as long as
// runs do not share an AudioDir.
type Engine struct {
	tts        services.Synthesizer
	audio      AudioTools
	translator services.Translator
	settings   Settings
	logger     *zap.Logger
}

// NewEngine wires an engine. translator may be nil when Settings.Language is empty.
func NewEngine(tts services.Synthesizer, audio AudioTools, translator services.Translator, settings Settings, logger *zap.Logger) *Engine {
	if settings.ProbePolicy == "" {
		settings.ProbePolicy = ProbeTolerate
	}
	return &Engine{
		tts:        tts,
		audio:      audio,
		translator: translator,
		settings:   settings,
		logger:     logger,
	}
}

// Settings returns the engine's effective settings.
func (e *Engine) Settings() Settings { return e.settings }

// Run narrates the title and then the comments or the story, depending on
// the mode.
func (e *Engine) Run(ctx context.Context, n models.Narrative) (*Result, error) {
	if strings.TrimSpace(n.Title) == "" && len(n.Comments) == 0 &&
		strings.TrimSpace(n.Post) == "" && len(n.Paragraphs) == 0 {
		return nil, ErrNoUnits
	}
	if err := os.MkdirAll(e.settings.AudioDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create audio dir: %w", err)
	}

	e.logger.Info("saving narration to mp3 files",
		zap.String("thread", n.ThreadID),
		zap.String("backend", e.tts.Name()),
		zap.Bool("story_mode", e.settings.StoryMode),
	)

	res := &Result{LastIndex: -1}
	add := func(seg *AudioSegment) {
		res.Units = append(res.Units, *seg)
		res.Budget.Total += seg.Duration
		res.Budget.LastDuration = seg.Duration
	}

	title, err := e.produce(ctx, "title", -1, n.Title)
	if err != nil {
		return nil, err
	}
	if title != nil {
		add(title)
	}

	if e.settings.StoryMode {
		if err := e.runStory(ctx, n, res, add); err != nil {
			return nil, err
		}
	} else {
		if err := e.runComments(ctx, n.Comments, res, add); err != nil {
			return nil, err
		}
	}

	res.TotalDuration = res.Budget.Total
	res.Budget.LastIndex = res.LastIndex
	if len(res.Units) == 0 {
		return nil, ErrNoUnits
	}

	e.logger.Info("saved narration to mp3 files",
		zap.Int("units", len(res.Units)),
		zap.Int("last_index", res.LastIndex),
		zap.Float64("total_duration", res.TotalDuration),
		zap.Bool("rolled_back", res.Budget.RolledBack),
	)
	return res, nil
}

func (e *Engine) runComments(ctx context.Context, comments []models.Comment, res *Result, add func(*AudioSegment)) error {
	res.LastIndex = len(comments) - 1

	for idx, c := range comments {
		if err := ctx.Err(); err != nil {
			return err
		}

		seg, err := e.produce(ctx, strconv.Itoa(idx), idx, segment.PrepareComment(c.Body))
		if err != nil {
			return err
		}
		if seg == nil {
			continue
		}

		total := res.Budget.Total + seg.Duration
		if e.settings.MaxTotalDuration > 0 && total > e.settings.MaxTotalDuration && idx > 1 {
			// The unit stays on disk but is left out of the video.
			e.logger.Info("narration over budget, dropping unit",
				zap.Int("index", idx),
				zap.Float64("total", total),
				zap.Float64("max", e.settings.MaxTotalDuration),
			)
			res.Budget.RolledBack = true
			res.LastIndex = idx - 1
			return nil
		}
		add(seg)
	}
	return nil
}

func (e *Engine) runStory(ctx context.Context, n models.Narrative, res *Result, add func(*AudioSegment)) error {
	switch e.settings.StoryModeMethod {
	case 0:
		post := n.Post
		if strings.TrimSpace(post) == "" {
			post = strings.Join(n.Paragraphs, "\n")
		}
		seg, err := e.produce(ctx, "postaudio", 0, post)
		if err != nil {
			return err
		}
		if seg != nil {
			add(seg)
			res.LastIndex = 0
		}
		return nil

	case 1:
		paragraphs := n.Paragraphs
		if len(paragraphs) == 0 {
			paragraphs = SplitParagraphs(n.Post)
		}
		for i, p := range paragraphs {
			if err := ctx.Err(); err != nil {
				return err
			}
			seg, err := e.produce(ctx, fmt.Sprintf("postaudio-%d", i), i, p)
			if err != nil {
				return err
			}
			if seg != nil {
				add(seg)
			}
		}
		res.LastIndex = len(paragraphs) - 1
		return nil

	default:
		return fmt.Errorf("unknown story mode method %d", e.settings.StoryModeMethod)
	}
}

// SplitParagraphs breaks a post on blank lines.
func SplitParagraphs(post string) []string {
	var out []string
	for _, p := range strings.Split(strings.ReplaceAll(post, "\r\n", "\n"), "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// produce synthesizes one unit. A nil segment with a nil error means the
// unit had nothing speakable and was skipped.
func (e *Engine) produce(ctx context.Context, name string, index int, text string) (*AudioSegment, error) {
	path := filepath.Join(e.settings.AudioDir, name+".mp3")
	seg := &AudioSegment{Name: name, Index: index, Path: path}

	// MaxChars bounds the text the backend receives: sanitized and translated.
	var spoken string
	if utf8.RuneCountInString(segment.Sanitize(text)) <= e.tts.MaxChars() {
		spoken = e.processText(ctx, text)
		if spoken == "" {
			e.logger.Warn("unit has no speakable text, skipping", zap.String("unit", name))
			return nil, nil
		}
	}

	if spoken == "" || utf8.RuneCountInString(spoken) > e.tts.MaxChars() {
		source, translate := text, true
		if spoken != "" {
			source, translate = spoken, false
		}
		parts, joined, err := e.synthesizeSplit(ctx, name, source, translate)
		if err != nil {
			return nil, err
		}
		if parts == 0 {
			e.logger.Warn("unit has no speakable text, skipping", zap.String("unit", name))
			return nil, nil
		}
		seg.Parts = parts
		seg.Text = joined
	} else {
		if err := e.synthesize(ctx, spoken, path); err != nil {
			e.remove(path)
			return nil, &SynthesisError{Unit: name, Part: -1, Backend: e.tts.Name(), Err: err}
		}
		seg.Text = spoken
	}

	d, err := e.probe(ctx, name, path)
	if err != nil {
		return nil, err
	}
	seg.Duration = d

	timingPath := timingPathFor(e.settings.AudioDir, name)
	if e.settings.WordTimings {
		if seg.Parts == 0 {
			e.writeTiming(name, seg.Text, d, timingPath)
		}
		if _, err := os.Stat(timingPath); err == nil {
			seg.TimingPath = timingPath
		}
	}

	e.logger.Debug("unit synthesized",
		zap.String("unit", name),
		zap.Float64("duration", d),
		zap.Int("parts", seg.Parts),
	)
	return seg, nil
}

func (e *Engine) synthesize(ctx context.Context, text, path string) error {
	return e.tts.Synthesize(ctx, text, path, services.SynthesisOptions{
		RandomVoice: e.settings.RandomVoice,
		Voice:       e.settings.Voice,
	})
}

// probe applies the ProbePolicy to a duration lookup.
func (e *Engine) probe(ctx context.Context, name, path string) (float64, error) {
	d, err := e.audio.ProbeDuration(ctx, path)
	if err == nil {
		return d, nil
	}
	if e.settings.ProbePolicy == ProbeAbort {
		return 0, &DurationProbeError{Unit: name, Path: path, Err: err}
	}
	e.logger.Warn("could not probe unit duration, counting it as 0s",
		zap.String("unit", name),
		zap.String("path", path),
		zap.Error(err),
	)
	return 0, nil
}

// writeTiming estimates and stores a timeline. Failures only cost captions.
func (e *Engine) writeTiming(name, text string, duration float64, path string) bool {
	tl, err := timing.Estimate(text, duration)
	if err != nil {
		e.logger.Warn("could not generate word timings",
			zap.String("unit", name),
			zap.Error(err),
		)
		return false
	}
	if len(tl) == 0 {
		return false
	}
	if err := timing.Save(tl, path); err != nil {
		e.logger.Warn("could not save word timings", zap.String("unit", name), zap.Error(err))
		return false
	}
	return true
}

// processText sanitizes text for speech and, when a language is set,
// translates it and sanitizes the translation. A failed translation falls
// back to the original text.
func (e *Engine) processText(ctx context.Context, text string) string {
	clean := segment.Sanitize(text)
	if clean == "" || e.settings.Language == "" || e.translator == nil {
		return clean
	}

	translated, err := e.translator.Translate(ctx, clean, e.settings.Language)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return clean
		}
		e.logger.Warn("translation failed, narrating original text",
			zap.String("lang", e.settings.Language),
			zap.Error(err),
		)
		return clean
	}
	return segment.Sanitize(translated)
}

func timingPathFor(dir, name string) string {
	return filepath.Join(dir, name+"_timings.json")
}

// remove deletes an intermediate file. Failures are logged, never returned.
func (e *Engine) remove(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("could not remove file", zap.String("path", path), zap.Error(err))
	}
}
