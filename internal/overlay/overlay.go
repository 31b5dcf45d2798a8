// Package overlay turns per-unit audio durations and word timelines into the
// time-windowed image and caption directives consumed by the renderer.
package overlay

import (
	"errors"
	"io/fs"
	"strings"

	"github.com/bobarin/threadcast/internal/timing"
	"go.uber.org/zap"
)

// Kind distinguishes what a directive shows.
type Kind string

const (
	KindImage   Kind = "image"
	KindCaption Kind = "caption"
)

// Directive is one overlay visible on the half-open window [Start, End) of the
// final video. Text is set for captions, Image for image overlays.
type Directive struct {
	Kind  Kind    `json:"kind"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text,omitempty"`
	Image string  `json:"image,omitempty"`
	Unit  int     `json:"unit"`
}

// VisibleAt reports whether the directive is on screen at time t.
func (d Directive) VisibleAt(t float64) bool {
	return d.Start <= t && t < d.End
}

// Unit is one narrated unit as seen by the scheduler.
type Unit struct {
	Duration float64
	Image    string
	// Timeline is nil when the unit has no usable timing, which yields an
	// image-only unit.
	Timeline timing.Timeline
}

// Schedule lays units back to back on the video timeline.
//
// Every unit contributes an image directive spanning its whole audio. Word
// timelines add one caption per word whose text is every word spoken so far;
// each caption lasts until the next word starts, and the last one until the
// unit ends.
func Schedule(units []Unit) []Directive {
	var directives []Directive
	cursor := 0.0

	for i, u := range units {
		unitEnd := cursor + u.Duration
		directives = append(directives, Directive{
			Kind:  KindImage,
			Start: cursor,
			End:   unitEnd,
			Image: u.Image,
			Unit:  i,
		})

		words := make([]string, 0, len(u.Timeline))
		for w, wt := range u.Timeline {
			words = append(words, wt.Word)

			start := cursor + wt.Start
			end := unitEnd
			if w+1 < len(u.Timeline) {
				end = cursor + u.Timeline[w+1].Start
			}
			if end < start {
				// Timeline longer than the probed audio: keep the caption but
				// never show it.
				end = start
			}

			directives = append(directives, Directive{
				Kind:  KindCaption,
				Start: start,
				End:   end,
				Text:  strings.Join(words, " "),
				Unit:  i,
			})
		}

		cursor = unitEnd
	}

	return directives
}

// LoadUnits builds scheduler units from the orchestrator's on-disk artifacts.
// timingPaths entries may be empty. A missing or corrupt timing file turns
// that unit into an image-only unit.
func LoadUnits(durations []float64, images, timingPaths []string, logger *zap.Logger) []Unit {
	units := make([]Unit, len(durations))
	for i, d := range durations {
		units[i].Duration = d
		if i < len(images) {
			units[i].Image = images[i]
		}
		if i >= len(timingPaths) || timingPaths[i] == "" {
			continue
		}

		tl, err := timing.Load(timingPaths[i])
		switch {
		case err == nil:
			units[i].Timeline = tl
		case errors.Is(err, fs.ErrNotExist):
			logger.Debug("no timing file for unit", zap.Int("unit", i), zap.String("path", timingPaths[i]))
		default:
			logger.Warn("ignoring unreadable timing file",
				zap.Int("unit", i),
				zap.String("path", timingPaths[i]),
				zap.Error(err),
			)
		}
	}
	return units
}

// Active returns the directives visible at t, in schedule order.
func Active(directives []Directive, t float64) []Directive {
	var out []Directive
	for _, d := range directives {
		if d.VisibleAt(t) {
			out = append(out, d)
		}
	}
	return out
}

// Images and Captions filter a schedule by kind.
func Images(directives []Directive) []Directive   { return filter(directives, KindImage) }
func Captions(directives []Directive) []Directive { return filter(directives, KindCaption) }

func filter(directives []Directive, kind Kind) []Directive {
	var out []Directive
	for _, d := range directives {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}
