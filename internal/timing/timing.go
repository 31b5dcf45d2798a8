// Package timing estimates, persists and merges per-word narration timelines.
//
// A Timeline is the ordered list of words spoken in one narration unit with
// their start/end offsets (seconds) relative to the start of that unit's audio.
// Timelines are stored on disk as pretty-printed JSON arrays so they can be
// diffed and inspected by hand.
package timing

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidDuration is returned when a timeline is requested for a
// non-positive audio duration.
var ErrInvalidDuration = errors.New("audio duration must be positive")

// WordTiming is a single word and the window in which it is spoken.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
}

// Timeline is the ordered word timing of one narration unit.
type Timeline []WordTiming

// Estimate spreads the words of text evenly across duration.
//
// Each word gets duration/wordCount seconds, back to back, so the windows
// cover exactly [0, duration]. Text without words yields an empty timeline
// regardless of duration.
func Estimate(text string, duration float64) (Timeline, error) {
	words := strings.Fields(strings.TrimSpace(text))
	if len(words) == 0 {
		return Timeline{}, nil
	}

	if duration <= 0 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidDuration, duration)
	}

	perWord := duration / float64(len(words))
	timeline := make(Timeline, len(words))
	for i, word := range words {
		start := float64(i) * perWord
		timeline[i] = WordTiming{Word: word, Start: start, End: start + perWord}
	}
	// Pin the tail so accumulated float error never leaves a gap at the end.
	timeline[len(timeline)-1].End = duration

	return timeline, nil
}

// Duration returns the end of the last word, or 0 for an empty timeline.
func (t Timeline) Duration() float64 {
	if len(t) == 0 {
		return 0
	}
	return t[len(t)-1].End
}

// Shift returns a copy of the timeline with offset added to every window.
func (t Timeline) Shift(offset float64) Timeline {
	shifted := make(Timeline, len(t))
	for i, w := range t {
		shifted[i] = WordTiming{Word: w.Word, Start: w.Start + offset, End: w.End + offset}
	}
	return shifted
}
