package pipeline

import (
	"github.com/bobarin/threadcast/internal/models"
)

// WithOptions returns a copy of s with the per-video overrides applied.
// Unset options keep the configured defaults.
func (s Settings) WithOptions(o models.RenderOptions) Settings {
	if o.StoryMode != nil {
		s.Narration.StoryMode = *o.StoryMode
	}
	if o.StoryModeMethod != nil {
		s.Narration.StoryModeMethod = *o.StoryModeMethod
	}
	if o.Language != nil {
		s.Narration.Language = *o.Language
	}
	if o.MaxDurationSec != nil {
		s.Narration.MaxTotalDuration = *o.MaxDurationSec
	}
	if o.WordTimings != nil {
		s.Narration.WordTimings = *o.WordTimings
	}
	if o.Voice != nil {
		s.Narration.Voice = *o.Voice
	}
	if o.RandomVoice != nil {
		s.Narration.RandomVoice = *o.RandomVoice
	}
	if o.Background != nil {
		s.BackgroundVideo = *o.Background
	}
	if o.BackgroundVolume != nil {
		s.BackgroundVolume = *o.BackgroundVolume
	}
	if o.Opacity != nil {
		s.Opacity = *o.Opacity
	}
	return s
}
