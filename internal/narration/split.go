package narration

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/bobarin/threadcast/internal/segment"
	"github.com/bobarin/threadcast/internal/timing"
	"go.uber.org/zap"
)

// synthesizeSplit narrates a unit longer than the backend accepts.
//
// The text is cut into sentence chunks, each chunk becomes <name>-<i>.part.mp3
// (i is the chunk's position before empty chunks were dropped) and the parts
// are joined into <name>.mp3 with the silence clip after every part. Part
// timelines are merged with the same gap into <name>_timings.json. Part files
// are removed once the unit file exists, or as soon as a part fails.
//
// With translate unset the text is narrated as given. A translated chunk that
// comes back over the limit is split again into consecutive parts.
//
// It returns the number of parts synthesized and the spoken text.
func (e *Engine) synthesizeSplit(ctx context.Context, name, text string, translate bool) (int, string, error) {
	dir := e.settings.AudioDir
	chunks, rawIndexes := segment.Chunks(text, e.tts.MaxChars())

	var (
		partFiles   []string
		timingFiles []string
		spoken      []string
	)
	cleanup := func() {
		for _, p := range partFiles {
			e.remove(p)
		}
		for _, p := range timingFiles {
			e.remove(p)
		}
	}

	next := 0
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			cleanup()
			return 0, "", err
		}
		if rawIndexes[i] > next {
			next = rawIndexes[i]
		}

		line := chunk
		if translate {
			line = e.processText(ctx, chunk)
		}
		if line == "" {
			e.logger.Debug("split chunk empty after sanitizing, skipping",
				zap.String("unit", name), zap.Int("part", rawIndexes[i]))
			continue
		}

		pieces := []string{line}
		if limit := e.tts.MaxChars(); utf8.RuneCountInString(line) > limit {
			pieces = segment.Split(line, limit)
		}

		for _, piece := range pieces {
			part := next
			next++

			partName := fmt.Sprintf("%s-%d.part", name, part)
			partPath := filepath.Join(dir, partName+".mp3")
			if err := e.synthesize(ctx, piece, partPath); err != nil {
				e.remove(partPath)
				cleanup()
				return 0, "", &SynthesisError{Unit: name, Part: part, Backend: e.tts.Name(), Err: err}
			}
			partFiles = append(partFiles, partPath)
			spoken = append(spoken, piece)

			if e.settings.WordTimings {
				d, err := e.audio.ProbeDuration(ctx, partPath)
				if err != nil {
					e.logger.Warn("could not probe part duration, part has no captions",
						zap.String("part", partName), zap.Error(err))
					continue
				}
				partTiming := timingPathFor(dir, partName)
				if e.writeTiming(partName, piece, d, partTiming) {
					timingFiles = append(timingFiles, partTiming)
				}
			}
		}
	}

	if len(partFiles) == 0 {
		return 0, "", nil
	}

	entries := partFiles
	if e.settings.SilenceDuration > 0 {
		silence := filepath.Join(dir, "silence.mp3")
		if err := e.audio.GenerateSilence(ctx, e.settings.SilenceDuration, silence); err != nil {
			cleanup()
			return 0, "", &SynthesisError{Unit: name, Part: -1, Backend: "ffmpeg", Err: fmt.Errorf("generate silence: %w", err)}
		}
		entries = make([]string, 0, 2*len(partFiles))
		for _, p := range partFiles {
			entries = append(entries, p, silence)
		}
	}

	unitPath := filepath.Join(dir, name+".mp3")
	if err := e.audio.ConcatAudio(ctx, filepath.Join(dir, "list.txt"), entries, unitPath); err != nil {
		cleanup()
		e.remove(unitPath)
		return 0, "", &SynthesisError{Unit: name, Part: -1, Backend: "ffmpeg", Err: fmt.Errorf("concatenate parts: %w", err)}
	}

	if e.settings.WordTimings && len(timingFiles) > 0 {
		merged := timing.MergeFiles(timingFiles, e.settings.SilenceDuration, e.logger)
		if len(merged) > 0 {
			if err := timing.Save(merged, timingPathFor(dir, name)); err != nil {
				e.logger.Warn("could not save merged word timings", zap.String("unit", name), zap.Error(err))
			}
		}
	}

	cleanup()
	return len(partFiles), strings.Join(spoken, " "), nil
}
