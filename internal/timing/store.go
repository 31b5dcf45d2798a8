package timing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrTimingFileCorrupt is returned by Load when a timing file exists but does
// not contain a valid timeline.
var ErrTimingFileCorrupt = errors.New("timing file is corrupt")

// Save writes the timeline to path as an indented JSON array, creating the
// parent directory if needed.
func Save(timeline Timeline, path string) error {
	if timeline == nil {
		timeline = Timeline{}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create timing dir: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(timeline); err != nil {
		return fmt.Errorf("failed to encode timeline: %w", err)
	}

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("failed to write timing file: %w", err)
	}
	return nil
}

// Load reads a timeline written by Save. A missing file is reported with an
// error satisfying errors.Is(err, fs.ErrNotExist); malformed content with
// ErrTimingFileCorrupt.
func Load(path string) (Timeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read timing file: %w", err)
	}

	var timeline Timeline
	if err := json.Unmarshal(data, &timeline); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrTimingFileCorrupt, path, err)
	}
	if timeline == nil {
		timeline = Timeline{}
	}
	return timeline, nil
}

// Merge joins part timelines into one continuous timeline.
//
// Every part is shifted by a running offset. After a part with at least one
// word the offset moves to that part's last end plus gapSeconds, matching the
// silence clip injected after each part when the audio is concatenated. An
// empty part shifts nothing and adds no gap.
func Merge(parts []Timeline, gapSeconds float64) Timeline {
	merged := Timeline{}
	offset := 0.0

	for _, part := range parts {
		if len(part) == 0 {
			continue
		}
		merged = append(merged, part.Shift(offset)...)
		offset = merged[len(merged)-1].End + gapSeconds
	}

	return merged
}

// MergeFiles loads each timing file in order and merges them with Merge.
// Files that are missing or corrupt are logged and skipped.
func MergeFiles(paths []string, gapSeconds float64, logger *zap.Logger) Timeline {
	parts := make([]Timeline, 0, len(paths))
	for _, path := range paths {
		timeline, err := Load(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				logger.Warn("timing part missing, skipping", zap.String("path", path))
			} else {
				logger.Warn("could not read timing part, skipping", zap.String("path", path), zap.Error(err))
			}
			continue
		}
		parts = append(parts, timeline)
	}
	return Merge(parts, gapSeconds)
}

// TextVisibleAt returns the words that have started by time t, in timeline
// order, joined with single spaces.
func TextVisibleAt(timeline Timeline, t float64) string {
	visible := make([]string, 0, len(timeline))
	for _, w := range timeline {
		if w.Start <= t {
			visible = append(visible, w.Word)
		}
	}
	return strings.Join(visible, " ")
}
