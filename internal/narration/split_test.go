package narration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"unicode/utf8"

	"github.com/bobarin/threadcast/internal/models"
	"github.com/bobarin/threadcast/internal/timing"
	"go.uber.org/zap"
)

const longComment = "Alpha beta gamma. Delta epsilon zeta. Eta theta."

func TestSplitUnitConcatenatesPartsWithSilence(t *testing.T) {
	audio := &fakeAudio{}
	tts := &fakeTTS{maxChars: 25}
	e := newEngine(t, tts, audio, Settings{WordTimings: true, SilenceDuration: 0.5})
	dir := e.Settings().AudioDir

	res, err := e.Run(context.Background(), commentNarrative(longComment))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	unit := res.Units[1]
	if unit.Parts != 3 {
		t.Fatalf("parts = %d, want 3", unit.Parts)
	}
	if audio.silences != 1 {
		t.Errorf("silence generated %d times, want once", audio.silences)
	}

	silence := filepath.Join(dir, "silence.mp3")
	want := []string{
		filepath.Join(dir, "0-0.part.mp3"), silence,
		filepath.Join(dir, "0-1.part.mp3"), silence,
		filepath.Join(dir, "0-2.part.mp3"), silence,
	}
	if len(audio.concatEntries) != len(want) {
		t.Fatalf("concat entries = %v", audio.concatEntries)
	}
	for i := range want {
		if audio.concatEntries[i] != want[i] {
			t.Errorf("entry %d = %q, want %q", i, audio.concatEntries[i], want[i])
		}
	}

	for _, leftover := range []string{"0-0.part.mp3", "0-1.part.mp3", "0-2.part.mp3", "0-0.part_timings.json"} {
		if _, err := os.Stat(filepath.Join(dir, leftover)); !os.IsNotExist(err) {
			t.Errorf("%s should be cleaned up", leftover)
		}
	}

	tl, err := timing.Load(unit.TimingPath)
	if err != nil {
		t.Fatalf("merged timing: %v", err)
	}
	// parts last 3, 3 and 2 seconds (one per word) with 0.5s gaps
	if len(tl) != 8 {
		t.Fatalf("merged %d words, want 8", len(tl))
	}
	checks := map[int][2]float64{0: {0, 1}, 3: {3.5, 4.5}, 6: {7, 8}, 7: {8, 9}}
	for i, w := range checks {
		if tl[i].Start != w[0] || tl[i].End != w[1] {
			t.Errorf("word %d %q = [%v,%v], want %v", i, tl[i].Word, tl[i].Start, tl[i].End, w)
		}
	}
}

func TestSplitUnitPartWithoutTimingAddsNoGap(t *testing.T) {
	audio := &fakeAudio{probeFail: map[string]bool{"0-1.part.mp3": true}}
	e := newEngine(t, &fakeTTS{maxChars: 25}, audio, Settings{WordTimings: true, SilenceDuration: 0.5})

	res, err := e.Run(context.Background(), commentNarrative(longComment))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	tl, err := timing.Load(res.Units[1].TimingPath)
	if err != nil {
		t.Fatal(err)
	}
	if len(tl) != 5 {
		t.Fatalf("merged %d words, want 5", len(tl))
	}
	if tl[3].Word != "Eta" || tl[3].Start != 3.5 || tl[4].End != 5.5 {
		t.Errorf("third part = %+v", tl[3:])
	}
}

func TestSplitUnitFailureCleansParts(t *testing.T) {
	e := newEngine(t, &fakeTTS{maxChars: 25, failOn: "Eta"}, &fakeAudio{}, Settings{SilenceDuration: 0.5})
	dir := e.Settings().AudioDir

	_, err := e.Run(context.Background(), commentNarrative(longComment))
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("err = %v, want SynthesisError", err)
	}
	if synthErr.Unit != "0" || synthErr.Part != 2 {
		t.Errorf("error = %+v", synthErr)
	}

	entries, _ := os.ReadDir(dir)
	for _, entry := range entries {
		if entry.Name() != "title.mp3" {
			t.Errorf("leftover file %s", entry.Name())
		}
	}
}

func TestSplitUnitSkipsUnspeakableChunks(t *testing.T) {
	tts := &fakeTTS{maxChars: 12}
	e := newEngine(t, tts, &fakeAudio{}, Settings{})

	res, err := e.Run(context.Background(), commentNarrative("Hello there. ### *** ### Goodbye now."))
	if err != nil {
		t.Fatal(err)
	}
	unit := res.Units[1]
	if unit.Parts != 2 || unit.Text != "Hello there. Goodbye now." {
		t.Errorf("unit = %+v", unit)
	}
	// no silence configured: parts are joined back to back
	if unit.Duration != 4 {
		t.Errorf("duration = %v, want 4", unit.Duration)
	}
}

func TestSplitUnitKeepsSpelledOutSymbolsUnderLimit(t *testing.T) {
	tts := &fakeTTS{maxChars: 14}
	e := newEngine(t, tts, &fakeAudio{}, Settings{})

	res, err := e.Run(context.Background(), commentNarrative("R&D+Q&A+M&A. A&B&C&D&E&F&G."))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Units) != 2 || res.Units[1].Parts < 2 {
		t.Fatalf("units = %+v", res.Units)
	}
	for _, text := range tts.calls {
		if n := utf8.RuneCountInString(text); n > 14 {
			t.Errorf("backend got %q (%d chars), limit 14", text, n)
		}
	}
}

func TestSplitUnitResplitsLongTranslation(t *testing.T) {
	tts := &fakeTTS{maxChars: 12}
	s := Settings{AudioDir: filepath.Join(t.TempDir(), "mp3"), Language: "de"}
	e := NewEngine(tts, &fakeAudio{}, &fakeTranslator{}, s, zap.NewNop())

	// "hello there" fits, its translation "HELLO THERE de" does not
	res, err := e.Run(context.Background(), models.Narrative{Title: "hello there"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	title := res.Units[0]
	if title.Parts != 2 || title.Text != "HELLO THERE de" {
		t.Errorf("title = %+v", title)
	}
	for _, text := range tts.calls {
		if n := utf8.RuneCountInString(text); n > 12 {
			t.Errorf("backend got %q (%d chars), limit 12", text, n)
		}
	}
}
