package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ---------------------------------------------------------------------------
// ASS caption sidecar
//
// Writes the caption directives of a schedule as an Advanced SubStation Alpha
// file so players can show the same progressive captions the renderer burns
// in. The newest word of each caption is highlighted with a purple outline.
// ---------------------------------------------------------------------------

const (
	subtitleFontName = "Noto Sans"

	// ASS colors are in &HAABBGGRR format (BGR, not RGB)
	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorPurple    = "&H00CC3299" // #9932CC
	assColorSemiBlack = "&H80000000"

	outlineNormal    = 3
	outlineHighlight = 8
)

// ASSOptions sizes the caption canvas. Zero values fall back to 1080x1920.
type ASSOptions struct {
	Width  int
	Height int
}

// WriteASS writes the caption directives to path. Image directives are ignored.
func WriteASS(directives []Directive, path string, opts ASSOptions) error {
	captions := Captions(directives)
	if len(captions) == 0 {
		return fmt.Errorf("no captions to write")
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = 1080, 1920
	}
	fontSize := height / 30
	marginV := height / 4

	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", height)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n")
	sb.WriteString("\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&sb,
		"Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,2,0,1,%d,0,2,40,40,%d,1\n",
		subtitleFontName, fontSize,
		assColorWhite,     // PrimaryColour (text)
		assColorWhite,     // SecondaryColour
		assColorBlack,     // OutlineColour
		assColorSemiBlack, // BackColour (shadow)
		outlineNormal,
		marginV,
	)
	sb.WriteString("\n")

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, c := range captions {
		if c.End <= c.Start {
			continue
		}
		fmt.Fprintf(&sb,
			"Dialogue: 0,%s,%s,Default,,0,0,0,,%s\n",
			formatASSTime(c.Start),
			formatASSTime(c.End),
			highlightLastWord(c.Text),
		)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create subtitle dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		return fmt.Errorf("failed to write ASS subtitle file: %w", err)
	}
	return nil
}

// highlightLastWord renders a progressive caption with its newest word
// wrapped in a purple outline override.
//
// Output example: "THE HISTORY OF {\3c&H00CC3299\bord8}COFFEE{\r}"
func highlightLastWord(text string) string {
	words := strings.Fields(escapeASSText(text))
	if len(words) == 0 {
		return ""
	}
	last := len(words) - 1
	words[last] = fmt.Sprintf("{\\3c%s\\bord%d}%s{\\r}", assColorPurple, outlineHighlight, words[last])
	return strings.Join(words, " ")
}

// escapeASSText keeps user text from opening override blocks.
func escapeASSText(text string) string {
	r := strings.NewReplacer("\\", "/", "{", "(", "}", ")", "\n", " ")
	return r.Replace(text)
}

// formatASSTime converts seconds to ASS timestamp format: H:MM:SS.CC (centiseconds)
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds*100 + 0.5)
	hours := total / 360000
	minutes := (total % 360000) / 6000
	secs := (total % 6000) / 100
	centiseconds := total % 100
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, centiseconds)
}
