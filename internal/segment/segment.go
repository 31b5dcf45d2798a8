// Package segment prepares narration text for speech synthesis: it cleans
// text the speech backends read badly and splits long text into chunks that
// fit a backend's character limit without breaking sentences.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Split cuts text into ordered chunks of at most maxChars characters.
//
// Starting at the cursor, each chunk is the longest run that ends on a
// sentence boundary ('.') and fits the limit. When no boundary exists inside
// the limit the chunk is cut hard at maxChars. The remainder of the text is
// taken whole once it fits. Chunks are trimmed; whitespace-only chunks are
// never returned. A non-positive maxChars returns the trimmed text as a
// single chunk.
func Split(text string, maxChars int) []string {
	runes := []rune(text)
	chunks := []string{}

	cursor := 0
	for cursor < len(runes) {
		for cursor < len(runes) && unicode.IsSpace(runes[cursor]) {
			cursor++
		}
		if cursor >= len(runes) {
			break
		}

		rest := runes[cursor:]
		end := len(rest)
		if maxChars > 0 && len(rest) > maxChars {
			end = boundary(rest[:maxChars])
		}

		if chunk := strings.TrimSpace(string(rest[:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		cursor += end
	}

	return chunks
}

// boundary returns the length of the longest prefix of window that ends in a
// period, or len(window) when there is none.
func boundary(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] == '.' {
			return i + 1
		}
	}
	return len(window)
}

// Chunks splits text with Split and sanitizes each chunk, dropping chunks
// that sanitize to nothing. Sanitizing can lengthen a chunk ("&" becomes
// " and "), so a sanitized chunk over maxChars is split again. The returned
// slice holds the sanitized text; the second slice holds each kept chunk's
// position, where dropped chunks still take up a position.
func Chunks(text string, maxChars int) ([]string, []int) {
	raw := Split(text, maxChars)

	kept := make([]string, 0, len(raw))
	indexes := make([]int, 0, len(raw))
	pos := 0
	for _, chunk := range raw {
		clean := Sanitize(chunk)
		if clean == "" {
			pos++
			continue
		}

		pieces := []string{clean}
		if maxChars > 0 && utf8.RuneCountInString(clean) > maxChars {
			pieces = Split(clean, maxChars)
		}
		for _, piece := range pieces {
			kept = append(kept, piece)
			indexes = append(indexes, pos)
			pos++
		}
	}
	return kept, indexes
}
