package segment

import (
	"regexp"
	"strings"
)

var (
	urlPattern = regexp.MustCompile(`((http|https)://)?[a-zA-Z0-9./?:@\-_=#]+\.([a-zA-Z]){2,6}([a-zA-Z0-9.&/?:@\-_=#])*`)

	// Characters TTS engines either read aloud or choke on. Apostrophes are
	// kept inside words ("don't") and dropped when they hug whitespace.
	unspeakablePattern = regexp.MustCompile(`\s['’]|['’]\s|[\^_~@!&;#:\-%—“”‘"*/{}\[\]()\\|<>=+]`)

	aiPattern   = regexp.MustCompile(`\bAI\b`)
	agiPattern  = regexp.MustCompile(`\bAGI\b`)
	quoteDotDot = regexp.MustCompile(`\."\.`)
)

// Sanitize strips URLs and unspeakable symbols from text and collapses
// whitespace. "+" and "&" are spelled out first so their meaning survives.
func Sanitize(text string) string {
	result := urlPattern.ReplaceAllString(text, " ")
	result = strings.ReplaceAll(result, "+", " plus ")
	result = strings.ReplaceAll(result, "&", " and ")
	result = unspeakablePattern.ReplaceAllString(result, " ")
	return strings.Join(strings.Fields(result), " ")
}

// PrepareComment normalises a raw comment body before narration: links are
// removed, line breaks become sentence breaks so the voice pauses between
// paragraphs, acronyms are dotted so they are spelled out, and the body is
// guaranteed to end with a period.
func PrepareComment(body string) string {
	body = urlPattern.ReplaceAllString(body, " ")
	body = strings.ReplaceAll(body, "\n", ". ")
	body = aiPattern.ReplaceAllString(body, "A.I")
	body = agiPattern.ReplaceAllString(body, "A.G.I")
	body = strings.TrimSpace(body)
	if body == "" {
		return ""
	}

	if !strings.HasSuffix(body, ".") {
		body += "."
	}
	body = strings.ReplaceAll(body, ". . .", ".")
	body = strings.ReplaceAll(body, ".. . ", ".")
	body = strings.ReplaceAll(body, ". . ", ".")
	body = quoteDotDot.ReplaceAllString(body, `".`)
	return body
}
