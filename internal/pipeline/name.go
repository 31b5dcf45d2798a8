package pipeline

import (
	"context"
	"regexp"
	"strings"

	"github.com/bobarin/threadcast/internal/services"
	"go.uber.org/zap"
)

// maxNameLen keeps "<name>.mp4" under common 255-byte filename limits.
const maxNameLen = 251

var (
	forbiddenNameChars = regexp.MustCompile(`[?\\"%*:|<>]`)
	withoutPattern     = regexp.MustCompile(`( [wW]\s?/\s?[oO0])`)
	withPattern        = regexp.MustCompile(`( [wW]\s?/)`)
	fractionPattern    = regexp.MustCompile(`(\d+)\s?/\s?(\d+)`)
	alternativePattern = regexp.MustCompile(`(\w+)\s?/\s?(\w+)`)

	unsafeIDChars = regexp.MustCompile(`[^\w\s-]`)
)

// NormalizeName turns a thread title into a filename stem: characters that
// are invalid on common filesystems are dropped and slashes are spelled out
// ("w/o" → "without", "1/2" → "1 of 2", "a/b" → "a or b").
func NormalizeName(name string) string {
	name = forbiddenNameChars.ReplaceAllString(name, "")
	name = withoutPattern.ReplaceAllString(name, " without")
	name = withPattern.ReplaceAllString(name, " with")
	name = fractionPattern.ReplaceAllString(name, "$1 of $2")
	name = alternativePattern.ReplaceAllString(name, "$1 or $2")
	name = strings.ReplaceAll(name, "/", "")
	name = strings.TrimSpace(name)

	if runes := []rune(name); len(runes) > maxNameLen {
		name = string(runes[:maxNameLen])
	}
	return name
}

// localizedName normalizes name and, when lang is set, translates it. The
// untranslated name is used when translation fails.
func localizedName(ctx context.Context, name, lang string, translator services.Translator, logger *zap.Logger) string {
	name = NormalizeName(name)
	if lang == "" || translator == nil || name == "" {
		return name
	}
	translated, err := translator.Translate(ctx, name, lang)
	if err != nil {
		logger.Warn("could not translate filename", zap.String("lang", lang), zap.Error(err))
		return name
	}
	return NormalizeName(translated)
}

// SafeID strips everything but word characters, spaces and dashes so a
// thread id can be used as a directory name.
func SafeID(id string) string {
	return unsafeIDChars.ReplaceAllString(id, "")
}
