package crawler

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	invalidFilenameChars = regexp.MustCompile(`[\\/:*?"<>|]`)
	whitespaceRun        = regexp.MustCompile(`\s+`)
)

// SanitizeTitle normalizes a raw page title into a filesystem-safe identifier.
// The result is never empty.
func SanitizeTitle(raw string) string {
	title := whitespaceRun.ReplaceAllString(strings.TrimSpace(raw), " ")
	title = invalidFilenameChars.ReplaceAllString(title, "_")
	if title == "" {
		return UnknownTitle
	}
	return title
}

// BoundExcerpt cuts text to MaxExcerptRunes, trims surrounding whitespace and
// substitutes ExcerptNotFound when nothing remains.
func BoundExcerpt(text string) string {
	if utf8.RuneCountInString(text) > MaxExcerptRunes {
		runes := []rune(text)
		text = string(runes[:MaxExcerptRunes])
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ExcerptNotFound
	}
	return text
}
