package compare

import (
	"regexp"
	"strings"
)

var chapterPrefix = regexp.MustCompile(`^chapter\s+\d+\s*[:—–\-]?\s*`)

// NormalizeTitle lowercases and trims a title and drops a leading "chapter <number>" label
// with an optional separator, so "Chapter 12: Aftermath" and "Aftermath" compare equal.
// Spelled-out ordinals ("Chapter One") are left alone.
func NormalizeTitle(title string) string {
	t := strings.TrimSpace(strings.ToLower(title))
	for {
		stripped := strings.TrimSpace(chapterPrefix.ReplaceAllString(t, ""))
		if stripped == t {
			return t
		}
		t = stripped
	}
}
