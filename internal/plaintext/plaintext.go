// Package plaintext derives searchable, comparable text from stored rich-text HTML.
package plaintext

import (
	"regexp"
	"strings"
)

var (
	tagPattern        = regexp.MustCompile(`<[^>]+>`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// StripHTML replaces every tag with a space, collapses whitespace runs and trims.
// Entities are left as written.
func StripHTML(html string) string {
	text := tagPattern.ReplaceAllString(html, " ")
	text = whitespacePattern.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// CountWords counts whitespace-separated words. Input that still looks like markup is stripped first.
func CountWords(text string) int {
	if strings.Contains(text, "<") {
		text = StripHTML(text)
	}
	return len(strings.Fields(text))
}
