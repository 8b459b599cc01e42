// Package sanitize cleans raw model output into text a game will accept.
//
// Clean is an ordered pipeline of pure string transforms. The order is load
// bearing: overlap trimming assumes punctuation and bracket stripping already
// happened, and the final space collapse repairs gaps earlier steps leave
// behind.
package sanitize

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Characters that signal the whole answer is unusable.
var rejectMarkers = ";:"

// Characters that mark the end of a reasonable answer; everything after the
// first one is clipped.
var clipMarkers = "?!"

// Sequences that must not appear anywhere in a submitted answer.
var removals = []string{"\n", "\r", "\t", "...", "[", "]", "{", "}", "`", "(", ")", "\\"}

// Characters trimmed from both ends of a submitted answer.
const endTrimSet = ". ,"

var htmlTag = regexp.MustCompile(`<[^>]*>`)

// Clean runs the full sanitization pipeline over raw model output. The
// optional prompt enables trailing-overlap removal: models like to echo the
// part of the prompt that follows the blank, and that echo is stripped when
// the cleaned text ends with it. Matching is case-insensitive; the result is
// upper-cased, NFC-normalized text. An empty result means the answer was
// rejected outright.
func Clean(input, prompt string) string {
	input = strings.ToUpper(norm.NFC.String(input))
	prompt = strings.ToUpper(norm.NFC.String(prompt))

	if strings.ContainsAny(input, rejectMarkers) {
		return ""
	}

	clipped := input
	if idx := strings.IndexAny(clipped, clipMarkers); idx >= 0 {
		clipped = clipped[:idx]
	}

	// An odd quote count implies the answer was cut off mid-quote.
	if strings.Count(input, `"`)%2 == 1 {
		return ""
	}

	for _, r := range removals {
		clipped = strings.ReplaceAll(clipped, r, "")
	}

	clipped = trimMatchedQuotes(clipped, `"`, `"`)
	clipped = trimMatchedQuotes(clipped, "“", "”")

	clipped = strings.Trim(clipped, endTrimSet)
	clipped = strings.ReplaceAll(strings.TrimSpace(clipped), "  ", " ")

	if prompt != "" {
		clipped = trimPromptOverlap(clipped, prompt)
	}

	return strings.ReplaceAll(strings.TrimSpace(clipped), "  ", " ")
}

// trimMatchedQuotes removes one leading and one trailing quote only when both
// are present. Interior quotes are preserved.
func trimMatchedQuotes(s, opening, closing string) string {
	if len(s) >= len(opening)+len(closing) && strings.HasPrefix(s, opening) && strings.HasSuffix(s, closing) {
		return s[len(opening) : len(s)-len(closing)]
	}
	return s
}

// trimPromptOverlap removes the longest word-suffix of the cleaned text that
// the prompt's post-blank tail starts with. This undoes answers like
// "ART EXHIBIT" for a prompt ending "the _______ exhibit." while leaving
// non-overlapping answers untouched.
func trimPromptOverlap(cleaned, prompt string) string {
	tailStart := strings.LastIndex(prompt, "__")
	promptTail := strings.Trim(prompt[tailStart+2:], endTrimSet)

	words := strings.Split(cleaned, " ")
	for i := range words {
		suffix := strings.Join(words[i:], " ")
		if suffix != "" && strings.HasPrefix(promptTail, suffix) {
			return strings.Trim(cleaned[:len(cleaned)-len(suffix)], endTrimSet)
		}
	}
	return cleaned
}

// StripHTML drops markup tags and entity spacing from prompts before they are
// fed to the model.
func StripHTML(s string) string {
	s = htmlTag.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "&nbsp;", " ")
	s = strings.ReplaceAll(s, "&amp;", "&")
	s = strings.ReplaceAll(s, "&quot;", `"`)
	return strings.TrimSpace(s)
}
