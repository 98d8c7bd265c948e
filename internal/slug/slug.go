// Package slug turns titles into URL-safe identifiers.
package slug

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// MaxLength bounds generated slugs
const MaxLength = 200

var (
	validRegex      = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
	disallowedRegex = regexp.MustCompile(`[^a-z0-9\s_-]+`)
	separatorRegex  = regexp.MustCompile(`[\s_-]+`)
)

// Make derives a slug candidate from text. Accents are folded to their base
// letters, anything outside [a-z0-9] is dropped and runs of whitespace,
// underscores and hyphens collapse into a single hyphen. The result may be
// empty when text has no usable characters.
func Make(text string) string {
	s := strings.ToLower(fold(text))
	s = disallowedRegex.ReplaceAllString(s, "")
	s = separatorRegex.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if len(s) > MaxLength {
		s = strings.TrimRight(s[:MaxLength], "-")
	}
	return s
}

// Valid reports whether s is a well-formed kebab-case slug
func Valid(s string) bool {
	return len(s) <= MaxLength && validRegex.MatchString(s)
}

func fold(text string) string {
	t := transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, text)
	if err != nil {
		return text
	}
	return out
}
