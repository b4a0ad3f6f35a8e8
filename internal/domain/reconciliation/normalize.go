package reconciliation

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/width"
)

// Normalize returns the strict matching form of an identifier: full-width
// characters folded, surrounding whitespace trimmed, upper-cased.
// Anything that is not a string normalizes to "".
func Normalize(value any) string {
	s, ok := value.(string)
	if !ok {
		return ""
	}
	s = strings.TrimSpace(width.Fold.String(s))
	if s == "" {
		return ""
	}
	// Casers carry state and are not shared between goroutines.
	return cases.Upper(language.Und).String(s)
}

// NormalizeLoose returns the fallback matching form: Normalize with every
// character that is not a letter or digit removed.
func NormalizeLoose(value any) string {
	s := Normalize(value)
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
