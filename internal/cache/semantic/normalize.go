package semantic

import (
	"strings"
	"unicode"
)

// NormalizeQuestion lowercases text, strips punctuation and collapses whitespace.
// Percent signs are kept since "5%" and "5" ask different things.
// It keys request coalescing; embeddings are always computed on the original text.
func NormalizeQuestion(q string) string {
	var b strings.Builder
	b.Grow(len(q))
	pendingSpace := false
	for _, r := range strings.ToLower(q) {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '%' {
			pendingSpace = true
			continue
		}
		if pendingSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		pendingSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
