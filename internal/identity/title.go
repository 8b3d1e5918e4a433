package identity

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// titleFolder decomposes to NFKD and strips the combining marks, so
// "Ulysses", "ulysses" and "Ulyssés" fold to the same key.
var titleFolder = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeTitle folds a display title into a duplicate-detection key:
// diacritics removed, lowercased, punctuation dropped, whitespace collapsed.
// An empty result means the title carries no usable identity.
func NormalizeTitle(title string) string {
	folded, _, err := transform.String(titleFolder, title)
	if err != nil {
		folded = title
	}

	var b strings.Builder
	b.Grow(len(folded))
	space := false
	for _, r := range strings.ToLower(folded) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		default:
			// Punctuation and whitespace both act as separators.
			space = true
		}
	}
	return b.String()
}
