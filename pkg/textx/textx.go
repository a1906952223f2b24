// Package textx provides the small text helpers shared by transcript ingest
// and the HTTP layer.
package textx

import (
	"strings"
	"unicode/utf8"
)

// Clean strips control characters (keeping tab and newline), drops bytes that
// are not valid UTF-8 and trims surrounding whitespace. Transcript content
// passes through here before filtering, so an invisible control character
// cannot defeat the exact-match auto-reply comparison.
func Clean(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size <= 1 {
				continue
			}
		}
		if r == '\n' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
