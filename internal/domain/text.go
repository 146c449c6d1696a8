package domain

import (
	"strings"
	"unicode/utf8"
)

// TruncateText makes s safe for a Postgres text column of at most n bytes:
// invalid UTF-8 is replaced, NUL bytes are dropped, and the cut never splits
// a multi-byte character.
func TruncateText(s string, n int) string {
	s = strings.ToValidUTF8(s, "�")
	s = strings.ReplaceAll(s, "\x00", "")
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}

	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
