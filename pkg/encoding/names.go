// Package encoding normalizes names read from mesh files to UTF-8.
//
// Object and material names from older exporters are often stored in the
// code page of the authoring machine. Output formats and the pipe protocol
// need UTF-8, so names are converted once at parse time.
package encoding

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

// Legacy lists the code pages tried, in order, for names that are not UTF-8.
// Windows-1252 maps every byte, so it always succeeds.
var Legacy = []encoding.Encoding{
	korean.EUCKR,
	charmap.Windows1252,
}

// ToUTF8 returns s unchanged when it is valid UTF-8 and otherwise decodes it
// with the first Legacy encoding that yields no replacement characters.
func ToUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	for _, enc := range Legacy {
		out, _, err := transform.String(enc.NewDecoder(), s)
		if err == nil && !strings.ContainsRune(out, utf8.RuneError) {
			return out
		}
	}
	return strings.ToValidUTF8(s, string(utf8.RuneError))
}

// Name converts s to UTF-8 and flattens it to a single trimmed line.
func Name(s string) string {
	s = ToUTF8(s)
	s = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == '\t' {
			return ' '
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
