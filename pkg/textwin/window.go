// Package textwin splits a document around the cursor into the prefix and
// suffix views the predictor works on.
package textwin

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Window is the text around a cursor. Offset is a byte offset into the
// document and always sits on a rune boundary.
type Window struct {
	Prefix     string
	Suffix     string
	LinePrefix string
	LineSuffix string
	Offset     int
}

// Extract builds the window for text at offset. Offsets outside the text are
// clamped and offsets inside a multi-byte rune move back to its start.
func Extract(text string, offset int) Window {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	for offset > 0 && offset < len(text) && !utf8.RuneStart(text[offset]) {
		offset--
	}

	prefix := text[:offset]
	suffix := text[offset:]

	return Window{
		Prefix:     prefix,
		Suffix:     suffix,
		LinePrefix: LastLine(prefix),
		LineSuffix: strings.TrimSuffix(FirstLine(suffix), "\r"),
		Offset:     offset,
	}
}

// CharBeforeCursor returns the rune immediately left of the cursor, or 0 at
// the start of the document.
func (w Window) CharBeforeCursor() rune {
	if w.Prefix == "" {
		return 0
	}
	r, _ := utf8.DecodeLastRuneInString(w.Prefix)
	return r
}

// LineBlank reports whether the cursor line holds only whitespace.
func (w Window) LineBlank() bool {
	return IsBlank(w.LinePrefix) && IsBlank(w.LineSuffix)
}

// LineEnd is the document offset where the cursor line ends, excluding the
// line terminator. Without a terminator it is the end of the document.
func (w Window) LineEnd() int {
	return w.Offset + len(w.LineSuffix)
}

// Truncate returns the last n lines of the prefix and the first n lines of
// the suffix. n <= 0 keeps everything.
func (w Window) Truncate(n int) (prefix, suffix string) {
	return LastLines(w.Prefix, n), FirstLines(w.Suffix, n)
}

// LastLine is the text after the final line break of s.
func LastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// FirstLine is the text before the first line break of s.
func FirstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// LastLines keeps the final n lines of s.
func LastLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	idx := len(s)
	for i := 0; i < n; i++ {
		j := strings.LastIndexByte(s[:idx], '\n')
		if j < 0 {
			return s
		}
		idx = j
	}
	return s[idx+1:]
}

// FirstLines keeps the first n lines of s.
func FirstLines(s string, n int) string {
	if n <= 0 {
		return s
	}
	idx := 0
	for i := 0; i < n; i++ {
		j := strings.IndexByte(s[idx:], '\n')
		if j < 0 {
			return s
		}
		idx += j + 1
	}
	return s[:idx-1]
}

// IsBlank reports whether s is empty or whitespace only.
func IsBlank(s string) bool {
	return strings.TrimFunc(s, unicode.IsSpace) == ""
}

// CountNonSpace counts the runes of s that are not whitespace.
func CountNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}
