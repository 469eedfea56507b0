package predict

import (
	"strings"
	"unicode"

	"github.com/bastiangx/predictserve/pkg/textwin"
)

// Bounds locates, inside a record's generated text, the first character the
// user has not typed yet.
type Bounds struct {
	LineOffset      int
	CharacterOffset int
	RawStartIndex   int
}

// Normalize strips leading spaces and tabs from every line and collapses a
// trailing whitespace run that holds a line break into one line break, so a
// re-indented prefix still matches.
func Normalize(s string) string {
	return normalize(s, false)
}

// normalize optionally leaves the first line alone, for text that continues
// a line instead of starting one.
func normalize(s string, keepFirst bool) string {
	trimmed := strings.TrimRightFunc(s, unicode.IsSpace)
	if strings.Contains(s[len(trimmed):], "\n") {
		s = trimmed + "\n"
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		if i == 0 && keepFirst {
			continue
		}
		lines[i] = strings.TrimLeft(line, " \t")
	}
	return strings.Join(lines, "\n")
}

// startsLine reports whether text appended to a normalized prefix begins a
// new line.
func startsLine(normPrefix string) bool {
	return normPrefix == "" || strings.HasSuffix(normPrefix, "\n")
}

// Matchup tests whether r still applies to currentPrefix and, if so, where
// its unseen text starts.
func Matchup(currentPrefix string, r *Record) (Bounds, bool) {
	return matchNormalized(Normalize(currentPrefix), r.normPrefix, r.GeneratedText())
}

func matchNormalized(current, cachedPrefix, generated string) (Bounds, bool) {
	firstStripped := startsLine(cachedPrefix)
	normGenerated := normalize(generated, !firstStripped)

	if len(current) < len(cachedPrefix) {
		return Bounds{}, false
	}
	if !strings.HasPrefix(cachedPrefix+normGenerated, current) {
		return Bounds{}, false
	}

	lineOffset := strings.Count(current, "\n") - strings.Count(cachedPrefix, "\n")
	if lineOffset < 0 {
		return Bounds{}, false
	}

	genLines := strings.Split(normGenerated, "\n")
	if lineOffset >= len(genLines) {
		return Bounds{}, false
	}
	currentLine := textwin.LastLine(current)
	lead := ""
	if lineOffset == 0 {
		lead = textwin.LastLine(cachedPrefix)
	}
	idx := strings.Index(lead+genLines[lineOffset], currentLine)
	if idx < 0 {
		return Bounds{}, false
	}
	character := idx + len(currentLine) - len(lead)
	if character < 0 {
		return Bounds{}, false
	}

	stripped := lineOffset > 0 || firstStripped
	return Bounds{
		LineOffset:      lineOffset,
		CharacterOffset: character,
		RawStartIndex:   rawIndex(generated, lineOffset, character, stripped),
	}, true
}

// rawIndex maps a position in a normalized line back to the original text.
// On a stripped line, position 0 maps to the line start so indentation the
// user has not typed stays part of the suggestion.
func rawIndex(generated string, line, character int, stripped bool) int {
	start := 0
	for i := 0; i < line; i++ {
		j := strings.IndexByte(generated[start:], '\n')
		if j < 0 {
			return len(generated)
		}
		start += j + 1
	}
	idx := start + character
	if stripped && character > 0 {
		raw := textwin.FirstLine(generated[start:])
		idx += len(raw) - len(strings.TrimLeft(raw, " \t"))
	}
	if idx > len(generated) {
		idx = len(generated)
	}
	return idx
}
