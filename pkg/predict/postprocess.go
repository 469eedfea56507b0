package predict

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/bastiangx/predictserve/pkg/textwin"
)

// Rendered is a suggestion ready for display: Text replaces the document
// bytes [Start, End).
type Rendered struct {
	Text  string
	Start int
	End   int
}

const bracketsAndQuotes = "{}()[]<>`'\""

var closerFor = map[rune]rune{')': '(', ']': '[', '}': '{'}

// Postprocess trims generated, from b.RawStartIndex on, into the text to
// show at the cursor of w.
func Postprocess(b Bounds, generated string, typ PredictionType, w textwin.Window) Rendered {
	start := b.RawStartIndex
	if start < 0 {
		start = 0
	}
	if start > len(generated) {
		start = len(generated)
	}
	rest := generated[start:]

	// no doubled indentation after a space or tab
	if c := w.CharBeforeCursor(); c == ' ' || c == '\t' {
		rest = strings.TrimLeft(rest, " \t")
	}

	// no blank lines from an empty cursor line
	if w.LineBlank() {
		rest = strings.TrimLeft(rest, "\r\n")
	}

	// stop before a closer the existing suffix already supplies
	if typ == SingleLineFillMiddle && !textwin.IsBlank(w.LineSuffix) {
		first, _ := utf8.DecodeRuneInString(strings.TrimLeftFunc(w.LineSuffix, unicode.IsSpace))
		if strings.ContainsRune(bracketsAndQuotes, first) {
			if i := strings.IndexRune(rest, first); i >= 0 {
				rest = rest[:i]
			}
		}
	}

	// mid-statement completions stay on the cursor line
	if !textwin.IsBlank(w.LinePrefix) && textwin.IsBlank(w.LineSuffix) {
		if line := strings.TrimSuffix(textwin.FirstLine(rest), "\r"); !textwin.IsBlank(line) {
			rest = line
		}
	}

	rest = TrimUnbalanced(rest, w.Prefix)

	out := Rendered{Text: rest, Start: w.Offset, End: w.Offset}
	if typ == SingleLineRedoSuffix {
		text, covered := ReconcileSuffix(rest, w.LineSuffix)
		out.Text = text
		out.End = w.Offset + covered
	}
	return out
}

// TrimUnbalanced cuts s at the first closing bracket that matches neither an
// opener earlier in s nor one left open in context.
func TrimUnbalanced(s, context string) string {
	var stack []rune
	if i := strings.IndexAny(context, "()[]{}"); i >= 0 {
		for _, r := range context[i:] {
			switch r {
			case '(', '[', '{':
				stack = append(stack, r)
			case ')', ']', '}':
				if n := len(stack); n > 0 && stack[n-1] == closerFor[r] {
					stack = stack[:n-1]
				}
			}
		}
	}

	for i, r := range s {
		switch r {
		case '(', '[', '{':
			stack = append(stack, r)
		case ')', ']', '}':
			n := len(stack)
			if n == 0 || stack[n-1] != closerFor[r] {
				return s[:i]
			}
			stack = stack[:n-1]
		}
	}
	return s
}

// ReconcileSuffix decides how much of lineSuffix the suggestion text
// replaces. Whitespace is ignored on both sides. When the suffix is a
// subsequence of text the whole suffix is replaced. Otherwise text is cut
// after the last rune it shares with the suffix, in order, and only the
// suffix up to that rune is replaced. covered is a byte count into
// lineSuffix; both cuts fall on rune boundaries.
func ReconcileSuffix(text, lineSuffix string) (string, int) {
	j := 0
	lastText, lastSuffix := -1, 0

	for i := 0; i < len(text); {
		r, size := utf8.DecodeRuneInString(text[i:])
		i += size
		if unicode.IsSpace(r) {
			continue
		}
		for j < len(lineSuffix) {
			sr, ssize := utf8.DecodeRuneInString(lineSuffix[j:])
			if !unicode.IsSpace(sr) {
				break
			}
			j += ssize
		}
		if j >= len(lineSuffix) {
			break
		}
		sr, ssize := utf8.DecodeRuneInString(lineSuffix[j:])
		if r == sr {
			j += ssize
			lastText, lastSuffix = i, j
		}
	}

	if strings.TrimLeftFunc(lineSuffix[j:], unicode.IsSpace) == "" {
		return text, len(lineSuffix)
	}
	if lastText < 0 {
		return text, 0
	}
	return text[:lastText], lastSuffix
}
