package predict

import (
	"strings"

	"github.com/bastiangx/predictserve/pkg/textwin"
)

var (
	// StopAnyLineBreak ends generation at the first line break.
	StopAnyLineBreak = []string{"\r\n", "\n"}
	// StopDoubleLineBreak ends generation at the first blank line.
	StopDoubleLineBreak = []string{"\r\n\r\n", "\n\n"}
)

// Decision is what the classifier asks the provider for.
type Decision struct {
	Type           PredictionType
	Stop           []string
	ProviderPrefix string
	ProviderSuffix string
}

// Generate reports whether a provider call should be made.
func (d Decision) Generate() bool { return d.Type != DoNotPredict }

// Classifier picks the prediction type from the cursor context and bounds
// the text sent to the provider.
type Classifier struct {
	MaxLinesRemote int
	MaxLinesLocal  int
}

// Classify applies the first matching rule:
//
//	just accepted, nothing right of the cursor   multi-line, next line
//	cursor line blank                            fill-middle
//	at most 3 visible chars right of the cursor  redo-suffix
//	something left of the cursor                 fill-middle
//	otherwise                                    do not predict
func (c Classifier) Classify(w textwin.Window, justAccepted, local bool) Decision {
	lines := c.MaxLinesRemote
	if local {
		lines = c.MaxLinesLocal
	}
	prefix, suffix := w.Truncate(lines)
	d := Decision{ProviderPrefix: prefix, ProviderSuffix: suffix}

	switch {
	case justAccepted && textwin.IsBlank(w.LineSuffix):
		d.Type = MultiLineStartOnNextLine
		d.Stop = StopDoubleLineBreak
		d.ProviderPrefix = prefix + lineBreakOf(w.Prefix+w.Suffix)
	case w.LineBlank():
		d.Type = SingleLineFillMiddle
		d.Stop = StopAnyLineBreak
	case textwin.CountNonSpace(w.LineSuffix) <= 3:
		d.Type = SingleLineRedoSuffix
		d.Stop = StopAnyLineBreak
	case !textwin.IsBlank(w.LinePrefix):
		d.Type = SingleLineFillMiddle
		d.Stop = StopAnyLineBreak
	default:
		return Decision{Type: DoNotPredict}
	}
	return d
}

// lineBreakOf returns the line terminator the document uses.
func lineBreakOf(text string) string {
	if strings.Contains(text, "\r\n") {
		return "\r\n"
	}
	return "\n"
}
