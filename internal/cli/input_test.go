package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/bastiangx/predictserve/pkg/predict"
	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetLevel(log.ErrorLevel)
}

type scriptedEngine struct {
	requests []predict.Request
	accepted []string
	resets   int
}

func (e *scriptedEngine) Complete(_ context.Context, req predict.Request) []predict.Suggestion {
	e.requests = append(e.requests, req)
	if strings.HasSuffix(req.Text[:req.Offset], "(") {
		return []predict.Suggestion{{Text: "x)", Start: req.Offset, End: req.Offset + 1, RecordID: 3}}
	}
	return nil
}

func (e *scriptedEngine) Accept(docID string, recordID uint64, text string, offset int) {
	e.accepted = append(e.accepted, Render(text, offset))
}

func (e *scriptedEngine) Reset() { e.resets++ }

func (e *scriptedEngine) Stats() map[string]int { return map[string]int{"requests": len(e.requests)} }

func TestParseCursor(t *testing.T) {
	testCases := []struct {
		line        string
		text        string
		offset      int
		ok          bool
		description string
	}{
		{"fmt.|", "fmt.", 4, true, "cursor at the end"},
		{"f(|)", "f()", 2, true, "cursor inside"},
		{`if x {\n\t|\n}`, "if x {\n\t\n}", 8, true, "escaped line breaks"},
		{"no cursor", "", 0, false, "missing marker"},
	}
	for _, tc := range testCases {
		t.Run(tc.description, func(t *testing.T) {
			text, offset, ok := ParseCursor(tc.line)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.text, text)
			assert.Equal(t, tc.offset, offset)
		})
	}
}

func TestRender(t *testing.T) {
	assert.Equal(t, `a\n|b`, Render("a\nb", 2))
	assert.Equal(t, "ab|", Render("ab", 99))
}

func TestInputLoop(t *testing.T) {
	engine := &scriptedEngine{}
	h := NewInputHandler(engine, "go", 0)
	h.timeout = 1e9
	h.in = strings.NewReader("f(|)\n:accept\n:stats\n:reset\n:bogus\nplain\n")

	require.NoError(t, h.Start())

	require.GreaterOrEqual(t, len(engine.requests), 2)
	assert.Equal(t, predict.Request{DocID: cliDoc, Text: "f()", Offset: 2, LanguageID: "go"}, engine.requests[0])
	assert.Equal(t, []string{"f(x)|"}, engine.accepted)
	assert.Equal(t, predict.Request{DocID: cliDoc, Text: "f(x)", Offset: 4, LanguageID: "go"}, engine.requests[1])
	assert.Equal(t, 1, engine.resets)
	assert.Len(t, engine.requests, 2)
}
