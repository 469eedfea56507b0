// Package cli drives the prediction engine from a terminal for debugging.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/bastiangx/predictserve/pkg/predict"
	"github.com/charmbracelet/log"
)

// CursorMarker marks the cursor inside a typed line.
const CursorMarker = "|"

const cliDoc = "cli"

// Engine is what the input loop needs from the controller.
type Engine interface {
	Complete(ctx context.Context, req predict.Request) []predict.Suggestion
	Accept(docID string, recordID uint64, text string, offset int)
	Reset()
	Stats() map[string]int
}

// InputHandler reads document text from stdin, with the cursor written as
// "|" and line breaks as "\n", and prints the engine's suggestion.
//
// Lines starting with ":" are commands:
//
//	:accept   apply the last suggestion and continue from the new cursor
//	:stats    print engine counters
//	:reset    drop every cached prediction
type InputHandler struct {
	engine   Engine
	language string
	timeout  time.Duration
	in       io.Reader

	text         string
	offset       int
	last         *predict.Suggestion
	requestCount int
}

// NewInputHandler creates a handler completing as language with a per
// request timeout.
func NewInputHandler(engine Engine, language string, timeout time.Duration) *InputHandler {
	return &InputHandler{
		engine:   engine,
		language: language,
		timeout:  timeout,
		in:       os.Stdin,
	}
}

// Start runs the loop until stdin ends.
func (h *InputHandler) Start() error {
	log.Print("PredictServe CLI [DBG]")
	log.Printf("type code with %q at the cursor, %q for line breaks (Ctrl+C to exit):", CursorMarker, `\n`)
	reader := bufio.NewReader(h.in)

	for {
		log.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			h.handleCommand(strings.TrimSpace(line))
			continue
		}
		h.handleInput(line)
	}
}

func (h *InputHandler) handleCommand(cmd string) {
	switch cmd {
	case ":accept":
		if h.last == nil {
			log.Warn("Nothing to accept")
			return
		}
		s := h.last
		h.text = h.text[:s.Start] + s.Text + h.text[s.End:]
		h.offset = s.Start + len(s.Text)
		h.engine.Accept(cliDoc, s.RecordID, h.text, h.offset)
		h.last = nil
		log.Printf("accepted: %s", Render(h.text, h.offset))
		h.complete()
	case ":stats":
		stats := h.engine.Stats()
		keys := make([]string, 0, len(stats))
		for k := range stats {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			log.Printf("%-12s %d", k, stats[k])
		}
	case ":reset":
		h.engine.Reset()
		h.last = nil
		log.Print("cache cleared")
	default:
		log.Errorf("Unknown command: %s", cmd)
	}
}

// handleInput replaces the document with the typed line and completes at
// its cursor marker.
func (h *InputHandler) handleInput(line string) {
	text, offset, ok := ParseCursor(line)
	if !ok {
		log.Errorf("Missing cursor marker %q in: %s", CursorMarker, line)
		return
	}
	h.text, h.offset = text, offset
	h.complete()
}

func (h *InputHandler) complete() {
	h.requestCount++
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	start := time.Now()
	suggestions := h.engine.Complete(ctx, predict.Request{
		DocID:      cliDoc,
		Text:       h.text,
		Offset:     h.offset,
		LanguageID: h.language,
	})
	elapsed := time.Since(start)
	log.Debugf("Took [ %v ] for request #%d", elapsed, h.requestCount)

	if len(suggestions) == 0 {
		h.last = nil
		log.Warn("No suggestion")
		return
	}
	s := suggestions[0]
	h.last = &s
	clText := fmt.Sprintf("\033[38;5;75m%s\033[0m", strings.ReplaceAll(s.Text, "\n", `\n`))
	log.Printf("%s  (%s, replaces [%d,%d), hit=%v)", clText, s.Type, s.Start, s.End, s.CacheHit)
}

// ParseCursor splits a line with one cursor marker into document text and
// a byte offset. Escaped `\n` and `\t` become real characters.
func ParseCursor(line string) (string, int, bool) {
	before, after, ok := strings.Cut(line, CursorMarker)
	if !ok {
		return "", 0, false
	}
	before, after = unescape(before), unescape(after)
	return before + after, len(before), true
}

// Render writes text with the cursor marker at offset, escaping line breaks.
func Render(text string, offset int) string {
	if offset < 0 || offset > len(text) {
		offset = len(text)
	}
	return escape(text[:offset]) + CursorMarker + escape(text[offset:])
}

var (
	unescaper = strings.NewReplacer(`\n`, "\n", `\t`, "\t")
	escaper   = strings.NewReplacer("\n", `\n`, "\t", `\t`)
)

func unescape(s string) string { return unescaper.Replace(s) }

func escape(s string) string { return escaper.Replace(s) }
