/*
Package predict is the inline completion engine: it decides when to ask a
provider for a prediction, caches predictions per document, and reuses a
cached prediction while the user keeps typing what it predicted.

A cursor event flows through the pieces like this:

	Complete
	  -> textwin.Extract         prefix/suffix around the cursor
	  -> Cache.Candidates        records whose prefix the user extended
	  -> Matchup                 still valid? where does the unseen text start?
	  -> Postprocess             hit: render and return
	  -> Gate.Wait               miss: debounce, newest turn wins
	  -> Classifier.Classify     which kind of completion, if any
	  -> EnforcePendingCap       at most MaxPending provider calls per document
	  -> provider.Start          stream into a new Record
	  -> Postprocess             render once the record resolves

Every recoverable failure ends in an empty suggestion list.
*/
package predict

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/bastiangx/predictserve/internal/logger"
	"github.com/bastiangx/predictserve/pkg/provider"
	"github.com/bastiangx/predictserve/pkg/textwin"
	"github.com/charmbracelet/log"
)

// Request is one cursor event of the host editor. Offset is a byte offset
// into Text.
type Request struct {
	DocID      string
	Text       string
	Offset     int
	LanguageID string
}

// Suggestion replaces the document bytes [Start, End) with Text.
type Suggestion struct {
	Text     string
	Start    int
	End      int
	RecordID uint64
	Type     PredictionType
	CacheHit bool
}

// Controller runs the prediction lifecycle for every open document.
type Controller struct {
	provider provider.Provider
	metrics  Metrics
	log      *log.Logger
	now      func() time.Time

	mu         sync.Mutex
	opts       Options
	languages  map[string]bool
	classifier Classifier
	store      *Store
	gate       *Gate
	nextID     uint64

	requests   atomic.Int64
	hits       atomic.Int64
	misses     atomic.Int64
	superseded atomic.Int64
	disposed   atomic.Int64
	failures   atomic.Int64
	timeouts   atomic.Int64
}

// NewController validates opts and creates a controller calling p. A nil
// metrics sink discards resolutions.
func NewController(p provider.Provider, opts Options, metrics Metrics) (*Controller, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil provider", ErrInvalidOptions)
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = noMetrics{}
	}

	c := &Controller{
		provider: p,
		metrics:  metrics,
		log:      logger.New("predict"),
		now:      time.Now,
		gate:     NewGate(opts.Debounce),
	}
	store, err := NewStore(opts.MaxCacheSize, c.dispose)
	if err != nil {
		return nil, err
	}
	c.store = store
	c.applyOptions(opts)
	return c, nil
}

// UpdateOptions swaps the tunables of a running controller. Existing caches
// keep their capacity.
func (c *Controller) UpdateOptions(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.store.SetCapacity(opts.MaxCacheSize); err != nil {
		return err
	}
	c.gate.SetDelay(opts.Debounce)
	c.applyOptions(opts)
	return nil
}

func (c *Controller) applyOptions(opts Options) {
	c.opts = opts
	c.classifier = Classifier{
		MaxLinesRemote: opts.MaxContextLinesRemote,
		MaxLinesLocal:  opts.MaxContextLinesLocal,
	}
	c.languages = make(map[string]bool, len(opts.Languages))
	for _, l := range opts.Languages {
		c.languages[strings.ToLower(l)] = true
	}
}

// Complete returns at most one suggestion for the cursor in req. It blocks
// through the debounce wait and the provider call; cancelling ctx gives up
// without cancelling the provider call, whose record stays cached.
func (c *Controller) Complete(ctx context.Context, req Request) []Suggestion {
	start := c.now()
	c.requests.Add(1)

	w := textwin.Extract(req.Text, req.Offset)
	if !c.allowed(req.LanguageID, w) {
		return nil
	}

	if out, ok := c.fromCache(ctx, req.DocID, w, start); ok {
		return out
	}
	c.misses.Add(1)

	justAccepted := c.justAccepted(req.DocID, start)
	if _, err := c.gate.Wait(ctx, req.DocID); err != nil {
		if errors.Is(err, ErrSuperseded) {
			c.superseded.Add(1)
		}
		c.log.Debug("turn dropped", "doc", req.DocID, "err", err)
		return nil
	}

	rec := c.begin(req.DocID, w, justAccepted)
	if rec == nil {
		return nil
	}
	select {
	case <-rec.Done():
	case <-ctx.Done():
		return nil
	}
	return c.render(req.DocID, rec, Bounds{}, w, start, false)
}

// fromCache serves w from a cached record. ok is false when no record
// applies and a fresh request is needed.
func (c *Controller) fromCache(ctx context.Context, docID string, w textwin.Window, start time.Time) ([]Suggestion, bool) {
	rec, b, found := c.lookup(docID, w)
	if !found {
		return nil, false
	}

	if rec.Status() == StatusPending {
		c.log.Debug("waiting on pending prediction", "doc", docID, "id", rec.ID)
		select {
		case <-rec.Done():
		case <-ctx.Done():
			return nil, true
		}
		var ok bool
		if b, ok = Matchup(w.Prefix, rec); !ok || rec.Status() != StatusFinished {
			return nil, false
		}
	}

	c.hits.Add(1)
	c.log.Debug("cache hit", "doc", docID, "id", rec.ID, "start", b.RawStartIndex)
	return c.render(docID, rec, b, w, start, true), true
}

func (c *Controller) lookup(docID string, w textwin.Window) (*Record, Bounds, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.store.Lookup(docID)
	if !ok {
		return nil, Bounds{}, false
	}
	norm := Normalize(w.Prefix)
	for _, r := range d.Cache.Candidates(norm) {
		status, text := r.Snapshot()
		if status == StatusError {
			continue
		}
		if b, ok := matchNormalized(norm, r.normPrefix, text); ok {
			return r, b, true
		}
	}
	return nil, Bounds{}, false
}

// justAccepted reports whether docID saw an accept within the window
// before at, the arrival time of the event.
func (c *Controller) justAccepted(docID string, at time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	d, ok := c.store.Lookup(docID)
	if !ok || d.AcceptedAt.IsZero() {
		return false
	}
	return at.Sub(d.AcceptedAt) <= c.opts.JustAcceptedWindow
}

// begin classifies w and, when a prediction is wanted, stores a new record
// and starts the provider call.
func (c *Controller) begin(docID string, w textwin.Window, justAccepted bool) *Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.store.Get(docID)
	now := c.now()
	dec := c.classifier.Classify(w, justAccepted, c.provider.Local())
	if !dec.Generate() {
		c.log.Debug("nothing to predict", "doc", docID)
		return nil
	}

	EnforcePendingCap(d.Cache, c.opts.MaxPending)

	c.nextID++
	rec := newRecord(c.nextID, w, dec, now)
	d.Cache.Set(rec)
	c.log.Debug("requesting prediction", "doc", docID, "id", rec.ID, "type", dec.Type)

	h, err := c.provider.Start(provider.Request{
		Prefix: dec.ProviderPrefix,
		Suffix: dec.ProviderSuffix,
		Stop:   dec.Stop,
	})
	if err != nil {
		c.failures.Add(1)
		c.log.Warn("provider start failed", "provider", c.provider.Name(), "err", err)
		rec.fail(fmt.Errorf("%w: %w", ErrProviderFailed, err), now)
		return rec
	}
	rec.attach(h)
	go c.watch(rec, h, c.opts.RequestTimeout, c.opts.MaxLineBreaks)
	return rec
}

// watch applies the provider stream to rec until it resolves or times out.
func (c *Controller) watch(rec *Record, h provider.Handle, timeout time.Duration, maxBreaks int) {
	events := h.Events()
	defer func() {
		go drain(events)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.failRecord(rec, fmt.Errorf("%w: stream closed without a result", ErrProviderFailed))
				return
			}
			switch ev.Kind {
			case provider.EventText:
				rec.update(c.shape(rec, ev.Text))
				if streamDone(rec, ev.Text, maxBreaks) {
					h.Cancel()
					c.finishRecord(rec, ev.Text, maxBreaks)
					return
				}
			case provider.EventFinal:
				c.finishRecord(rec, ev.Text, maxBreaks)
				return
			case provider.EventError:
				c.failRecord(rec, fmt.Errorf("%w: %w", ErrProviderFailed, ev.Err))
				return
			case provider.EventAborted:
				rec.fail(fmt.Errorf("%w: aborted", ErrProviderFailed), c.now())
				return
			}
		case <-timer.C:
			h.Cancel()
			c.timeouts.Add(1)
			if rec.fail(ErrTimeout, c.now()) {
				c.log.Warn("prediction timed out", "id", rec.ID, "after", timeout)
			}
			return
		}
	}
}

func drain(events <-chan provider.Event) {
	for range events {
	}
}

func (c *Controller) finishRecord(rec *Record, text string, maxBreaks int) {
	text, _ = truncateStream(text, rec.Type, maxBreaks)
	text = Postprocess(Bounds{}, c.shape(rec, text), rec.Type, rec.window).Text
	if rec.finish(text, c.now()) {
		c.log.Debug("prediction finished", "id", rec.ID, "len", len(text), "latency", rec.CompletedAt().Sub(rec.CreatedAt))
	}
}

// shape moves multi-line text onto the line after the cursor, where the
// provider was asked to start.
func (c *Controller) shape(rec *Record, text string) string {
	if rec.Type == MultiLineStartOnNextLine {
		return lineBreakOf(rec.Prefix+rec.Suffix) + text
	}
	return text
}

func (c *Controller) failRecord(rec *Record, err error) {
	if rec.fail(err, c.now()) {
		c.failures.Add(1)
		c.log.Warn("prediction failed", "id", rec.ID, "err", err)
	}
}

// streamDone reports whether the streamed text already holds everything
// the record can use. It reads the record's line break counter, which
// includes the break shape puts in front of multi-line text.
func streamDone(rec *Record, raw string, maxBreaks int) bool {
	breaks := rec.LineBreakCount()
	if rec.Type.SingleLine() {
		return breaks > 0
	}
	return breaks-1 > maxBreaks || blankLineIndex(raw) >= 0
}

// truncateStream cuts single-line text at its first line break and
// multi-line text at a blank line or past maxBreaks line breaks.
func truncateStream(text string, typ PredictionType, maxBreaks int) (string, bool) {
	if typ.SingleLine() {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			return strings.TrimSuffix(text[:i], "\r"), true
		}
		return text, false
	}
	cut := false
	if i := blankLineIndex(text); i >= 0 {
		text = text[:i]
		cut = true
	}
	if strings.Count(text, "\n") > maxBreaks {
		idx := 0
		for n := 0; n <= maxBreaks; n++ {
			idx += strings.IndexByte(text[idx:], '\n') + 1
		}
		text = strings.TrimSuffix(text[:idx-1], "\r")
		cut = true
	}
	return text, cut
}

func blankLineIndex(text string) int {
	i := strings.Index(text, "\n\n")
	if j := strings.Index(text, "\r\n\r\n"); j >= 0 && (i < 0 || j < i) {
		i = j
	}
	return i
}

// render turns a resolved record into the suggestion for w. Each resolved
// record is reported to metrics, errors and empty suggestions included.
func (c *Controller) render(docID string, rec *Record, b Bounds, w textwin.Window, start time.Time, hit bool) []Suggestion {
	status, text := rec.Snapshot()
	if status == StatusPending || rec.Discarded() {
		return nil
	}
	res := Resolution{
		DocID:        docID,
		TotalLatency: c.now().Sub(start),
		CacheHit:     hit,
	}
	if done := rec.CompletedAt(); !done.IsZero() {
		res.ProviderLatency = done.Sub(rec.CreatedAt)
	}
	c.observe(res)

	if status != StatusFinished {
		return nil
	}
	out := Postprocess(b, text, rec.Type, w)
	if out.Text == "" {
		return nil
	}
	return []Suggestion{{
		Text:     out.Text,
		Start:    out.Start,
		End:      out.End,
		RecordID: rec.ID,
		Type:     rec.Type,
		CacheHit: hit,
	}}
}

func (c *Controller) observe(res Resolution) {
	go func() {
		defer func() { _ = recover() }()
		c.metrics.Observe(res)
	}()
}

func (c *Controller) allowed(languageID string, w textwin.Window) bool {
	c.mu.Lock()
	languages, maxLine := c.languages, c.opts.MaxLineLength
	c.mu.Unlock()

	if len(languages) > 0 && !languages[strings.ToLower(languageID)] {
		return false
	}
	return utf8.RuneCountInString(w.LinePrefix)+utf8.RuneCountInString(w.LineSuffix) <= maxLine
}

// dispose runs for every record leaving a cache.
func (c *Controller) dispose(r *Record) {
	c.disposed.Add(1)
	r.discard()
}

// Accept removes the accepted record, and every record the acceptance made
// redundant, from docID. text and offset describe the document after the
// edit. The next classification for docID sees a just accepted completion.
func (c *Controller) Accept(docID string, recordID uint64, text string, offset int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	d := c.store.Get(docID)
	d.Cache.Delete(recordID)
	prefix := stripSpace(textwin.Extract(text, offset).Prefix)
	for _, r := range d.Cache.Records() {
		if stripSpace(r.Prefix+r.GeneratedText()) == prefix {
			d.Cache.Delete(r.ID)
		}
	}
	d.AcceptedAt = c.now()
	c.log.Debug("accepted", "doc", docID, "id", recordID)
}

// CloseDocument drops every record of docID, cancelling pending ones.
func (c *Controller) CloseDocument(docID string) {
	c.mu.Lock()
	c.store.Close(docID)
	c.mu.Unlock()
	c.gate.Forget(docID)
}

// Reset drops every record of every document.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Reset()
}

// Stats returns counters for the stats op and the debug CLI.
func (c *Controller) Stats() map[string]int {
	c.mu.Lock()
	records, pending := 0, 0
	for _, d := range c.store.Documents() {
		records += d.Cache.Len()
		pending += len(d.Cache.Pending())
	}
	docs := c.store.Len()
	c.mu.Unlock()

	return map[string]int{
		"documents":  docs,
		"records":    records,
		"pending":    pending,
		"requests":   int(c.requests.Load()),
		"hits":       int(c.hits.Load()),
		"misses":     int(c.misses.Load()),
		"superseded": int(c.superseded.Load()),
		"disposed":   int(c.disposed.Load()),
		"failures":   int(c.failures.Load()),
		"timeouts":   int(c.timeouts.Load()),
	}
}

func stripSpace(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
}
