package predict

import (
	"strings"
	"sync"
	"time"

	"github.com/bastiangx/predictserve/pkg/provider"
	"github.com/bastiangx/predictserve/pkg/textwin"
)

// Status is the lifecycle state of a Record.
type Status int

const (
	StatusPending Status = iota
	StatusFinished
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusFinished:
		return "finished"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// PredictionType is the kind of completion requested from the provider.
type PredictionType int

const (
	SingleLineFillMiddle PredictionType = iota
	SingleLineRedoSuffix
	MultiLineStartOnNextLine
	DoNotPredict
)

func (t PredictionType) String() string {
	switch t {
	case SingleLineFillMiddle:
		return "single-line-fill-middle"
	case SingleLineRedoSuffix:
		return "single-line-redo-suffix"
	case MultiLineStartOnNextLine:
		return "multi-line-start-on-next-line"
	case DoNotPredict:
		return "do-not-predict"
	}
	return "unknown"
}

// SingleLine reports whether predictions of this type stop at a line break.
func (t PredictionType) SingleLine() bool {
	return t == SingleLineFillMiddle || t == SingleLineRedoSuffix
}

// Record tracks one requested completion. The exported fields are fixed at
// creation; the rest is guarded by mu because the provider stream writes it
// from its own goroutine.
type Record struct {
	ID             uint64
	Prefix         string
	Suffix         string
	ProviderPrefix string
	ProviderSuffix string
	Type           PredictionType
	CreatedAt      time.Time

	window     textwin.Window
	normPrefix string

	mu          sync.Mutex
	status      Status
	generated   string
	completedAt time.Time
	lineBreaks  int
	discarded   bool
	err         error
	handle      provider.Handle

	done     chan struct{}
	doneOnce sync.Once
}

func newRecord(id uint64, w textwin.Window, d Decision, now time.Time) *Record {
	return &Record{
		ID:             id,
		Prefix:         w.Prefix,
		Suffix:         w.Suffix,
		ProviderPrefix: d.ProviderPrefix,
		ProviderSuffix: d.ProviderSuffix,
		Type:           d.Type,
		CreatedAt:      now,
		window:         w,
		normPrefix:     Normalize(w.Prefix),
		status:         StatusPending,
		done:           make(chan struct{}),
	}
}

// Status returns the current state.
func (r *Record) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// GeneratedText returns the text generated so far.
func (r *Record) GeneratedText() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.generated
}

// Snapshot returns status and text read together.
func (r *Record) Snapshot() (Status, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.generated
}

// CompletedAt is zero while pending.
func (r *Record) CompletedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completedAt
}

// LineBreakCount is the number of line breaks seen in the stream.
func (r *Record) LineBreakCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lineBreaks
}

// Err is set once the record moved to StatusError.
func (r *Record) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Done is closed when the record resolves or is discarded.
func (r *Record) Done() <-chan struct{} { return r.done }

func (r *Record) attach(h provider.Handle) {
	r.mu.Lock()
	r.handle = h
	r.mu.Unlock()
}

// update replaces the streamed text. Ignored once the record resolved.
func (r *Record) update(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != StatusPending {
		return false
	}
	r.generated = text
	r.lineBreaks = strings.Count(text, "\n")
	return true
}

func (r *Record) finish(text string, now time.Time) bool {
	r.mu.Lock()
	if r.status != StatusPending {
		r.mu.Unlock()
		return false
	}
	r.status = StatusFinished
	r.generated = text
	r.lineBreaks = strings.Count(text, "\n")
	r.completedAt = now
	r.mu.Unlock()
	r.closeDone()
	return true
}

func (r *Record) fail(err error, now time.Time) bool {
	r.mu.Lock()
	if r.status != StatusPending {
		r.mu.Unlock()
		return false
	}
	r.status = StatusError
	r.err = err
	r.completedAt = now
	r.mu.Unlock()
	r.closeDone()
	return true
}

// Discarded reports whether the record left its cache while still pending.
func (r *Record) Discarded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.discarded
}

// discard cancels a still pending provider call and releases waiters. The
// status is left alone since the record is already out of its cache.
func (r *Record) discard() {
	r.mu.Lock()
	h := r.handle
	pending := r.status == StatusPending
	r.discarded = pending
	r.mu.Unlock()
	if pending && h != nil {
		h.Cancel()
	}
	r.closeDone()
}

func (r *Record) closeDone() {
	r.doneOnce.Do(func() { close(r.done) })
}
