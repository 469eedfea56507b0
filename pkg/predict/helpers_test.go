package predict

import (
	"errors"
	"sync"
	"time"

	"github.com/bastiangx/predictserve/pkg/provider"
	"github.com/bastiangx/predictserve/pkg/textwin"
)

// reply scripts one fake generation.
type reply struct {
	partials []string
	text     string
	err      error
	delay    time.Duration
	startErr error
}

// fakeProvider answers every Start with the reply returned by script. A
// zero delay answers at once; a negative delay never answers.
type fakeProvider struct {
	mu      sync.Mutex
	script  func(provider.Request) reply
	local   bool
	calls   []provider.Request
	streams []*provider.Stream
}

func newFakeProvider(script func(provider.Request) reply) *fakeProvider {
	return &fakeProvider{script: script}
}

func answer(text string) func(provider.Request) reply {
	return func(provider.Request) reply { return reply{text: text} }
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Local() bool { return f.local }

func (f *fakeProvider) Start(req provider.Request) (provider.Handle, error) {
	r := f.script(req)
	if r.startErr != nil {
		return nil, r.startErr
	}
	s := provider.NewStream()
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.streams = append(f.streams, s)
	f.mu.Unlock()

	go func() {
		for _, p := range r.partials {
			s.Emit(p)
		}
		if r.delay < 0 {
			<-s.Context().Done()
			s.Close("", nil)
			return
		}
		select {
		case <-time.After(r.delay):
		case <-s.Context().Done():
		}
		s.Close(r.text, r.err)
	}()
	return s, nil
}

func (f *fakeProvider) Calls() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.calls...)
}

func (f *fakeProvider) stream(i int) *provider.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.streams[i]
}

// recordingMetrics collects resolutions.
type recordingMetrics struct {
	ch chan Resolution
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{ch: make(chan Resolution, 64)}
}

func (m *recordingMetrics) Observe(r Resolution) { m.ch <- r }

func (m *recordingMetrics) next(timeout time.Duration) (Resolution, bool) {
	select {
	case r := <-m.ch:
		return r, true
	case <-time.After(timeout):
		return Resolution{}, false
	}
}

var errBoom = errors.New("boom")

// fixedRecord builds a record for text with the cursor at "|".
func fixedRecord(id uint64, withCursor string, typ PredictionType) *Record {
	text, offset := splitCursor(withCursor)
	return newRecord(id, textwin.Extract(text, offset), Decision{Type: typ}, time.Unix(int64(id), 0))
}

// finishedRecord builds a finished record generating generated.
func finishedRecord(id uint64, withCursor, generated string) *Record {
	r := fixedRecord(id, withCursor, SingleLineFillMiddle)
	r.finish(generated, time.Unix(int64(id), 0))
	return r
}

func splitCursor(withCursor string) (string, int) {
	for i := 0; i < len(withCursor); i++ {
		if withCursor[i] == '|' {
			return withCursor[:i] + withCursor[i+1:], i
		}
	}
	return withCursor, len(withCursor)
}

func window(withCursor string) textwin.Window {
	text, offset := splitCursor(withCursor)
	return textwin.Extract(text, offset)
}
