/*
Package provider defines the text generation contract the predictor calls
through, plus adapters for Ollama and OpenAI-compatible completion servers.

A provider starts one generation per Request and hands back a Handle. The
handle streams Events carrying the cumulative generated text, then exactly one
terminal event (EventFinal, EventError or EventAborted) before its channel is
closed. Consumers must drain Events until it is closed.

Cancel is advisory and never blocks: the generation stops as soon as the
transport notices and the stream ends with EventAborted.
*/
package provider

import (
	"context"
	"sync"
)

// EventKind tags an Event.
type EventKind int

const (
	// EventText carries the cumulative text generated so far.
	EventText EventKind = iota
	// EventFinal carries the complete generated text.
	EventFinal
	// EventError reports a provider failure in Err.
	EventError
	// EventAborted acknowledges a Cancel.
	EventAborted
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventFinal:
		return "final"
	case EventError:
		return "error"
	case EventAborted:
		return "aborted"
	}
	return "unknown"
}

// Event is one message of a generation stream.
type Event struct {
	Kind EventKind
	Text string
	Err  error
}

// Request is a fill-in-the-middle generation request.
type Request struct {
	Prefix string
	Suffix string
	Stop   []string
}

// Handle is the cancelable reference to a running generation.
type Handle interface {
	Events() <-chan Event
	Cancel()
}

// Provider starts generations. Start must not block on the network.
type Provider interface {
	Start(req Request) (Handle, error)
	// Local reports a local or low-resource backend, which gets a smaller
	// context window.
	Local() bool
	Name() string
}

// Stream is a Handle backed by a context. Adapters run their transport in a
// goroutine, call Emit for partial text and Close exactly once at the end.
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	events chan Event
	once   sync.Once
}

// NewStream creates a stream whose Context is cancelled by Cancel.
func NewStream() *Stream {
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		ctx:    ctx,
		cancel: cancel,
		events: make(chan Event, 16),
	}
}

// Context is done once the stream was cancelled.
func (s *Stream) Context() context.Context { return s.ctx }

// Events implements Handle.
func (s *Stream) Events() <-chan Event { return s.events }

// Cancel implements Handle.
func (s *Stream) Cancel() { s.cancel() }

// Emit publishes cumulative text. Partial updates are dropped when the
// consumer lags; the next one supersedes them anyway.
func (s *Stream) Emit(text string) {
	if s.ctx.Err() != nil {
		return
	}
	select {
	case s.events <- Event{Kind: EventText, Text: text}:
	default:
	}
}

// Close sends the terminal event for text and err and closes the channel.
// A cancelled stream always ends with EventAborted.
func (s *Stream) Close(text string, err error) {
	s.once.Do(func() {
		var ev Event
		switch {
		case s.ctx.Err() != nil:
			ev = Event{Kind: EventAborted, Text: text}
		case err != nil:
			ev = Event{Kind: EventError, Text: text, Err: err}
		default:
			ev = Event{Kind: EventFinal, Text: text}
		}
		s.events <- ev
		close(s.events)
		s.cancel()
	})
}
