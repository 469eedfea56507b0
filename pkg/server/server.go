package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/bastiangx/predictserve/internal/logger"
	"github.com/bastiangx/predictserve/pkg/predict"
	"github.com/charmbracelet/log"
	"github.com/vmihailenco/msgpack/v5"
)

// Engine is the prediction engine behind the server.
type Engine interface {
	Complete(ctx context.Context, req predict.Request) []predict.Suggestion
	Accept(docID string, recordID uint64, text string, offset int)
	CloseDocument(docID string)
	Reset()
	Stats() map[string]int
}

// Server handles the IPC for inline completions
type Server struct {
	engine Engine
	dec    *msgpack.Decoder
	log    *log.Logger

	mu  sync.Mutex
	enc *msgpack.Encoder

	wg sync.WaitGroup
}

// NewServer creates a server reading requests from r and writing replies to w.
func NewServer(engine Engine, r io.Reader, w io.Writer) *Server {
	return &Server{
		engine: engine,
		dec:    msgpack.NewDecoder(r),
		enc:    msgpack.NewEncoder(w),
		log:    logger.New("server"),
	}
}

// Start serves requests until the input ends, ctx is done or the stream
// cannot be decoded. In-flight completions are cancelled and awaited before
// it returns.
func (s *Server) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		cancel()
		s.wg.Wait()
	}()

	s.log.Debug("Starting Server.")
	s.send(StatusResponse{Status: "ready"})

	for {
		var req Request
		if err := s.dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			s.log.Errorf("Decoding request: %v", err)
			s.sendError("", "invalid msgpack request", 400)
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		s.handleRequest(ctx, req)
	}
}

func (s *Server) handleRequest(ctx context.Context, req Request) {
	switch req.Op {
	case "", OpComplete:
		if req.Doc == "" {
			s.sendError(req.ID, "missing 'doc'", 400)
			return
		}
		if req.Offset < 0 || req.Offset > len(req.Text) {
			s.sendError(req.ID, fmt.Sprintf("offset %d outside text of length %d", req.Offset, len(req.Text)), 400)
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleComplete(ctx, req)
		}()
	case OpAccept:
		if req.Doc == "" {
			s.sendError(req.ID, "missing 'doc'", 400)
			return
		}
		s.engine.Accept(req.Doc, req.RecordID, req.Text, req.Offset)
		s.send(StatusResponse{ID: req.ID, Status: "ok"})
	case OpClose:
		s.engine.CloseDocument(req.Doc)
		s.send(StatusResponse{ID: req.ID, Status: "ok"})
	case OpReset:
		s.engine.Reset()
		s.send(StatusResponse{ID: req.ID, Status: "ok"})
	case OpStats:
		s.send(StatsResponse{ID: req.ID, Stats: s.engine.Stats()})
	case OpHealth:
		s.send(StatusResponse{ID: req.ID, Status: "ok"})
	default:
		s.sendError(req.ID, fmt.Sprintf("unknown op: %s", req.Op), 400)
	}
}

func (s *Server) handleComplete(ctx context.Context, req Request) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Errorf("completion %s panicked: %v", req.ID, r)
			s.sendError(req.ID, "internal server error", 500)
		}
	}()

	start := time.Now()
	suggestions := s.engine.Complete(ctx, predict.Request{
		DocID:      req.Doc,
		Text:       req.Text,
		Offset:     req.Offset,
		LanguageID: req.Lang,
	})

	resp := CompletionResponse{
		ID:          req.ID,
		Suggestions: make([]CompletionSuggestion, 0, len(suggestions)),
		Count:       len(suggestions),
		TimeTaken:   time.Since(start).Microseconds(),
	}
	for _, sg := range suggestions {
		resp.Suggestions = append(resp.Suggestions, CompletionSuggestion{
			Text:     sg.Text,
			Start:    sg.Start,
			End:      sg.End,
			RecordID: sg.RecordID,
			Type:     sg.Type.String(),
		})
		resp.CacheHit = resp.CacheHit || sg.CacheHit
	}
	s.send(resp)
}

// send encodes one reply. Replies from concurrent completions never
// interleave.
func (s *Server) send(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(v); err != nil {
		s.log.Errorf("Encoding response: %v", err)
	}
}

func (s *Server) sendError(id, message string, code int) {
	s.send(ErrorResponse{ID: id, Error: message, Code: code})
}
