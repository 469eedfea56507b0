package predict

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
)

type turn struct {
	n          uint64
	superseded chan struct{}
}

// Gate debounces completion requests per document. Every Wait is a turn
// with a strictly increasing number; only the latest turn of a document can
// come out of its wait without ErrSuperseded.
type Gate struct {
	mu    sync.Mutex
	delay time.Duration
	seq   uint64
	turns map[string]*turn
}

// NewGate creates a gate that waits delay before letting a turn through.
func NewGate(delay time.Duration) *Gate {
	return &Gate{
		delay: delay,
		turns: make(map[string]*turn),
	}
}

// SetDelay changes the wait of future turns.
func (g *Gate) SetDelay(delay time.Duration) {
	g.mu.Lock()
	g.delay = delay
	g.mu.Unlock()
}

// Wait starts a turn for doc and blocks for the debounce delay. It returns
// the turn number and nil when the turn may proceed, ErrSuperseded as soon as
// a newer turn for doc starts, or the context error.
func (g *Gate) Wait(ctx context.Context, doc string) (uint64, error) {
	g.mu.Lock()
	g.seq++
	t := &turn{n: g.seq, superseded: make(chan struct{})}
	if prev, ok := g.turns[doc]; ok {
		close(prev.superseded)
	}
	g.turns[doc] = t
	delay := g.delay
	g.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-t.superseded:
			return t.n, ErrSuperseded
		case <-ctx.Done():
			return t.n, ctx.Err()
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.turns[doc] != t {
		return t.n, ErrSuperseded
	}
	return t.n, nil
}

// Forget drops the turn state of doc, superseding a waiting turn.
func (g *Gate) Forget(doc string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t, ok := g.turns[doc]; ok {
		close(t.superseded)
		delete(g.turns, doc)
	}
}

// EnforcePendingCap evicts the oldest pending records of c, by creation
// time, until fewer than limit remain pending so a new one can be added.
func EnforcePendingCap(c *Cache, limit int) []*Record {
	pending := c.Pending()
	if len(pending) < limit {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return pending[i].CreatedAt.Before(pending[j].CreatedAt)
	})
	n := len(pending) - limit + 1
	evicted := pending[:n]
	for _, r := range evicted {
		log.Debugf("pending cap %d reached, evicting prediction %d", limit, r.ID)
		c.Delete(r.ID)
	}
	return evicted
}
