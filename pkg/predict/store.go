package predict

import "time"

// Document is the per-document prediction state.
type Document struct {
	ID         string
	Cache      *Cache
	AcceptedAt time.Time
}

// Store maps document ids to their prediction state. Entries are created on
// first use and torn down by Close or Reset. Not safe for concurrent use.
type Store struct {
	capacity  int
	onDispose DisposeFunc
	docs      map[string]*Document
}

// NewStore creates a store whose caches hold capacity records each.
func NewStore(capacity int, onDispose DisposeFunc) (*Store, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Store{
		capacity:  capacity,
		onDispose: onDispose,
		docs:      make(map[string]*Document),
	}, nil
}

// Get returns the state of id, creating it when missing.
func (s *Store) Get(id string) *Document {
	if d, ok := s.docs[id]; ok {
		return d
	}
	// capacity was validated by NewStore and SetCapacity
	cache, _ := NewCache(s.capacity, s.onDispose)
	d := &Document{ID: id, Cache: cache}
	s.docs[id] = d
	return d
}

// Lookup returns the state of id without creating it.
func (s *Store) Lookup(id string) (*Document, bool) {
	d, ok := s.docs[id]
	return d, ok
}

// Close clears and forgets id.
func (s *Store) Close(id string) {
	if d, ok := s.docs[id]; ok {
		d.Cache.Clear()
		delete(s.docs, id)
	}
}

// Reset clears every document.
func (s *Store) Reset() {
	for id := range s.docs {
		s.Close(id)
	}
}

// SetCapacity changes the capacity of caches created from now on.
func (s *Store) SetCapacity(capacity int) error {
	if capacity <= 0 {
		return ErrInvalidCapacity
	}
	s.capacity = capacity
	return nil
}

// Len is the number of tracked documents.
func (s *Store) Len() int { return len(s.docs) }

// Documents returns the tracked documents in no particular order.
func (s *Store) Documents() []*Document {
	out := make([]*Document, 0, len(s.docs))
	for _, d := range s.docs {
		out = append(out, d)
	}
	return out
}
