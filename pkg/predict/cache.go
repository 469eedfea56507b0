package predict

import (
	"github.com/charmbracelet/log"
	"github.com/tchap/go-patricia/v2/patricia"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DisposeFunc is called with every record leaving a Cache, before it is
// removed.
type DisposeFunc func(*Record)

type idSet map[uint64]struct{}

// Cache is a bounded, insertion-ordered store of the records of one
// document. When full, Set evicts the record inserted first regardless of
// how recently it was read.
//
// Records are also indexed in a patricia trie by normalized prefix so a
// lookup only visits records whose normalized prefix is a prefix of the live
// one, which is a precondition of any matchup.
//
// Cache is not safe for concurrent use; the Controller serializes access.
type Cache struct {
	capacity  int
	records   *orderedmap.OrderedMap[uint64, *Record]
	index     *patricia.Trie
	onDispose DisposeFunc
}

// NewCache creates a cache holding at most capacity records.
func NewCache(capacity int, onDispose DisposeFunc) (*Cache, error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Cache{
		capacity:  capacity,
		records:   orderedmap.New[uint64, *Record](),
		index:     patricia.NewTrie(),
		onDispose: onDispose,
	}, nil
}

// Capacity is the maximum number of records.
func (c *Cache) Capacity() int { return c.capacity }

// Len is the number of records.
func (c *Cache) Len() int { return c.records.Len() }

// Set stores r under r.ID. Re-setting an existing id keeps its position.
func (c *Cache) Set(r *Record) {
	if old, ok := c.records.Get(r.ID); ok {
		c.unindex(old)
		if old != r {
			c.dispose(old)
		}
		c.records.Set(r.ID, r)
		c.indexRecord(r)
		return
	}
	for c.records.Len() >= c.capacity {
		oldest := c.records.Oldest()
		if oldest == nil {
			break
		}
		log.Debugf("evicting prediction %d (capacity %d)", oldest.Key, c.capacity)
		c.remove(oldest.Key)
	}
	c.records.Set(r.ID, r)
	c.indexRecord(r)
}

// Get returns the record stored under id.
func (c *Cache) Get(id uint64) (*Record, bool) {
	return c.records.Get(id)
}

// Delete removes id, disposing its record. It reports whether id was present.
func (c *Cache) Delete(id uint64) bool {
	if _, ok := c.records.Get(id); !ok {
		return false
	}
	c.remove(id)
	return true
}

// Clear disposes and removes every record, oldest first.
func (c *Cache) Clear() {
	for _, r := range c.Records() {
		c.dispose(r)
	}
	c.records = orderedmap.New[uint64, *Record]()
	c.index = patricia.NewTrie()
}

// Records lists records oldest first.
func (c *Cache) Records() []*Record {
	out := make([]*Record, 0, c.records.Len())
	for pair := c.records.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Newest lists records newest first.
func (c *Cache) Newest() []*Record {
	out := make([]*Record, 0, c.records.Len())
	for pair := c.records.Newest(); pair != nil; pair = pair.Prev() {
		out = append(out, pair.Value)
	}
	return out
}

// Pending lists records still waiting on the provider, oldest first.
func (c *Cache) Pending() []*Record {
	var out []*Record
	for pair := c.records.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Value.Status() == StatusPending {
			out = append(out, pair.Value)
		}
	}
	return out
}

// Candidates lists, newest first, the records whose normalized prefix is a
// prefix of normPrefix.
func (c *Cache) Candidates(normPrefix string) []*Record {
	ids := idSet{}
	err := c.index.VisitPrefixes(indexKey(normPrefix), func(_ patricia.Prefix, item patricia.Item) error {
		set, ok := item.(idSet)
		if !ok {
			return nil
		}
		for id := range set {
			ids[id] = struct{}{}
		}
		return nil
	})
	if err != nil {
		log.Errorf("Error visiting prediction index: %v", err)
		return nil
	}
	if len(ids) == 0 {
		return nil
	}

	out := make([]*Record, 0, len(ids))
	for pair := c.records.Newest(); pair != nil; pair = pair.Prev() {
		if _, ok := ids[pair.Key]; ok {
			out = append(out, pair.Value)
		}
	}
	return out
}

func (c *Cache) remove(id uint64) {
	r, ok := c.records.Get(id)
	if !ok {
		return
	}
	c.dispose(r)
	c.unindex(r)
	c.records.Delete(id)
}

func (c *Cache) dispose(r *Record) {
	if c.onDispose != nil {
		c.onDispose(r)
	}
}

// indexKey carries a leading sentinel so the empty prefix is a real key.
func indexKey(normPrefix string) patricia.Prefix {
	return patricia.Prefix("\x00" + normPrefix)
}

func (c *Cache) indexRecord(r *Record) {
	key := indexKey(r.normPrefix)
	if item := c.index.Get(key); item != nil {
		item.(idSet)[r.ID] = struct{}{}
		return
	}
	c.index.Insert(key, idSet{r.ID: struct{}{}})
}

func (c *Cache) unindex(r *Record) {
	key := indexKey(r.normPrefix)
	item := c.index.Get(key)
	if item == nil {
		return
	}
	set := item.(idSet)
	delete(set, r.ID)
	if len(set) == 0 {
		c.index.Delete(key)
	}
}
