package entryservice

import (
	"sync"

	"github.com/illinoisdata/cruzdb/internal/wire"
)

// entry is one decoded, position-tagged log record held in the cache.
type entry struct {
	intention  *wire.Intention
	afterImage *wire.AfterImage
}

// EntryCache is a small, bounded, insert-only cache of decoded log entries
// keyed by log position, generalizing entry_service.cc's EntryCache (whose
// intention-only cache evicts its oldest entry past a fixed size) to also
// hold after-images, since both the tail reader and ReadIntentions populate
// it from the same underlying log positions.
//
// Eviction is oldest-inserted-first, not least-recently-used: the tail
// reader's access pattern is a forward scan, so the oldest entries are also
// the ones least likely to be requested again.
type EntryCache struct {
	mu       sync.Mutex
	capacity int
	order    []uint64
	entries  map[uint64]entry
}

// NewEntryCache builds a cache holding up to capacity positions.
func NewEntryCache(capacity int) *EntryCache {
	if capacity <= 0 {
		capacity = 1
	}
	return &EntryCache{
		capacity: capacity,
		entries:  make(map[uint64]entry, capacity),
	}
}

// InsertIntention caches the decoded intention at pos.
func (c *EntryCache) InsertIntention(pos uint64, in *wire.Intention) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(pos, entry{intention: in})
}

// InsertAfterImage caches the decoded after-image at pos.
func (c *EntryCache) InsertAfterImage(pos uint64, ai *wire.AfterImage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.insertLocked(pos, entry{afterImage: ai})
}

func (c *EntryCache) insertLocked(pos uint64, e entry) {
	if _, exists := c.entries[pos]; exists {
		c.entries[pos] = e
		return
	}
	if len(c.order) >= c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.order = append(c.order, pos)
	c.entries[pos] = e
}

// FindIntention returns the cached intention at pos, if any.
func (c *EntryCache) FindIntention(pos uint64) (*wire.Intention, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pos]
	if !ok || e.intention == nil {
		return nil, false
	}
	return e.intention, true
}

// FindAfterImage returns the cached after-image at pos, if any.
func (c *EntryCache) FindAfterImage(pos uint64) (*wire.AfterImage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[pos]
	if !ok || e.afterImage == nil {
		return nil, false
	}
	return e.afterImage, true
}
