package tree

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/illinoisdata/cruzdb/internal/wire"
)

// AfterImageSource fetches the after-image a committed intention produced.
// Satisfied by internal/entryservice.Service, which serves it from its own
// cache or falls back to reading the log.
type AfterImageSource interface {
	AfterImage(pos uint64) (*wire.AfterImage, error)
}

// NodeStore is a Source that demand-loads Remote pointers by fetching and
// decoding the owning after-image, generalizing iavlx's CosmosDBStore.Load
// (key lookup, decode, cache) from a per-node KV fetch to a per-after-image
// fetch — a Remote pointer names a whole after-image plus a slot inside it,
// so one fetch resolves every node that after-image produced at once.
//
// The cache retains decoded after-images, bounded to capacity entries with
// least-recently-used eviction: an open transaction's search paths tend to
// revisit a handful of recent after-images, rarely the whole log.
type NodeStore struct {
	mu       sync.Mutex
	source   AfterImageSource
	capacity int
	images   map[uint64]map[uint32]*Node
	lru      []uint64 // most-recently-used at the end
	metrics  *Metrics
}

// NewNodeStore builds a NodeStore backed by source, caching up to capacity
// distinct after-images.
func NewNodeStore(source AfterImageSource, capacity int) *NodeStore {
	if capacity <= 0 {
		capacity = 1
	}
	return &NodeStore{
		source:   source,
		capacity: capacity,
		images:   make(map[uint64]map[uint32]*Node, capacity),
		metrics:  newMetrics("cruzdb"),
	}
}

var _ Source = (*NodeStore)(nil)

// Metrics exposes the node store's private Prometheus registry so callers
// can fold it into a larger /metrics endpoint.
func (s *NodeStore) Metrics() *Metrics { return s.metrics }

// Resolve implements Source.
func (s *NodeStore) Resolve(pos uint64, slot uint32) (*Node, error) {
	s.mu.Lock()
	nodes, ok := s.images[pos]
	if ok {
		s.touch(pos)
	}
	s.mu.Unlock()

	if ok {
		s.metrics.storeHits.Inc()
	} else {
		s.metrics.storeMisses.Inc()
		loaded, err := s.load(pos)
		if err != nil {
			return nil, err
		}
		nodes = loaded
	}

	n, ok := nodes[slot]
	if !ok {
		return nil, errors.Newf("tree: after-image %d has no slot %d", pos, slot)
	}
	return n, nil
}

// load fetches and decodes the after-image at pos, inserting it into the
// cache and evicting the least-recently-used entry if that pushes the cache
// past capacity.
func (s *NodeStore) load(pos uint64) (map[uint32]*Node, error) {
	ai, err := s.source.AfterImage(pos)
	if err != nil {
		return nil, errors.Wrapf(err, "tree: load after-image %d", pos)
	}
	nodes := DecodeAfterImage(ai)

	bySlot := make(map[uint32]*Node, len(nodes))
	for _, n := range nodes {
		bySlot[n.ID.Slot] = n
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.images[pos]; ok {
		// lost the race with a concurrent loader; keep the winner already
		// installed so callers observe a single consistent set of node
		// pointers for this after-image.
		s.touch(pos)
		return existing, nil
	}
	s.images[pos] = bySlot
	s.lru = append(s.lru, pos)
	s.evictLocked()
	return bySlot, nil
}

// touch moves pos to the most-recently-used end. Caller holds s.mu.
func (s *NodeStore) touch(pos uint64) {
	for i, p := range s.lru {
		if p == pos {
			s.lru = append(s.lru[:i], s.lru[i+1:]...)
			break
		}
	}
	s.lru = append(s.lru, pos)
}

// evictLocked drops the least-recently-used after-image until the cache is
// back within capacity. Caller holds s.mu.
func (s *NodeStore) evictLocked() {
	for len(s.lru) > s.capacity {
		oldest := s.lru[0]
		s.lru = s.lru[1:]
		delete(s.images, oldest)
	}
}
