package entryservice

import "sync"

// Matched pairs a watched commit's payload with the log position of the
// after-image the tail reader observed for it.
type Matched[T any] struct {
	Payload       T
	AfterImagePos uint64
}

// pendingMatch tracks one intention position until both its committer (via
// Watch) and its after-image (via Push) have arrived.
type pendingMatch[T any] struct {
	afterImagePos *uint64
	payload       T
	hasPayload    bool
	resolved      bool
}

// AfterImageMatcher pairs a transaction's committed delta — watched the
// instant the intention's log append returns — with the first after-image
// entry the tail reader observes at that intention's log position,
// generalizing entry_service.cc's PrimaryAfterImageMatcher (watch/push/
// match/gc) to an arbitrary payload type T via Go generics in place of the
// original's SharedNodeRef-specific delta.
//
// Either order of arrival is handled: Watch first (append returned before
// the tail reader reached that position) or Push first (the tail reader is
// ahead of this committer learning its own position). gcLocked retires
// entries once both sides have arrived, advancing watermark so a late,
// already-resolved Push is a cheap no-op instead of a leak.
type AfterImageMatcher[T any] struct {
	mu        sync.Mutex
	pending   map[uint64]*pendingMatch[T]
	order     []uint64
	matched   chan Matched[T]
	watermark uint64
	retired   bool // whether watermark names a retired position yet
	shutdown  bool
}

// NewAfterImageMatcher opens a matcher with a reasonably deep match buffer;
// deepening it further only matters if consumers of Drain fall far behind
// the tail reader.
func NewAfterImageMatcher[T any]() *AfterImageMatcher[T] {
	return &AfterImageMatcher[T]{
		pending: make(map[uint64]*pendingMatch[T]),
		matched: make(chan Matched[T], 64),
	}
}

// Watch registers payload as the committer of the intention at intentionPos.
// Called once a transaction's intention append has returned with its log
// position.
func (m *AfterImageMatcher[T]) Watch(intentionPos uint64, payload T) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.pending[intentionPos]
	if !ok {
		m.insertLocked(intentionPos, &pendingMatch[T]{payload: payload, hasPayload: true})
		m.gcLocked()
		return
	}
	// the after-image already arrived (p.afterImagePos is set); complete it.
	m.matched <- Matched[T]{Payload: payload, AfterImagePos: *p.afterImagePos}
	p.hasPayload = true
	p.payload = payload
	p.resolved = true
	m.gcLocked()
}

// Push records that the after-image for the intention at intentionPos was
// observed at log position afterImagePos. Called by the tail reader as it
// scans past after-image entries.
func (m *AfterImageMatcher[T]) Push(intentionPos, afterImagePos uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.retired && intentionPos <= m.watermark {
		return
	}

	p, ok := m.pending[intentionPos]
	if !ok {
		aip := afterImagePos
		m.insertLocked(intentionPos, &pendingMatch[T]{afterImagePos: &aip})
		m.gcLocked()
		return
	}
	if p.hasPayload && p.afterImagePos == nil && !p.resolved {
		aip := afterImagePos
		p.afterImagePos = &aip
		p.resolved = true
		m.matched <- Matched[T]{Payload: p.payload, AfterImagePos: afterImagePos}
	}
	m.gcLocked()
}

// Drain returns the channel Watch/Push results are delivered on.
func (m *AfterImageMatcher[T]) Drain() <-chan Matched[T] {
	return m.matched
}

// Shutdown closes the match channel, unblocking any receiver on Drain.
func (m *AfterImageMatcher[T]) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.shutdown {
		return
	}
	m.shutdown = true
	close(m.matched)
}

func (m *AfterImageMatcher[T]) insertLocked(pos uint64, p *pendingMatch[T]) {
	m.pending[pos] = p
	i := 0
	for i < len(m.order) && m.order[i] < pos {
		i++
	}
	m.order = append(m.order, 0)
	copy(m.order[i+1:], m.order[i:])
	m.order[i] = pos
}

// gcLocked retires resolved entries from the front of the position-ordered
// index, advancing the watermark only while the front is fully resolved —
// an unmatched entry anywhere still blocks further advancement, exactly as
// in entry_service.cc's gc().
func (m *AfterImageMatcher[T]) gcLocked() {
	for len(m.order) > 0 {
		front := m.order[0]
		p := m.pending[front]
		if p == nil || !p.resolved {
			return
		}
		delete(m.pending, front)
		m.order = m.order[1:]
		m.watermark = front
		m.retired = true
	}
}
