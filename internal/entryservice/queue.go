package entryservice

import (
	"context"

	"sync"

	"github.com/illinoisdata/cruzdb/internal/wire"
)

// PositionedIntention pairs a decoded intention with the log position it
// was read from.
type PositionedIntention struct {
	Pos       uint64
	Intention *wire.Intention
}

// IntentionQueue delivers intentions in log order to one consumer (one
// transaction processor), starting from a requested log position, generalizing
// entry_service.cc's IntentionQueue from a condition-variable-guarded queue
// to a channel-signaled one.
//
// Push is tolerant of being offered an intention below the queue's current
// position: the tail reader fans the same log position out to every
// registered queue, and a queue started later than another should silently
// ignore positions it never asked for.
type IntentionQueue struct {
	mu      sync.Mutex
	pos     uint64
	buf     []PositionedIntention
	notify  chan struct{}
	stopped bool
}

// NewIntentionQueue opens a queue that will start delivering at pos.
func NewIntentionQueue(pos uint64) *IntentionQueue {
	return &IntentionQueue{pos: pos, notify: make(chan struct{}, 1)}
}

// Position reports the next log position this queue still needs.
func (q *IntentionQueue) Position() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pos
}

// Depth reports the number of intentions buffered but not yet delivered to
// Wait.
func (q *IntentionQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.buf)
}

// Push offers an intention read at pi.Pos. A position below the queue's
// current cursor is dropped silently.
func (q *IntentionQueue) Push(pi PositionedIntention) {
	q.mu.Lock()
	if pi.Pos < q.pos {
		q.mu.Unlock()
		return
	}
	q.pos = pi.Pos + 1
	q.buf = append(q.buf, pi)
	q.mu.Unlock()
	q.signal()
}

// Stop unblocks any pending and future Wait calls permanently.
func (q *IntentionQueue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.signal()
}

// Wait blocks until an intention is available, the queue is stopped, or ctx
// is done, returning ok == false in the latter two cases.
func (q *IntentionQueue) Wait(ctx context.Context) (PositionedIntention, bool) {
	for {
		q.mu.Lock()
		if len(q.buf) > 0 {
			pi := q.buf[0]
			q.buf = q.buf[1:]
			q.mu.Unlock()
			return pi, true
		}
		if q.stopped {
			q.mu.Unlock()
			return PositionedIntention{}, false
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return PositionedIntention{}, false
		}
	}
}

func (q *IntentionQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
