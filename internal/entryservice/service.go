// Package entryservice implements the log-following demultiplexer that
// sits between the durable, append-only log and every in-process consumer:
// the transaction processor (intentions, in order) and the node store
// (after-images, on demand). It generalizes entry_service.cc's EntryService.
package entryservice

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/illinoisdata/cruzdb/internal/logio"
	"github.com/illinoisdata/cruzdb/internal/wire"
)

// entry_service.cc splits IntentionReader and IOEntry across two threads,
// each independently re-reading the log past the other; the comment atop
// IntentionReader even admits its dependence on IOEntry having already
// cached an entry is incidental. A second, independent reader over the same
// log is also exactly the kind of extra blocking collaborator the single-
// reader design here avoids: one goroutine decodes each log position once,
// fans intentions out to every registered queue, and reports after-images
// to the matcher — so a slow queue consumer never makes a second reader
// re-fetch work the first one already did.
const defaultPollInterval = time.Millisecond

// Service owns the tail reader goroutine and the entry cache, and provides
// the external interface other components use to append to and query the
// log.
type Service struct {
	log     logio.Log
	cache   *EntryCache
	metrics *Metrics
	logger  zerolog.Logger

	queues []*IntentionQueue

	pollInterval time.Duration
}

// New opens a Service over log, caching up to cacheCapacity distinct log
// positions.
func New(log logio.Log, cacheCapacity int, logger zerolog.Logger) *Service {
	return &Service{
		log:          log,
		cache:        NewEntryCache(cacheCapacity),
		metrics:      newMetrics("cruzdb"),
		logger:       logger,
		pollInterval: defaultPollInterval,
	}
}

// Metrics exposes the service's private Prometheus registry so callers can
// fold it into a larger /metrics endpoint.
func (s *Service) Metrics() *Metrics { return s.metrics }

// NewIntentionQueue registers a new consumer queue starting at pos. The
// transaction processor calls this once at startup.
func (s *Service) NewIntentionQueue(pos uint64) *IntentionQueue {
	q := NewIntentionQueue(pos)
	s.queues = append(s.queues, q)
	return q
}

// Stop unblocks every registered queue's Wait calls permanently. Safe to
// call concurrently with Run; Run itself exits via ctx cancellation.
func (s *Service) Stop() {
	for _, q := range s.queues {
		q.Stop()
	}
}

// AfterImageObserver is notified whenever the tail reader consumes an
// after-image entry, with the log position of its owning intention and the
// after-image entry's own log position. Satisfied by
// *entryservice.AfterImageMatcher[T].Push.
type AfterImageObserver func(intentionPos, afterImagePos uint64)

// Run scans forward from startPos until ctx is cancelled, dispatching
// intentions to every registered queue and reporting after-images to
// onAfterImage. It blocks; callers run it in its own goroutine.
func (s *Service) Run(ctx context.Context, startPos uint64, onAfterImage AfterImageObserver) error {
	next := startPos
	var processed uint64
	logSince := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		tail, err := s.log.CheckTail()
		if err != nil {
			return errors.Wrap(err, "entryservice: check tail")
		}
		s.metrics.tailLag.Set(float64(tail - next))

		if next >= tail {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.pollInterval):
			}
			continue
		}

		for next < tail {
			consumed, err := s.consume(next, onAfterImage)
			if err != nil {
				if errors.Is(err, logio.ErrNotFound) {
					// A hole in the log: no fill policy exists yet, so
					// this spins on it rather than skipping ahead and
					// silently losing an entry.
					s.metrics.holesSkipped.Inc()
					select {
					case <-ctx.Done():
						return ctx.Err()
					case <-time.After(s.pollInterval):
					}
					continue
				}
				return err
			}
			if consumed {
				next++
				processed++
			}
		}

		if processed > 0 && time.Since(logSince) > 5*time.Second {
			s.logger.Info().
				Str("processed", humanize.Comma(int64(processed))).
				Uint64("position", next).
				Msg("entryservice: tail reader progress")
			logSince = time.Now()
		}
	}
}

// consume decodes (from cache or the log) the entry at pos and dispatches
// it, reporting whether a well-formed entry was found at pos.
func (s *Service) consume(pos uint64, onAfterImage AfterImageObserver) (bool, error) {
	if in, ok := s.cache.FindIntention(pos); ok {
		s.metrics.cacheHits.Inc()
		s.dispatchIntention(pos, in)
		return true, nil
	}
	if ai, ok := s.cache.FindAfterImage(pos); ok {
		s.metrics.cacheHits.Inc()
		if onAfterImage != nil {
			onAfterImage(ai.IntentionPos, pos)
		}
		return true, nil
	}

	s.metrics.cacheMisses.Inc()
	blob, err := s.log.Read(pos)
	if err != nil {
		return false, err
	}
	le, err := wire.Decode(blob)
	if err != nil {
		return false, errors.Wrapf(err, "entryservice: decode entry at %d", pos)
	}
	s.metrics.entriesRead.Inc()

	switch le.Type {
	case wire.EntryIntention:
		s.cache.InsertIntention(pos, le.Intention)
		s.dispatchIntention(pos, le.Intention)
	case wire.EntryAfterImage:
		s.cache.InsertAfterImage(pos, le.AfterImage)
		if onAfterImage != nil {
			onAfterImage(le.AfterImage.IntentionPos, pos)
		}
	default:
		return false, errors.Newf("entryservice: unknown entry type at %d", pos)
	}
	return true, nil
}

func (s *Service) dispatchIntention(pos uint64, in *wire.Intention) {
	for _, q := range s.queues {
		if pos >= q.Position() {
			q.Push(PositionedIntention{Pos: pos, Intention: in})
		}
	}
	s.reportQueueDepth()
}

// reportQueueDepth sums every registered queue's backlog into the depth
// gauge. Summing rather than reporting per-queue keeps the metric shape
// stable regardless of how many consumers register.
func (s *Service) reportQueueDepth() {
	var total int
	for _, q := range s.queues {
		total += q.Depth()
	}
	s.metrics.queueDepth.Set(float64(total))
}

// AppendIntention seals and appends an intention, caching it under the
// position the log assigned.
func (s *Service) AppendIntention(in *wire.Intention) (uint64, error) {
	blob := wire.EncodeIntention(in)
	pos, err := s.log.Append(blob)
	if err != nil {
		return 0, errors.Wrap(err, "entryservice: append intention")
	}
	s.cache.InsertIntention(pos, in)
	return pos, nil
}

// AppendAfterImage appends a committed intention's after-image, caching it
// under the position the log assigned.
func (s *Service) AppendAfterImage(ai *wire.AfterImage) (uint64, error) {
	blob := wire.EncodeAfterImage(ai)
	pos, err := s.log.Append(blob)
	if err != nil {
		return 0, errors.Wrap(err, "entryservice: append after-image")
	}
	s.cache.InsertAfterImage(pos, ai)
	return pos, nil
}

// ReadIntentions batch-reads the intentions at addrs, serving cached
// entries and falling back to the log for the rest, in the order
// requested. Used by the transaction processor's conflict check to
// reconstruct the read/write sets of intentions it did not itself produce.
func (s *Service) ReadIntentions(addrs []uint64) ([]PositionedIntention, error) {
	if len(addrs) == 0 {
		return nil, errors.New("entryservice: ReadIntentions requires at least one position")
	}
	byPos := make(map[uint64]*wire.Intention, len(addrs))
	var missing []uint64
	for _, pos := range addrs {
		if in, ok := s.cache.FindIntention(pos); ok {
			byPos[pos] = in
		} else {
			missing = append(missing, pos)
		}
	}

	for _, pos := range missing {
		blob, err := s.log.Read(pos)
		if err != nil {
			return nil, errors.Wrapf(err, "entryservice: read intention at %d", pos)
		}
		le, err := wire.Decode(blob)
		if err != nil {
			return nil, errors.Wrapf(err, "entryservice: decode intention at %d", pos)
		}
		if le.Type != wire.EntryIntention {
			return nil, errors.Newf("entryservice: position %d is not an intention", pos)
		}
		s.cache.InsertIntention(pos, le.Intention)
		byPos[pos] = le.Intention
	}

	out := make([]PositionedIntention, len(addrs))
	for i, pos := range addrs {
		out[i] = PositionedIntention{Pos: pos, Intention: byPos[pos]}
	}
	return out, nil
}

// AfterImage fetches (cache, then log) the after-image at pos. This is the
// method the node store's AfterImageSource interface needs, satisfied
// structurally without entryservice importing the tree package.
func (s *Service) AfterImage(pos uint64) (*wire.AfterImage, error) {
	if ai, ok := s.cache.FindAfterImage(pos); ok {
		return ai, nil
	}
	blob, err := s.log.Read(pos)
	if err != nil {
		return nil, errors.Wrapf(err, "entryservice: read after-image at %d", pos)
	}
	le, err := wire.Decode(blob)
	if err != nil {
		return nil, errors.Wrapf(err, "entryservice: decode after-image at %d", pos)
	}
	if le.Type != wire.EntryAfterImage {
		return nil, errors.Newf("entryservice: position %d is not an after-image", pos)
	}
	s.cache.InsertAfterImage(pos, le.AfterImage)
	return le.AfterImage, nil
}
