package txn

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/illinoisdata/cruzdb/internal/entryservice"
	"github.com/illinoisdata/cruzdb/internal/tree"
	"github.com/illinoisdata/cruzdb/internal/wire"
)

// ErrConflict is delivered to a local transaction whose read set intersects
// an intervening intention's write set.
var ErrConflict = errors.New("txn: conflicting intention")

// Outcome is the verdict delivered to a local transaction's commit call.
type Outcome struct {
	Committed     bool
	CommitPos     uint64
	AfterImagePos uint64
	Err           error
}

// commitWaiter is the payload a local transaction registers with the
// processor before its intention is appended: its already-built private
// tree (so the processor's local fast-path skips re-applying writes) and
// the channel its Commit call blocks on.
type commitWaiter struct {
	tree      *tree.Tree
	sets      ReadWriteSet
	commitPos uint64
	done      chan Outcome
}

// commitRecord is one committed intention's write set, retained so later
// conflict checks can consult it without re-reading the log.
type commitRecord struct {
	pos    uint64
	writes map[string]struct{}
}

// Processor is the single consumer of an intention queue: it validates
// each intention in log order, applies committed writes, and publishes the
// new committed root, generalizing transaction_impl.cc's
// `db_->CompleteTransaction` call shape (invoked from `TransactionImpl::Commit`)
// into the actual validate/apply/append loop the source's CompleteTransaction
// itself is not shown performing.
type Processor struct {
	svc     *entryservice.Service
	store   *tree.NodeStore
	matcher *entryservice.AfterImageMatcher[*commitWaiter]
	queue   *entryservice.IntentionQueue
	logger  zerolog.Logger
	metrics *Metrics

	mu            sync.Mutex
	locals        map[uint64]*commitWaiter
	history       []commitRecord
	committedRoot tree.NodePtr
	committedPos  uint64
	fatal         error
}

// NewProcessor opens a processor consuming intentions from startPos,
// validating against root as the initially committed root. The after-image
// matcher is owned internally: commitWaiter is unexported, so no caller
// outside this package could name entryservice.AfterImageMatcher[*commitWaiter]
// to construct one itself. Run must be started (in its own goroutine)
// alongside svc.Run(ctx, startPos, proc.ObserveAfterImage) and DrainMatches.
func NewProcessor(
	svc *entryservice.Service,
	store *tree.NodeStore,
	startPos uint64,
	root tree.NodePtr,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		svc:           svc,
		store:         store,
		matcher:       entryservice.NewAfterImageMatcher[*commitWaiter](),
		queue:         svc.NewIntentionQueue(startPos),
		logger:        logger,
		metrics:       newMetrics("cruzdb"),
		locals:        make(map[uint64]*commitWaiter),
		committedRoot: root,
		committedPos:  startPos,
	}
}

// Metrics exposes the processor's private Prometheus registry so callers
// can fold it into a larger /metrics endpoint.
func (p *Processor) Metrics() *Metrics { return p.metrics }

// ObserveAfterImage satisfies entryservice.AfterImageObserver, feeding the
// tail reader's after-image sightings into this processor's matcher. Pass
// it directly as svc.Run's onAfterImage argument.
func (p *Processor) ObserveAfterImage(intentionPos, afterImagePos uint64) {
	p.matcher.Push(intentionPos, afterImagePos)
}

// CommittedSnapshot returns the current committed root and its log position.
func (p *Processor) CommittedSnapshot() (tree.NodePtr, uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.committedRoot, p.committedPos
}

// Err returns the error that poisoned this processor, if any.
func (p *Processor) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fatal
}

// RegisterLocal registers tr as the private tree produced by a local
// transaction under token, returning the channel its commit verdict will
// arrive on. Must be called before the intention is appended to the log,
// so the processor can never consume it before the registration exists.
func (p *Processor) RegisterLocal(token uint64, tr *tree.Tree, sets ReadWriteSet) <-chan Outcome {
	done := make(chan Outcome, 1)
	p.mu.Lock()
	p.locals[token] = &commitWaiter{tree: tr, sets: sets, done: done}
	p.mu.Unlock()
	return done
}

// PrimeHistory backfills the processor's conflict-detection history with
// intentions committed before this instance began consuming its queue,
// fetched via the entry service's batch read (entry_service.cc's
// ReadIntentions) — needed so that a transaction whose snapshot predates a
// restart is still validated correctly against intentions this processor
// instance never itself dispatched.
func (p *Processor) PrimeHistory(seedPositions []uint64) error {
	if len(seedPositions) == 0 {
		return nil
	}
	fetched, err := p.svc.ReadIntentions(seedPositions)
	if err != nil {
		return errors.Wrap(err, "txn: prime history")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, pi := range fetched {
		sets := DeriveSets(pi.Intention.Ops)
		p.history = append(p.history, commitRecord{pos: pi.Pos, writes: sets.Writes})
	}
	return nil
}

// Run consumes intentions until ctx is cancelled or a fatal error poisons
// the processor.
func (p *Processor) Run(ctx context.Context) error {
	for {
		pi, ok := p.queue.Wait(ctx)
		if !ok {
			return ctx.Err()
		}
		if err := p.handle(pi); err != nil {
			p.poison(err)
			return err
		}
	}
}

// DrainMatches delivers completed after-image matches to their waiting
// local transactions. Run it in its own goroutine alongside Run.
func (p *Processor) DrainMatches() {
	for m := range p.matcher.Drain() {
		p.metrics.afterImagesMatched.Inc()
		if m.Payload == nil {
			continue
		}
		m.Payload.done <- Outcome{
			Committed:     true,
			CommitPos:     m.Payload.commitPos,
			AfterImagePos: m.AfterImagePos,
		}
	}
}

// Stop unblocks Run and DrainMatches permanently.
func (p *Processor) Stop() {
	p.queue.Stop()
	p.matcher.Shutdown()
}

func (p *Processor) poison(err error) {
	p.mu.Lock()
	if p.fatal == nil {
		p.fatal = err
	}
	p.mu.Unlock()
	p.logger.Error().Err(err).Msg("txn: processor poisoned")
}

func (p *Processor) handle(pi entryservice.PositionedIntention) error {
	in := pi.Intention
	p.metrics.intentionsProcessed.Inc()

	p.mu.Lock()
	waiter, isLocal := p.locals[in.Token]
	if isLocal {
		delete(p.locals, in.Token)
	}
	root := p.committedRoot
	p.mu.Unlock()

	var sets ReadWriteSet
	if isLocal {
		sets = waiter.sets
	} else {
		sets = DeriveSets(in.Ops)
	}

	if p.conflicts(in.Snapshot, pi.Pos, sets.Reads) {
		p.metrics.conflictsDetected.Inc()
		if isLocal {
			waiter.done <- Outcome{Committed: false, Err: ErrConflict}
		}
		return nil
	}

	var tr *tree.Tree
	if isLocal {
		tr = waiter.tree
	} else {
		var err error
		tr, err = applyForeign(root, p.store, in)
		if err != nil {
			return errors.Wrapf(err, "txn: apply foreign intention at %d", pi.Pos)
		}
	}

	tr.Stamp(int64(pi.Pos))
	delta := tr.Delta()
	if len(delta) == 0 {
		return errors.Newf("txn: committed intention at %d produced no nodes", pi.Pos)
	}

	// Publish the new committed root before watching/appending: Watch can
	// unblock a waiter's Commit the instant Push observes the after-image
	// this call is about to write, and that waiter's very next Begin must
	// already see this intention's effect.
	p.mu.Lock()
	p.history = append(p.history, commitRecord{pos: pi.Pos, writes: sets.Writes})
	p.committedRoot = tr.Root()
	p.committedPos = pi.Pos
	p.mu.Unlock()

	var payload *commitWaiter
	if isLocal {
		waiter.commitPos = pi.Pos
		payload = waiter
	}
	p.matcher.Watch(pi.Pos, payload)

	ai := tree.EncodeDelta(pi.Pos, delta)
	if _, err := p.svc.AppendAfterImage(ai); err != nil {
		return errors.Wrapf(err, "txn: append after-image for intention at %d", pi.Pos)
	}
	return nil
}

// applyForeign reconstructs the tree effect of an intention this process
// did not produce, by replaying its writes against the current committed
// root rather than against the intention's own, possibly stale, snapshot.
func applyForeign(root tree.NodePtr, store *tree.NodeStore, in *wire.Intention) (*tree.Tree, error) {
	tr := tree.New(root, store, -1)
	for _, op := range in.Ops {
		var err error
		switch op.Kind {
		case wire.OpPut:
			err = tr.Put(op.Key, op.Value)
		case wire.OpDelete:
			err = tr.Delete(op.Key)
		}
		if err != nil {
			return nil, err
		}
	}
	return tr, nil
}

// conflicts reports whether any retained committed intention with position
// in (snapshot, pos) wrote a key this intention read.
func (p *Processor) conflicts(snapshot, pos uint64, reads map[string]struct{}) bool {
	if len(reads) == 0 {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range p.history {
		if rec.pos > snapshot && rec.pos < pos && conflictsWith(reads, rec.writes) {
			return true
		}
	}
	return false
}
