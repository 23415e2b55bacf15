// Package cruzdb is the client-facing handle over the transactional core:
// a log-structured, multi-version key-value store whose durable medium is
// an append-only shared log. Open wires the entry service, node store, and
// transaction processor together and starts their background loops; Begin
// opens a snapshot-isolated transaction against the latest committed root.
package cruzdb

import (
	"context"
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"github.com/illinoisdata/cruzdb/internal/entryservice"
	"github.com/illinoisdata/cruzdb/internal/logio"
	"github.com/illinoisdata/cruzdb/internal/tree"
	"github.com/illinoisdata/cruzdb/internal/txn"
)

// newToken mints a transaction token identifying "my own intentions" to the
// processor's local fast-path, derived from a random UUID rather than a
// per-process counter so tokens stay unique across restarts and concurrent
// DB handles over the same log.
func newToken() uint64 {
	id := uuid.New()
	return binary.BigEndian.Uint64(id[:8])
}

// DB is a handle over one cruzdb instance. Safe for concurrent use; each
// Begin call opens an independent transaction.
type DB struct {
	svc   *entryservice.Service
	store *tree.NodeStore
	proc  *txn.Processor

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	fatal  error
	closed bool
}

// Open starts a DB consuming the given log from startPos (0 for a fresh
// log). startPos should be the position immediately after the last
// after-image this process observed before a restart; WithHistorySeed lets
// the conflict-detection window reach further back than that.
func Open(log logio.Log, startPos uint64, opts ...Option) (*DB, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	svc := entryservice.New(log, o.entryCacheSize, o.logger)
	store := tree.NewNodeStore(svc, o.nodeStoreCapacity)
	proc := txn.NewProcessor(svc, store, startPos, tree.Nil, o.logger)

	if len(o.historySeed) > 0 {
		if err := proc.PrimeHistory(o.historySeed); err != nil {
			return nil, errors.Wrap(err, "cruzdb: prime history")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	db := &DB{svc: svc, store: store, proc: proc, cancel: cancel}

	db.wg.Add(3)
	go func() {
		defer db.wg.Done()
		if err := svc.Run(ctx, startPos, proc.ObserveAfterImage); err != nil && !errors.Is(err, context.Canceled) {
			db.poison(err)
		}
	}()
	go func() {
		defer db.wg.Done()
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			db.poison(err)
		}
	}()
	go func() {
		defer db.wg.Done()
		proc.DrainMatches()
	}()

	return db, nil
}

// Begin opens a new snapshot-isolated transaction against the database's
// current committed root.
func (db *DB) Begin() (*Txn, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.fatal != nil {
		return nil, db.fatal
	}
	if db.closed {
		return nil, errors.New("cruzdb: db is closed")
	}

	root, snapshot := db.proc.CommittedSnapshot()
	return &Txn{
		db:       db,
		tree:     tree.New(root, db.store, -1),
		snapshot: snapshot,
		token:    newToken(),
	}, nil
}

// Err returns the error that poisoned this database, if any: a fatal I/O
// error poisons the handle and every subsequent Begin/Commit is rejected
// with it.
func (db *DB) Err() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.fatal != nil {
		return db.fatal
	}
	return db.proc.Err()
}

// Close stops every background worker and releases the database handle.
func (db *DB) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	db.cancel()
	db.svc.Stop()
	db.proc.Stop()
	db.wg.Wait()
	return nil
}

func (db *DB) poison(err error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.fatal == nil {
		db.fatal = err
	}
}
