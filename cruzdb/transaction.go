package cruzdb

import (
	"github.com/cockroachdb/errors"

	"github.com/illinoisdata/cruzdb/internal/tree"
	"github.com/illinoisdata/cruzdb/internal/txn"
	"github.com/illinoisdata/cruzdb/internal/wire"
)

// ErrConflict is returned by Commit when the transaction's read set
// intersected an intervening intention's write set.
var ErrConflict = txn.ErrConflict

// Txn is a snapshot-isolated transaction: a façade over a private tree and
// the ordered operation list that becomes its intention at commit,
// generalizing transaction_impl.cc's TransactionImpl.
type Txn struct {
	db       *DB
	tree     *tree.Tree
	snapshot uint64
	token    uint64
	ops      []wire.Op
	done     bool
}

// Get resolves key against this transaction's snapshot, recording the read
// in its intention regardless of whether key was found, matching the
// source's unconditional recording.
func (tx *Txn) Get(key []byte) ([]byte, bool, error) {
	if tx.done {
		return nil, false, errors.New("cruzdb: transaction already completed")
	}
	value, ok, err := tx.tree.Get(key)
	if err != nil {
		return nil, false, err
	}
	tx.ops = append(tx.ops, wire.Op{Kind: wire.OpGet, Key: key})
	return value, ok, nil
}

// Put inserts or updates key within this transaction's private tree.
func (tx *Txn) Put(key, value []byte) error {
	if tx.done {
		return errors.New("cruzdb: transaction already completed")
	}
	if err := tx.tree.Put(key, value); err != nil {
		return err
	}
	tx.ops = append(tx.ops, wire.Op{Kind: wire.OpPut, Key: key, Value: value})
	return nil
}

// Delete removes key within this transaction's private tree, tolerant of an
// absent key.
func (tx *Txn) Delete(key []byte) error {
	if tx.done {
		return errors.New("cruzdb: transaction already completed")
	}
	if err := tx.tree.Delete(key); err != nil {
		return err
	}
	tx.ops = append(tx.ops, wire.Op{Kind: wire.OpDelete, Key: key})
	return nil
}

// Commit seals this transaction's intention and waits for the processor's
// verdict. A transaction that produced no writes (ReadOnly) short-circuits
// without ever touching the log, per transaction_impl.cc's
// `if (tree_->ReadOnly()) return true;`.
func (tx *Txn) Commit() error {
	if tx.done {
		return errors.New("cruzdb: transaction already completed")
	}
	tx.done = true

	if err := tx.db.Err(); err != nil {
		return err
	}

	if tx.tree.ReadOnly() {
		return nil
	}

	sets := txn.DeriveSets(tx.ops)
	outcomeCh := tx.db.proc.RegisterLocal(tx.token, tx.tree, sets)

	if _, err := tx.db.svc.AppendIntention(&wire.Intention{
		Snapshot: tx.snapshot,
		Token:    tx.token,
		Ops:      tx.ops,
	}); err != nil {
		return errors.Wrap(err, "cruzdb: append intention")
	}

	outcome := <-outcomeCh
	return outcome.Err
}

// Rollback discards this transaction's private tree without committing
// anything. Safe to call on an already-committed transaction as a no-op.
func (tx *Txn) Rollback() {
	tx.done = true
}
