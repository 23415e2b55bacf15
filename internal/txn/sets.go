// Package txn implements the transaction processor: the single consumer of
// an entry service's intention queue that performs serializable-snapshot
// conflict detection, applies committed writes to the tree, and appends
// the resulting after-images. The C++ pack ships no source file for this
// loop (entry_service.cc and transaction_impl.cc are the only two
// provided); its shape is built directly from the commit protocol those two
// files imply, using iavlx/commit.go's apply-then-seal two-phase CommitTree
// structure as its idiom.
package txn

import "github.com/illinoisdata/cruzdb/internal/wire"

// ReadWriteSet is the read set / write set pair an intention's operations
// project: Get and Delete both count as reads; Put and Delete both count
// as writes. A pure Put does not read.
type ReadWriteSet struct {
	Reads  map[string]struct{}
	Writes map[string]struct{}
}

// DeriveSets computes the read and write sets of an ordered operation list.
// Conflict detection considers only the first observation of a key, but
// since set membership is idempotent this falls out for free.
func DeriveSets(ops []wire.Op) ReadWriteSet {
	sets := ReadWriteSet{Reads: make(map[string]struct{}), Writes: make(map[string]struct{})}
	for _, op := range ops {
		switch op.Kind {
		case wire.OpGet:
			sets.Reads[string(op.Key)] = struct{}{}
		case wire.OpDelete:
			sets.Reads[string(op.Key)] = struct{}{}
			sets.Writes[string(op.Key)] = struct{}{}
		case wire.OpPut:
			sets.Writes[string(op.Key)] = struct{}{}
		}
	}
	return sets
}

// conflictsWith reports whether reads and writes share any key.
func conflictsWith(reads, writes map[string]struct{}) bool {
	small, big := reads, writes
	if len(writes) < len(reads) {
		small, big = writes, reads
	}
	for k := range small {
		if _, ok := big[k]; ok {
			return true
		}
	}
	return false
}
