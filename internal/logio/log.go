// Package logio is the thin contract cruzdb consumes against the shared
// append-only log: append, read-by-position, and tail check. The log
// substrate itself — replication, durability, multi-writer fill protocols —
// is out of scope; this package only defines the interface the rest of
// cruzdb programs against, plus two concrete implementations so the module
// runs standalone: an in-memory log for tests, and a pebble-backed durable
// log grounded on iavlx/cosmosdb.go's use of cosmos-db to persist tree
// nodes, here repurposed to persist raw log entries keyed by position.
package logio

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	dmb "github.com/cosmos/cosmos-db"
)

// ErrNotFound is returned by Read when pos has not yet been written — a
// transient condition on a fresh position (the reader should retry), and a
// fatal one anywhere else (a hole that will never fill in this design).
var ErrNotFound = errors.New("logio: position not found")

// Log is the external collaborator every other cruzdb package depends on.
type Log interface {
	// Append writes blob and returns the position the log assigned it.
	Append(blob []byte) (pos uint64, err error)
	// Read returns the blob at pos, or ErrNotFound if pos is unwritten.
	Read(pos uint64) ([]byte, error)
	// CheckTail returns the first unwritten position.
	CheckTail() (uint64, error)
}

// MemLog is an in-memory Log, used by tests and by scenario replay that
// does not need cross-process durability.
type MemLog struct {
	mu      sync.Mutex
	entries [][]byte
}

func NewMemLog() *MemLog {
	return &MemLog{}
}

func (l *MemLog) Append(blob []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := append([]byte(nil), blob...)
	l.entries = append(l.entries, cp)
	return uint64(len(l.entries) - 1), nil
}

func (l *MemLog) Read(pos uint64) ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if pos >= uint64(len(l.entries)) {
		return nil, ErrNotFound
	}
	return l.entries[pos], nil
}

func (l *MemLog) CheckTail() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return uint64(len(l.entries)), nil
}

// PebbleLog is a durable Log backed by cosmos-db's pebble implementation.
// Positions are encoded as big-endian uint64 keys so pebble's key ordering
// doubles as log position ordering; the tail is tracked as a dedicated
// metadata key updated atomically with every append.
type PebbleLog struct {
	mu   sync.Mutex
	db   dmb.DB
	tail uint64
}

var tailKey = []byte("_cruzdb_tail")

// OpenPebbleLog opens (or creates) a pebble-backed log in dir under the
// database name. Replays the persisted tail key, if any, so Append resumes
// the correct position after a restart.
func OpenPebbleLog(name, dir string) (*PebbleLog, error) {
	db, err := dmb.NewPebbleDB(name, dir, nil)
	if err != nil {
		return nil, errors.Wrap(err, "logio: open pebble")
	}
	l := &PebbleLog{db: db}
	raw, err := db.Get(tailKey)
	if err != nil {
		return nil, errors.Wrap(err, "logio: read tail")
	}
	if raw != nil {
		l.tail = binary.BigEndian.Uint64(raw)
	}
	return l, nil
}

func posKey(pos uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], pos)
	return b[:]
}

func (l *PebbleLog) Append(blob []byte) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos := l.tail
	batch := l.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(posKey(pos), blob); err != nil {
		return 0, errors.Wrap(err, "logio: batch set entry")
	}
	var tailBuf [8]byte
	binary.BigEndian.PutUint64(tailBuf[:], pos+1)
	if err := batch.Set(tailKey, tailBuf[:]); err != nil {
		return 0, errors.Wrap(err, "logio: batch set tail")
	}
	if err := batch.WriteSync(); err != nil {
		return 0, errors.Wrap(err, "logio: append")
	}
	l.tail = pos + 1
	return pos, nil
}

func (l *PebbleLog) Read(pos uint64) ([]byte, error) {
	blob, err := l.db.Get(posKey(pos))
	if err != nil {
		return nil, errors.Wrap(err, "logio: read")
	}
	if blob == nil {
		return nil, ErrNotFound
	}
	return blob, nil
}

func (l *PebbleLog) CheckTail() (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.tail, nil
}

func (l *PebbleLog) Close() error {
	return l.db.Close()
}

var (
	_ Log = (*MemLog)(nil)
	_ Log = (*PebbleLog)(nil)
)
