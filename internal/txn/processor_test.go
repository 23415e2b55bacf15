package txn

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/illinoisdata/cruzdb/internal/entryservice"
	"github.com/illinoisdata/cruzdb/internal/logio"
	"github.com/illinoisdata/cruzdb/internal/tree"
	"github.com/illinoisdata/cruzdb/internal/wire"
)

// harness wires a processor against a fresh in-memory log, running its
// consume loop and after-image matcher in the background for the lifetime
// of a test.
type harness struct {
	svc   *entryservice.Service
	store *tree.NodeStore
	proc  *Processor
	stop  func()
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	log := logio.NewMemLog()
	svc := entryservice.New(log, 16, zerolog.Nop())
	store := tree.NewNodeStore(svc, 16)
	proc := NewProcessor(svc, store, 0, tree.Nil, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go svc.Run(ctx, 0, proc.ObserveAfterImage)
	go proc.Run(ctx)
	go proc.DrainMatches()

	h := &harness{svc: svc, store: store, proc: proc}
	h.stop = func() {
		cancel()
		proc.Stop()
	}
	t.Cleanup(h.stop)
	return h
}

func (h *harness) commitLocal(t *testing.T, token, snapshot uint64, ops []wire.Op) Outcome {
	t.Helper()
	root, _ := h.proc.CommittedSnapshot()
	tr := tree.New(root, h.store, -1)
	for _, op := range ops {
		switch op.Kind {
		case wire.OpGet:
			_, _, err := tr.Get(op.Key)
			require.NoError(t, err)
		case wire.OpPut:
			require.NoError(t, tr.Put(op.Key, op.Value))
		case wire.OpDelete:
			require.NoError(t, tr.Delete(op.Key))
		}
	}

	done := h.proc.RegisterLocal(token, tr, DeriveSets(ops))
	_, err := h.svc.AppendIntention(&wire.Intention{Snapshot: snapshot, Token: token, Ops: ops})
	require.NoError(t, err)

	select {
	case outcome := <-done:
		return outcome
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for commit outcome")
		return Outcome{}
	}
}

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestProcessorLocalCommit(t *testing.T) {
	h := newHarness(t)
	outcome := h.commitLocal(t, 1, 0, []wire.Op{{Kind: wire.OpPut, Key: []byte("a"), Value: []byte("1")}})
	require.True(t, outcome.Committed)
	require.NoError(t, outcome.Err)

	root, pos := h.proc.CommittedSnapshot()
	require.Equal(t, outcome.CommitPos, pos)
	reader := tree.New(root, h.store, int64(pos))
	val, ok, err := reader.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), val)
}

func TestProcessorForeignIntentionApplied(t *testing.T) {
	h := newHarness(t)

	// Appended directly, with no matching local registration: the processor
	// must reconstruct it by replaying writes against the committed root.
	pos, err := h.svc.AppendIntention(&wire.Intention{
		Snapshot: 0,
		Token:    99,
		Ops:      []wire.Op{{Kind: wire.OpPut, Key: []byte("foreign"), Value: []byte("x")}},
	})
	require.NoError(t, err)

	waitUntil(t, func() bool {
		root, committedPos := h.proc.CommittedSnapshot()
		return committedPos >= pos && root.Kind != tree.PtrNil
	})

	root, committedPos := h.proc.CommittedSnapshot()
	reader := tree.New(root, h.store, int64(committedPos))
	val, ok, err := reader.Get([]byte("foreign"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("x"), val)
}

func TestProcessorWriteWriteConflictAborts(t *testing.T) {
	h := newHarness(t)

	rmw := func(key, value string) []wire.Op {
		return []wire.Op{
			{Kind: wire.OpGet, Key: []byte(key)},
			{Kind: wire.OpPut, Key: []byte(key), Value: []byte(value)},
		}
	}

	first := h.commitLocal(t, 1, 0, rmw("x", "1"))
	require.True(t, first.Committed)

	second := h.commitLocal(t, 2, 0, rmw("x", "2"))
	require.False(t, second.Committed)
	require.ErrorIs(t, second.Err, ErrConflict)
}

func TestProcessorMetricsCountProcessedAndConflicts(t *testing.T) {
	h := newHarness(t)

	rmw := func(key, value string) []wire.Op {
		return []wire.Op{
			{Kind: wire.OpGet, Key: []byte(key)},
			{Kind: wire.OpPut, Key: []byte(key), Value: []byte(value)},
		}
	}

	first := h.commitLocal(t, 1, 0, rmw("x", "1"))
	require.True(t, first.Committed)

	second := h.commitLocal(t, 2, 0, rmw("x", "2"))
	require.False(t, second.Committed)

	require.Equal(t, float64(2), testutil.ToFloat64(h.proc.metrics.intentionsProcessed))
	require.Equal(t, float64(1), testutil.ToFloat64(h.proc.metrics.conflictsDetected))
	require.Equal(t, float64(1), testutil.ToFloat64(h.proc.metrics.afterImagesMatched))
}

func TestProcessorReadWriteConflictAborts(t *testing.T) {
	h := newHarness(t)

	// T2 writes x and commits first (it never read anything, so it cannot
	// itself conflict). T1's snapshot predates T2; once T1 tries to commit a
	// write after having read x, it must abort.
	t2 := h.commitLocal(t, 2, 0, []wire.Op{{Kind: wire.OpPut, Key: []byte("x"), Value: []byte("from-t2")}})
	require.True(t, t2.Committed)

	t1Ops := []wire.Op{
		{Kind: wire.OpGet, Key: []byte("x")},
		{Kind: wire.OpPut, Key: []byte("y"), Value: []byte("from-t1")},
	}
	t1 := h.commitLocal(t, 1, 0, t1Ops)
	require.False(t, t1.Committed)
	require.ErrorIs(t, t1.Err, ErrConflict)
}

func TestProcessorDisjointWritesBothCommit(t *testing.T) {
	h := newHarness(t)

	first := h.commitLocal(t, 1, 0, []wire.Op{
		{Kind: wire.OpGet, Key: []byte("x")},
		{Kind: wire.OpPut, Key: []byte("x"), Value: []byte("1")},
	})
	require.True(t, first.Committed)

	second := h.commitLocal(t, 2, 0, []wire.Op{
		{Kind: wire.OpGet, Key: []byte("y")},
		{Kind: wire.OpPut, Key: []byte("y"), Value: []byte("2")},
	})
	require.True(t, second.Committed)

	root, pos := h.proc.CommittedSnapshot()
	reader := tree.New(root, h.store, int64(pos))
	vx, ok, err := reader.Get([]byte("x"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), vx)

	vy, ok, err := reader.Get([]byte("y"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("2"), vy)
}

func TestProcessorPrimeHistoryBackfillsConflictWindow(t *testing.T) {
	log := logio.NewMemLog()
	svc := entryservice.New(log, 16, zerolog.Nop())
	store := tree.NewNodeStore(svc, 16)

	seedPos, err := svc.AppendIntention(&wire.Intention{
		Snapshot: 0,
		Token:    7,
		Ops:      []wire.Op{{Kind: wire.OpPut, Key: []byte("x"), Value: []byte("seed")}},
	})
	require.NoError(t, err)

	proc := NewProcessor(svc, store, seedPos+1, tree.Nil, zerolog.Nop())
	require.NoError(t, proc.PrimeHistory([]uint64{seedPos}))

	require.Len(t, proc.history, 1)
	require.Equal(t, seedPos, proc.history[0].pos)
	_, wrote := proc.history[0].writes["x"]
	require.True(t, wrote)
}

func TestProcessorEmptyDeltaPoisonsProcessor(t *testing.T) {
	h := newHarness(t)

	// An intention with no operations produces a read-only tree with an
	// empty delta, which the processor treats as a fatal inconsistency: a
	// committed log entry must have produced something to persist.
	tr := tree.New(tree.Nil, h.store, -1)
	done := h.proc.RegisterLocal(42, tr, DeriveSets(nil))
	_, err := h.svc.AppendIntention(&wire.Intention{Snapshot: 0, Token: 42})
	require.NoError(t, err)

	select {
	case <-done:
		t.Fatal("no outcome should be delivered on the fatal path")
	case <-time.After(100 * time.Millisecond):
	}

	waitUntil(t, func() bool { return h.proc.Err() != nil })
}
