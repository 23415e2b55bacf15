package entryservice

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/illinoisdata/cruzdb/internal/wire"
)

func TestIntentionQueuePushThenWait(t *testing.T) {
	q := NewIntentionQueue(0)
	q.Push(PositionedIntention{Pos: 0, Intention: &wire.Intention{Snapshot: 1}})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	pi, ok := q.Wait(ctx)
	require.True(t, ok)
	require.Equal(t, uint64(0), pi.Pos)
	require.Equal(t, uint64(1), q.Position())
}

func TestIntentionQueueWaitThenPush(t *testing.T) {
	q := NewIntentionQueue(5)
	done := make(chan PositionedIntention, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		pi, ok := q.Wait(ctx)
		require.True(t, ok)
		done <- pi
	}()

	time.Sleep(20 * time.Millisecond)
	q.Push(PositionedIntention{Pos: 5, Intention: &wire.Intention{Snapshot: 9}})

	select {
	case pi := <-done:
		require.Equal(t, uint64(5), pi.Pos)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for pushed intention")
	}
}

func TestIntentionQueueDropsBelowCursor(t *testing.T) {
	q := NewIntentionQueue(10)
	q.Push(PositionedIntention{Pos: 3, Intention: &wire.Intention{Snapshot: 1}})
	require.Equal(t, uint64(10), q.Position())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, ok := q.Wait(ctx)
	require.False(t, ok, "a position below the queue's cursor must not be delivered")
}

func TestIntentionQueueStopUnblocksWait(t *testing.T) {
	q := NewIntentionQueue(0)
	done := make(chan bool, 1)
	go func() {
		ctx := context.Background()
		_, ok := q.Wait(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Stop()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Stop did not unblock Wait")
	}
}

func TestIntentionQueueContextCancelUnblocksWait(t *testing.T) {
	q := NewIntentionQueue(0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool, 1)
	go func() {
		_, ok := q.Wait(ctx)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("context cancellation did not unblock Wait")
	}
}
