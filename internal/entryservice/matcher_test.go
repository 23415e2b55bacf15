package entryservice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMatcherWatchThenPush(t *testing.T) {
	m := NewAfterImageMatcher[string]()
	m.Watch(10, "payload-10")
	m.Push(10, 11)

	select {
	case matched := <-m.Drain():
		require.Equal(t, "payload-10", matched.Payload)
		require.Equal(t, uint64(11), matched.AfterImagePos)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for match")
	}
}

func TestMatcherPushThenWatch(t *testing.T) {
	m := NewAfterImageMatcher[string]()
	m.Push(10, 11)
	m.Watch(10, "payload-10")

	select {
	case matched := <-m.Drain():
		require.Equal(t, "payload-10", matched.Payload)
		require.Equal(t, uint64(11), matched.AfterImagePos)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for match")
	}
}

func TestMatcherGCAdvancesWatermarkOnlyContiguously(t *testing.T) {
	m := NewAfterImageMatcher[string]()

	// intention 20 matches immediately; intention 10 stays unmatched
	// (only Watch arrived so far), so the watermark must not skip past it.
	m.Watch(10, "payload-10")
	m.Watch(20, "payload-20")
	m.Push(20, 21)

	select {
	case matched := <-m.Drain():
		require.Equal(t, "payload-20", matched.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for match")
	}

	require.Equal(t, uint64(0), m.watermark, "watermark must not advance past the still-unmatched lower position")

	m.Push(10, 11)
	select {
	case matched := <-m.Drain():
		require.Equal(t, "payload-10", matched.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for match")
	}
	require.Equal(t, uint64(20), m.watermark)
}

func TestMatcherShutdownClosesDrain(t *testing.T) {
	m := NewAfterImageMatcher[int]()
	m.Shutdown()

	_, ok := <-m.Drain()
	require.False(t, ok)
}
