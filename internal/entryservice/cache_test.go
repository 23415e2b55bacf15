package entryservice

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/illinoisdata/cruzdb/internal/wire"
)

func TestEntryCacheFindMiss(t *testing.T) {
	c := NewEntryCache(4)
	_, ok := c.FindIntention(1)
	require.False(t, ok)
	_, ok = c.FindAfterImage(1)
	require.False(t, ok)
}

func TestEntryCacheInsertAndFind(t *testing.T) {
	c := NewEntryCache(4)
	in := &wire.Intention{Snapshot: 1, Token: 2}
	ai := &wire.AfterImage{IntentionPos: 3}

	c.InsertIntention(10, in)
	c.InsertAfterImage(11, ai)

	got, ok := c.FindIntention(10)
	require.True(t, ok)
	require.Same(t, in, got)

	gotAI, ok := c.FindAfterImage(11)
	require.True(t, ok)
	require.Same(t, ai, gotAI)
}

func TestEntryCacheEvictsOldestPastCapacity(t *testing.T) {
	c := NewEntryCache(2)
	c.InsertIntention(1, &wire.Intention{Snapshot: 1})
	c.InsertIntention(2, &wire.Intention{Snapshot: 2})
	c.InsertIntention(3, &wire.Intention{Snapshot: 3})

	_, ok := c.FindIntention(1)
	require.False(t, ok, "oldest entry should have been evicted")

	_, ok = c.FindIntention(2)
	require.True(t, ok)
	_, ok = c.FindIntention(3)
	require.True(t, ok)
}
