package tree

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/illinoisdata/cruzdb/internal/wire"
)

type fakeAfterImageSource struct {
	images map[uint64]*wire.AfterImage
	loads  int
}

func (f *fakeAfterImageSource) AfterImage(pos uint64) (*wire.AfterImage, error) {
	f.loads++
	ai, ok := f.images[pos]
	if !ok {
		return nil, fmt.Errorf("no after-image at %d", pos)
	}
	return ai, nil
}

func sampleAfterImage(pos uint64) *wire.AfterImage {
	return &wire.AfterImage{
		IntentionPos: pos,
		Nodes: []wire.PersistedNode{
			{Slot: 0, Key: []byte("k"), Value: []byte("v"), Left: wire.NilRef, Right: wire.NilRef},
		},
	}
}

func TestNodeStoreResolveLoadsAndCaches(t *testing.T) {
	src := &fakeAfterImageSource{images: map[uint64]*wire.AfterImage{
		10: sampleAfterImage(10),
	}}
	store := NewNodeStore(src, 4)

	n, err := store.Resolve(10, 0)
	require.NoError(t, err)
	require.Equal(t, []byte("k"), n.Key)
	require.Equal(t, 1, src.loads)

	_, err = store.Resolve(10, 0)
	require.NoError(t, err)
	require.Equal(t, 1, src.loads, "second resolve of the same after-image should hit cache")
}

func TestNodeStoreResolveUnknownSlot(t *testing.T) {
	src := &fakeAfterImageSource{images: map[uint64]*wire.AfterImage{
		10: sampleAfterImage(10),
	}}
	store := NewNodeStore(src, 4)

	_, err := store.Resolve(10, 99)
	require.Error(t, err)
}

func TestNodeStoreMetricsCountHitsAndMisses(t *testing.T) {
	src := &fakeAfterImageSource{images: map[uint64]*wire.AfterImage{
		10: sampleAfterImage(10),
	}}
	store := NewNodeStore(src, 4)

	_, err := store.Resolve(10, 0)
	require.NoError(t, err)
	_, err = store.Resolve(10, 0)
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(store.Metrics().storeMisses))
	require.Equal(t, float64(1), testutil.ToFloat64(store.Metrics().storeHits))
}

func TestNodeStoreEvictsLeastRecentlyUsed(t *testing.T) {
	images := map[uint64]*wire.AfterImage{}
	for pos := uint64(1); pos <= 3; pos++ {
		images[pos] = sampleAfterImage(pos)
	}
	src := &fakeAfterImageSource{images: images}
	store := NewNodeStore(src, 2)

	_, err := store.Resolve(1, 0)
	require.NoError(t, err)
	_, err = store.Resolve(2, 0)
	require.NoError(t, err)
	// pos 3 pushes the cache past capacity 2; pos 1 (least recently used)
	// should be evicted.
	_, err = store.Resolve(3, 0)
	require.NoError(t, err)

	loadsBefore := src.loads
	_, err = store.Resolve(1, 0)
	require.NoError(t, err)
	require.Equal(t, loadsBefore+1, src.loads, "evicted after-image should require a reload")
}
