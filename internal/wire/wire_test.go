package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIntentionRoundTrip(t *testing.T) {
	in := &Intention{
		Snapshot: 42,
		Token:    7,
		Ops: []Op{
			{Kind: OpGet, Key: []byte("a")},
			{Kind: OpPut, Key: []byte("a"), Value: []byte("1")},
			{Kind: OpDelete, Key: []byte("b")},
		},
	}
	blob := EncodeIntention(in)
	entry, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, EntryIntention, entry.Type)
	require.Equal(t, in, entry.Intention)
}

func TestAfterImageRoundTrip(t *testing.T) {
	ai := &AfterImage{
		IntentionPos: 99,
		Nodes: []PersistedNode{
			{
				Slot:    0,
				Key:     []byte("k"),
				Value:   []byte("v"),
				Balance: 0,
				Left:    NilRef,
				Right:   NilRef,
			},
			{
				Slot:    1,
				Key:     []byte("m"),
				Value:   []byte("mv"),
				Balance: 1,
				Left:    NodeRef{Kind: RefRemote, Pos: 99, Slot: 0},
				Right:   NodeRef{Kind: RefRemote, Pos: 50, Slot: 3},
			},
		},
	}
	blob := EncodeAfterImage(ai)
	entry, err := Decode(blob)
	require.NoError(t, err)
	require.Equal(t, EntryAfterImage, entry.Type)
	require.Equal(t, ai, entry.AfterImage)
}

func TestDecodeEmptyRejected(t *testing.T) {
	_, err := Decode(nil)
	require.Error(t, err)
}

func TestDecodeUnknownTypeRejected(t *testing.T) {
	_, err := Decode([]byte{0x7f})
	require.Error(t, err)
}
