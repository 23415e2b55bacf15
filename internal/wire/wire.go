// Package wire implements the on-log byte encoding for cruzdb's two log
// entry kinds: intentions and after-images. The framing is a hand-rolled
// length-prefixed varint format in the style of iavlx's encodeNode/decodeNode
// and WALWriter.writeUpdate, rather than a generated schema — cruzdb
// deliberately keeps schema compilation out of scope but still needs
// a concrete, round-trippable wire format to exist.
package wire

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/cockroachdb/errors"
)

// EntryType tags a log entry as carrying an Intention or an AfterImage.
type EntryType byte

const (
	EntryIntention EntryType = iota
	EntryAfterImage
)

// OpKind tags a single operation recorded inside an Intention.
type OpKind byte

const (
	OpGet OpKind = iota
	OpPut
	OpDelete
)

// Op is one operation issued by a transaction, in issue order.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte // only meaningful for OpPut
}

// Intention is the wire form of a sealed transaction: its snapshot
// position, its client token, and its ordered operation list.
type Intention struct {
	Snapshot uint64
	Token    uint64
	Ops      []Op
}

// RefKind tags a child pointer persisted inside an after-image: either the
// logical null leaf, or a reference to a node that lives inside some
// earlier after-image.
type RefKind byte

const (
	RefNil RefKind = iota
	RefRemote
)

// NodeRef is a persisted child pointer. Resident pointers are never
// serialized: by the time a node is written into an after-image, every
// resident descendant has itself already been assigned a slot in this same
// after-image (if new) or resolves to RefRemote (if it was reachable from
// an earlier root).
type NodeRef struct {
	Kind RefKind
	Pos  uint64 // intention log position, if Kind == RefRemote
	Slot uint32 // slot within that after-image, if Kind == RefRemote
}

var NilRef = NodeRef{Kind: RefNil}

// PersistedNode is one node serialized inside an after-image. Every node —
// not just leaves — carries its own key and value.
type PersistedNode struct {
	Slot    uint32
	Key     []byte
	Value   []byte
	Balance int8 // subtree height, AVL-style
	Left    NodeRef
	Right   NodeRef
}

// AfterImage is the wire form of the nodes a committed intention produced.
type AfterImage struct {
	IntentionPos uint64
	Nodes        []PersistedNode
}

// LogEntry is the tagged union persisted at every log position.
type LogEntry struct {
	Type       EntryType
	Intention  *Intention
	AfterImage *AfterImage
}

// EncodeIntention serializes an intention for IntentionAppend.
func EncodeIntention(in *Intention) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(EntryIntention))
	putUvarint(&buf, in.Snapshot)
	putUvarint(&buf, in.Token)
	putUvarint(&buf, uint64(len(in.Ops)))
	for _, op := range in.Ops {
		buf.WriteByte(byte(op.Kind))
		putBytes(&buf, op.Key)
		if op.Kind == OpPut {
			putBytes(&buf, op.Value)
		}
	}
	return buf.Bytes()
}

// EncodeAfterImage serializes an after-image for AfterImageAppend.
func EncodeAfterImage(ai *AfterImage) []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(EntryAfterImage))
	putUvarint(&buf, ai.IntentionPos)
	putUvarint(&buf, uint64(len(ai.Nodes)))
	for _, n := range ai.Nodes {
		putUvarint(&buf, uint64(n.Slot))
		putBytes(&buf, n.Key)
		buf.WriteByte(byte(n.Balance))
		putRef(&buf, n.Left)
		putRef(&buf, n.Right)
		putBytes(&buf, n.Value)
	}
	return buf.Bytes()
}

// Decode parses a tagged log entry blob, dispatching on its leading type
// byte, mirroring entry_service.cc's switch over cruzdb_proto::LogEntry::type.
func Decode(blob []byte) (*LogEntry, error) {
	if len(blob) == 0 {
		return nil, errors.New("wire: empty entry")
	}
	r := bytes.NewReader(blob)
	tagByte, err := r.ReadByte()
	if err != nil {
		return nil, errors.Wrap(err, "wire: read tag")
	}
	switch EntryType(tagByte) {
	case EntryIntention:
		in, err := decodeIntention(r)
		if err != nil {
			return nil, errors.Wrap(err, "wire: decode intention")
		}
		return &LogEntry{Type: EntryIntention, Intention: in}, nil
	case EntryAfterImage:
		ai, err := decodeAfterImage(r)
		if err != nil {
			return nil, errors.Wrap(err, "wire: decode after-image")
		}
		return &LogEntry{Type: EntryAfterImage, AfterImage: ai}, nil
	default:
		return nil, errors.Newf("wire: unknown entry type %d", tagByte)
	}
}

func decodeIntention(r *bytes.Reader) (*Intention, error) {
	snapshot, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	token, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	var ops []Op
	if n > 0 {
		ops = make([]Op, 0, n)
	}
	for i := uint64(0); i < n; i++ {
		kindByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		kind := OpKind(kindByte)
		key, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		op := Op{Kind: kind, Key: key}
		if kind == OpPut {
			value, err := getBytes(r)
			if err != nil {
				return nil, err
			}
			op.Value = value
		}
		ops = append(ops, op)
	}
	return &Intention{Snapshot: snapshot, Token: token, Ops: ops}, nil
}

func decodeAfterImage(r *bytes.Reader) (*AfterImage, error) {
	pos, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	nodes := make([]PersistedNode, 0, n)
	for i := uint64(0); i < n; i++ {
		slot, err := binary.ReadUvarint(r)
		if err != nil {
			return nil, err
		}
		key, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		balByte, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		left, err := getRef(r)
		if err != nil {
			return nil, err
		}
		right, err := getRef(r)
		if err != nil {
			return nil, err
		}
		value, err := getBytes(r)
		if err != nil {
			return nil, err
		}
		node := PersistedNode{
			Slot:    uint32(slot),
			Key:     key,
			Value:   value,
			Balance: int8(balByte),
			Left:    left,
			Right:   right,
		}
		nodes = append(nodes, node)
	}
	return &AfterImage{IntentionPos: pos, Nodes: nodes}, nil
}

func putUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func putBytes(buf *bytes.Buffer, b []byte) {
	putUvarint(buf, uint64(len(b)))
	buf.Write(b)
}

func getBytes(r *bytes.Reader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		return nil, err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, err
	}
	return b, nil
}

func putRef(buf *bytes.Buffer, ref NodeRef) {
	buf.WriteByte(byte(ref.Kind))
	if ref.Kind == RefRemote {
		putUvarint(buf, ref.Pos)
		putUvarint(buf, uint64(ref.Slot))
	}
}

func getRef(r *bytes.Reader) (NodeRef, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return NodeRef{}, err
	}
	kind := RefKind(kindByte)
	if kind == RefNil {
		return NodeRef{Kind: RefNil}, nil
	}
	pos, err := binary.ReadUvarint(r)
	if err != nil {
		return NodeRef{}, err
	}
	slot, err := binary.ReadUvarint(r)
	if err != nil {
		return NodeRef{}, err
	}
	return NodeRef{Kind: RefRemote, Pos: pos, Slot: uint32(slot)}, nil
}
