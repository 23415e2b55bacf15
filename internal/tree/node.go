// Package tree implements cruzdb's copy-on-write, AVL-balanced persistent
// search tree. It generalizes iavlx's Node/NodePointer/setRecursive (see
// iavlx/node.go, iavlx/node_mutate.go) from a two-way pointer (resident |
// on-disk NodeKey) to a three-way node pointer: Nil, Resident(a
// live node), or Remote(an intention position + slot inside that
// intention's after-image, not yet loaded).
package tree

import (
	"bytes"

	"github.com/cockroachdb/errors"
)

// NodeID is a node's persistent identity once stamped: (rid, slot). rid is
// negative while the node belongs to an in-flight, uncommitted transaction
// and is reassigned to the committing intention's log position at commit
// time.
type NodeID struct {
	RID  int64
	Slot uint32
}

// PtrKind tags a NodePtr's three possible shapes.
type PtrKind uint8

const (
	PtrNil PtrKind = iota
	PtrResident
	PtrRemote
)

// NodePtr is a child reference: the logical null leaf, a pointer to an
// already-resident in-memory node, or a reference into an after-image that
// has not yet been loaded into memory.
type NodePtr struct {
	Kind PtrKind
	Node *Node
	Pos  uint64
	Slot uint32
}

// Nil is the logical null leaf pointer.
var Nil = NodePtr{Kind: PtrNil}

// Resident wraps an in-memory node.
func Resident(n *Node) NodePtr {
	if n == nil {
		return Nil
	}
	return NodePtr{Kind: PtrResident, Node: n}
}

// Remote references a node persisted inside the after-image at pos, slot.
func Remote(pos uint64, slot uint32) NodePtr {
	return NodePtr{Kind: PtrRemote, Pos: pos, Slot: slot}
}

// Node is a tree node: a key, a value (every node carries both, unlike a
// conventional AVL tree where only leaves hold values), an AVL balance
// attribute (subtree height), and two children. Nodes are immutable once
// reachable from any published root; every mutation allocates a new Node
// along the root-to-leaf path.
type Node struct {
	ID      NodeID
	Key     []byte
	Value   []byte
	Height  int8
	Left    NodePtr
	Right   NodePtr
}

func height(n *Node) int8 {
	if n == nil {
		return 0
	}
	return n.Height
}

func maxInt8(a, b int8) int8 {
	if a > b {
		return a
	}
	return b
}

// Source resolves a Remote pointer to its in-memory node. Implemented by
// NodeStore (store.go), which demand-loads the owning after-image
// through the entry service on a cache miss.
type Source interface {
	Resolve(pos uint64, slot uint32) (*Node, error)
}

// resolve returns the node a NodePtr designates, or nil for PtrNil.
func resolve(src Source, ptr NodePtr) (*Node, error) {
	switch ptr.Kind {
	case PtrNil:
		return nil, nil
	case PtrResident:
		return ptr.Node, nil
	case PtrRemote:
		n, err := src.Resolve(ptr.Pos, ptr.Slot)
		if err != nil {
			return nil, errors.Wrapf(err, "tree: resolve remote (%d, %d)", ptr.Pos, ptr.Slot)
		}
		return n, nil
	default:
		return nil, errors.Newf("tree: invalid node pointer kind %d", ptr.Kind)
	}
}

func balanceFactor(src Source, n *Node) (int, error) {
	left, err := resolve(src, n.Left)
	if err != nil {
		return 0, err
	}
	right, err := resolve(src, n.Right)
	if err != nil {
		return 0, err
	}
	return int(height(left)) - int(height(right)), nil
}

func compareKeys(a, b []byte) int {
	return bytes.Compare(a, b)
}
