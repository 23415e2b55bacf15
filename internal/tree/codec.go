package tree

import "github.com/illinoisdata/cruzdb/internal/wire"

// refFor converts a NodePtr into its persisted form. A Resident pointer
// serializes to Remote(rid, slot) taken from the pointed-to node's own
// identity, the same as a pointer that was already Remote before this
// commit: the node either belongs to the after-image being written (its rid
// is the committing intention's position — Stamp has already run) or was
// created by an earlier committed intention and carries that intention's
// position as its rid. This matches
// the wire format: left/right child references are each a Nil or a
// Remote(pos, slot) pair — there is no separate resident wire tag.
func refFor(ptr NodePtr) wire.NodeRef {
	switch ptr.Kind {
	case PtrNil:
		return wire.NilRef
	case PtrResident:
		return wire.NodeRef{Kind: wire.RefRemote, Pos: uint64(ptr.Node.ID.RID), Slot: ptr.Node.ID.Slot}
	case PtrRemote:
		return wire.NodeRef{Kind: wire.RefRemote, Pos: ptr.Pos, Slot: ptr.Slot}
	default:
		return wire.NilRef
	}
}

// EncodeDelta converts a committed tree's delta into the after-image
// payload for intention position pos. Stamp(pos) must have already run.
func EncodeDelta(pos uint64, delta []*Node) *wire.AfterImage {
	nodes := make([]wire.PersistedNode, 0, len(delta))
	for _, n := range delta {
		nodes = append(nodes, wire.PersistedNode{
			Slot:    n.ID.Slot,
			Key:     n.Key,
			Value:   n.Value,
			Balance: n.Height,
			Left:    refFor(n.Left),
			Right:   refFor(n.Right),
		})
	}
	return &wire.AfterImage{IntentionPos: pos, Nodes: nodes}
}

func ptrFromRef(ref wire.NodeRef) NodePtr {
	if ref.Kind == wire.RefNil {
		return Nil
	}
	return Remote(ref.Pos, ref.Slot)
}

// DecodeAfterImage reconstructs the nodes an after-image describes,
// wiring intra-image child references (those whose pos equals this
// after-image's own intention position) to each other directly, and
// leaving cross-image references as Remote pointers the node store
// resolves lazily.
func DecodeAfterImage(ai *wire.AfterImage) []*Node {
	nodes := make([]*Node, len(ai.Nodes))
	bySlot := make(map[uint32]*Node, len(ai.Nodes))
	for i, pn := range ai.Nodes {
		n := &Node{
			ID:     NodeID{RID: int64(ai.IntentionPos), Slot: pn.Slot},
			Key:    pn.Key,
			Value:  pn.Value,
			Height: pn.Balance,
		}
		nodes[i] = n
		bySlot[pn.Slot] = n
	}
	for i, pn := range ai.Nodes {
		nodes[i].Left = resolveIntra(ai.IntentionPos, pn.Left, bySlot)
		nodes[i].Right = resolveIntra(ai.IntentionPos, pn.Right, bySlot)
	}
	return nodes
}

func resolveIntra(selfPos uint64, ref wire.NodeRef, bySlot map[uint32]*Node) NodePtr {
	if ref.Kind == wire.RefNil {
		return Nil
	}
	if ref.Pos == selfPos {
		if n, ok := bySlot[ref.Slot]; ok {
			return Resident(n)
		}
	}
	return Remote(ref.Pos, ref.Slot)
}
