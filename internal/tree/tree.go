package tree

import "github.com/cockroachdb/errors"

// Tree is a snapshot-isolated, copy-on-write view of the keyspace anchored
// at root. During a transaction rid is negative (nodes created by Put/
// Delete are transaction-private); Stamp reassigns rid to the committing
// intention's log position, publishing every node this tree created.
//
// Delta accumulates, in creation order, every resident node this tree
// session allocated — this is exactly the after-image payload once Stamp
// has run, and exactly the garbage to discard if commit fails.
type Tree struct {
	root     NodePtr
	store    Source
	rid      int64
	nextSlot uint32
	delta    []*Node
}

// New opens a tree view rooted at root, resolving Remote pointers through
// store, privately owned by rid (negative for an in-flight transaction,
// non-negative to reconstruct a committed tree purely from after-images).
func New(root NodePtr, store Source, rid int64) *Tree {
	return &Tree{root: root, store: store, rid: rid}
}

func (t *Tree) RID() int64     { return t.rid }
func (t *Tree) Root() NodePtr  { return t.root }
func (t *Tree) Delta() []*Node { return t.delta }

// ReadOnly reports whether this tree session produced no delta — the
// condition under which Txn.Commit short-circuits without touching the log.
func (t *Tree) ReadOnly() bool { return len(t.delta) == 0 }

// Stamp reassigns rid to every node this tree created, giving each a
// persistent, log-addressable identity. Called by the transaction
// processor immediately before computing the after-image.
func (t *Tree) Stamp(rid int64) {
	t.rid = rid
	for _, n := range t.delta {
		n.ID.RID = rid
	}
}

func (t *Tree) newLeaf(key, value []byte) *Node {
	n := &Node{
		ID:     NodeID{RID: t.rid, Slot: t.nextSlot},
		Key:    key,
		Value:  value,
		Height: 1,
		Left:   Nil,
		Right:  Nil,
	}
	t.nextSlot++
	t.delta = append(t.delta, n)
	return n
}

// copyNode allocates a fresh, transaction-private copy of n — the
// copy-on-write step every mutation applies to nodes on its search path.
func (t *Tree) copyNode(n *Node) *Node {
	cp := *n
	cp.ID = NodeID{RID: t.rid, Slot: t.nextSlot}
	t.nextSlot++
	t.delta = append(t.delta, &cp)
	return &cp
}

// Get resolves key against the tree's root, demand-loading Remote pointers
// through the node store. Pure with respect to the tree: never mutates.
func (t *Tree) Get(key []byte) ([]byte, bool, error) {
	ptr := t.root
	for {
		n, err := resolve(t.store, ptr)
		if err != nil {
			return nil, false, err
		}
		if n == nil {
			return nil, false, nil
		}
		switch c := compareKeys(key, n.Key); {
		case c == 0:
			return n.Value, true, nil
		case c < 0:
			ptr = n.Left
		default:
			ptr = n.Right
		}
	}
}

// Put inserts or updates key, copying every node on the search path plus
// any nodes rebalancing touches. The set of newly created nodes accumulates
// in t.delta.
func (t *Tree) Put(key, value []byte) error {
	newRoot, err := t.setRecursive(t.root, key, value)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

func (t *Tree) setRecursive(ptr NodePtr, key, value []byte) (NodePtr, error) {
	n, err := resolve(t.store, ptr)
	if err != nil {
		return Nil, err
	}
	if n == nil {
		return Resident(t.newLeaf(key, value)), nil
	}

	cmp := compareKeys(key, n.Key)
	if cmp == 0 {
		newNode := t.copyNode(n)
		newNode.Value = value
		return Resident(newNode), nil
	}

	newNode := t.copyNode(n)
	if cmp < 0 {
		left, err := t.setRecursive(n.Left, key, value)
		if err != nil {
			return Nil, err
		}
		newNode.Left = left
	} else {
		right, err := t.setRecursive(n.Right, key, value)
		if err != nil {
			return Nil, err
		}
		newNode.Right = right
	}

	if err := t.updateHeight(newNode); err != nil {
		return Nil, err
	}
	balanced, err := t.balance(newNode)
	if err != nil {
		return Nil, err
	}
	return Resident(balanced), nil
}

// Delete removes key if present. Tolerant of absent keys: a miss is a
// no-op on the tree itself, though the caller's intention still records
// the delete so it participates in conflict detection.
func (t *Tree) Delete(key []byte) error {
	newRoot, _, err := t.removeRecursive(t.root, key)
	if err != nil {
		return err
	}
	t.root = newRoot
	return nil
}

// removeRecursive returns the subtree's new root pointer and whether key
// was actually present (mirroring iavlx's removeRecursive return shape,
// generalized to the three-way NodePtr).
func (t *Tree) removeRecursive(ptr NodePtr, key []byte) (NodePtr, bool, error) {
	n, err := resolve(t.store, ptr)
	if err != nil {
		return Nil, false, err
	}
	if n == nil {
		return Nil, false, nil
	}

	cmp := compareKeys(key, n.Key)
	switch {
	case cmp == 0:
		if n.Left.Kind == PtrNil {
			return n.Right, true, nil
		}
		if n.Right.Kind == PtrNil {
			return n.Left, true, nil
		}
		// two children: splice in the in-order successor (leftmost
		// descendant of the right subtree) and delete it from the right
		// subtree.
		succ, err := t.leftmost(n.Right)
		if err != nil {
			return Nil, false, err
		}
		newRight, _, err := t.removeRecursive(n.Right, succ.Key)
		if err != nil {
			return Nil, false, err
		}
		newNode := t.copyNode(n)
		newNode.Key = succ.Key
		newNode.Value = succ.Value
		newNode.Right = newRight
		return t.rebalanceAfterDelete(newNode)

	case cmp < 0:
		newLeft, removed, err := t.removeRecursive(n.Left, key)
		if err != nil {
			return Nil, false, err
		}
		if !removed {
			return ptr, false, nil
		}
		newNode := t.copyNode(n)
		newNode.Left = newLeft
		return t.rebalanceAfterDelete(newNode)

	default:
		newRight, removed, err := t.removeRecursive(n.Right, key)
		if err != nil {
			return Nil, false, err
		}
		if !removed {
			return ptr, false, nil
		}
		newNode := t.copyNode(n)
		newNode.Right = newRight
		return t.rebalanceAfterDelete(newNode)
	}
}

func (t *Tree) leftmost(ptr NodePtr) (*Node, error) {
	n, err := resolve(t.store, ptr)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, errors.New("tree: leftmost on empty subtree")
	}
	for n.Left.Kind != PtrNil {
		n, err = resolve(t.store, n.Left)
		if err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (t *Tree) rebalanceAfterDelete(n *Node) (NodePtr, bool, error) {
	if err := t.updateHeight(n); err != nil {
		return Nil, false, err
	}
	balanced, err := t.balance(n)
	if err != nil {
		return Nil, false, err
	}
	return Resident(balanced), true, nil
}

func (t *Tree) updateHeight(n *Node) error {
	left, err := resolve(t.store, n.Left)
	if err != nil {
		return err
	}
	right, err := resolve(t.store, n.Right)
	if err != nil {
		return err
	}
	n.Height = maxInt8(height(left), height(right)) + 1
	return nil
}

// balance rebalances n (which must be newly created or copied this
// session — never a published node) using the standard AVL rotations,
// generalized from iavlx's balanceNewNode/rotateNewLeft/rotateNewRight to
// the three-way NodePtr.
func (t *Tree) balance(n *Node) (*Node, error) {
	bf, err := balanceFactor(t.store, n)
	if err != nil {
		return nil, err
	}
	switch {
	case bf > 1:
		left, err := resolve(t.store, n.Left)
		if err != nil {
			return nil, err
		}
		leftBF, err := balanceFactor(t.store, left)
		if err != nil {
			return nil, err
		}
		if leftBF >= 0 {
			return t.rotateRight(n)
		}
		rotatedLeft, err := t.rotateLeft(t.copyNode(left))
		if err != nil {
			return nil, err
		}
		n.Left = Resident(rotatedLeft)
		return t.rotateRight(n)
	case bf < -1:
		right, err := resolve(t.store, n.Right)
		if err != nil {
			return nil, err
		}
		rightBF, err := balanceFactor(t.store, right)
		if err != nil {
			return nil, err
		}
		if rightBF <= 0 {
			return t.rotateLeft(n)
		}
		rotatedRight, err := t.rotateRight(t.copyNode(right))
		if err != nil {
			return nil, err
		}
		n.Right = Resident(rotatedRight)
		return t.rotateLeft(n)
	default:
		return n, nil
	}
}

func (t *Tree) rotateRight(n *Node) (*Node, error) {
	left, err := resolve(t.store, n.Left)
	if err != nil {
		return nil, err
	}
	if left == nil {
		return nil, errors.New("tree: rotateRight on node with nil left child")
	}
	newSelf := t.copyNode(left)
	n.Left = left.Right
	newSelf.Right = Resident(n)

	if err := t.updateHeight(n); err != nil {
		return nil, err
	}
	if err := t.updateHeight(newSelf); err != nil {
		return nil, err
	}
	return newSelf, nil
}

func (t *Tree) rotateLeft(n *Node) (*Node, error) {
	right, err := resolve(t.store, n.Right)
	if err != nil {
		return nil, err
	}
	if right == nil {
		return nil, errors.New("tree: rotateLeft on node with nil right child")
	}
	newSelf := t.copyNode(right)
	n.Right = right.Left
	newSelf.Left = Resident(n)

	if err := t.updateHeight(n); err != nil {
		return nil, err
	}
	if err := t.updateHeight(newSelf); err != nil {
		return nil, err
	}
	return newSelf, nil
}
