package zone

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/btree"

	"github.com/semihalev/authdns/dnsname"
)

const treeDegree = 32

// Tree is a canonical-order index of owner names to nodes. The btree answers
// ordered queries (floor, predecessor, traversal); an xxhash index over the
// wire-form owner gives O(1) exact lookups, with the btree staying
// authoritative on hash collisions.
type Tree struct {
	bt    *btree.BTreeG[*Node]
	index map[uint64]*Node
}

// NewTree returns an empty tree.
func NewTree() *Tree {
	return &Tree{
		bt: btree.NewG(treeDegree, func(a, b *Node) bool {
			return dnsname.Compare(a.Owner, b.Owner) < 0
		}),
		index: make(map[uint64]*Node),
	}
}

// Len returns the number of nodes.
func (t *Tree) Len() int { return t.bt.Len() }

// Insert adds node in canonical position. An existing node with the same
// owner is replaced and returned.
func (t *Tree) Insert(node *Node) *Node {
	old, _ := t.bt.ReplaceOrInsert(node)
	t.index[nameKey(node.Owner)] = node
	return old
}

// Delete removes the node with the given owner.
func (t *Tree) Delete(owner string) *Node {
	old, ok := t.bt.Delete(&Node{Owner: owner})
	if !ok {
		return nil
	}

	key := nameKey(owner)
	if cached, hit := t.index[key]; hit && cached == old {
		delete(t.index, key)
	}

	return old
}

// Get returns the exact match for owner, nil when absent.
func (t *Tree) Get(owner string) *Node {
	if node, ok := t.index[nameKey(owner)]; ok && dnsname.Equal(node.Owner, owner) {
		return node
	}

	node, ok := t.bt.Get(&Node{Owner: owner})
	if !ok {
		return nil
	}
	return node
}

// FindLessEqual returns the node at owner when present (exact true), or the
// canonical-order predecessor otherwise. Nil when the tree holds nothing at
// or before owner.
func (t *Tree) FindLessEqual(owner string) (node *Node, exact bool) {
	t.bt.DescendLessOrEqual(&Node{Owner: owner}, func(n *Node) bool {
		node = n
		return false
	})

	if node == nil {
		return nil, false
	}

	return node, dnsname.Equal(node.Owner, owner)
}

// Previous returns the canonical-order predecessor of owner, wrapping from
// the smallest name to the largest: the tree is circular for NSEC-style
// previous-name queries.
func (t *Tree) Previous(owner string) *Node {
	var prev *Node

	t.bt.DescendLessOrEqual(&Node{Owner: owner}, func(n *Node) bool {
		if dnsname.Equal(n.Owner, owner) {
			return true
		}
		prev = n
		return false
	})

	if prev != nil {
		return prev
	}

	return t.Max()
}

// Next returns the canonical-order successor of owner, wrapping past the end.
func (t *Tree) Next(owner string) *Node {
	var next *Node

	t.bt.AscendGreaterOrEqual(&Node{Owner: owner}, func(n *Node) bool {
		if dnsname.Equal(n.Owner, owner) {
			return true
		}
		next = n
		return false
	})

	if next != nil {
		return next
	}

	return t.Min()
}

// Min returns the canonically smallest node.
func (t *Tree) Min() *Node {
	node, _ := t.bt.Min()
	return node
}

// Max returns the canonically largest node.
func (t *Tree) Max() *Node {
	node, _ := t.bt.Max()
	return node
}

// Ascend walks the tree in canonical order. The visitor returns false to
// stop.
func (t *Tree) Ascend(fn func(*Node) bool) {
	t.bt.Ascend(fn)
}

// Descend walks the tree in reverse canonical order.
func (t *Tree) Descend(fn func(*Node) bool) {
	t.bt.Descend(fn)
}

// Clone returns a copy-on-write duplicate: btree nodes are shared lazily, the
// exact-match index is copied.
func (t *Tree) Clone() *Tree {
	c := &Tree{
		bt:    t.bt.Clone(),
		index: make(map[uint64]*Node, len(t.index)),
	}
	for k, v := range t.index {
		c.index[k] = v
	}
	return c
}

// nameKey hashes the lowercase wire form of a name.
func nameKey(owner string) uint64 {
	wire, err := dnsname.Wire(owner)
	if err != nil {
		return xxhash.Sum64String(owner)
	}
	return xxhash.Sum64(wire)
}
