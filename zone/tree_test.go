package zone

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func treeWith(t *testing.T, owners ...string) *Tree {
	t.Helper()

	tree := NewTree()
	for _, owner := range owners {
		tree.Insert(NewNode(owner))
	}
	return tree
}

func Test_TreeGet(t *testing.T) {
	tree := treeWith(t, "example.com.", "a.example.com.", "z.example.com.")

	require.NotNil(t, tree.Get("a.example.com."))
	assert.Equal(t, "a.example.com.", tree.Get("A.example.COM.").Owner)
	assert.Nil(t, tree.Get("b.example.com."))
	assert.Equal(t, 3, tree.Len())
}

func Test_TreeFindLessEqual(t *testing.T) {
	tree := treeWith(t, "example.com.", "a.example.com.", "c.example.com.", "z.example.com.")

	node, exact := tree.FindLessEqual("c.example.com.")
	require.NotNil(t, node)
	assert.True(t, exact)
	assert.Equal(t, "c.example.com.", node.Owner)

	node, exact = tree.FindLessEqual("b.example.com.")
	require.NotNil(t, node)
	assert.False(t, exact)
	assert.Equal(t, "a.example.com.", node.Owner)

	// canonical order puts the apex first
	node, exact = tree.FindLessEqual("example.com.")
	assert.True(t, exact)
	assert.Equal(t, "example.com.", node.Owner)
}

func Test_TreePreviousCircular(t *testing.T) {
	tree := treeWith(t, "example.com.", "a.example.com.", "z.example.com.")

	assert.Equal(t, "a.example.com.", tree.Previous("b.example.com.").Owner)

	// wrapping before the apex lands on the canonically largest name
	assert.Equal(t, "z.example.com.", tree.Previous("example.com.").Owner)

	assert.Equal(t, "example.com.", tree.Next("z.example.com.").Owner)
}

func Test_TreeInsertReplaces(t *testing.T) {
	tree := treeWith(t, "example.com.")

	dup := NewNode("example.com.")
	old := tree.Insert(dup)

	require.NotNil(t, old)
	assert.Equal(t, 1, tree.Len())
	assert.Same(t, dup, tree.Get("example.com."))
}

func Test_TreeClone(t *testing.T) {
	tree := treeWith(t, "example.com.", "a.example.com.")

	clone := tree.Clone()
	clone.Insert(NewNode("b.example.com."))
	clone.Delete("a.example.com.")

	assert.Equal(t, 2, tree.Len())
	assert.Nil(t, tree.Get("b.example.com."))
	assert.NotNil(t, tree.Get("a.example.com."))

	assert.Equal(t, 2, clone.Len())
	assert.NotNil(t, clone.Get("b.example.com."))
	assert.Nil(t, clone.Get("a.example.com."))
}

func Test_TreeTraversalOrder(t *testing.T) {
	tree := treeWith(t, "zz.example.", "example.", "a.example.", "z.a.example.")

	var got []string
	tree.Ascend(func(n *Node) bool {
		got = append(got, n.Owner)
		return true
	})

	assert.Equal(t, []string{"example.", "a.example.", "z.a.example.", "zz.example."}, got)

	got = got[:0]
	tree.Descend(func(n *Node) bool {
		got = append(got, n.Owner)
		return true
	})
	assert.Equal(t, []string{"zz.example.", "z.a.example.", "a.example.", "example."}, got)
}
