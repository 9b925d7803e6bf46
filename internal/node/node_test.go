package node

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindOrCreateBuildsIntermediateNodes(t *testing.T) {
	tree := NewTree("/", time.Second)
	n := tree.FindOrCreate("/a/b/c", nil)
	require.NotNil(t, n)
	assert.Equal(t, "c", n.Base)
	assert.Equal(t, "/a/b", n.Parent.Name)

	found, exact := tree.Find("/a/b")
	assert.True(t, exact)
	assert.Equal(t, "b", found.Base)
}

func TestFindReportsNonExactPrefix(t *testing.T) {
	tree := NewTree("/", time.Second)
	tree.FindOrCreate("/a/b", nil)

	n, exact := tree.Find("/a/b/c/d")
	assert.False(t, exact)
	assert.Equal(t, "b", n.Base)
}

func TestRemovePropagatesUpwardThroughEmptyParents(t *testing.T) {
	tree := NewTree("/", time.Second)
	leaf := tree.FindOrCreate("/a/b/c", nil)

	tree.Remove(leaf, nil)

	_, exact := tree.Find("/a")
	assert.False(t, exact, "every intermediate node should have been collapsed away")
	assert.Equal(t, "/", tree.Root.Name)
}

func TestRemoveStopsAtNodeWithData(t *testing.T) {
	tree := NewTree("/", time.Second)
	leaf := tree.FindOrCreate("/a/b/c", nil)
	parent := leaf.Parent
	parent.Data = "something alive"

	tree.Remove(leaf, nil)

	n, exact := tree.Find("/a/b")
	assert.True(t, exact, "a node with Data set must never be removed")
	assert.Same(t, parent, n)
}

func TestRemoveStopsAtNodeWithChildren(t *testing.T) {
	tree := NewTree("/", time.Second)
	tree.FindOrCreate("/a/b/c", nil)
	tree.FindOrCreate("/a/b/d", nil)

	c, _ := tree.Find("/a/b/c")
	tree.Remove(c, nil)

	_, exact := tree.Find("/a/b")
	assert.True(t, exact, "b still has child d, so it must survive")
	_, exact = tree.Find("/a/b/d")
	assert.True(t, exact)
}

func TestFindOrCreateCancelsPendingRemove(t *testing.T) {
	tree := NewTree("/", time.Hour)
	n := tree.FindOrCreate("/a/b", nil)
	tree.PendingRemove(n, nil)
	require.Equal(t, 1, tree.PendingCount())

	tree.FindOrCreate("/a/b", nil)

	assert.Equal(t, 0, tree.PendingCount(), "revisiting a path must cancel its pending removal")
}

func TestPendingRemoveDedupsSamePath(t *testing.T) {
	tree := NewTree("/", time.Hour)
	n := tree.FindOrCreate("/a/b", nil)

	tree.PendingRemove(n, nil)
	tree.PendingRemove(n, nil)

	assert.Equal(t, 1, tree.PendingCount())
}

func TestTraverseVisitsEveryDescendant(t *testing.T) {
	tree := NewTree("/", time.Second)
	tree.FindOrCreate("/a/b", nil)
	tree.FindOrCreate("/a/c", nil)

	var names []string
	root, _ := tree.Find("/a")
	Traverse(root, func(n *Node) { names = append(names, n.Name) })

	assert.ElementsMatch(t, []string{"/a", "/a/b", "/a/c"}, names)
}
