// Package node implements the shared path tree (spec §4.1): one Node per
// absolute path, children keyed by basename, lazy pruning with a
// deferred-removal queue. It has no knowledge of FData; each Node carries
// an opaque Data slot that internal/fdata hangs its per-path state off
// of, keeping this package a leaf dependency.
//
// Grounded on original_source/gio/fen/fen-node.c (_find_node, _node_new,
// _remove_node and the pending-remove queue); the teacher
// (github.com/fsnotify/fsnotify) has no equivalent of its own, since its
// Watcher keeps a flat map instead of a tree.
package node

import (
	"path/filepath"
	"strings"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Node represents one absolute path in the shared tree.
type Node struct {
	Name     string // absolute path
	Base     string // basename
	Parent   *Node
	Children map[string]*Node
	// Data is the per-node user-data slot; internal/fdata stores its
	// *FData here. A Node with a non-nil Data is removed only when the
	// preDelete hook passed to Remove allows it.
	Data interface{}
}

func (n *Node) hasChildren() bool { return len(n.Children) > 0 }

// Tree owns the namespace rooted at Root and the deferred-removal queue.
type Tree struct {
	Root *Node

	// CoolOff is how long a PendingRemove request waits before the
	// sweep actually removes the node (spec §4.1).
	CoolOff time.Duration
	pending *cache.Cache
}

// NewTree creates a tree rooted at root (the platform separator, e.g.
// "/"), with the given cool-off window for deferred removal.
func NewTree(root string, coolOff time.Duration) *Tree {
	return &Tree{
		Root:    &Node{Name: root, Base: root, Children: make(map[string]*Node)},
		CoolOff: coolOff,
		pending: cache.New(cache.NoExpiration, 0),
	}
}

func split(path string) []string {
	path = filepath.Clean(path)
	if path == "/" || path == "." {
		return nil
	}
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	return parts
}

// Find descends from root matching path components and returns the
// deepest existing node that is a prefix of path, plus whether path was
// matched exactly.
func (t *Tree) Find(path string) (n *Node, exact bool) {
	n = t.Root
	parts := split(path)
	for i, part := range parts {
		child, ok := n.Children[part]
		if !ok {
			return n, false
		}
		n = child
		if i == len(parts)-1 {
			return n, true
		}
	}
	return n, true
}

// FindOrCreate descends from root, materializing missing components via
// onMissing(parent, base) -> *Node (or nil to stop early). If onMissing
// is nil, a plain Node is created for every missing component.
func (t *Tree) FindOrCreate(path string, onMissing func(parent *Node, base string) *Node) *Node {
	n := t.Root
	for _, part := range split(path) {
		child, ok := n.Children[part]
		if !ok {
			if onMissing != nil {
				child = onMissing(n, part)
			} else {
				child = newChild(n, part)
				n.Children[part] = child
			}
			if child == nil {
				return nil
			}
		}
		n = child
		// cancel any pending removal now that the node is live again
		t.pending.Delete(n.Name)
	}
	return n
}

func newChild(parent *Node, base string) *Node {
	return &Node{
		Name:     filepath.Join(parent.Name, base),
		Base:     base,
		Parent:   parent,
		Children: make(map[string]*Node),
	}
}

// Insert creates intermediate nodes under parent as needed for rel and
// returns the leaf.
func (t *Tree) Insert(parent *Node, rel string) *Node {
	n := parent
	for _, part := range split(rel) {
		child, ok := n.Children[part]
		if !ok {
			child = newChild(n, part)
			n.Children[part] = child
		}
		n = child
	}
	return n
}

// Remove depth-first removes node if it is removable: no children, and
// either Data is nil or preDelete(node) says to remove it anyway.
// Removal propagates upward through now-empty parents. The root is
// never removed.
func (t *Tree) Remove(n *Node, preDelete func(*Node) bool) {
	for n != nil && n != t.Root {
		if n.hasChildren() {
			return
		}
		removable := n.Data == nil
		if !removable && preDelete != nil {
			removable = preDelete(n)
		}
		if !removable {
			return
		}
		parent := n.Parent
		if parent != nil {
			delete(parent.Children, n.Base)
		}
		t.pending.Delete(n.Name)
		n.Parent = nil
		n = parent
	}
}

// PendingRemove records a deferred removal request for n, collapsing
// duplicate requests for the same path (spec §4.1, §9 Open Question #3:
// deduplication is case-sensitive, matching a case-sensitive host
// filesystem). The background Sweep call, made after CoolOff elapses,
// performs the actual removal.
func (t *Tree) PendingRemove(n *Node, preDelete func(*Node) bool) {
	t.pending.Set(n.Name, pendingEntry{node: n, preDelete: preDelete, due: time.Now().Add(t.CoolOff)}, cache.NoExpiration)
}

type pendingEntry struct {
	node      *Node
	preDelete func(*Node) bool
	due       time.Time
}

// Sweep drains all pending-remove entries whose cool-off has elapsed and
// attempts Remove on each. Entries are stored without a go-cache
// expiration; each carries its own due time, and entries not yet due are
// left in place for a later Sweep.
func (t *Tree) Sweep() {
	now := time.Now()
	for path, item := range t.pending.Items() {
		e, ok := item.Object.(pendingEntry)
		if ok && now.Before(e.due) {
			continue
		}
		if ok {
			t.Remove(e.node, e.preDelete)
		}
		t.pending.Delete(path)
	}
}

// PendingCount reports the number of outstanding deferred-removal
// requests (test/diagnostic use).
func (t *Tree) PendingCount() int { return t.pending.ItemCount() }

// Traverse walks the subtree rooted at n in pre-order.
func Traverse(n *Node, visit func(*Node)) {
	visit(n)
	for _, c := range n.Children {
		Traverse(c, visit)
	}
}
