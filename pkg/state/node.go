package state

import (
	"sort"
	"strings"
)

// node is a single entry in the state tree. A node may hold a leaf value,
// child nodes, or neither (a node kept alive only because subscriptions are
// attached to its path).
type node struct {
	value    any
	hasValue bool
	children map[string]*node
	subs     map[string]Callback // keyed by subscription token
}

func newNode() *node {
	return &node{}
}

// splitPath splits a dot-separated path into its segments.
// An empty path addresses the root and yields no segments.
func splitPath(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, ".")
}

// lookup walks the tree to the node at the given segments.
// Returns nil if any segment is missing.
func (n *node) lookup(segments []string) *node {
	cur := n
	for _, seg := range segments {
		child, ok := cur.children[seg]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

// ensure walks the tree to the node at the given segments, creating missing
// intermediate nodes. Stored values are never altered; Subscribe relies on
// this to attach below a leaf without disturbing it.
func (n *node) ensure(segments []string) *node {
	cur := n
	for _, seg := range segments {
		if cur.children == nil {
			cur.children = make(map[string]*node)
		}
		child, ok := cur.children[seg]
		if !ok {
			child = newNode()
			cur.children[seg] = child
		}
		cur = child
	}
	return cur
}

// ensureForWrite walks the tree to the node at the given segments for a
// mutation, creating missing intermediate nodes. An intermediate that
// previously held a leaf value has that value discarded: writing below a
// leaf converts it into a subtree.
func (n *node) ensureForWrite(segments []string) *node {
	cur := n
	for _, seg := range segments {
		cur.value = nil
		cur.hasValue = false
		if cur.children == nil {
			cur.children = make(map[string]*node)
		}
		child, ok := cur.children[seg]
		if !ok {
			child = newNode()
			cur.children[seg] = child
		}
		cur = child
	}
	return cur
}

// present reports whether the node holds observable state: a leaf value or
// any populated descendant.
func (n *node) present() bool {
	if n == nil {
		return false
	}
	if n.hasValue {
		return true
	}
	for _, child := range n.children {
		if child.present() {
			return true
		}
	}
	return false
}

// snapshot materializes the node's current value. Leaf nodes return their
// stored value as-is; interior nodes return a freshly built map so callers
// can never mutate the tree through the result.
func (n *node) snapshot() any {
	if n == nil {
		return nil
	}
	if n.hasValue {
		return n.value
	}
	if len(n.children) == 0 {
		return nil
	}
	out := make(map[string]any, len(n.children))
	for name, child := range n.children {
		if child.present() {
			out[name] = child.snapshot()
		}
	}
	return out
}

// clearValues removes all values in the subtree rooted at n, keeping nodes
// that still carry subscriptions so existing subscribers and waiters survive
// a delete of their path.
func (n *node) clearValues() {
	n.value = nil
	n.hasValue = false
	for name, child := range n.children {
		child.clearValues()
		if child.removable() {
			delete(n.children, name)
		}
	}
}

// removable reports whether a node holds nothing worth keeping: no value, no
// children, and no subscriptions.
func (n *node) removable() bool {
	return !n.hasValue && len(n.children) == 0 && len(n.subs) == 0
}

// pruneAlong removes removable nodes along the given path, deepest first.
// Called after deletes and unsubscribes to keep the tree compact.
func (n *node) pruneAlong(segments []string) {
	if len(segments) == 0 {
		return
	}
	child, ok := n.children[segments[0]]
	if !ok {
		return
	}
	child.pruneAlong(segments[1:])
	if child.removable() {
		delete(n.children, segments[0])
	}
}

// walkPopulated visits every node in the subtree that is present, invoking fn
// with the node's dot-separated path and its current snapshot. Parents are
// visited before children; siblings are visited in sorted order so callers
// observe a deterministic walk.
func (n *node) walkPopulated(prefix string, fn func(path string, value any)) {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		child := n.children[name]
		if !child.present() {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		fn(path, child.snapshot())
		child.walkPopulated(path, fn)
	}
}

// countLeaves returns the number of leaf values in the subtree.
func (n *node) countLeaves() int {
	count := 0
	if n.hasValue {
		count++
	}
	for _, child := range n.children {
		count += child.countLeaves()
	}
	return count
}
