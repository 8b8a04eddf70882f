package vtree

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound is returned when a patch targets an ID that does not
	// exist in the tree.
	ErrNodeNotFound = errors.New("vtree: node not found")

	// ErrBadPatch is returned when a patch is malformed or targets a node
	// of the wrong kind.
	ErrBadPatch = errors.New("vtree: bad patch")
)

// Apply returns the tree produced by applying patches to root in order. The
// input tree is never modified: patches are applied to a clone, and on error
// the clone is discarded, so a failed apply leaves the caller's tree exactly
// as it was.
//
// Applying Diff(a, b) to a yields a tree equal to b.
func Apply(root *Node, patches []Patch) (*Node, error) {
	if len(patches) == 0 {
		return root, nil
	}

	tree := Clone(root)
	ix := newIndex(tree)

	for i, p := range patches {
		var err error
		tree, err = applyOne(tree, ix, p)
		if err != nil {
			return nil, fmt.Errorf("patch %d (%s %s): %w", i, p.Op, p.ID, err)
		}
	}
	return tree, nil
}

func applyOne(root *Node, ix *index, p Patch) (*Node, error) {
	switch p.Op {
	case PatchSetText:
		n := ix.node(p.ID)
		if n == nil {
			return root, ErrNodeNotFound
		}
		if n.Kind != KindText {
			return root, fmt.Errorf("%w: set text on %s node", ErrBadPatch, n.Kind)
		}
		n.Text = p.Value
		return root, nil

	case PatchSetAttr:
		n := ix.node(p.ID)
		if n == nil {
			return root, ErrNodeNotFound
		}
		if n.Kind != KindElement {
			return root, fmt.Errorf("%w: set attr on %s node", ErrBadPatch, n.Kind)
		}
		if n.Attrs == nil {
			n.Attrs = make(map[string]string)
		}
		n.Attrs[p.Key] = p.Value
		return root, nil

	case PatchRemoveAttr:
		n := ix.node(p.ID)
		if n == nil {
			return root, ErrNodeNotFound
		}
		if n.Kind != KindElement {
			return root, fmt.Errorf("%w: remove attr on %s node", ErrBadPatch, n.Kind)
		}
		delete(n.Attrs, p.Key)
		return root, nil

	case PatchInsertNode:
		if p.Node == nil {
			return root, fmt.Errorf("%w: insert without node", ErrBadPatch)
		}
		parent := ix.node(p.ParentID)
		if parent == nil {
			return root, ErrNodeNotFound
		}
		if parent.Kind != KindElement {
			return root, fmt.Errorf("%w: insert into %s node", ErrBadPatch, parent.Kind)
		}
		child := Clone(p.Node)
		parent.Children = insertAt(parent.Children, p.Index, child)
		ix.register(child, parent)
		return root, nil

	case PatchRemoveNode:
		n := ix.node(p.ID)
		if n == nil {
			return root, ErrNodeNotFound
		}
		if n == root {
			ix.unregister(n)
			return nil, nil
		}
		parent := ix.parent(p.ID)
		if parent == nil {
			return root, fmt.Errorf("%w: orphan node", ErrBadPatch)
		}
		parent.Children = spliceOut(parent.Children, n)
		ix.unregister(n)
		return root, nil

	case PatchMoveNode:
		n := ix.node(p.ID)
		if n == nil {
			return root, ErrNodeNotFound
		}
		if n == root {
			return root, fmt.Errorf("%w: move root", ErrBadPatch)
		}
		newParent := ix.node(p.ParentID)
		if newParent == nil {
			return root, ErrNodeNotFound
		}
		if newParent.Kind != KindElement {
			return root, fmt.Errorf("%w: move into %s node", ErrBadPatch, newParent.Kind)
		}
		oldParent := ix.parent(p.ID)
		if oldParent == nil {
			return root, fmt.Errorf("%w: orphan node", ErrBadPatch)
		}
		oldParent.Children = spliceOut(oldParent.Children, n)
		newParent.Children = insertAt(newParent.Children, p.Index, n)
		ix.reparent(n, newParent)
		return root, nil

	case PatchReplaceNode:
		if p.Node == nil {
			return root, fmt.Errorf("%w: replace without node", ErrBadPatch)
		}
		n := ix.node(p.ID)
		if n == nil {
			return root, ErrNodeNotFound
		}
		repl := Clone(p.Node)
		if n == root {
			ix.unregister(n)
			ix.register(repl, nil)
			return repl, nil
		}
		parent := ix.parent(p.ID)
		if parent == nil {
			return root, fmt.Errorf("%w: orphan node", ErrBadPatch)
		}
		for i, c := range parent.Children {
			if c == n {
				parent.Children[i] = repl
				break
			}
		}
		ix.unregister(n)
		ix.register(repl, parent)
		return root, nil

	default:
		return root, fmt.Errorf("%w: unknown op 0x%02x", ErrBadPatch, uint8(p.Op))
	}
}

func spliceOut(list []*Node, n *Node) []*Node {
	for i, c := range list {
		if c == n {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}

// index tracks every node and its parent by ID so patches resolve targets in
// constant time. It is rebuilt per Apply call and kept in sync as structural
// patches land.
type index struct {
	nodes   map[string]*Node
	parents map[string]*Node
}

func newIndex(root *Node) *index {
	ix := &index{
		nodes:   make(map[string]*Node),
		parents: make(map[string]*Node),
	}
	ix.register(root, nil)
	return ix
}

func (ix *index) node(id string) *Node {
	return ix.nodes[id]
}

func (ix *index) parent(id string) *Node {
	return ix.parents[id]
}

func (ix *index) register(n *Node, parent *Node) {
	if n == nil {
		return
	}
	if n.ID != "" {
		ix.nodes[n.ID] = n
		if parent != nil {
			ix.parents[n.ID] = parent
		}
	}
	for _, c := range n.Children {
		ix.register(c, n)
	}
}

func (ix *index) unregister(n *Node) {
	if n == nil {
		return
	}
	if n.ID != "" {
		delete(ix.nodes, n.ID)
		delete(ix.parents, n.ID)
	}
	for _, c := range n.Children {
		ix.unregister(c)
	}
}

func (ix *index) reparent(n *Node, parent *Node) {
	if n == nil || n.ID == "" {
		return
	}
	ix.parents[n.ID] = parent
}
