// Package vtree defines the server-held view tree and the diff/apply
// machinery that keeps a client mirror synchronized with it.
//
// A tree is a hierarchy of element and text nodes. The server owns the
// authoritative tree for each session; every mutation produces a new tree,
// Diff computes the minimal patch between the old and new trees, and the
// client applies that patch to its mirror. Apply is the exact inverse of
// Diff: for any two trees T1, T2, applying Diff(T1, T2) to T1 yields a tree
// equal to T2.
package vtree

import "sort"

// Kind discriminates node types.
type Kind uint8

const (
	// KindElement is a named element with attributes and children.
	KindElement Kind = iota
	// KindText is a leaf text node.
	KindText
)

// String returns the kind name for debugging.
func (k Kind) String() string {
	switch k {
	case KindElement:
		return "Element"
	case KindText:
		return "Text"
	default:
		return "Unknown"
	}
}

// Node is a single node in a view tree.
//
// ID is the stable per-session address patches target; it is assigned by the
// server (see IDGenerator and CarryIDs) and carried across renders so that a
// node keeps its address for as long as it exists. Key is the optional
// identity key used to match children across renders in keyed lists.
type Node struct {
	Kind     Kind
	Tag      string
	Attrs    map[string]string
	Text     string
	Key      string
	ID       string
	Children []*Node
}

// El creates an element node. Arguments may be attribute pairs created with
// Attr, a Key marker, or child nodes.
func El(tag string, args ...any) *Node {
	n := &Node{Kind: KindElement, Tag: tag}
	for _, arg := range args {
		switch v := arg.(type) {
		case attrArg:
			if n.Attrs == nil {
				n.Attrs = make(map[string]string)
			}
			n.Attrs[v.name] = v.value
		case keyArg:
			n.Key = string(v)
		case *Node:
			if v != nil {
				n.Children = append(n.Children, v)
			}
		case string:
			n.Children = append(n.Children, TextNode(v))
		case []*Node:
			for _, c := range v {
				if c != nil {
					n.Children = append(n.Children, c)
				}
			}
		}
	}
	return n
}

// TextNode creates a text node.
func TextNode(text string) *Node {
	return &Node{Kind: KindText, Text: text}
}

type attrArg struct{ name, value string }

// Attr creates an attribute argument for El.
func Attr(name, value string) any { return attrArg{name, value} }

type keyArg string

// WithKey creates a key argument for El.
func WithKey(key string) any { return keyArg(key) }

// IsText reports whether the node is a text node.
func (n *Node) IsText() bool { return n != nil && n.Kind == KindText }

// Attr returns the named attribute value, or "" when absent.
func (n *Node) Attr(name string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	return n.Attrs[name]
}

// SortedAttrNames returns the node's attribute names in sorted order.
// Patch emission and wire encoding iterate attributes through this so that
// identical trees always produce identical byte sequences.
func (n *Node) SortedAttrNames() []string {
	if len(n.Attrs) == 0 {
		return nil
	}
	names := make([]string, 0, len(n.Attrs))
	for name := range n.Attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the tree rooted at n.
func Clone(n *Node) *Node {
	if n == nil {
		return nil
	}
	c := &Node{
		Kind: n.Kind,
		Tag:  n.Tag,
		Text: n.Text,
		Key:  n.Key,
		ID:   n.ID,
	}
	if n.Attrs != nil {
		c.Attrs = make(map[string]string, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v
		}
	}
	if n.Children != nil {
		c.Children = make([]*Node, len(n.Children))
		for i, child := range n.Children {
			c.Children[i] = Clone(child)
		}
	}
	return c
}

// Equal reports whether two trees are structurally identical, including
// node IDs. IDs are carried deterministically across renders, so equality
// including IDs is the round-trip correctness criterion.
func Equal(a, b *Node) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Kind != b.Kind || a.Tag != b.Tag || a.Text != b.Text ||
		a.Key != b.Key || a.ID != b.ID {
		return false
	}
	if len(a.Attrs) != len(b.Attrs) {
		return false
	}
	for k, v := range a.Attrs {
		if bv, ok := b.Attrs[k]; !ok || bv != v {
			return false
		}
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for i := range a.Children {
		if !Equal(a.Children[i], b.Children[i]) {
			return false
		}
	}
	return true
}

// Find returns the node with the given ID in the tree rooted at n, or nil.
func Find(n *Node, id string) *Node {
	if n == nil {
		return nil
	}
	if n.ID == id {
		return n
	}
	for _, child := range n.Children {
		if found := Find(child, id); found != nil {
			return found
		}
	}
	return nil
}

// Count returns the number of nodes in the tree rooted at n.
func Count(n *Node) int {
	if n == nil {
		return 0
	}
	total := 1
	for _, child := range n.Children {
		total += Count(child)
	}
	return total
}
