package vtree

import (
	"fmt"
	"sync"
)

// IDGenerator allocates stable node IDs ("n1", "n2", ...) for a session.
type IDGenerator struct {
	mu      sync.Mutex
	counter uint64
}

// NewIDGenerator creates a new IDGenerator.
func NewIDGenerator() *IDGenerator {
	return &IDGenerator{}
}

// Next returns the next node ID.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter++
	return fmt.Sprintf("n%d", g.counter)
}

// Current returns the counter value without incrementing.
func (g *IDGenerator) Current() uint64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.counter
}

// Reset resets the counter to zero.
func (g *IDGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.counter = 0
}

// Seed advances the counter to at least v. Used when resuming a session
// from a persisted tree so new IDs never collide with restored ones.
func (g *IDGenerator) Seed(v uint64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v > g.counter {
		g.counter = v
	}
}

// AssignIDs walks the tree and assigns fresh IDs to nodes that have none.
// Nodes that already carry an ID (from CarryIDs) keep it.
func AssignIDs(n *Node, gen *IDGenerator) {
	if n == nil {
		return
	}
	if n.ID == "" {
		n.ID = gen.Next()
	}
	for _, child := range n.Children {
		AssignIDs(child, gen)
	}
}

// CarryIDs transfers node IDs from the previous render to the next so that a
// node that survives a render keeps its address. Children are matched the
// same way Diff matches them: by key when the child lists are keyed, by
// position otherwise. A matched pair must agree on kind and tag to carry the
// ID; a mismatch means Diff will replace the node, so the replacement gets a
// fresh ID instead.
//
// Call CarryIDs before AssignIDs; AssignIDs then fills in IDs for nodes that
// did not match anything in the previous tree.
func CarryIDs(prev, next *Node) {
	if prev == nil || next == nil {
		return
	}
	if !sameIdentity(prev, next) {
		return
	}
	next.ID = prev.ID
	carryChildIDs(prev.Children, next.Children)
}

func carryChildIDs(prev, next []*Node) {
	if hasKeys(prev) || hasKeys(next) {
		byKey := make(map[string]*Node, len(prev))
		for _, p := range prev {
			if p != nil && p.Key != "" {
				byKey[p.Key] = p
			}
		}
		for _, n := range next {
			if n == nil || n.Key == "" {
				continue
			}
			if p, ok := byKey[n.Key]; ok {
				CarryIDs(p, n)
			}
		}
		return
	}

	// Positional match for unkeyed lists.
	limit := len(prev)
	if len(next) < limit {
		limit = len(next)
	}
	for i := 0; i < limit; i++ {
		CarryIDs(prev[i], next[i])
	}
}

// sameIdentity reports whether diff would update prev in place rather than
// replace it.
func sameIdentity(prev, next *Node) bool {
	if prev.Kind != next.Kind {
		return false
	}
	if prev.Kind == KindElement && prev.Tag != next.Tag {
		return false
	}
	return true
}

func hasKeys(children []*Node) bool {
	for _, c := range children {
		if c != nil && c.Key != "" {
			return true
		}
	}
	return false
}
