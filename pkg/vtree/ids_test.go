package vtree

import "testing"

func TestIDGeneratorSequence(t *testing.T) {
	gen := NewIDGenerator()
	if got := gen.Next(); got != "n1" {
		t.Errorf("first ID = %v, want n1", got)
	}
	if got := gen.Next(); got != "n2" {
		t.Errorf("second ID = %v, want n2", got)
	}
	if got := gen.Current(); got != 2 {
		t.Errorf("Current = %d, want 2", got)
	}

	gen.Reset()
	if got := gen.Next(); got != "n1" {
		t.Errorf("ID after reset = %v, want n1", got)
	}
}

func TestAssignIDs(t *testing.T) {
	tree := El("div", El("span", "a"), El("p"))
	gen := NewIDGenerator()
	AssignIDs(tree, gen)

	seen := make(map[string]bool)
	var walk func(n *Node)
	walk = func(n *Node) {
		if n.ID == "" {
			t.Errorf("node %v has no ID", n.Tag)
		}
		if seen[n.ID] {
			t.Errorf("duplicate ID %v", n.ID)
		}
		seen[n.ID] = true
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(tree)

	if len(seen) != 4 {
		t.Errorf("Expected 4 IDs, got %d", len(seen))
	}
}

func TestAssignIDsPreservesExisting(t *testing.T) {
	tree := El("div", El("span"))
	tree.ID = "n42"

	AssignIDs(tree, NewIDGenerator())

	if tree.ID != "n42" {
		t.Errorf("ID = %v, want n42", tree.ID)
	}
	if tree.Children[0].ID == "" {
		t.Error("child should have received a fresh ID")
	}
}

func TestCarryIDsPositional(t *testing.T) {
	prev := El("div", El("span", "a"), El("p", "b"))
	AssignIDs(prev, NewIDGenerator())

	next := El("div", El("span", "a2"), El("p", "b"))
	CarryIDs(prev, next)

	if next.ID != prev.ID {
		t.Errorf("root ID = %v, want %v", next.ID, prev.ID)
	}
	if next.Children[0].ID != prev.Children[0].ID {
		t.Errorf("span ID = %v, want %v", next.Children[0].ID, prev.Children[0].ID)
	}
	if next.Children[0].Children[0].ID != prev.Children[0].Children[0].ID {
		t.Error("text node ID should carry positionally")
	}
}

func TestCarryIDsKeyedReorder(t *testing.T) {
	prev := El("ul",
		El("li", WithKey("a"), "A"),
		El("li", WithKey("b"), "B"),
		El("li", WithKey("c"), "C"),
	)
	AssignIDs(prev, NewIDGenerator())
	idB := prev.Children[1].ID

	next := El("ul",
		El("li", WithKey("b"), "B"),
		El("li", WithKey("c"), "C"),
		El("li", WithKey("a"), "A"),
	)
	CarryIDs(prev, next)

	if next.Children[0].ID != idB {
		t.Errorf("key b ID = %v, want %v", next.Children[0].ID, idB)
	}
	if next.Children[2].ID != prev.Children[0].ID {
		t.Errorf("key a ID = %v, want %v", next.Children[2].ID, prev.Children[0].ID)
	}
}

func TestCarryIDsTagMismatch(t *testing.T) {
	prev := El("div", El("span"))
	AssignIDs(prev, NewIDGenerator())

	next := El("div", El("p"))
	CarryIDs(prev, next)

	if next.Children[0].ID != "" {
		t.Errorf("replaced node should not carry ID, got %v", next.Children[0].ID)
	}
}

func TestCarryIDsKindMismatch(t *testing.T) {
	prev := El("div", El("span"))
	AssignIDs(prev, NewIDGenerator())

	next := El("div", "just text")
	CarryIDs(prev, next)

	if next.Children[0].ID != "" {
		t.Errorf("replaced node should not carry ID, got %v", next.Children[0].ID)
	}
}

func TestIDGeneratorSeed(t *testing.T) {
	gen := NewIDGenerator()
	gen.Seed(41)
	if got := gen.Next(); got != "n42" {
		t.Errorf("Next() after Seed(41) = %v, want n42", got)
	}

	// Seeding backwards must not rewind the counter.
	gen.Seed(5)
	if got := gen.Next(); got != "n43" {
		t.Errorf("Next() after backwards seed = %v, want n43", got)
	}
}

func TestCarryIDsNewKeyGetsFreshID(t *testing.T) {
	prev := El("ul", El("li", WithKey("a")))
	gen := NewIDGenerator()
	AssignIDs(prev, gen)

	next := El("ul", El("li", WithKey("a")), El("li", WithKey("b")))
	CarryIDs(prev, next)
	AssignIDs(next, gen)

	if next.Children[0].ID != prev.Children[0].ID {
		t.Error("surviving key should keep its ID")
	}
	if next.Children[1].ID == "" || next.Children[1].ID == prev.Children[0].ID {
		t.Errorf("new key should get a fresh ID, got %v", next.Children[1].ID)
	}
}
