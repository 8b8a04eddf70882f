package vtree

import "testing"

func TestElBuilder(t *testing.T) {
	n := El("div",
		Attr("class", "card"),
		Attr("id", "main"),
		WithKey("k1"),
		El("span", "hello"),
		"world",
	)

	if n.Kind != KindElement {
		t.Errorf("Kind = %v, want KindElement", n.Kind)
	}
	if n.Tag != "div" {
		t.Errorf("Tag = %v, want div", n.Tag)
	}
	if n.Attr("class") != "card" {
		t.Errorf("class = %v, want card", n.Attr("class"))
	}
	if n.Attr("id") != "main" {
		t.Errorf("id = %v, want main", n.Attr("id"))
	}
	if n.Key != "k1" {
		t.Errorf("Key = %v, want k1", n.Key)
	}
	if len(n.Children) != 2 {
		t.Fatalf("Expected 2 children, got %d", len(n.Children))
	}
	if n.Children[0].Tag != "span" {
		t.Errorf("first child tag = %v, want span", n.Children[0].Tag)
	}
	if !n.Children[1].IsText() || n.Children[1].Text != "world" {
		t.Errorf("second child = %+v, want text node 'world'", n.Children[1])
	}
}

func TestElChildSlice(t *testing.T) {
	items := []*Node{El("li", "a"), El("li", "b")}
	n := El("ul", items)

	if len(n.Children) != 2 {
		t.Fatalf("Expected 2 children, got %d", len(n.Children))
	}
}

func TestTextNode(t *testing.T) {
	n := TextNode("hello")
	if n.Kind != KindText {
		t.Errorf("Kind = %v, want KindText", n.Kind)
	}
	if n.Text != "hello" {
		t.Errorf("Text = %v, want hello", n.Text)
	}
}

func TestCloneIndependence(t *testing.T) {
	orig := El("div",
		Attr("class", "a"),
		El("span", "text"),
	)
	orig.ID = "n1"
	orig.Children[0].ID = "n2"

	c := Clone(orig)
	if !Equal(orig, c) {
		t.Fatal("clone is not equal to original")
	}

	c.Attrs["class"] = "b"
	c.Children[0].Children[0].Text = "changed"

	if orig.Attr("class") != "a" {
		t.Errorf("original attr mutated: %v", orig.Attr("class"))
	}
	if orig.Children[0].Children[0].Text != "text" {
		t.Errorf("original text mutated: %v", orig.Children[0].Children[0].Text)
	}
}

func TestCloneNil(t *testing.T) {
	if Clone(nil) != nil {
		t.Error("Clone(nil) should be nil")
	}
}

func TestEqual(t *testing.T) {
	t.Run("identical trees", func(t *testing.T) {
		a := El("div", Attr("class", "x"), El("span", "hi"))
		b := El("div", Attr("class", "x"), El("span", "hi"))
		if !Equal(a, b) {
			t.Error("identical trees should be equal")
		}
	})

	t.Run("different IDs", func(t *testing.T) {
		a := El("div")
		a.ID = "n1"
		b := El("div")
		b.ID = "n2"
		if Equal(a, b) {
			t.Error("trees with different IDs should not be equal")
		}
	})

	t.Run("nil vs empty attrs", func(t *testing.T) {
		a := El("div")
		b := El("div")
		b.Attrs = map[string]string{}
		if !Equal(a, b) {
			t.Error("nil attrs and empty attrs should be equal")
		}
	})

	t.Run("nil nodes", func(t *testing.T) {
		if !Equal(nil, nil) {
			t.Error("nil, nil should be equal")
		}
		if Equal(El("div"), nil) {
			t.Error("tree and nil should not be equal")
		}
	})

	t.Run("different children order", func(t *testing.T) {
		a := El("ul", El("li", "a"), El("li", "b"))
		b := El("ul", El("li", "b"), El("li", "a"))
		if Equal(a, b) {
			t.Error("trees with reordered children should not be equal")
		}
	})
}

func TestFind(t *testing.T) {
	tree := El("div", El("span", "a"), El("p", "b"))
	tree.ID = "n1"
	tree.Children[0].ID = "n2"
	tree.Children[1].ID = "n3"

	if Find(tree, "n3") != tree.Children[1] {
		t.Error("Find did not locate n3")
	}
	if Find(tree, "n9") != nil {
		t.Error("Find should return nil for unknown ID")
	}
}

func TestCount(t *testing.T) {
	tree := El("div", El("span", "a"), El("p", "b"))
	// div + span + text + p + text
	if got := Count(tree); got != 5 {
		t.Errorf("Count = %d, want 5", got)
	}
	if Count(nil) != 0 {
		t.Error("Count(nil) should be 0")
	}
}

func TestSortedAttrNames(t *testing.T) {
	n := El("div", Attr("zeta", "1"), Attr("alpha", "2"), Attr("mid", "3"))
	names := n.SortedAttrNames()
	want := []string{"alpha", "mid", "zeta"}
	if len(names) != len(want) {
		t.Fatalf("Expected %d names, got %d", len(want), len(names))
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("names[%d] = %v, want %v", i, names[i], want[i])
		}
	}
}
