package vtree

// Diff compares two trees and returns the patches that transform prev into
// next. The result is deterministic: the same pair of trees always yields the
// same patch sequence, byte for byte. Applying the patches to prev (see
// Apply) yields a tree equal to next.
//
// Both trees must carry node IDs; run CarryIDs and AssignIDs on next before
// diffing so surviving nodes keep their addresses.
//
// Diff(nil, next) returns no patches: initial tree delivery is a full sync,
// not a patch. Diff(prev, nil) removes the root.
func Diff(prev, next *Node) []Patch {
	var patches []Patch
	diff(prev, next, &patches)
	return patches
}

func diff(prev, next *Node, patches *[]Patch) {
	if prev == nil && next == nil {
		return
	}
	if prev == nil {
		// Insertion is emitted by the parent's child diff.
		return
	}
	if next == nil {
		*patches = append(*patches, Patch{Op: PatchRemoveNode, ID: prev.ID})
		return
	}
	if prev.Kind != next.Kind {
		*patches = append(*patches, Patch{Op: PatchReplaceNode, ID: prev.ID, Node: next})
		return
	}

	switch prev.Kind {
	case KindText:
		diffText(prev, next, patches)
	case KindElement:
		diffElement(prev, next, patches)
	}
}

func diffText(prev, next *Node, patches *[]Patch) {
	if prev.Text != next.Text {
		*patches = append(*patches, Patch{Op: PatchSetText, ID: prev.ID, Value: next.Text})
	}
}

func diffElement(prev, next *Node, patches *[]Patch) {
	if prev.Tag != next.Tag {
		*patches = append(*patches, Patch{Op: PatchReplaceNode, ID: prev.ID, Node: next})
		return
	}

	diffAttrs(prev, next, patches)
	diffChildren(prev, next, patches)
}

// diffAttrs emits attribute patches in sorted key order so the sequence never
// depends on map iteration order.
func diffAttrs(prev, next *Node, patches *[]Patch) {
	for _, key := range prev.SortedAttrNames() {
		prevVal := prev.Attrs[key]
		nextVal, ok := next.Attrs[key]
		if !ok {
			*patches = append(*patches, Patch{Op: PatchRemoveAttr, ID: prev.ID, Key: key})
		} else if prevVal != nextVal {
			*patches = append(*patches, Patch{Op: PatchSetAttr, ID: prev.ID, Key: key, Value: nextVal})
		}
	}

	for _, key := range next.SortedAttrNames() {
		if _, ok := prev.Attrs[key]; !ok {
			*patches = append(*patches, Patch{Op: PatchSetAttr, ID: prev.ID, Key: key, Value: next.Attrs[key]})
		}
	}
}

func diffChildren(prev, next *Node, patches *[]Patch) {
	if hasKeys(prev.Children) || hasKeys(next.Children) {
		diffKeyedChildren(prev, prev.Children, next.Children, patches)
	} else {
		diffUnkeyedChildren(prev, prev.Children, next.Children, patches)
	}
}

// diffUnkeyedChildren matches children positionally.
func diffUnkeyedChildren(parent *Node, prev, next []*Node, patches *[]Patch) {
	maxLen := len(prev)
	if len(next) > maxLen {
		maxLen = len(next)
	}

	for i := 0; i < maxLen; i++ {
		var prevChild, nextChild *Node
		if i < len(prev) {
			prevChild = prev[i]
		}
		if i < len(next) {
			nextChild = next[i]
		}

		switch {
		case prevChild == nil && nextChild != nil:
			*patches = append(*patches, Patch{
				Op:       PatchInsertNode,
				ParentID: parent.ID,
				Index:    i,
				Node:     nextChild,
			})
		case prevChild != nil && nextChild == nil:
			*patches = append(*patches, Patch{Op: PatchRemoveNode, ID: prevChild.ID})
		default:
			diff(prevChild, nextChild, patches)
		}
	}
}

// diffKeyedChildren matches children by key. Matched children that changed
// position emit MoveNode; unmatched previous children are removed; unmatched
// next children (including unkeyed ones in a keyed list) are inserted, never
// moved.
//
// Removals are emitted first and the surviving list is simulated while moves
// and inserts are computed, so every emitted index is the position the child
// occupies at application time.
func diffKeyedChildren(parent *Node, prev, next []*Node, patches *[]Patch) {
	nextByKey := make(map[string]int, len(next))
	for i, child := range next {
		if child != nil && child.Key != "" {
			nextByKey[child.Key] = i
		}
	}

	// Previous children that have no keyed match in next are removed up
	// front so they never perturb move and insert indices. On duplicate
	// keys the first occurrence claims the match.
	work := make([]*Node, 0, len(next))
	prevByKey := make(map[string]*Node, len(prev))
	for _, child := range prev {
		if child == nil {
			continue
		}
		if child.Key != "" {
			_, survives := nextByKey[child.Key]
			_, claimed := prevByKey[child.Key]
			if survives && !claimed {
				prevByKey[child.Key] = child
				work = append(work, child)
				continue
			}
		}
		*patches = append(*patches, Patch{Op: PatchRemoveNode, ID: child.ID})
	}

	for nextIdx, nextChild := range next {
		if nextChild == nil {
			continue
		}

		prevChild := prevByKey[nextChild.Key]
		if nextChild.Key == "" || prevChild == nil {
			*patches = append(*patches, Patch{
				Op:       PatchInsertNode,
				ParentID: parent.ID,
				Index:    nextIdx,
				Node:     nextChild,
			})
			work = insertAt(work, nextIdx, nextChild)
			continue
		}

		delete(prevByKey, nextChild.Key)

		cur := indexOfNode(work, prevChild)
		if cur != nextIdx {
			*patches = append(*patches, Patch{
				Op:       PatchMoveNode,
				ID:       prevChild.ID,
				ParentID: parent.ID,
				Index:    nextIdx,
			})
			work = moveTo(work, cur, nextIdx)
		}

		diff(prevChild, nextChild, patches)
	}
}

func indexOfNode(list []*Node, n *Node) int {
	for i, c := range list {
		if c == n {
			return i
		}
	}
	return -1
}

func insertAt(list []*Node, i int, n *Node) []*Node {
	if i < 0 {
		i = 0
	}
	if i > len(list) {
		i = len(list)
	}
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = n
	return list
}

func moveTo(list []*Node, from, to int) []*Node {
	if from < 0 || from >= len(list) {
		return list
	}
	n := list[from]
	list = append(list[:from], list[from+1:]...)
	return insertAt(list, to, n)
}
