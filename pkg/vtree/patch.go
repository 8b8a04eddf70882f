package vtree

// PatchOp identifies a single tree mutation.
type PatchOp uint8

const (
	// PatchSetText replaces the text of a text node.
	PatchSetText PatchOp = 0x01
	// PatchSetAttr sets an attribute on an element.
	PatchSetAttr PatchOp = 0x02
	// PatchRemoveAttr removes an attribute from an element.
	PatchRemoveAttr PatchOp = 0x03
	// PatchInsertNode inserts a subtree under a parent at an index.
	PatchInsertNode PatchOp = 0x04
	// PatchRemoveNode removes a node and its subtree.
	PatchRemoveNode PatchOp = 0x05
	// PatchMoveNode moves a node to a new index under a parent.
	PatchMoveNode PatchOp = 0x06
	// PatchReplaceNode replaces a node with a new subtree.
	PatchReplaceNode PatchOp = 0x07
)

// String returns the op name for debugging.
func (op PatchOp) String() string {
	switch op {
	case PatchSetText:
		return "SetText"
	case PatchSetAttr:
		return "SetAttr"
	case PatchRemoveAttr:
		return "RemoveAttr"
	case PatchInsertNode:
		return "InsertNode"
	case PatchRemoveNode:
		return "RemoveNode"
	case PatchMoveNode:
		return "MoveNode"
	case PatchReplaceNode:
		return "ReplaceNode"
	default:
		return "Unknown"
	}
}

// Patch is a single operation in a patch sequence. Fields are used depending
// on Op:
//
//	SetText:     ID, Value
//	SetAttr:     ID, Key, Value
//	RemoveAttr:  ID, Key
//	InsertNode:  ParentID, Index, Node
//	RemoveNode:  ID
//	MoveNode:    ID, ParentID, Index
//	ReplaceNode: ID, Node
type Patch struct {
	Op       PatchOp
	ID       string
	Key      string
	Value    string
	ParentID string
	Index    int
	Node     *Node
}
