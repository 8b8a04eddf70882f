package protocol

import (
	"errors"

	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// ErrInvalidPatchOp is returned when a decoded patch carries an unknown
// operation. Patches are not self-delimiting, so decoding cannot continue
// past an unknown op.
var ErrInvalidPatchOp = errors.New("protocol: invalid patch op")

// PatchOp is the type of patch operation. Values match vtree.PatchOp so the
// wire encoding and the tree layer agree byte for byte.
type PatchOp uint8

const (
	PatchSetText     PatchOp = 0x01 // Update text content
	PatchSetAttr     PatchOp = 0x02 // Set attribute
	PatchRemoveAttr  PatchOp = 0x03 // Remove attribute
	PatchInsertNode  PatchOp = 0x04 // Insert new node
	PatchRemoveNode  PatchOp = 0x05 // Remove node
	PatchMoveNode    PatchOp = 0x06 // Move node within/between parents
	PatchReplaceNode PatchOp = 0x07 // Replace node
)

// String returns the string representation of the patch operation.
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

// Patch represents a single tree operation on the wire.
type Patch struct {
	Op       PatchOp
	ID       string    // Target node ID
	Key      string    // Attribute key
	Value    string    // Text or attribute value
	ParentID string    // Parent node ID for InsertNode/MoveNode
	Index    int       // Insert/Move position
	Node     *NodeWire // Subtree for InsertNode/ReplaceNode
}

// PatchesFrame is a batch of patches stamped with the tree version the batch
// produces: applying the frame to a tree at Version-1 yields the server tree
// at Version.
type PatchesFrame struct {
	Version uint64
	Patches []Patch
}

// ToWirePatches converts tree-layer patches to wire patches.
func ToWirePatches(patches []vtree.Patch) []Patch {
	if patches == nil {
		return nil
	}
	wire := make([]Patch, len(patches))
	for i, p := range patches {
		wire[i] = Patch{
			Op:       PatchOp(p.Op),
			ID:       p.ID,
			Key:      p.Key,
			Value:    p.Value,
			ParentID: p.ParentID,
			Index:    p.Index,
			Node:     NodeToWire(p.Node),
		}
	}
	return wire
}

// ToTreePatches converts wire patches back to tree-layer patches.
func ToTreePatches(patches []Patch) []vtree.Patch {
	if patches == nil {
		return nil
	}
	tree := make([]vtree.Patch, len(patches))
	for i, p := range patches {
		tree[i] = vtree.Patch{
			Op:       vtree.PatchOp(p.Op),
			ID:       p.ID,
			Key:      p.Key,
			Value:    p.Value,
			ParentID: p.ParentID,
			Index:    p.Index,
			Node:     p.Node.ToNode(),
		}
	}
	return tree
}

// EncodePatches encodes a patches frame to bytes.
func EncodePatches(pf *PatchesFrame) []byte {
	e := NewEncoder()
	EncodePatchesTo(e, pf)
	return e.Bytes()
}

// EncodePatchesTo encodes a patches frame using the provided encoder.
func EncodePatchesTo(e *Encoder, pf *PatchesFrame) {
	e.WriteUvarint(pf.Version)
	e.WriteUvarint(uint64(len(pf.Patches)))

	for i := range pf.Patches {
		encodePatch(e, &pf.Patches[i])
	}
}

func encodePatch(e *Encoder, p *Patch) {
	e.WriteByte(byte(p.Op))
	e.WriteString(p.ID)

	switch p.Op {
	case PatchSetText:
		e.WriteString(p.Value)

	case PatchSetAttr:
		e.WriteString(p.Key)
		e.WriteString(p.Value)

	case PatchRemoveAttr:
		e.WriteString(p.Key)

	case PatchInsertNode:
		e.WriteString(p.ParentID)
		e.WriteUvarint(uint64(p.Index))
		EncodeNodeWire(e, p.Node)

	case PatchRemoveNode:
		// No additional data (ID is sufficient)

	case PatchMoveNode:
		e.WriteString(p.ParentID)
		e.WriteUvarint(uint64(p.Index))

	case PatchReplaceNode:
		EncodeNodeWire(e, p.Node)
	}
}

// DecodePatches decodes a patches frame from bytes.
func DecodePatches(data []byte) (*PatchesFrame, error) {
	d := NewDecoder(data)
	return DecodePatchesFrom(d)
}

// DecodePatchesFrom decodes a patches frame from a decoder.
func DecodePatchesFrom(d *Decoder) (*PatchesFrame, error) {
	version, err := d.ReadUvarint()
	if err != nil {
		return nil, err
	}

	count, err := d.ReadCollectionCount()
	if err != nil {
		return nil, err
	}

	patches := make([]Patch, count)
	for i := 0; i < count; i++ {
		if err := decodePatch(d, &patches[i]); err != nil {
			return nil, err
		}
	}

	return &PatchesFrame{
		Version: version,
		Patches: patches,
	}, nil
}

func decodePatch(d *Decoder, p *Patch) error {
	opByte, err := d.ReadByte()
	if err != nil {
		return err
	}
	p.Op = PatchOp(opByte)

	p.ID, err = d.ReadString()
	if err != nil {
		return err
	}

	switch p.Op {
	case PatchSetText:
		p.Value, err = d.ReadString()

	case PatchSetAttr:
		p.Key, err = d.ReadString()
		if err != nil {
			return err
		}
		p.Value, err = d.ReadString()

	case PatchRemoveAttr:
		p.Key, err = d.ReadString()

	case PatchInsertNode:
		p.ParentID, err = d.ReadString()
		if err != nil {
			return err
		}
		var idx uint64
		idx, err = d.ReadUvarint()
		if err != nil {
			return err
		}
		p.Index = int(idx)
		p.Node, err = DecodeNodeWire(d)

	case PatchRemoveNode:
		// No additional data

	case PatchMoveNode:
		p.ParentID, err = d.ReadString()
		if err != nil {
			return err
		}
		var idx uint64
		idx, err = d.ReadUvarint()
		p.Index = int(idx)

	case PatchReplaceNode:
		p.Node, err = DecodeNodeWire(d)

	default:
		// Unknown patch op with no length information: the rest of the
		// frame cannot be parsed safely.
		return ErrInvalidPatchOp
	}

	return err
}

// NewSetTextPatch creates a SetText patch.
func NewSetTextPatch(id, text string) Patch {
	return Patch{Op: PatchSetText, ID: id, Value: text}
}

// NewSetAttrPatch creates a SetAttr patch.
func NewSetAttrPatch(id, key, value string) Patch {
	return Patch{Op: PatchSetAttr, ID: id, Key: key, Value: value}
}

// NewRemoveAttrPatch creates a RemoveAttr patch.
func NewRemoveAttrPatch(id, key string) Patch {
	return Patch{Op: PatchRemoveAttr, ID: id, Key: key}
}

// NewInsertNodePatch creates an InsertNode patch.
func NewInsertNodePatch(parentID string, index int, node *NodeWire) Patch {
	return Patch{Op: PatchInsertNode, ParentID: parentID, Index: index, Node: node}
}

// NewRemoveNodePatch creates a RemoveNode patch.
func NewRemoveNodePatch(id string) Patch {
	return Patch{Op: PatchRemoveNode, ID: id}
}

// NewMoveNodePatch creates a MoveNode patch.
func NewMoveNodePatch(id, parentID string, index int) Patch {
	return Patch{Op: PatchMoveNode, ID: id, ParentID: parentID, Index: index}
}

// NewReplaceNodePatch creates a ReplaceNode patch.
func NewReplaceNodePatch(id string, node *NodeWire) Patch {
	return Patch{Op: PatchReplaceNode, ID: id, Node: node}
}
