package protocol

import (
	"errors"
	"sort"

	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// ErrInvalidNodeKind is returned when a decoded node carries an unknown kind.
var ErrInvalidNodeKind = errors.New("protocol: invalid node kind")

// NodeWire is the wire format for view tree nodes. It carries everything a
// client mirror needs to reconstruct the server tree, including node IDs and
// list keys, so that a full resync round-trips to a tree equal to the
// server's.
type NodeWire struct {
	Kind     vtree.Kind
	Tag      string
	ID       string
	Key      string
	Attrs    map[string]string
	Text     string
	Children []*NodeWire
}

// NodeToWire converts a vtree.Node to wire format.
func NodeToWire(node *vtree.Node) *NodeWire {
	if node == nil {
		return nil
	}

	w := &NodeWire{
		Kind: node.Kind,
		Tag:  node.Tag,
		ID:   node.ID,
		Key:  node.Key,
		Text: node.Text,
	}

	if len(node.Attrs) > 0 {
		w.Attrs = make(map[string]string, len(node.Attrs))
		for k, v := range node.Attrs {
			w.Attrs[k] = v
		}
	}

	if len(node.Children) > 0 {
		w.Children = make([]*NodeWire, 0, len(node.Children))
		for _, child := range node.Children {
			if child != nil {
				w.Children = append(w.Children, NodeToWire(child))
			}
		}
	}

	return w
}

// ToNode converts a NodeWire back to a vtree.Node.
func (w *NodeWire) ToNode() *vtree.Node {
	if w == nil {
		return nil
	}

	node := &vtree.Node{
		Kind: w.Kind,
		Tag:  w.Tag,
		ID:   w.ID,
		Key:  w.Key,
		Text: w.Text,
	}

	if len(w.Attrs) > 0 {
		node.Attrs = make(map[string]string, len(w.Attrs))
		for k, v := range w.Attrs {
			node.Attrs[k] = v
		}
	}

	if len(w.Children) > 0 {
		node.Children = make([]*vtree.Node, len(w.Children))
		for i, child := range w.Children {
			node.Children[i] = child.ToNode()
		}
	}

	return node
}

// EncodeNodeWire encodes a node tree using the provided encoder.
// Attributes are written in sorted key order so the same tree always
// encodes to the same bytes.
func EncodeNodeWire(e *Encoder, node *NodeWire) {
	if node == nil {
		e.WriteByte(0xFF) // Null marker
		return
	}

	e.WriteByte(byte(node.Kind))

	switch node.Kind {
	case vtree.KindElement:
		e.WriteString(node.Tag)
		e.WriteString(node.ID)
		e.WriteString(node.Key)

		e.WriteUvarint(uint64(len(node.Attrs)))
		names := make([]string, 0, len(node.Attrs))
		for k := range node.Attrs {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			e.WriteString(k)
			e.WriteString(node.Attrs[k])
		}

		e.WriteUvarint(uint64(len(node.Children)))
		for _, child := range node.Children {
			EncodeNodeWire(e, child)
		}

	case vtree.KindText:
		e.WriteString(node.ID)
		e.WriteString(node.Text)
	}
}

// DecodeNodeWire decodes a node tree from the decoder.
// Enforces MaxNodeDepth to prevent stack overflow from hostile input.
func DecodeNodeWire(d *Decoder) (*NodeWire, error) {
	return decodeNodeWireDepth(d, 0)
}

func decodeNodeWireDepth(d *Decoder, depth int) (*NodeWire, error) {
	if err := checkDepth(depth, MaxNodeDepth); err != nil {
		return nil, err
	}

	kindByte, err := d.ReadByte()
	if err != nil {
		return nil, err
	}

	// Null marker
	if kindByte == 0xFF {
		return nil, nil
	}

	node := &NodeWire{
		Kind: vtree.Kind(kindByte),
	}

	switch node.Kind {
	case vtree.KindElement:
		node.Tag, err = d.ReadString()
		if err != nil {
			return nil, err
		}
		node.ID, err = d.ReadString()
		if err != nil {
			return nil, err
		}
		node.Key, err = d.ReadString()
		if err != nil {
			return nil, err
		}

		attrCount, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		if attrCount > 0 {
			node.Attrs = make(map[string]string, attrCount)
			for i := 0; i < attrCount; i++ {
				key, err := d.ReadString()
				if err != nil {
					return nil, err
				}
				value, err := d.ReadString()
				if err != nil {
					return nil, err
				}
				node.Attrs[key] = value
			}
		}

		childCount, err := d.ReadCollectionCount()
		if err != nil {
			return nil, err
		}
		if childCount > 0 {
			node.Children = make([]*NodeWire, childCount)
			for i := 0; i < childCount; i++ {
				child, err := decodeNodeWireDepth(d, depth+1)
				if err != nil {
					return nil, err
				}
				node.Children[i] = child
			}
		}

	case vtree.KindText:
		node.ID, err = d.ReadString()
		if err != nil {
			return nil, err
		}
		node.Text, err = d.ReadString()
		if err != nil {
			return nil, err
		}

	default:
		return nil, ErrInvalidNodeKind
	}

	return node, nil
}
