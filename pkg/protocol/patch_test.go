package protocol

import (
	"testing"

	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

func TestPatchesFrameRoundTrip(t *testing.T) {
	node := NodeToWire(vtree.El("span", vtree.Attr("class", "badge"), "new"))

	pf := &PatchesFrame{
		Version: 42,
		Patches: []Patch{
			NewSetTextPatch("n3", "updated text"),
			NewSetAttrPatch("n1", "class", "active"),
			NewRemoveAttrPatch("n1", "hidden"),
			NewInsertNodePatch("n2", 1, node),
			NewRemoveNodePatch("n5"),
			NewMoveNodePatch("n6", "n2", 0),
			NewReplaceNodePatch("n7", node),
		},
	}

	decoded, err := DecodePatches(EncodePatches(pf))
	if err != nil {
		t.Fatalf("DecodePatches failed: %v", err)
	}

	if decoded.Version != 42 {
		t.Errorf("Version = %d, want 42", decoded.Version)
	}
	if len(decoded.Patches) != 7 {
		t.Fatalf("Expected 7 patches, got %d", len(decoded.Patches))
	}

	p := decoded.Patches[0]
	if p.Op != PatchSetText || p.ID != "n3" || p.Value != "updated text" {
		t.Errorf("SetText = %+v", p)
	}
	p = decoded.Patches[1]
	if p.Op != PatchSetAttr || p.ID != "n1" || p.Key != "class" || p.Value != "active" {
		t.Errorf("SetAttr = %+v", p)
	}
	p = decoded.Patches[2]
	if p.Op != PatchRemoveAttr || p.ID != "n1" || p.Key != "hidden" {
		t.Errorf("RemoveAttr = %+v", p)
	}
	p = decoded.Patches[3]
	if p.Op != PatchInsertNode || p.ParentID != "n2" || p.Index != 1 || p.Node == nil {
		t.Errorf("InsertNode = %+v", p)
	}
	if p.Node != nil && p.Node.Tag != "span" {
		t.Errorf("InsertNode subtree tag = %q, want span", p.Node.Tag)
	}
	p = decoded.Patches[4]
	if p.Op != PatchRemoveNode || p.ID != "n5" {
		t.Errorf("RemoveNode = %+v", p)
	}
	p = decoded.Patches[5]
	if p.Op != PatchMoveNode || p.ID != "n6" || p.ParentID != "n2" || p.Index != 0 {
		t.Errorf("MoveNode = %+v", p)
	}
	p = decoded.Patches[6]
	if p.Op != PatchReplaceNode || p.ID != "n7" || p.Node == nil {
		t.Errorf("ReplaceNode = %+v", p)
	}
}

func TestPatchesFrameEmpty(t *testing.T) {
	pf := &PatchesFrame{Version: 9}

	decoded, err := DecodePatches(EncodePatches(pf))
	if err != nil {
		t.Fatalf("DecodePatches failed: %v", err)
	}
	if decoded.Version != 9 || len(decoded.Patches) != 0 {
		t.Errorf("decoded = %+v, want empty frame at version 9", decoded)
	}
}

func TestPatchConversions(t *testing.T) {
	// Diff the tree layer, cross the wire, apply on the other side.
	prev := vtree.El("div",
		vtree.El("p", "old"),
	)
	next := vtree.El("div",
		vtree.El("p", "new"),
		vtree.El("p", "extra"),
	)

	gen := vtree.NewIDGenerator()
	vtree.AssignIDs(prev, gen)
	vtree.CarryIDs(prev, next)
	vtree.AssignIDs(next, gen)

	patches := vtree.Diff(prev, next)
	if len(patches) == 0 {
		t.Fatal("expected patches from diff")
	}

	pf := &PatchesFrame{Version: 1, Patches: ToWirePatches(patches)}
	decoded, err := DecodePatches(EncodePatches(pf))
	if err != nil {
		t.Fatalf("DecodePatches failed: %v", err)
	}

	applied, err := vtree.Apply(prev, ToTreePatches(decoded.Patches))
	if err != nil {
		t.Fatalf("Apply failed: %v", err)
	}
	if !vtree.Equal(applied, next) {
		t.Error("tree after wire round trip does not match target")
	}
}

func TestPatchConversionsNil(t *testing.T) {
	if got := ToWirePatches(nil); got != nil {
		t.Errorf("ToWirePatches(nil) = %v, want nil", got)
	}
	if got := ToTreePatches(nil); got != nil {
		t.Errorf("ToTreePatches(nil) = %v, want nil", got)
	}
}

func TestDecodePatchUnknownOp(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(1) // version
	e.WriteUvarint(1) // count
	e.WriteByte(0x6E) // unknown op
	e.WriteString("n1")

	if _, err := DecodePatches(e.Bytes()); err != ErrInvalidPatchOp {
		t.Errorf("DecodePatches(unknown op) err = %v, want ErrInvalidPatchOp", err)
	}
}

func TestDecodePatchesTruncated(t *testing.T) {
	pf := &PatchesFrame{
		Version: 3,
		Patches: []Patch{NewSetTextPatch("n1", "some longer text content")},
	}
	data := EncodePatches(pf)

	// Every strict prefix must fail cleanly, never panic.
	for i := 0; i < len(data); i++ {
		if _, err := DecodePatches(data[:i]); err == nil {
			t.Errorf("DecodePatches(prefix %d/%d) succeeded, want error", i, len(data))
		}
	}
}

func TestPatchOpString(t *testing.T) {
	cases := []struct {
		op   PatchOp
		want string
	}{
		{PatchSetText, "SetText"},
		{PatchSetAttr, "SetAttr"},
		{PatchRemoveAttr, "RemoveAttr"},
		{PatchInsertNode, "InsertNode"},
		{PatchRemoveNode, "RemoveNode"},
		{PatchMoveNode, "MoveNode"},
		{PatchReplaceNode, "ReplaceNode"},
		{PatchOp(0xEE), "Unknown"},
	}
	for _, tc := range cases {
		if got := tc.op.String(); got != tc.want {
			t.Errorf("PatchOp(%d).String() = %q, want %q", tc.op, got, tc.want)
		}
	}
}

func TestPatchOpValuesMatchTreeLayer(t *testing.T) {
	// Wire ops and tree ops share values so conversions are casts.
	pairs := []struct {
		wire PatchOp
		tree vtree.PatchOp
	}{
		{PatchSetText, vtree.PatchSetText},
		{PatchSetAttr, vtree.PatchSetAttr},
		{PatchRemoveAttr, vtree.PatchRemoveAttr},
		{PatchInsertNode, vtree.PatchInsertNode},
		{PatchRemoveNode, vtree.PatchRemoveNode},
		{PatchMoveNode, vtree.PatchMoveNode},
		{PatchReplaceNode, vtree.PatchReplaceNode},
	}
	for _, pair := range pairs {
		if uint8(pair.wire) != uint8(pair.tree) {
			t.Errorf("%v = 0x%02X, vtree %v = 0x%02X", pair.wire, uint8(pair.wire), pair.tree, uint8(pair.tree))
		}
	}
}
