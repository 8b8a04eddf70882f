package protocol

import (
	"fmt"
	"testing"

	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

func benchmarkTree(rows int) *vtree.Node {
	list := vtree.El("ul", vtree.Attr("class", "items"))
	for i := 0; i < rows; i++ {
		list.Children = append(list.Children,
			vtree.El("li", vtree.WithKey(fmt.Sprintf("row-%d", i)),
				vtree.Attr("class", "item"),
				fmt.Sprintf("item %d", i),
			))
	}
	root := vtree.El("div", list)
	vtree.AssignIDs(root, vtree.NewIDGenerator())
	return root
}

func BenchmarkEncodeEvent(b *testing.B) {
	event := NewInputEvent(42, "n17", "the quick brown fox")

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EncodeEvent(event)
	}
}

func BenchmarkDecodeEvent(b *testing.B) {
	data := EncodeEvent(NewInputEvent(42, "n17", "the quick brown fox"))

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeEvent(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodePatches(b *testing.B) {
	pf := &PatchesFrame{
		Version: 10,
		Patches: []Patch{
			NewSetTextPatch("n3", "updated"),
			NewSetAttrPatch("n1", "class", "active"),
			NewInsertNodePatch("n2", 0, NodeToWire(vtree.El("span", "new"))),
		},
	}

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		EncodePatches(pf)
	}
}

func BenchmarkDecodePatches(b *testing.B) {
	data := EncodePatches(&PatchesFrame{
		Version: 10,
		Patches: []Patch{
			NewSetTextPatch("n3", "updated"),
			NewSetAttrPatch("n1", "class", "active"),
			NewInsertNodePatch("n2", 0, NodeToWire(vtree.El("span", "new"))),
		},
	})

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := DecodePatches(data); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeNodeWire100(b *testing.B) {
	wire := NodeToWire(benchmarkTree(100))

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		e := NewEncoderWithCap(8192)
		EncodeNodeWire(e, wire)
	}
}

func BenchmarkDecodeNodeWire100(b *testing.B) {
	e := NewEncoderWithCap(8192)
	EncodeNodeWire(e, NodeToWire(benchmarkTree(100)))
	data := e.Bytes()

	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := DecodeNodeWire(NewDecoder(data)); err != nil {
			b.Fatal(err)
		}
	}
}
