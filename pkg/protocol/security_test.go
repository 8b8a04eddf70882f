package protocol

import (
	"testing"

	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// These tests verify that hostile length prefixes and nesting cannot force
// large allocations or deep recursion. A malicious peer controls every byte
// after the WebSocket handshake, so each limit must hold.

// makeOversizedStringPayload builds a buffer whose string length prefix
// claims far more data than any peer should send.
func makeOversizedStringPayload(claimed uint64) []byte {
	e := NewEncoder()
	e.WriteUvarint(claimed)
	// Provide enough real bytes that the bounds check passes and the
	// allocation limit is what rejects it.
	e.WriteBytes(make([]byte, claimed))
	return e.Bytes()
}

// makeOversizedCollectionPayload builds a buffer whose collection count
// exceeds MaxCollectionCount, padded so the count passes the remaining-bytes
// check.
func makeOversizedCollectionPayload(count uint64) []byte {
	e := NewEncoder()
	e.WriteUvarint(count)
	e.WriteBytes(make([]byte, count))
	return e.Bytes()
}

func TestAllocationLimits(t *testing.T) {
	t.Run("String", func(t *testing.T) {
		d := NewDecoder(makeOversizedStringPayload(DefaultMaxAllocation + 1))
		if _, err := d.ReadString(); err != ErrAllocationTooLarge {
			t.Errorf("ReadString err = %v, want ErrAllocationTooLarge", err)
		}
	})

	t.Run("LenBytes", func(t *testing.T) {
		d := NewDecoder(makeOversizedStringPayload(DefaultMaxAllocation + 1))
		if _, err := d.ReadLenBytes(); err != ErrAllocationTooLarge {
			t.Errorf("ReadLenBytes err = %v, want ErrAllocationTooLarge", err)
		}
	})

	t.Run("StringAtLimit", func(t *testing.T) {
		// Exactly at the limit is allowed.
		d := NewDecoder(makeOversizedStringPayload(DefaultMaxAllocation))
		s, err := d.ReadString()
		if err != nil {
			t.Fatalf("ReadString at limit failed: %v", err)
		}
		if len(s) != DefaultMaxAllocation {
			t.Errorf("len = %d, want %d", len(s), DefaultMaxAllocation)
		}
	})
}

func TestCollectionLimits(t *testing.T) {
	d := NewDecoder(makeOversizedCollectionPayload(MaxCollectionCount + 1))
	if _, err := d.ReadCollectionCount(); err != ErrCollectionTooLarge {
		t.Errorf("ReadCollectionCount err = %v, want ErrCollectionTooLarge", err)
	}
}

func TestPatchesCollectionLimit(t *testing.T) {
	// A patches frame claiming more patches than MaxCollectionCount must be
	// rejected before the patch slice is allocated.
	e := NewEncoder()
	e.WriteUvarint(1)
	e.WriteUvarint(MaxCollectionCount + 1)
	e.WriteBytes(make([]byte, MaxCollectionCount+1))

	if _, err := DecodePatches(e.Bytes()); err != ErrCollectionTooLarge {
		t.Errorf("DecodePatches err = %v, want ErrCollectionTooLarge", err)
	}
}

func TestEventFieldsCollectionLimit(t *testing.T) {
	e := NewEncoder()
	e.WriteUvarint(1)
	e.WriteByte(byte(EventSubmit))
	e.WriteString("n1")
	e.WriteUvarint(MaxCollectionCount + 1)
	e.WriteBytes(make([]byte, MaxCollectionCount+1))

	if _, err := DecodeEvent(e.Bytes()); err != ErrCollectionTooLarge {
		t.Errorf("DecodeEvent err = %v, want ErrCollectionTooLarge", err)
	}
}

// createDeeplyNestedTree builds a single-child chain of the given depth.
func createDeeplyNestedTree(depth int) *vtree.Node {
	root := vtree.El("div")
	cur := root
	for i := 0; i < depth; i++ {
		child := vtree.El("div")
		cur.Children = []*vtree.Node{child}
		cur = child
	}
	return root
}

func TestNodeDepthLimit(t *testing.T) {
	t.Run("WithinLimit", func(t *testing.T) {
		e := NewEncoder()
		EncodeNodeWire(e, NodeToWire(createDeeplyNestedTree(MaxNodeDepth-1)))

		if _, err := DecodeNodeWire(NewDecoder(e.Bytes())); err != nil {
			t.Errorf("decode at depth %d failed: %v", MaxNodeDepth-1, err)
		}
	})

	t.Run("BeyondLimit", func(t *testing.T) {
		e := NewEncoder()
		EncodeNodeWire(e, NodeToWire(createDeeplyNestedTree(MaxNodeDepth+1)))

		if _, err := DecodeNodeWire(NewDecoder(e.Bytes())); err != ErrMaxDepthExceeded {
			t.Errorf("decode beyond depth limit err = %v, want ErrMaxDepthExceeded", err)
		}
	})
}

func TestPatchNodeDepthLimit(t *testing.T) {
	// Node trees inside InsertNode patches get the same depth guard.
	pf := &PatchesFrame{
		Version: 1,
		Patches: []Patch{
			NewInsertNodePatch("n1", 0, NodeToWire(createDeeplyNestedTree(MaxNodeDepth+1))),
		},
	}

	if _, err := DecodePatches(EncodePatches(pf)); err != ErrMaxDepthExceeded {
		t.Errorf("DecodePatches err = %v, want ErrMaxDepthExceeded", err)
	}
}

func TestTruncatedLengthPrefixNoAllocation(t *testing.T) {
	// A huge claimed length with a tiny buffer must fail on bounds, not
	// attempt the allocation.
	e := NewEncoder()
	e.WriteUvarint(1 << 40)
	e.WriteByte(0x00)

	d := NewDecoder(e.Bytes())
	if _, err := d.ReadString(); err == nil {
		t.Error("ReadString with absurd length prefix succeeded")
	}
}
