package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// chainFrames runs the given trees through the same pipeline the server
// renders with: IDs carried from step to step, one diff per step. It
// returns the base tree (version 0) and a patch frame per following step,
// versioned 1..n.
func chainFrames(t *testing.T, steps ...*vtree.Node) (*vtree.Node, []*protocol.PatchesFrame) {
	t.Helper()
	gen := vtree.NewIDGenerator()
	base := steps[0]
	vtree.AssignIDs(base, gen)

	prev := base
	frames := make([]*protocol.PatchesFrame, 0, len(steps)-1)
	for i, next := range steps[1:] {
		vtree.CarryIDs(prev, next)
		vtree.AssignIDs(next, gen)
		patches := vtree.Diff(prev, next)
		if len(patches) == 0 {
			t.Fatalf("step %d produced no patches", i+1)
		}
		frames = append(frames, &protocol.PatchesFrame{
			Version: uint64(i + 1),
			Patches: protocol.ToWirePatches(patches),
		})
		prev = next
	}
	return base, frames
}

func labelTree(label string) *vtree.Node {
	return vtree.El("div",
		vtree.El("span", vtree.Attr("class", "count"), label),
		vtree.El("button", "+"),
	)
}

// labelChain builds a base tree plus one frame per label change.
func labelChain(t *testing.T, labels ...string) (*vtree.Node, []*protocol.PatchesFrame, []*vtree.Node) {
	t.Helper()
	steps := make([]*vtree.Node, len(labels))
	for i, label := range labels {
		steps[i] = labelTree(label)
	}
	base, frames := chainFrames(t, steps...)
	return base, frames, steps
}

func mustApply(t *testing.T, r *Renderer, frame *protocol.PatchesFrame) []uint64 {
	t.Helper()
	applied, err := r.ApplyPatches(frame)
	if err != nil {
		t.Fatalf("ApplyPatches(v%d) failed: %v", frame.Version, err)
	}
	return applied
}

func TestRendererEmpty(t *testing.T) {
	r := NewRenderer(0)
	if r.Version() != 0 {
		t.Errorf("Version = %d, want 0", r.Version())
	}
	if r.Tree() != nil {
		t.Error("Tree on fresh renderer is not nil")
	}
	if r.ResyncVersion() != 0 {
		t.Errorf("ResyncVersion = %d, want 0", r.ResyncVersion())
	}
}

func TestRendererSequentialApply(t *testing.T) {
	base, frames, steps := labelChain(t, "0", "1", "2", "3")
	r := NewRenderer(0)
	r.AdoptTree(vtree.Clone(base), 0)

	for i, frame := range frames {
		applied := mustApply(t, r, frame)
		if len(applied) != 1 || applied[0] != frame.Version {
			t.Fatalf("applied = %v, want [%d]", applied, frame.Version)
		}
		if !vtree.Equal(r.Tree(), steps[i+1]) {
			t.Fatalf("tree after v%d does not match the rendered step", frame.Version)
		}
	}
	if r.Version() != 3 {
		t.Errorf("Version = %d, want 3", r.Version())
	}
}

func TestRendererDuplicateIgnored(t *testing.T) {
	base, frames, steps := labelChain(t, "0", "1")
	r := NewRenderer(0)
	r.AdoptTree(vtree.Clone(base), 0)
	mustApply(t, r, frames[0])

	applied := mustApply(t, r, frames[0])
	if applied != nil {
		t.Errorf("duplicate apply returned %v, want nil", applied)
	}
	if r.Version() != 1 {
		t.Errorf("Version = %d, want 1", r.Version())
	}
	if !vtree.Equal(r.Tree(), steps[1]) {
		t.Error("tree changed after duplicate apply")
	}
}

func TestRendererStaleFrameIgnored(t *testing.T) {
	base, frames, _ := labelChain(t, "0", "1", "2")
	r := NewRenderer(0)
	r.AdoptTree(vtree.Clone(base), 0)
	mustApply(t, r, frames[0])
	mustApply(t, r, frames[1])

	if applied := mustApply(t, r, frames[0]); applied != nil {
		t.Errorf("stale apply returned %v, want nil", applied)
	}
	if r.Version() != 2 {
		t.Errorf("Version = %d, want 2", r.Version())
	}
}

func TestRendererGapBuffersUntilFilled(t *testing.T) {
	base, frames, steps := labelChain(t, "0", "1", "2")
	r := NewRenderer(0)
	r.AdoptTree(vtree.Clone(base), 0)

	applied, err := r.ApplyPatches(frames[1]) // v2 before v1
	if !errors.Is(err, ErrPatchOutOfOrder) {
		t.Fatalf("gap apply error = %v, want ErrPatchOutOfOrder", err)
	}
	if applied != nil {
		t.Fatalf("gap apply returned %v, want nil", applied)
	}
	if r.Version() != 0 {
		t.Fatalf("Version = %d, want 0: future frame must not apply", r.Version())
	}
	if r.BufferedCount() != 1 {
		t.Fatalf("BufferedCount = %d, want 1", r.BufferedCount())
	}

	applied = mustApply(t, r, frames[0])
	want := []uint64{1, 2}
	if len(applied) != 2 || applied[0] != want[0] || applied[1] != want[1] {
		t.Fatalf("applied = %v, want %v", applied, want)
	}
	if !vtree.Equal(r.Tree(), steps[2]) {
		t.Error("tree does not match the final step after the gap filled")
	}
	if r.BufferedCount() != 0 {
		t.Errorf("BufferedCount = %d, want 0", r.BufferedCount())
	}
}

// Two consecutive frames delivered in reverse order must still converge
// on the later frame's tree, never a mix of the two.
func TestRendererReorderedFramesConverge(t *testing.T) {
	base, frames, steps := labelChain(t, "0", "1", "2", "3", "4", "5", "6", "7")
	r := NewRenderer(0)
	r.AdoptTree(vtree.Clone(base), 0)
	for _, frame := range frames[:5] {
		mustApply(t, r, frame)
	}

	if _, err := r.ApplyPatches(frames[6]); !errors.Is(err, ErrPatchOutOfOrder) { // v7
		t.Fatalf("v7 before v6: error = %v, want ErrPatchOutOfOrder", err)
	}
	if !vtree.Equal(r.Tree(), steps[5]) {
		t.Fatal("tree moved while a future frame was buffered")
	}

	applied := mustApply(t, r, frames[5]) // v6 fills the gap
	if len(applied) != 2 || applied[0] != 6 || applied[1] != 7 {
		t.Fatalf("applied = %v, want [6 7]", applied)
	}
	if r.Version() != 7 {
		t.Errorf("Version = %d, want 7", r.Version())
	}
	if !vtree.Equal(r.Tree(), steps[7]) {
		t.Error("tree does not match the v7 render")
	}
}

func TestRendererAdoptTreeDiscardsCoveredBuffers(t *testing.T) {
	_, frames, steps := labelChain(t, "0", "1", "2", "3", "4", "5")
	r := NewRenderer(0)

	// v3 and v5 arrive before any usable base.
	if _, err := r.ApplyPatches(frames[2]); !errors.Is(err, ErrPatchOutOfOrder) {
		t.Fatalf("error = %v, want ErrPatchOutOfOrder", err)
	}
	if _, err := r.ApplyPatches(frames[4]); !errors.Is(err, ErrPatchOutOfOrder) {
		t.Fatalf("error = %v, want ErrPatchOutOfOrder", err)
	}
	if r.BufferedCount() != 2 {
		t.Fatalf("BufferedCount = %d, want 2", r.BufferedCount())
	}

	applied := r.AdoptTree(vtree.Clone(steps[4]), 4)
	if len(applied) != 2 || applied[0] != 4 || applied[1] != 5 {
		t.Fatalf("applied = %v, want [4 5]", applied)
	}
	if r.Version() != 5 {
		t.Errorf("Version = %d, want 5", r.Version())
	}
	if !vtree.Equal(r.Tree(), steps[5]) {
		t.Error("tree does not match the v5 render")
	}
	if r.BufferedCount() != 0 {
		t.Errorf("BufferedCount = %d, want 0: v3 covered, v5 applied", r.BufferedCount())
	}
}

func TestRendererAdoptTreeStaleIgnored(t *testing.T) {
	base, frames, steps := labelChain(t, "0", "1", "2")
	r := NewRenderer(0)
	r.AdoptTree(vtree.Clone(base), 0)
	mustApply(t, r, frames[0])
	mustApply(t, r, frames[1])

	if applied := r.AdoptTree(labelTree("stale"), 1); applied != nil {
		t.Errorf("stale adopt returned %v, want nil", applied)
	}
	if r.Version() != 2 {
		t.Errorf("Version = %d, want 2", r.Version())
	}
	if !vtree.Equal(r.Tree(), steps[2]) {
		t.Error("stale adopt replaced the tree")
	}
}

func TestRendererCorruptFrameForcesFullResync(t *testing.T) {
	base, frames, _ := labelChain(t, "0", "1", "2")
	r := NewRenderer(0)
	r.AdoptTree(vtree.Clone(base), 0)

	bad := &protocol.PatchesFrame{
		Version: 1,
		Patches: protocol.ToWirePatches([]vtree.Patch{
			{Op: vtree.PatchSetText, ID: "no-such-node", Value: "x"},
		}),
	}
	applied, err := r.ApplyPatches(bad)
	if err == nil {
		t.Fatal("corrupt frame applied without error")
	}
	if len(applied) != 0 {
		t.Fatalf("applied = %v, want none", applied)
	}
	if r.ResyncVersion() != protocol.VersionUnknown {
		t.Fatalf("ResyncVersion = %d, want VersionUnknown", r.ResyncVersion())
	}

	// Valid frames are dropped until a full tree arrives.
	if applied := mustApply(t, r, frames[0]); applied != nil {
		t.Fatalf("frame applied while tree is unusable: %v", applied)
	}

	full := labelTree("5")
	vtree.AssignIDs(full, vtree.NewIDGenerator())
	if applied := r.AdoptTree(full, 5); len(applied) != 1 || applied[0] != 5 {
		t.Fatalf("recovery adopt returned %v, want [5]", applied)
	}
	if r.ResyncVersion() != 5 {
		t.Errorf("ResyncVersion = %d, want 5 after recovery", r.ResyncVersion())
	}
	if !vtree.Equal(r.Tree(), full) {
		t.Error("tree does not match the adopted full tree")
	}
}

func TestRendererBufferOverflowDropsOldest(t *testing.T) {
	base, frames, steps := labelChain(t, "0", "1", "2", "3", "4")
	r := NewRenderer(2)
	r.AdoptTree(vtree.Clone(base), 0)

	for _, i := range []int{1, 2, 3} { // v2, v3, v4 buffer; v2 dropped
		if _, err := r.ApplyPatches(frames[i]); !errors.Is(err, ErrPatchOutOfOrder) {
			t.Fatalf("v%d: error = %v, want ErrPatchOutOfOrder", i+1, err)
		}
	}
	if r.BufferedCount() != 2 {
		t.Fatalf("BufferedCount = %d, want 2", r.BufferedCount())
	}

	// v1 applies alone: its successor was dropped from the buffer.
	applied := mustApply(t, r, frames[0])
	if len(applied) != 1 || applied[0] != 1 {
		t.Fatalf("applied = %v, want [1]", applied)
	}

	// The resync redelivers v2 and the rest cascades.
	applied = mustApply(t, r, frames[1])
	if len(applied) != 3 || applied[0] != 2 || applied[2] != 4 {
		t.Fatalf("applied = %v, want [2 3 4]", applied)
	}
	if !vtree.Equal(r.Tree(), steps[4]) {
		t.Error("tree does not match the v4 render")
	}
}

func TestRendererTreeIsACopy(t *testing.T) {
	base, _, _ := labelChain(t, "0", "1")
	r := NewRenderer(0)
	r.AdoptTree(vtree.Clone(base), 0)

	got := r.Tree()
	got.Children[0].Children[0].Text = "tampered"
	if !vtree.Equal(r.Tree(), base) {
		t.Error("mutating the returned tree changed the renderer's copy")
	}
}

func TestRendererConvergesRegardlessOfArrival(t *testing.T) {
	arrivals := [][]int{
		{0, 1, 2, 3},
		{1, 0, 3, 2},
		{3, 2, 1, 0},
		{0, 0, 1, 1, 2, 2, 3, 3},
	}
	for _, order := range arrivals {
		t.Run(fmt.Sprintf("%v", order), func(t *testing.T) {
			base, frames, steps := labelChain(t, "0", "1", "2", "3", "4")
			r := NewRenderer(0)
			r.AdoptTree(vtree.Clone(base), 0)

			for _, i := range order {
				r.ApplyPatches(frames[i])
			}
			if r.Version() != 4 {
				t.Fatalf("Version = %d, want 4", r.Version())
			}
			if !vtree.Equal(r.Tree(), steps[4]) {
				t.Error("tree does not match the final render")
			}
		})
	}
}
