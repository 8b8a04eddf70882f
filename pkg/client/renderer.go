package client

import (
	"fmt"
	"sync"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// Renderer holds the client's mirror of the server tree and applies patch
// frames in version order, regardless of the order they arrive in.
//
// Frames at or below the current version are duplicates and are dropped
// silently, so redelivery after a reconnect is harmless. A frame exactly
// one ahead is applied; frames further ahead are buffered until the gap
// fills, and the caller is told to request a resync. Application is
// all-or-nothing per frame: a failed apply leaves the tree untouched.
type Renderer struct {
	mu        sync.Mutex
	tree      *vtree.Node
	version   uint64
	buffered  map[uint64]*protocol.PatchesFrame
	maxBuffer int

	// needFull is set when the local tree can no longer be trusted (a
	// frame in sequence failed to apply). Patch frames are discarded
	// until a full tree is adopted.
	needFull bool
}

// NewRenderer creates a renderer holding no tree at version 0. maxBuffer
// bounds the future-frame buffer; 0 uses the default.
func NewRenderer(maxBuffer int) *Renderer {
	if maxBuffer <= 0 {
		maxBuffer = DefaultConfig().MaxPatchBuffer
	}
	return &Renderer{
		buffered:  make(map[uint64]*protocol.PatchesFrame),
		maxBuffer: maxBuffer,
	}
}

// Version returns the version of the tree the renderer holds.
func (r *Renderer) Version() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.version
}

// ResyncVersion returns the version to report when asking the server for
// missed frames: the current version, or VersionUnknown when the local
// tree is unusable and only a full resync can help.
func (r *Renderer) ResyncVersion() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.needFull {
		return protocol.VersionUnknown
	}
	return r.version
}

// Tree returns a copy of the current tree, or nil before the first
// resync.
func (r *Renderer) Tree() *vtree.Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	return vtree.Clone(r.tree)
}

// ApplyPatches applies one patch frame. It returns the versions that were
// applied as a result, in order: the frame itself and any buffered
// successors it unblocked. Duplicates return (nil, nil).
//
// A frame ahead of the next expected version is buffered and
// ErrPatchOutOfOrder is returned; the caller should request a resync with
// ResyncVersion. Any other error means the frame did not fit the local
// tree, which also resolves via resync.
func (r *Renderer) ApplyPatches(frame *protocol.PatchesFrame) ([]uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.needFull {
		return nil, nil
	}

	switch {
	case frame.Version <= r.version:
		// Duplicate or stale redelivery.
		return nil, nil
	case frame.Version == r.version+1:
		return r.applyLocked(frame)
	default:
		r.bufferLocked(frame)
		return nil, fmt.Errorf("frame v%d arrived at v%d: %w",
			frame.Version, r.version, ErrPatchOutOfOrder)
	}
}

// applyLocked applies frame and cascades through any buffered successors.
func (r *Renderer) applyLocked(frame *protocol.PatchesFrame) ([]uint64, error) {
	var applied []uint64
	for frame != nil {
		tree, err := vtree.Apply(r.tree, protocol.ToTreePatches(frame.Patches))
		if err != nil {
			// The tree diverged from what the server diffed against.
			// Nothing locally can fix that; hold everything until a
			// full tree arrives.
			r.needFull = true
			r.buffered = make(map[uint64]*protocol.PatchesFrame)
			return applied, fmt.Errorf("apply v%d: %w", frame.Version, err)
		}
		r.tree = tree
		r.version = frame.Version
		applied = append(applied, frame.Version)

		next := r.buffered[r.version+1]
		delete(r.buffered, r.version+1)
		frame = next
	}
	return applied, nil
}

// bufferLocked holds a future frame, dropping the oldest buffered frame
// when full. The dropped frame is the one closest to the current version,
// which the requested resync covers anyway.
func (r *Renderer) bufferLocked(frame *protocol.PatchesFrame) {
	r.buffered[frame.Version] = frame
	if len(r.buffered) <= r.maxBuffer {
		return
	}
	var oldest uint64
	for v := range r.buffered {
		if oldest == 0 || v < oldest {
			oldest = v
		}
	}
	delete(r.buffered, oldest)
}

// AdoptTree replaces the mirror with a full tree at the given version, as
// delivered by a resync. Buffered frames the tree already covers are
// discarded; newer buffered frames are applied on top. The returned
// versions are the adopted version and everything applied after it.
//
// A resync older than the current tree is stale and ignored, unless the
// tree was marked unusable, in which case any full tree is an upgrade.
func (r *Renderer) AdoptTree(tree *vtree.Node, version uint64) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.needFull && r.tree != nil && version < r.version {
		return nil
	}

	r.needFull = false
	r.tree = tree
	r.version = version
	applied := []uint64{version}

	for v := range r.buffered {
		if v <= version {
			delete(r.buffered, v)
		}
	}
	if next := r.buffered[version+1]; next != nil {
		delete(r.buffered, version+1)
		more, err := r.applyLocked(next)
		applied = append(applied, more...)
		if err != nil {
			// The cascade re-marked the tree unusable; the caller sees
			// that via ResyncVersion. Adoption itself succeeded.
			return applied
		}
	}
	return applied
}

// BufferedCount returns the number of future frames held.
func (r *Renderer) BufferedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buffered)
}
