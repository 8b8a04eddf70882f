package protocol

import "errors"

// Depth limits to prevent stack overflow via deeply nested structures.
// These complement the allocation limits in decoder.go.
const (
	// MaxNodeDepth limits the nesting depth of encoded node trees.
	MaxNodeDepth = 256

	// MaxPatchDepth limits the nesting depth of patch structures. Patches
	// can carry node trees (InsertNode, ReplaceNode), so node decoding
	// inside a patch still gets the full MaxNodeDepth.
	MaxPatchDepth = 128
)

// ErrMaxDepthExceeded is returned when a decoded structure nests deeper
// than the configured limit.
var ErrMaxDepthExceeded = errors.New("protocol: maximum nesting depth exceeded")

func checkDepth(current, max int) error {
	if current > max {
		return ErrMaxDepthExceeded
	}
	return nil
}
