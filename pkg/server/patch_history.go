package server

import "sync"

// PatchHistory is a ring buffer of encoded patch frames keyed by version.
// It doubles as the session's outbound queue: every pushed version lands
// here whether or not a connection is attached, and a reconnecting client
// behind by at most the buffer depth is caught up by replaying the exact
// frames it missed. A client further behind gets a full resync instead.
//
// Versions are added consecutively, so a frame's slot can be computed from
// its distance to the oldest retained version.
type PatchHistory struct {
	mu       sync.Mutex
	entries  []historyEntry
	head     int
	count    int
	capacity int
}

type historyEntry struct {
	version uint64
	frame   []byte
}

// NewPatchHistory creates a history retaining up to capacity frames.
func NewPatchHistory(capacity int) *PatchHistory {
	if capacity <= 0 {
		capacity = DefaultSessionConfig().MaxPatchHistory
	}
	return &PatchHistory{
		entries:  make([]historyEntry, capacity),
		capacity: capacity,
	}
}

// Add records the encoded frame for version, evicting the oldest entry when
// the buffer is full. The frame is copied. Versions must be added in
// increasing order.
func (h *PatchHistory) Add(version uint64, frame []byte) {
	buf := make([]byte, len(frame))
	copy(buf, frame)

	h.mu.Lock()
	defer h.mu.Unlock()

	idx := (h.head + h.count) % h.capacity
	h.entries[idx] = historyEntry{version: version, frame: buf}
	if h.count == h.capacity {
		h.head = (h.head + 1) % h.capacity
	} else {
		h.count++
	}
}

// MinVersion returns the oldest retained version, or 0 when empty.
func (h *PatchHistory) MinVersion() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return 0
	}
	return h.entries[h.head].version
}

// MaxVersion returns the newest retained version, or 0 when empty.
func (h *PatchHistory) MaxVersion() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.maxVersionLocked()
}

func (h *PatchHistory) maxVersionLocked() uint64 {
	if h.count == 0 {
		return 0
	}
	return h.entries[(h.head+h.count-1)%h.capacity].version
}

// Count returns the number of retained frames.
func (h *PatchHistory) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

// CanRecover reports whether every version after `after` is still retained,
// i.e. whether a client last at `after` can be caught up by replay.
func (h *PatchHistory) CanRecover(after uint64) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.count == 0 {
		return false
	}
	return after+1 >= h.entries[h.head].version && after < h.maxVersionLocked()
}

// FramesAfter returns the encoded frames for versions in (after, to], in
// order. It returns nil when the range is not fully retained. The returned
// slices are the retained buffers and must not be modified.
func (h *PatchHistory) FramesAfter(after, to uint64) [][]byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.count == 0 || to <= after {
		return nil
	}
	min := h.entries[h.head].version
	if after+1 < min || to > h.maxVersionLocked() {
		return nil
	}

	frames := make([][]byte, 0, to-after)
	for v := after + 1; v <= to; v++ {
		e := h.entries[(h.head+int(v-min))%h.capacity]
		if e.version != v {
			// a hole means a frame was never recorded; replay cannot
			// bridge it
			return nil
		}
		frames = append(frames, e.frame)
	}
	return frames
}

// Clear drops all retained frames.
func (h *PatchHistory) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.entries {
		h.entries[i] = historyEntry{}
	}
	h.head = 0
	h.count = 0
}
