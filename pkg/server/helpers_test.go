package server

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// counterView is a click counter. Setting failErr makes every event fail;
// setting panicMsg makes every event panic. Both must be set before Start.
type counterView struct {
	count    atomic.Int64
	failErr  error
	panicMsg string
}

func (v *counterView) Render() *vtree.Node {
	return vtree.El("div",
		vtree.El("button", vtree.Attr("data-on", "click"), "+"),
		vtree.El("span", strconv.FormatInt(v.count.Load(), 10)),
	)
}

func (v *counterView) HandleEvent(_ context.Context, event *protocol.Event) error {
	if v.panicMsg != "" {
		panic(v.panicMsg)
	}
	if v.failErr != nil {
		return v.failErr
	}
	if event.Type == protocol.EventClick {
		v.count.Add(1)
	}
	return nil
}

// persistentCounterView keeps its count in the session value store, so the
// count survives a restore from a snapshot.
type persistentCounterView struct {
	sess *Session
}

func (v *persistentCounterView) Render() *vtree.Node {
	return vtree.El("div",
		vtree.El("button", vtree.Attr("data-on", "click"), "+"),
		vtree.El("span", strconv.Itoa(v.sess.GetInt("count"))),
	)
}

func (v *persistentCounterView) HandleEvent(_ context.Context, event *protocol.Event) error {
	if event.Type == protocol.EventClick {
		v.sess.Set("count", v.sess.GetInt("count")+1)
	}
	return nil
}

// listView renders one keyed li per item.
type listView struct {
	mu    sync.Mutex
	items []string
}

func (v *listView) Render() *vtree.Node {
	v.mu.Lock()
	defer v.mu.Unlock()
	children := make([]*vtree.Node, len(v.items))
	for i, item := range v.items {
		children[i] = vtree.El("li", vtree.WithKey(item), item)
	}
	return vtree.El("ul", children)
}

func (v *listView) HandleEvent(_ context.Context, event *protocol.Event) error {
	if event.Type == protocol.EventCustom {
		v.mu.Lock()
		v.items = append(v.items, event.Value)
		v.mu.Unlock()
	}
	return nil
}

func (v *listView) setItems(items ...string) {
	v.mu.Lock()
	v.items = items
	v.mu.Unlock()
}

// decodePatchesFrame decodes an encoded wire frame that must carry patches.
func decodePatchesFrame(t *testing.T, data []byte) *protocol.PatchesFrame {
	t.Helper()
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if frame.Type != protocol.FramePatches {
		t.Fatalf("frame type = %v, want FramePatches", frame.Type)
	}
	pf, err := protocol.DecodePatches(frame.Payload)
	if err != nil {
		t.Fatalf("DecodePatches failed: %v", err)
	}
	return pf
}

// collectIDs returns every node ID in the tree in document order.
func collectIDs(root *vtree.Node) []string {
	var ids []string
	var walk func(n *vtree.Node)
	walk = func(n *vtree.Node) {
		if n == nil {
			return
		}
		ids = append(ids, n.ID)
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return ids
}
