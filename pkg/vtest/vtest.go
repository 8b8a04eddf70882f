package vtest

import (
	"context"
	"strings"
	"testing"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/server"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// Harness drives a view the way a session event loop would: it renders,
// keeps node identity stable across renders, and dispatches events to
// nodes by ID. No server, connection or goroutine is involved.
type Harness struct {
	t    *testing.T
	sess *server.Session
	view server.View
	ids  *vtree.IDGenerator
	tree *vtree.Node
	seq  uint64
}

// New builds the view on a fresh mock session and renders it once.
func New(t *testing.T, factory server.ViewFactory) *Harness {
	t.Helper()
	return NewWithSession(t, server.NewMockSession(), factory)
}

// NewWithSession is New with a caller-prepared session, for views that
// read session values the factory is expected to restore:
//
//	sess := server.NewMockSession()
//	sess.Set("count", 3)
//	h := vtest.NewWithSession(t, sess, newCounter)
func NewWithSession(t *testing.T, sess *server.Session, factory server.ViewFactory) *Harness {
	t.Helper()
	h := &Harness{
		t:    t,
		sess: sess,
		view: factory(sess),
		ids:  vtree.NewIDGenerator(),
	}
	h.render()
	return h
}

func (h *Harness) render() {
	next := h.view.Render()
	if next == nil {
		h.t.Fatal("view rendered a nil tree")
	}
	if h.tree != nil {
		vtree.CarryIDs(h.tree, next)
	}
	vtree.AssignIDs(next, h.ids)
	h.tree = next
}

// Tree returns the current rendered tree. Callers must not mutate it.
func (h *Harness) Tree() *vtree.Node {
	return h.tree
}

// Session returns the mock session backing the view.
func (h *Harness) Session() *server.Session {
	return h.sess
}

// Dispatch sends the event to the view and re-renders. The event's Seq
// is assigned when zero. Handler errors fail the test; use the view
// directly to assert on errors.
func (h *Harness) Dispatch(event *protocol.Event) {
	h.t.Helper()
	if event.Seq == 0 {
		h.seq++
		event.Seq = h.seq
	}
	if err := h.view.HandleEvent(context.Background(), event); err != nil {
		h.t.Fatalf("handle %s event: %v", event.Type, err)
	}
	h.render()
}

// Click dispatches a click event to the node with the given ID.
func (h *Harness) Click(nodeID string) {
	h.t.Helper()
	h.Dispatch(protocol.NewClickEvent(0, nodeID))
}

// Input dispatches an input event carrying value.
func (h *Harness) Input(nodeID, value string) {
	h.t.Helper()
	h.Dispatch(protocol.NewInputEvent(0, nodeID, value))
}

// Submit dispatches a submit event carrying form fields.
func (h *Harness) Submit(nodeID string, fields map[string]string) {
	h.t.Helper()
	h.Dispatch(protocol.NewSubmitEvent(0, nodeID, fields))
}

// Find returns the first node, in document order, for which match
// returns true, or nil.
func (h *Harness) Find(match func(*vtree.Node) bool) *vtree.Node {
	return findNode(h.tree, match)
}

// FindTag returns the first element with the given tag, failing the test
// when none exists.
func (h *Harness) FindTag(tag string) *vtree.Node {
	h.t.Helper()
	n := h.Find(func(n *vtree.Node) bool { return n.Tag == tag })
	if n == nil {
		h.t.Fatalf("no <%s> element in the rendered tree", tag)
	}
	return n
}

// Text returns the concatenated text content of the rendered tree.
func (h *Harness) Text() string {
	var b strings.Builder
	collectText(h.tree, &b)
	return b.String()
}

// ExpectText fails the test when the rendered text does not contain want.
func (h *Harness) ExpectText(want string) {
	h.t.Helper()
	if got := h.Text(); !strings.Contains(got, want) {
		h.t.Errorf("rendered text %q does not contain %q", got, want)
	}
}

// ExpectNoText fails the test when the rendered text contains unwanted.
func (h *Harness) ExpectNoText(unwanted string) {
	h.t.Helper()
	if got := h.Text(); strings.Contains(got, unwanted) {
		h.t.Errorf("rendered text %q contains %q", got, unwanted)
	}
}

func findNode(n *vtree.Node, match func(*vtree.Node) bool) *vtree.Node {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for _, c := range n.Children {
		if found := findNode(c, match); found != nil {
			return found
		}
	}
	return nil
}

func collectText(n *vtree.Node, b *strings.Builder) {
	if n == nil {
		return
	}
	if n.Kind == vtree.KindText {
		b.WriteString(n.Text)
	}
	for _, c := range n.Children {
		collectText(c, b)
	}
}
