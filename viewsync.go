// Package viewsync keeps a server-owned view tree in sync with remote
// clients over a WebSocket channel.
//
// This is the recommended import for most applications:
//
//	import "github.com/viewsync-dev/viewsync"
//
// The server holds all view state. A View renders a tree of nodes, the
// session diffs each render against the previous one and pushes only the
// changed nodes, and clients apply those patches in version order. Client
// events flow back over the same channel and are dispatched to the view
// that owns the session.
//
// Usage:
//
//	type Counter struct{ clicks int }
//
//	func (c *Counter) Render() *viewsync.Node {
//	    return viewsync.El("div",
//	        viewsync.El("button", viewsync.Attr("data-on", "click"), "+"),
//	        viewsync.El("span", strconv.Itoa(c.clicks)),
//	    )
//	}
//
//	func (c *Counter) HandleEvent(ctx context.Context, event *viewsync.Event) error {
//	    c.clicks++
//	    return nil
//	}
//
//	app := viewsync.New(viewsync.Config{Addr: ":8080"})
//	app.SetView(func(sess *viewsync.Session) viewsync.View {
//	    return &Counter{}
//	})
//	log.Fatal(app.Run())
//
// The pkg/server, pkg/client, pkg/vtree and pkg/protocol packages expose
// the individual layers for applications that need more control than the
// App facade offers.
package viewsync

import (
	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/server"
	"github.com/viewsync-dev/viewsync/pkg/session"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// =============================================================================
// Core types (re-exported from pkg/server, pkg/protocol and pkg/vtree)
// =============================================================================

// View is the server-side state behind a session. Render returns the tree
// for the current state; HandleEvent applies one client event to it.
type View = server.View

// ViewFactory builds a fresh View for each session.
type ViewFactory = server.ViewFactory

// Session is the server-side half of one client connection. Views reach it
// through their factory to store values that survive reconnects.
type Session = server.Session

// Event is one client interaction: a click, an input edit, a form submit
// or a custom application event.
type Event = protocol.Event

// EventHandler processes one client event for a session.
type EventHandler = server.EventHandler

// EventMiddleware wraps an EventHandler with cross-cutting behavior such
// as tracing, metrics or rate limiting.
type EventMiddleware = server.EventMiddleware

// Node is one element or text node in a view tree.
type Node = vtree.Node

// Store persists session snapshots across disconnects and restarts.
type Store = session.Store

// =============================================================================
// Tree builders (re-exported from pkg/vtree)
// =============================================================================

// El builds an element node. String arguments become text children,
// *Node arguments become child elements, and Attr and WithKey set
// attributes and the reconciliation key.
var El = vtree.El

// Text builds a text node. Bare strings passed to El do the same.
var Text = vtree.TextNode

// Attr sets an attribute on the enclosing El.
var Attr = vtree.Attr

// WithKey sets the identity key used to match this node across renders,
// so reordered list entries move instead of being rebuilt.
var WithKey = vtree.WithKey

// Event type names as they arrive in Event.Type.
const (
	EventClick  = protocol.EventClick
	EventInput  = protocol.EventInput
	EventChange = protocol.EventChange
	EventSubmit = protocol.EventSubmit
	EventCustom = protocol.EventCustom
)
