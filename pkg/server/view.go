package server

import (
	"context"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// View is the server-side state behind a session. The session renders it
// after every handled event, diffs the result against the previous render,
// and pushes the delta to the client.
//
// A View is only ever called from its session's event loop, so
// implementations need no internal locking as long as their state is not
// shared across sessions.
type View interface {
	// Render returns the tree for the view's current state. The returned
	// tree is owned by the session afterwards and must not be mutated.
	Render() *vtree.Node

	// HandleEvent applies a client event to the view's state. The context
	// is canceled when the session closes. Returning an error reports the
	// failure to the client without closing the session; panics close the
	// session that raised them.
	HandleEvent(ctx context.Context, event *protocol.Event) error
}

// ViewFactory builds a fresh View for each session. The session is already
// populated when the factory runs: for a resumed session its Get/GetString/
// GetInt values are restored from the snapshot, so the factory can rebuild
// the view's state. Views that want to survive restarts store their state
// with Set and read it back here.
type ViewFactory func(sess *Session) View

// EventHandler processes one client event for a session.
type EventHandler func(ctx context.Context, sess *Session, event *protocol.Event) error

// EventMiddleware wraps an EventHandler with cross-cutting behavior such as
// tracing, metrics, or rate limiting.
type EventMiddleware func(next EventHandler) EventHandler

// chainMiddleware composes middleware around h so that the first entry is
// the outermost wrapper.
func chainMiddleware(h EventHandler, middleware []EventMiddleware) EventHandler {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}
