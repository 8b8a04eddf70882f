// Package vtest provides a harness for testing views without a server.
//
// The harness renders a view the way a session event loop would, keeps
// node identity stable across renders, and dispatches events to nodes
// by ID, so view logic can be tested without a WebSocket or goroutines.
//
// # Quick Start
//
//	func TestCounterIncrements(t *testing.T) {
//	    h := vtest.New(t, func(sess *server.Session) server.View {
//	        return &Counter{sess: sess}
//	    })
//
//	    h.Click(h.FindTag("button").ID)
//	    h.ExpectText("1")
//	}
//
// # Session state
//
// Views that restore state from session values are tested by seeding a
// mock session before the factory runs:
//
//	sess := server.NewMockSession()
//	sess.Set("count", 3)
//	h := vtest.NewWithSession(t, sess, newCounter)
//	h.ExpectText("3")
//
// Events dispatched through the harness run the view's HandleEvent
// directly; middleware, queueing and patch delivery are covered by the
// server and client packages, not here.
package vtest
