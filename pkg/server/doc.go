// Package server implements the server side of the view synchronization
// protocol: it keeps one authoritative view tree per connected client and
// streams versioned patches over a WebSocket so the client's rendering
// always converges on the server's state.
//
// # Sessions
//
// Each client connection gets a Session. The session mounts a View (the
// application's state plus its Render and HandleEvent methods) and runs
// three goroutines:
//
//   - an event loop, the only goroutine that touches the view: it drains
//     client events and dispatched functions, invokes the handler, renders,
//     diffs against the previous render, and pushes the delta
//   - a read loop that decodes inbound frames (events, acks, control)
//   - a heartbeat loop that pings the client at HeartbeatInterval
//
// Every pushed delta is assigned the next version. The encoded frame is
// recorded in the session's PatchHistory regardless of whether the write
// succeeds; the client acknowledges versions as it applies them, and the
// acknowledged version only ever moves forward. Stale or duplicate acks
// are logged and ignored.
//
// # Reconnects
//
// A failed read or write detaches the session instead of closing it. The
// event loop keeps running while detached, so server-driven updates keep
// versioning into history. A client that returns within GracePeriod
// resumes its session: if the patch history still covers the gap between
// the client's last version and the current one, the server replays the
// exact frames it missed; otherwise it ships a full resync carrying the
// complete tree and its version. Sessions past the grace period are
// terminated and their clients get a fresh session on the next connect.
//
// Event frames carry client-assigned sequence numbers. A reconnecting
// client replays its unacknowledged events; the session drops any
// sequence number it has already processed, making delivery effectively
// exactly-once even though the transport is at-least-once.
//
// # Persistence
//
// With a session store configured, detaching persists a snapshot (tree,
// version, event sequence, session values) and graceful shutdown persists
// every live session. A client reconnecting after a restart gets its
// session rebuilt from the snapshot: the restored values are merged back,
// the view factory runs again, the fresh render is diffed against the
// snapshot tree, and only the drift, usually nothing, is sent. Views that
// keep their state in Session.Set / Session.Get survive restarts intact.
//
// # Usage
//
//	srv := server.New(server.DefaultConfig().WithAddress(":8080"))
//	srv.SetView(func(sess *server.Session) server.View {
//		return NewCounterView(sess)
//	})
//	if err := srv.Run(); err != nil {
//		log.Fatal(err)
//	}
package server
