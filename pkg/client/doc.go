// Package client implements the client side of the view synchronization
// protocol: a Go client that mirrors a server-side view tree, survives
// connection loss, and replays input captured while offline.
//
// # Rendering
//
// The Renderer holds the mirrored tree and its version. Patch frames
// apply only in version order: duplicates and stale frames are ignored,
// an early-arriving future frame is buffered until the gap fills, and a
// frame that cannot be bridged triggers a resync request. A full resync
// replaces the tree wholesale and discards whatever the buffer held for
// older versions. Applying the same stream twice, or in a different
// arrival order, always converges on the same tree.
//
// # Reconnects
//
// A supervisor goroutine owns the connection. When a read or write
// fails it moves the client to Reconnecting and dials again with
// capped exponential backoff plus jitter, resuming the session with
// the last applied version so the server can replay exactly the missed
// frames. After MaxAttempts failures the client goes Disconnected and
// waits for Retry; once the grace period runs out, or the server
// refuses the resume, the client is Terminated for good.
//
// # Input
//
// CaptureEvent transmits immediately while Connected. In any other
// state, and while older input is still queued, events buffer in a
// bounded FIFO queue and replay in capture order after the next
// successful reconnect. Sequence numbers are assigned at capture time,
// so a replayed event keeps its number and the server can drop
// duplicates.
//
// # Usage
//
//	c, err := client.Dial(ctx, "ws://localhost:8080/ws", client.DefaultConfig().
//		WithOnUpdate(func(version uint64) {
//			render(c.Tree())
//		}))
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer c.Close()
//
//	c.CaptureEvent(protocol.NewClickEvent(0, "btn-incr"))
package client
