package client

import "errors"

var (
	// ErrChannelUnavailable is returned when the session channel cannot
	// be opened: the dial failed, the handshake could not complete, or
	// the server refused for a transient reason (busy, rate limited).
	ErrChannelUnavailable = errors.New("client: channel unavailable")

	// ErrPatchOutOfOrder is reported when a patch frame arrives ahead of
	// the version the renderer holds. The frame is buffered and a resync
	// is requested; the error is informational, not fatal.
	ErrPatchOutOfOrder = errors.New("client: patch out of order")

	// ErrReconnectExhausted is surfaced through the status callback when
	// the supervisor has used up its reconnect attempts. The client sits
	// in Disconnected until Retry is called or the grace period ends.
	ErrReconnectExhausted = errors.New("client: reconnect attempts exhausted")

	// ErrTerminated is returned when operating on a terminated client.
	ErrTerminated = errors.New("client: session terminated")

	// ErrInputQueueFull is returned by CaptureEvent when the pending
	// input queue is at capacity.
	ErrInputQueueFull = errors.New("client: pending input queue full")

	// ErrSessionRejected is returned when the server refuses the
	// handshake for a permanent reason: the session expired, the
	// protocol versions are incompatible, or the hello was malformed.
	ErrSessionRejected = errors.New("client: session rejected")
)
