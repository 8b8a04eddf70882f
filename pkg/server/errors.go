package server

import (
	"errors"
	"fmt"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
)

// Server errors.
var (
	// ErrChannelUnavailable is returned when a session channel cannot be
	// opened, either because the server is shutting down or refuses the
	// connection outright.
	ErrChannelUnavailable = errors.New("server: channel unavailable")

	// ErrStaleAck is reported when a client acknowledges a version at or
	// below the highest acknowledged one, or one the server never sent.
	// Stale acks are logged and ignored; they are never fatal.
	ErrStaleAck = errors.New("server: stale ack")

	// ErrSessionClosed is returned when operating on a closed session.
	ErrSessionClosed = errors.New("server: session closed")

	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("server: session not found")

	// ErrSessionExpired is returned when resuming a session whose
	// reconnect grace period has lapsed.
	ErrSessionExpired = errors.New("server: session expired")

	// ErrEventQueueFull is returned when a session's inbound event queue
	// is full and the event was dropped.
	ErrEventQueueFull = errors.New("server: event queue full")

	// ErrMaxSessionsReached is returned when the server-wide session
	// limit is reached.
	ErrMaxSessionsReached = errors.New("server: maximum sessions reached")

	// ErrTooManySessionsFromIP is returned when the per-IP session limit
	// is reached.
	ErrTooManySessionsFromIP = errors.New("server: too many sessions from this IP")

	// ErrNoConnection is returned when writing to a detached session.
	ErrNoConnection = errors.New("server: no active connection")

	// ErrInvalidHandshake is returned when the first client frame is not
	// a well-formed handshake.
	ErrInvalidHandshake = errors.New("server: invalid handshake")
)

// SessionError wraps an error with the session and operation it occurred in.
type SessionError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("server: session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// HandlerError reports a panic recovered from a view event handler. The
// panic terminates only the session whose handler raised it; other sessions
// are unaffected.
type HandlerError struct {
	SessionID string
	NodeID    string
	EventType protocol.EventType
	Panic     any
	Stack     []byte
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("server: session %s: handler panic on %s event for node %q: %v",
		e.SessionID, e.EventType, e.NodeID, e.Panic)
}
