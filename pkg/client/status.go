package client

// Status is the connection state of a client as seen by the reconnect
// supervisor.
type Status int

const (
	// StatusConnected means the session channel is open and events are
	// transmitted immediately.
	StatusConnected Status = iota

	// StatusReconnecting means the channel was lost and the supervisor
	// is dialing again with backoff. Input is captured and queued.
	StatusReconnecting

	// StatusDisconnected means reconnect attempts are exhausted. Input
	// is still captured and queued; Retry starts a fresh round.
	StatusDisconnected

	// StatusTerminated is terminal: the session cannot be revived. Set
	// after Close, a server close frame, a rejected resume, or grace
	// period expiry.
	StatusTerminated
)

// statusNone marks a client whose first transition has not happened yet,
// so the initial move to Connected is never deduplicated away.
const statusNone Status = -1

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusConnected:
		return "Connected"
	case StatusReconnecting:
		return "Reconnecting"
	case StatusDisconnected:
		return "Disconnected"
	case StatusTerminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// StatusChange describes one transition of the supervisor state machine.
type StatusChange struct {
	Status Status

	// Attempt is the 1-based reconnect attempt for Reconnecting
	// transitions, 0 otherwise.
	Attempt int

	// Err is the error that caused the transition, if any. Disconnected
	// carries ErrReconnectExhausted; a rejected resume carries
	// ErrSessionRejected.
	Err error
}
