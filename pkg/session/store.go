package session

import (
	"context"
	"time"
)

// Store defines the interface for session persistence backends.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save persists a session snapshot. Called when a client disconnects
	// and on graceful shutdown. An existing snapshot with the same ID is
	// overwritten.
	Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error

	// Load retrieves a session snapshot by ID.
	// Returns (nil, nil) if the session doesn't exist or has expired.
	// Returns (data, nil) if found and not expired.
	// Returns (nil, err) on backend errors.
	Load(ctx context.Context, sessionID string) ([]byte, error)

	// Delete removes a session. Called on explicit close or expiration.
	// Deleting a missing session is not an error.
	Delete(ctx context.Context, sessionID string) error

	// Touch updates the expiration time without rewriting the snapshot.
	// Touching a missing session is not an error.
	Touch(ctx context.Context, sessionID string, expiresAt time.Time) error

	// SaveAll persists multiple sessions, atomically where the backend
	// allows. Used during graceful shutdown.
	SaveAll(ctx context.Context, sessions map[string]Record) error

	// Close releases any resources held by the store.
	Close() error
}

// Record pairs a serialized snapshot with its expiration time.
type Record struct {
	// Data is the serialized session snapshot.
	Data []byte

	// ExpiresAt is when the session should expire.
	ExpiresAt time.Time
}

// NotFoundError is returned by implementations that need an explicit
// missing-session error. Note that Store.Load reports a missing session
// as (nil, nil), not as this error.
type NotFoundError struct {
	SessionID string
}

func (e NotFoundError) Error() string {
	return "session not found: " + e.SessionID
}

// ErrStoreClosed is returned when operations are attempted on a closed store.
type ErrStoreClosed struct{}

func (e ErrStoreClosed) Error() string {
	return "session store is closed"
}
