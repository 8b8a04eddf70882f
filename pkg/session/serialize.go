package session

import (
	"encoding/json"
	"fmt"
	"time"
)

// Snapshot is the JSON-serializable state of a session. It carries
// everything needed to resume a synchronized client after a server restart.
type Snapshot struct {
	// ID is the unique session identifier.
	ID string `json:"id"`

	// Version is the tree version at snapshot time.
	Version uint64 `json:"version"`

	// EventSeq is the highest client event sequence number processed.
	// Replayed events at or below this number are duplicates.
	EventSeq uint64 `json:"event_seq"`

	// Tree is the wire-encoded view tree at Version.
	Tree []byte `json:"tree,omitempty"`

	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"created_at"`

	// LastActive is when the session last saw client activity.
	LastActive time.Time `json:"last_active"`

	// Values contains application key/value state attached to the session.
	Values map[string]json.RawMessage `json:"values,omitempty"`

	// Format is the serialization format version.
	Format int `json:"format"`
}

// SnapshotFormat is the current version of the snapshot format.
// Increment when making breaking changes to the format.
const SnapshotFormat = 1

// Serialize converts a Snapshot to bytes.
func Serialize(snap *Snapshot) ([]byte, error) {
	snap.Format = SnapshotFormat
	return json.Marshal(snap)
}

// Deserialize converts bytes back to a Snapshot.
// Snapshots written by a newer format version are rejected rather than
// partially decoded.
func Deserialize(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	if snap.Format > SnapshotFormat {
		return nil, fmt.Errorf("session: snapshot format %d is newer than supported format %d", snap.Format, SnapshotFormat)
	}
	return &snap, nil
}
