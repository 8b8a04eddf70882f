// Package session provides persistence for viewsync UI sessions.
//
// A session's synchronized state (view tree, tree version, last event
// sequence) can be snapshotted and written to a pluggable store, so a
// client that reconnects after a server restart or a long disconnect can
// resume instead of starting over.
//
// # Stores
//
// The Store interface defines the persistence contract:
//
//	store := session.NewMemoryStore()
//	// or
//	store := session.NewSQLStore(db, session.WithSQLDialect(session.DialectSQLite))
//	// or
//	store := session.NewS3Store(s3Client, "my-bucket")
//
// # Snapshots
//
// Snapshot is the JSON representation written to a store:
//
//	data, err := session.Serialize(snap)
//	// Later...
//	snap, err := session.Deserialize(data)
//
// # Detached sessions
//
// The Manager tracks sessions whose client has disconnected, bounds their
// number with a configurable eviction policy, and bridges them to a Store:
//
//	manager := session.NewManager(store, session.DefaultManagerConfig(), logger)
package session
