// Package protocol implements the binary wire protocol for viewsync.
//
// The protocol carries view updates from server to client and input events
// from client to server over a WebSocket connection. Every patches frame is
// stamped with the tree version it produces: applying frame N to a client
// mirror at version N-1 yields the server tree at version N. Acks flow back
// carrying the highest version the client has applied, and resync messages
// recover a client that fell too far behind.
//
// # Design Goals
//
//   - Minimal size: Typical event < 10 bytes, typical patch < 20 bytes
//   - Fast encoding/decoding: No reflection, direct byte manipulation
//   - Ordered delivery: Version numbers, acknowledgments
//   - Reconnection: Patch replay or full tree resync after disconnect
//   - Deterministic: The same tree always encodes to the same bytes
//
// # Wire Format
//
// All messages are framed with a 4-byte header:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (2 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// # Frame Types
//
//   - FrameHandshake (0x00): Connection setup
//   - FrameEvent (0x01): Client → Server events
//   - FramePatches (0x02): Server → Client patches
//   - FrameControl (0x03): Control messages (ping, resync, close)
//   - FrameAck (0x04): Acknowledgment
//   - FrameError (0x05): Error message
//
// # Encoding
//
// The protocol uses several encoding strategies:
//
//   - Varint: Compact encoding for small integers (protobuf-style)
//   - ZigZag: Signed integers encoded as unsigned varints
//   - Length-prefixed: Strings and byte arrays prefixed with varint length
//   - Big-endian: Fixed-width integers (uint16, uint32, uint64)
//
// Map-shaped data (node attributes, form fields) is encoded in sorted key
// order so identical values always produce identical bytes.
//
// # Versioned Patches
//
// The server increments its tree version on every render and sends the
// resulting patches stamped with the new version:
//
//	[Version: varint][Count: varint][Patch...]
//
// The client applies a frame only when its version is exactly one past the
// client's current version, acks what it applied, and requests a resync when
// it detects a gap.
//
// # Handshake
//
// Connection establishment uses ClientHello and ServerHello messages:
//
//	Client                          Server
//	  │                                │
//	  │──── ClientHello ─────────────>│
//	  │     (proto, session, version) │
//	  │                                │
//	  │<──── ServerHello ─────────────│
//	  │     (status, session, version)│
//	  │                                │
//
// A ClientHello with a session ID and last applied version asks the server
// to resume: the server replays the missing patch frames when its history
// still covers them, and falls back to a full tree resync otherwise.
//
// # Control Messages
//
//   - Ping/Pong: Heartbeat for connection health
//   - ResyncRequest: Client reports its version and asks for missed patches
//   - ResyncPatches: Server replays the exact missed patch frames
//   - ResyncFull: Server sends the complete tree and its version
//   - Close: Graceful session termination
package protocol
