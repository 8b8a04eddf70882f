package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/session"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// Session is one synchronized client. It owns the authoritative view state,
// assigns a version to every pushed delta, and retains the delta frames so
// a reconnecting client can be caught up by exact replay.
//
// Writes to the connection are serialized under mu, and the published tree
// is swapped under the same lock as the version that produced it, so a
// resync always ships a coherent (tree, version) pair. A connection loss
// detaches the session rather than closing it: the event loop keeps
// running, versions keep advancing into history, and a client returning
// within the grace period resumes where it left off.
type Session struct {
	ID        string
	IP        string
	CreatedAt time.Time

	config *SessionConfig
	logger *slog.Logger

	view    View
	handler EventHandler

	// baseline is the previous render, touched only by the event loop.
	baseline *vtree.Node
	ids      *vtree.IDGenerator

	mu      sync.Mutex
	conn    *websocket.Conn
	tree    *vtree.Node // published tree matching version
	history *PatchHistory

	epoch     atomic.Uint64
	connected atomic.Bool
	closed    atomic.Bool
	started   atomic.Bool

	version      atomic.Uint64
	ackedVersion atomic.Uint64
	eventSeq     atomic.Uint64

	events   chan *protocol.Event
	dispatch chan func()
	done     chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	lastActive atomic.Int64 // unix nanos
	detachedAt atomic.Int64 // unix nanos, 0 while attached

	// application key/value state, persisted with the snapshot
	dataMu sync.RWMutex
	data   map[string]any

	onDetach func(*Session)
	onClose  func(*Session)

	metrics *MetricsCollector
}

// newSession creates a session. conn may be nil for sessions restored from
// a store before their client reattaches.
func newSession(id string, conn *websocket.Conn, ip string, config *SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:        id,
		IP:        ip,
		CreatedAt: time.Now(),
		config:    config,
		logger:    logger.With("session_id", id),
		ids:       vtree.NewIDGenerator(),
		conn:      conn,
		history:   NewPatchHistory(config.MaxPatchHistory),
		events:    make(chan *protocol.Event, config.MaxEventQueue),
		dispatch:  make(chan func(), 64),
		done:      make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	s.connected.Store(conn != nil)
	s.touch()
	return s
}

// NewMockSession returns a detached session for view tests. It has no
// connection and no running loops: Set and Get work, and view factories
// that keep the session can run unchanged against it.
func NewMockSession() *Session {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return newSession("test-session-id", nil, "127.0.0.1", DefaultSessionConfig(), logger)
}

// generateSessionID returns a 128-bit random hex ID.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic("server: failed to generate session ID: " + err.Error())
	}
	return hex.EncodeToString(b)
}

// MountView attaches the view and renders the initial tree. When the
// session already has a baseline (restored from a snapshot), the fresh
// render is diffed against it and any drift is pushed as a regular delta.
// Must be called before Start.
func (s *Session) MountView(view View, middleware ...EventMiddleware) {
	base := func(ctx context.Context, _ *Session, event *protocol.Event) error {
		return view.HandleEvent(ctx, event)
	}
	handler := chainMiddleware(base, middleware)

	next := view.Render()
	if s.baseline != nil {
		vtree.CarryIDs(s.baseline, next)
	}
	vtree.AssignIDs(next, s.ids)

	if s.baseline == nil {
		s.mu.Lock()
		s.view = view
		s.handler = handler
		s.tree = next
		s.mu.Unlock()
		s.baseline = next
		return
	}

	patches := vtree.Diff(s.baseline, next)
	s.mu.Lock()
	s.view = view
	s.handler = handler
	s.mu.Unlock()
	s.baseline = next
	if len(patches) > 0 {
		s.pushPatches(next, protocol.ToWirePatches(patches))
		return
	}
	s.mu.Lock()
	s.tree = next
	s.mu.Unlock()
}

// restoreState seeds the session from a persisted snapshot. Must be called
// before MountView and Start.
func (s *Session) restoreState(tree *vtree.Node, version, eventSeq uint64) {
	s.version.Store(version)
	s.eventSeq.Store(eventSeq)
	if tree == nil {
		return
	}
	s.ids.Seed(maxAssignedID(tree))
	s.baseline = tree
	s.mu.Lock()
	s.tree = tree
	s.mu.Unlock()
}

// maxAssignedID returns the highest numeric node ID in the tree.
func maxAssignedID(root *vtree.Node) uint64 {
	var max uint64
	var walk func(n *vtree.Node)
	walk = func(n *vtree.Node) {
		if n == nil {
			return
		}
		if len(n.ID) > 1 && n.ID[0] == 'n' {
			if v, err := strconv.ParseUint(n.ID[1:], 10, 64); err == nil && v > max {
				max = v
			}
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return max
}

// Version returns the current tree version.
func (s *Session) Version() uint64 {
	return s.version.Load()
}

// AckedVersion returns the highest version the client has acknowledged.
func (s *Session) AckedVersion() uint64 {
	return s.ackedVersion.Load()
}

// EventSeq returns the highest processed client event sequence number.
func (s *Session) EventSeq() uint64 {
	return s.eventSeq.Load()
}

// Tree returns the currently published tree. The tree is immutable once
// published and must not be modified.
func (s *Session) Tree() *vtree.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tree
}

// LastActive returns the time of the last client activity.
func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

// IsConnected reports whether a client connection is attached.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	return s.closed.Load()
}

// IsDetached reports whether the session lost its connection and is
// waiting for the client to return.
func (s *Session) IsDetached() bool {
	return s.detachedAt.Load() != 0 && !s.closed.Load()
}

// DetachedSince returns when the session lost its connection, or the zero
// time while attached.
func (s *Session) DetachedSince() time.Time {
	ns := s.detachedAt.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (s *Session) touch() {
	s.lastActive.Store(time.Now().UnixNano())
}

// Attach swaps in a new connection after a successful resume handshake.
// Read and write loops for the previous connection notice the epoch change
// and exit without detaching the new one.
func (s *Session) Attach(conn *websocket.Conn) {
	s.mu.Lock()
	old := s.conn
	s.conn = conn
	s.epoch.Add(1)
	s.connected.Store(true)
	s.detachedAt.Store(0)
	s.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	s.touch()
	s.metrics.RecordReconnect()
}

// detachEpoch drops the connection belonging to epoch. A stale epoch means
// the connection was already replaced and there is nothing to do.
func (s *Session) detachEpoch(epoch uint64) {
	if s.closed.Load() {
		return
	}
	s.mu.Lock()
	if s.epoch.Load() != epoch || !s.connected.Load() {
		s.mu.Unlock()
		return
	}
	conn := s.conn
	s.conn = nil
	s.connected.Store(false)
	s.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	s.detachedAt.Store(time.Now().UnixNano())
	s.logger.Info("session detached",
		"version", s.version.Load(),
		"acked_version", s.ackedVersion.Load())
	if s.onDetach != nil {
		s.onDetach(s)
	}
}

func (s *Session) detachCurrent() {
	s.detachEpoch(s.epoch.Load())
}

// Close terminates the session permanently.
func (s *Session) Close() error {
	return s.CloseWithReason(protocol.CloseNormal, "")
}

// CloseWithReason terminates the session, telling the client why. Closing
// is idempotent: only the first call has any effect. The patch history is
// dropped; the session can never be resumed afterwards.
func (s *Session) CloseWithReason(reason protocol.CloseReason, message string) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	close(s.done)

	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	wasConnected := s.connected.Swap(false)
	s.history.Clear()
	s.mu.Unlock()

	if conn != nil {
		if wasConnected {
			ct, cm := protocol.NewClose(reason, message)
			data := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, cm)).Encode()
			_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
			_ = conn.WriteMessage(websocket.BinaryMessage, data)
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
		}
		_ = conn.Close()
	}

	s.logger.Info("session closed", "reason", reason.String(), "version", s.version.Load())
	if s.onClose != nil {
		s.onClose(s)
	}
	return nil
}

// writeFrame writes one encoded frame to the attached connection.
func (s *Session) writeFrame(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeFrameLocked(data)
}

func (s *Session) writeFrameLocked(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	conn := s.conn
	if conn == nil || !s.connected.Load() {
		return ErrNoConnection
	}
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, data)
}

// sendServerHello writes the handshake reply.
func (s *Session) sendServerHello(hello *protocol.ServerHello) error {
	data := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeServerHello(hello)).Encode()
	return s.writeFrame(data)
}

// pushPatches assigns the next version to the delta, records its frame in
// history, and writes it when a connection is attached. Detached sessions
// only accumulate history; the frames are replayed on resume. A write
// failure detaches the session and never propagates to the view.
func (s *Session) pushPatches(next *vtree.Node, patches []protocol.Patch) {
	if len(patches) == 0 {
		return
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		return
	}
	version := s.version.Add(1)
	payload := protocol.EncodePatches(&protocol.PatchesFrame{Version: version, Patches: patches})
	if len(payload) > protocol.MaxPayloadSize {
		// The frame cannot be carried or replayed. Leave a hole in
		// history so replay across this version degrades to a full
		// resync, and force connected clients onto that path now.
		s.tree = next
		s.logger.Error("patch frame exceeds payload limit, forcing full resync",
			"version", version, "size", len(payload))
		err := s.resyncFullLocked()
		s.mu.Unlock()
		if err != nil {
			s.logger.Warn("forced resync failed", "version", version, "error", err)
		}
		return
	}
	data := protocol.NewFrame(protocol.FramePatches, payload).Encode()
	s.history.Add(version, data)
	s.tree = next
	if s.conn == nil || !s.connected.Load() {
		s.mu.Unlock()
		return
	}
	epoch := s.epoch.Load()
	err := s.writeFrameLocked(data)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("patch write failed, detaching session",
			"version", version, "error", err)
		s.metrics.RecordWriteError()
		s.detachEpoch(epoch)
		return
	}
	s.metrics.RecordPatchesSent(len(patches), len(data))
}

// resumeDelivery brings a client last at lastVersion up to the current
// version: nothing when it is already current, exact frame replay when
// history still covers the gap, and a full resync otherwise.
func (s *Session) resumeDelivery(lastVersion uint64) error {
	s.mu.Lock()
	current := s.version.Load()
	if lastVersion == current {
		s.mu.Unlock()
		return nil
	}
	if lastVersion < current {
		if frames := s.history.FramesAfter(lastVersion, current); frames != nil {
			var err error
			for _, data := range frames {
				if err = s.writeFrameLocked(data); err != nil {
					break
				}
			}
			s.mu.Unlock()
			if err == nil {
				s.metrics.RecordReplayResync()
				s.logger.Info("replayed patch frames",
					"from_version", lastVersion, "to_version", current)
			}
			return err
		}
	}
	// Either the client is too far behind for replay, or it claims a
	// version this session never produced. Both resolve to a full resync.
	err := s.resyncFullLocked()
	s.mu.Unlock()
	return err
}

// sendResyncFull ships the complete current tree.
func (s *Session) sendResyncFull() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resyncFullLocked()
}

func (s *Session) resyncFullLocked() error {
	tree := s.tree
	if tree == nil {
		return nil
	}
	ct, full := protocol.NewResyncFull(protocol.NodeToWire(tree), s.version.Load())
	payload := protocol.EncodeControl(ct, full)
	if len(payload) > protocol.MaxPayloadSize {
		return protocol.ErrFrameTooLarge
	}
	data := protocol.NewFrame(protocol.FrameControl, payload).Encode()
	if err := s.writeFrameLocked(data); err != nil {
		return err
	}
	s.metrics.RecordFullResync()
	return nil
}

// handleAck advances the acknowledged version. The acknowledged version
// only ever moves forward; acks at or below it, or beyond the current
// version, are stale and ignored.
func (s *Session) handleAck(ack *protocol.Ack) {
	s.touch()
	current := s.version.Load()
	if ack.Version > current {
		s.metrics.RecordStaleAck()
		s.logger.Warn("ignoring ack beyond current version",
			"ack_version", ack.Version, "version", current, "error", ErrStaleAck)
		return
	}
	for {
		prev := s.ackedVersion.Load()
		if ack.Version <= prev {
			s.metrics.RecordStaleAck()
			s.logger.Debug("ignoring stale ack",
				"ack_version", ack.Version, "acked_version", prev, "error", ErrStaleAck)
			return
		}
		if s.ackedVersion.CompareAndSwap(prev, ack.Version) {
			return
		}
	}
}

// QueueEvent hands a client event to the session's event loop. Events
// arriving faster than the loop drains them are dropped once the queue is
// full; the client is told via a non-fatal error.
func (s *Session) QueueEvent(event *protocol.Event) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.events <- event:
		s.metrics.RecordEventReceived()
		return nil
	case <-s.done:
		return ErrSessionClosed
	default:
		s.metrics.RecordEventDropped()
		return ErrEventQueueFull
	}
}

// Dispatch runs fn on the session's event loop and re-renders afterwards.
// Use it to push server-driven updates into the view from outside the
// event loop.
func (s *Session) Dispatch(fn func()) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	select {
	case s.dispatch <- fn:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// Snapshot captures the session state for persistence. Safe to call from
// any goroutine; the captured tree and version are a coherent pair.
func (s *Session) Snapshot() *session.Snapshot {
	s.mu.Lock()
	tree := s.tree
	version := s.version.Load()
	s.mu.Unlock()

	var treeBytes []byte
	if tree != nil {
		e := protocol.NewEncoder()
		protocol.EncodeNodeWire(e, protocol.NodeToWire(tree))
		treeBytes = e.Bytes()
	}
	return &session.Snapshot{
		ID:         s.ID,
		Version:    version,
		EventSeq:   s.eventSeq.Load(),
		Tree:       treeBytes,
		CreatedAt:  s.CreatedAt,
		LastActive: s.LastActive(),
		Values:     s.valuesSnapshot(),
	}
}
