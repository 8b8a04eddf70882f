package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// Client maintains a live mirror of one server-side session: a renderer
// applying pushed patch frames, a supervisor that reconnects with backoff
// when the channel drops, and a queue replaying input captured while
// offline. All methods are safe for concurrent use.
type Client struct {
	url    string
	config *Config
	logger *slog.Logger

	renderer *Renderer
	pending  *PendingInputQueue
	backoff  *Backoff

	sessionID string

	// captureMu serializes CaptureEvent and replay, so events reach the
	// wire in capture order across reconnects.
	captureMu sync.Mutex

	// connMu guards conn and serializes frame writes.
	connMu sync.Mutex
	conn   *websocket.Conn

	statusMu sync.Mutex
	status   Status
	attempt  int
	lastErr  error

	seq atomic.Uint64

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	retry     chan struct{}
	closeOnce sync.Once
}

// Dial opens a new session on the server at url (a ws:// or wss://
// endpoint) and starts the supervisor. The context bounds only the
// initial dial; the supervisor then runs until Close or termination.
//
// A transport or handshake failure returns ErrChannelUnavailable; a
// server refusal returns ErrSessionRejected.
func Dial(ctx context.Context, url string, config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.normalized()

	c := &Client{
		url:      url,
		config:   config,
		logger:   config.Logger.With("component", "client"),
		renderer: NewRenderer(config.MaxPatchBuffer),
		pending:  newPendingInputQueue(config.MaxPendingInput),
		backoff:  NewBackoff(config.Reconnect),
		status:   statusNone,
		done:     make(chan struct{}),
		retry:    make(chan struct{}, 1),
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	conn, hello, err := c.dialSession(ctx, "", 0)
	if err != nil {
		c.cancel()
		return nil, err
	}
	c.sessionID = hello.SessionID
	c.logger = c.logger.With("session_id", c.sessionID)
	c.setConn(conn)
	c.setStatus(StatusConnected, 0, nil)

	go c.run()
	return c, nil
}

// SessionID returns the server-assigned session ID.
func (c *Client) SessionID() string { return c.sessionID }

// Status returns the current supervisor state.
func (c *Client) Status() Status {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.status
}

// LastError returns the error behind the current status, if any: the
// dial failure while Reconnecting, the exhaustion error while
// Disconnected, or the termination cause once Terminated.
func (c *Client) LastError() error {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	return c.lastErr
}

// Version returns the version of the tree mirror.
func (c *Client) Version() uint64 { return c.renderer.Version() }

// Tree returns a copy of the tree mirror, or nil before the first resync.
func (c *Client) Tree() *vtree.Node { return c.renderer.Tree() }

// PendingInput returns the number of captured events waiting for replay.
func (c *Client) PendingInput() int { return c.pending.Len() }

// CaptureEvent transmits an event, or queues it while the channel is
// down. A zero Seq is assigned the next client sequence number; events
// replayed after a reconnect keep the Seq they were captured with, so the
// server can discard duplicates.
func (c *Client) CaptureEvent(event *protocol.Event) error {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	if c.Status() == StatusTerminated {
		return ErrTerminated
	}
	if event.Seq == 0 {
		event.Seq = c.seq.Add(1)
	}

	if c.Status() == StatusConnected && c.pending.Len() == 0 {
		if err := c.writeEvent(event); err == nil {
			return nil
		}
		// The write failed, so the connection is on its way out; the
		// read loop will notice. Keep the event for replay.
	}
	return c.pending.Push(event)
}

// Retry asks a Disconnected supervisor to start a fresh reconnect round.
// It is a no-op in any other state.
func (c *Client) Retry() error {
	switch c.Status() {
	case StatusTerminated:
		return ErrTerminated
	case StatusDisconnected:
		select {
		case c.retry <- struct{}{}:
		default:
		}
	}
	return nil
}

// Close terminates the client: in-flight reconnect attempts are canceled
// via context, the connection is closed after a polite close frame, and
// the supervisor exits. Safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		c.connMu.Lock()
		if c.conn != nil {
			data := protocol.NewFrame(protocol.FrameControl,
				protocol.EncodeControl(protocol.NewClose(protocol.CloseNormal, "client closing"))).Encode()
			_ = c.conn.SetWriteDeadline(time.Now().Add(time.Second))
			_ = c.conn.WriteMessage(websocket.BinaryMessage, data)
			_ = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	})
	<-c.done
	return nil
}

// run is the supervisor loop: read until the connection dies, then
// reconnect or terminate.
func (c *Client) run() {
	defer close(c.done)
	for {
		err := c.readLoop()
		c.dropConn()

		if c.ctx.Err() != nil {
			c.setStatus(StatusTerminated, 0, nil)
			return
		}
		var closed *serverClosedError
		if errors.As(err, &closed) {
			c.logger.Info("server closed the session",
				"reason", closed.reason.String(), "message", closed.message)
			c.setStatus(StatusTerminated, 0, fmt.Errorf("%w: %s", ErrTerminated, closed.reason))
			return
		}
		c.logger.Warn("connection lost", "error", err)
		if !c.reconnect(err) {
			return
		}
	}
}

func (c *Client) readLoop() error {
	conn := c.currentConn()
	if conn == nil {
		return errors.New("client: no connection")
	}
	for {
		if c.config.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}
		if err := c.handleFrame(frame); err != nil {
			return err
		}
	}
}

func (c *Client) handleFrame(frame *protocol.Frame) error {
	switch frame.Type {
	case protocol.FramePatches:
		c.handlePatches(frame.Payload)
	case protocol.FrameControl:
		return c.handleControl(frame.Payload)
	case protocol.FrameError:
		if em, err := protocol.DecodeErrorMessage(frame.Payload); err == nil {
			c.logger.Warn("server reported error",
				"code", em.Code.String(), "message", em.Message, "fatal", em.Fatal)
		}
	default:
		c.logger.Warn("unexpected frame", "type", frame.Type.String())
	}
	return nil
}

func (c *Client) handlePatches(payload []byte) {
	frame, err := protocol.DecodePatches(payload)
	if err != nil {
		c.logger.Warn("dropping malformed patches frame", "error", err)
		return
	}
	applied, err := c.renderer.ApplyPatches(frame)
	if err != nil {
		c.logger.Info("requesting resync", "error", err)
		c.requestResync()
	}
	c.ackApplied(applied)
}

func (c *Client) handleControl(payload []byte) error {
	ct, msg, err := protocol.DecodeControl(payload)
	if err != nil {
		c.logger.Warn("dropping malformed control frame", "error", err)
		return nil
	}
	switch ct {
	case protocol.ControlPing:
		if ping, ok := msg.(*protocol.PingPong); ok {
			c.sendPong(ping.Timestamp)
		}
	case protocol.ControlResyncFull:
		if full, ok := msg.(*protocol.ResyncFull); ok {
			c.adoptFull(full)
		}
	case protocol.ControlResyncPatches:
		if rp, ok := msg.(*protocol.ResyncPatches); ok {
			c.applyResyncPatches(rp)
		}
	case protocol.ControlClose:
		if cm, ok := msg.(*protocol.CloseMessage); ok {
			return &serverClosedError{reason: cm.Reason, message: cm.Message}
		}
		return &serverClosedError{reason: protocol.CloseNormal}
	}
	return nil
}

func (c *Client) adoptFull(full *protocol.ResyncFull) {
	var tree *vtree.Node
	if full.Tree != nil {
		tree = full.Tree.ToNode()
	}
	applied := c.renderer.AdoptTree(tree, full.Version)
	if len(applied) == 0 {
		c.logger.Debug("ignoring stale resync", "version", full.Version)
		return
	}
	c.logger.Info("adopted full tree", "version", full.Version)
	c.ackApplied(applied)

	// A buffered frame can fail to apply on top of the adopted tree,
	// marking it unusable again. Ask for another full tree right away
	// instead of silently dropping frames.
	if c.renderer.ResyncVersion() == protocol.VersionUnknown {
		c.requestResync()
	}
}

func (c *Client) applyResyncPatches(rp *protocol.ResyncPatches) {
	for _, frame := range rp.Frames {
		applied, err := c.renderer.ApplyPatches(frame)
		c.ackApplied(applied)
		if err != nil {
			// The rest of the bundle cannot help; the resync covers it.
			c.requestResync()
			return
		}
	}
}

// ackApplied acknowledges each applied version so the server can advance
// its delivery window, then reports the new tree to OnUpdate. Version 0
// is the initial tree and predates any deliverable frame, so it is not
// acknowledged.
func (c *Client) ackApplied(applied []uint64) {
	for _, v := range applied {
		if v == 0 {
			continue
		}
		data := protocol.NewFrame(protocol.FrameAck,
			protocol.EncodeAck(protocol.NewAck(v, protocol.DefaultAckWindow))).Encode()
		if err := c.writeFrame(data); err != nil {
			c.logger.Debug("ack write failed", "version", v, "error", err)
			break
		}
	}
	if len(applied) > 0 && c.config.OnUpdate != nil {
		c.config.OnUpdate(c.renderer.Version())
	}
}

func (c *Client) sendPong(timestamp uint64) {
	data := protocol.NewFrame(protocol.FrameControl,
		protocol.EncodeControl(protocol.NewPong(timestamp))).Encode()
	if err := c.writeFrame(data); err != nil {
		c.logger.Debug("pong write failed", "error", err)
	}
}

func (c *Client) requestResync() {
	data := protocol.NewFrame(protocol.FrameControl,
		protocol.EncodeControl(protocol.NewResyncRequest(c.renderer.ResyncVersion()))).Encode()
	if err := c.writeFrame(data); err != nil {
		c.logger.Debug("resync request write failed", "error", err)
	}
}

// reconnect dials until it succeeds, the attempts run out, or the client
// terminates. Returns false when the supervisor should exit.
func (c *Client) reconnect(cause error) bool {
	disconnectedAt := time.Now()
	max := c.config.Reconnect.MaxAttempts
	attempt := 1
	lastErr := cause

	for {
		c.setStatus(StatusReconnecting, attempt, lastErr)
		conn, _, err := c.dialSession(c.ctx, c.sessionID, c.renderer.ResyncVersion())
		if err == nil {
			c.setConn(conn)
			c.setStatus(StatusConnected, 0, nil)
			c.logger.Info("reconnected", "attempt", attempt)
			c.replayPending()
			return true
		}
		lastErr = err
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)

		if errors.Is(err, ErrSessionRejected) {
			c.setStatus(StatusTerminated, 0, err)
			return false
		}
		if c.ctx.Err() != nil {
			c.setStatus(StatusTerminated, 0, nil)
			return false
		}
		if max > 0 && attempt >= max {
			if !c.waitRetry(disconnectedAt, attempt, lastErr) {
				return false
			}
			attempt = 1
			continue
		}

		select {
		case <-time.After(c.backoff.Delay(attempt)):
		case <-c.ctx.Done():
			c.setStatus(StatusTerminated, 0, nil)
			return false
		}
		attempt++
	}
}

// waitRetry parks a Disconnected client until Retry is called, the grace
// period runs out, or the client closes. Returns true to start a fresh
// reconnect round.
func (c *Client) waitRetry(disconnectedAt time.Time, attempts int, cause error) bool {
	err := fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, attempts, cause)
	c.setStatus(StatusDisconnected, 0, err)

	var expire <-chan time.Time
	if c.config.GracePeriod > 0 {
		remaining := c.config.GracePeriod - time.Since(disconnectedAt)
		if remaining <= 0 {
			c.setStatus(StatusTerminated, 0, ErrTerminated)
			return false
		}
		timer := time.NewTimer(remaining)
		defer timer.Stop()
		expire = timer.C
	}

	select {
	case <-c.retry:
		return true
	case <-expire:
		c.logger.Info("grace period expired while disconnected")
		c.setStatus(StatusTerminated, 0, ErrTerminated)
		return false
	case <-c.ctx.Done():
		c.setStatus(StatusTerminated, 0, nil)
		return false
	}
}

// replayPending transmits events captured while disconnected, oldest
// first. New captures wait on captureMu, so replayed input always goes
// out before anything captured after the reconnect.
func (c *Client) replayPending() {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()

	events := c.pending.Drain()
	for i, event := range events {
		if err := c.writeEvent(event); err != nil {
			c.logger.Warn("replay interrupted, re-queueing remaining input",
				"sent", i, "remaining", len(events)-i)
			c.pending.Requeue(events[i:])
			return
		}
	}
	if len(events) > 0 {
		c.logger.Info("replayed pending input", "count", len(events))
	}
}

// dialSession dials the server and runs the protocol handshake. An empty
// sessionID opens a new session; otherwise the session is resumed and the
// server replays or resyncs from lastVersion.
func (c *Client) dialSession(ctx context.Context, sessionID string, lastVersion uint64) (*websocket.Conn, *protocol.ServerHello, error) {
	dialer := c.config.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: c.config.HandshakeTimeout,
		}
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dial: %v", ErrChannelUnavailable, err)
	}

	hello := protocol.NewClientHello()
	if sessionID != "" {
		hello = protocol.NewResumeHello(sessionID, lastVersion)
	}
	deadline := time.Now().Add(c.config.HandshakeTimeout)
	_ = conn.SetWriteDeadline(deadline)
	data := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeClientHello(hello)).Encode()
	if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: hello write: %v", ErrChannelUnavailable, err)
	}

	_ = conn.SetReadDeadline(deadline)
	_, msg, err := conn.ReadMessage()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: hello read: %v", ErrChannelUnavailable, err)
	}
	frame, err := protocol.DecodeFrame(msg)
	if err != nil || frame.Type != protocol.FrameHandshake {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: malformed server hello", ErrChannelUnavailable)
	}
	sh, err := protocol.DecodeServerHello(frame.Payload)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("%w: malformed server hello", ErrChannelUnavailable)
	}
	if sh.Status != protocol.HandshakeOK {
		_ = conn.Close()
		if permanentHandshakeStatus(sh.Status) {
			return nil, nil, fmt.Errorf("%w: %s", ErrSessionRejected, sh.Status)
		}
		return nil, nil, fmt.Errorf("%w: handshake status %s", ErrChannelUnavailable, sh.Status)
	}

	_ = conn.SetWriteDeadline(time.Time{})
	_ = conn.SetReadDeadline(time.Time{})
	conn.SetReadLimit(protocol.MaxPayloadSize + 16)
	return conn, sh, nil
}

// permanentHandshakeStatus reports whether a handshake refusal cannot be
// fixed by retrying: the session is gone, the protocol is incompatible,
// or the hello itself was rejected as malformed.
func permanentHandshakeStatus(status protocol.HandshakeStatus) bool {
	switch status {
	case protocol.HandshakeSessionExpired,
		protocol.HandshakeVersionMismatch,
		protocol.HandshakeInvalidFormat:
		return true
	}
	return false
}

func (c *Client) writeEvent(event *protocol.Event) error {
	data := protocol.NewFrame(protocol.FrameEvent, protocol.EncodeEvent(event)).Encode()
	return c.writeFrame(data)
}

func (c *Client) writeFrame(data []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrChannelUnavailable
	}
	if c.config.WriteTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Client) dropConn() {
	c.connMu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

func (c *Client) currentConn() *websocket.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// setStatus records a transition and notifies OnStatus. Terminated is
// terminal: later transitions are ignored.
func (c *Client) setStatus(status Status, attempt int, err error) {
	c.statusMu.Lock()
	if c.status == StatusTerminated && status != StatusTerminated {
		c.statusMu.Unlock()
		return
	}
	if c.status == status && c.attempt == attempt {
		c.statusMu.Unlock()
		return
	}
	c.status = status
	c.attempt = attempt
	c.lastErr = err
	cb := c.config.OnStatus
	c.statusMu.Unlock()

	if cb != nil {
		cb(StatusChange{Status: status, Attempt: attempt, Err: err})
	}
}

// serverClosedError carries a protocol-level close frame from the server.
type serverClosedError struct {
	reason  protocol.CloseReason
	message string
}

func (e *serverClosedError) Error() string {
	return fmt.Sprintf("server closed session: %s (%s)", e.reason, e.message)
}
