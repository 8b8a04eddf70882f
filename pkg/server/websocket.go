package server

import (
	"errors"
	"runtime/debug"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// Start launches the session's goroutines. The event loop runs once for
// the session's lifetime; a read loop and a heartbeat loop are started for
// the currently attached connection and restarted on every reattach.
func (s *Session) Start() {
	if s.started.CompareAndSwap(false, true) {
		go s.eventLoop()
	}
	s.mu.Lock()
	conn := s.conn
	epoch := s.epoch.Load()
	s.mu.Unlock()
	if conn == nil || !s.connected.Load() {
		return
	}
	go s.readLoop(conn, epoch)
	go s.writeLoop(epoch)
}

// readLoop reads frames from conn until it fails or the session closes.
// The loop belongs to one connection epoch; when it exits it detaches only
// that epoch, so a connection swapped in by a resume is left alone.
func (s *Session) readLoop(conn *websocket.Conn, epoch uint64) {
	defer s.detachEpoch(epoch)

	conn.SetReadLimit(s.config.MaxMessageSize)
	for {
		if s.closed.Load() {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !s.closed.Load() && websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("connection read failed", "error", err)
				s.metrics.RecordReadError()
			}
			return
		}
		s.metrics.RecordBytesReceived(len(data))
		s.touch()

		frame, err := protocol.DecodeFrame(data)
		if err != nil {
			s.logger.Warn("dropping malformed frame", "error", err)
			s.sendError(protocol.NewError(protocol.ErrInvalidFrame, "malformed frame"))
			continue
		}
		s.handleFrame(frame)
	}
}

func (s *Session) handleFrame(frame *protocol.Frame) {
	switch frame.Type {
	case protocol.FrameEvent:
		event, err := protocol.DecodeEvent(frame.Payload)
		if err != nil {
			s.logger.Warn("dropping malformed event", "error", err)
			s.sendError(protocol.NewError(protocol.ErrInvalidEvent, "malformed event"))
			return
		}
		if err := s.QueueEvent(event); err != nil {
			if errors.Is(err, ErrEventQueueFull) {
				s.logger.Warn("event queue full, dropping event",
					"seq", event.Seq, "event_type", event.Type.String())
				s.sendError(protocol.NewError(protocol.ErrRateLimited, "event queue full"))
			}
		}
	case protocol.FrameAck:
		ack, err := protocol.DecodeAck(frame.Payload)
		if err != nil {
			s.logger.Warn("dropping malformed ack", "error", err)
			return
		}
		s.handleAck(ack)
	case protocol.FrameControl:
		s.handleControl(frame.Payload)
	case protocol.FrameHandshake:
		s.logger.Warn("unexpected handshake frame on established session")
	default:
		s.logger.Warn("dropping frame of unknown type", "type", frame.Type.String())
	}
}

func (s *Session) handleControl(payload []byte) {
	ct, body, err := protocol.DecodeControl(payload)
	if err != nil {
		s.logger.Warn("dropping malformed control frame", "error", err)
		return
	}
	switch ct {
	case protocol.ControlPing:
		if ping, ok := body.(*protocol.PingPong); ok {
			s.sendPong(ping.Timestamp)
		}
	case protocol.ControlPong:
		// heartbeat answered; activity already recorded by the read loop
	case protocol.ControlResyncRequest:
		req, ok := body.(*protocol.ResyncRequest)
		if !ok {
			return
		}
		s.logger.Info("client requested resync",
			"last_version", req.LastVersion, "version", s.version.Load())
		if err := s.resumeDelivery(req.LastVersion); err != nil {
			s.logger.Warn("resync delivery failed",
				"last_version", req.LastVersion, "error", err)
		}
	case protocol.ControlClose:
		reason := protocol.CloseNormal
		if cm, ok := body.(*protocol.CloseMessage); ok {
			reason = cm.Reason
		}
		s.logger.Info("client closed session", "reason", reason.String())
		_ = s.Close()
	default:
		s.logger.Debug("ignoring control frame", "type", ct.String())
	}
}

func (s *Session) sendPing() error {
	ct, ping := protocol.NewPing(uint64(time.Now().UnixMilli()))
	data := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, ping)).Encode()
	return s.writeFrame(data)
}

func (s *Session) sendPong(timestamp uint64) {
	ct, pong := protocol.NewPong(timestamp)
	data := protocol.NewFrame(protocol.FrameControl, protocol.EncodeControl(ct, pong)).Encode()
	if err := s.writeFrame(data); err != nil &&
		!errors.Is(err, ErrNoConnection) && !errors.Is(err, ErrSessionClosed) {
		s.logger.Debug("pong write failed", "error", err)
	}
}

func (s *Session) sendError(em *protocol.ErrorMessage) {
	data := protocol.NewFrame(protocol.FrameError, protocol.EncodeErrorMessage(em)).Encode()
	if err := s.writeFrame(data); err != nil &&
		!errors.Is(err, ErrNoConnection) && !errors.Is(err, ErrSessionClosed) {
		s.logger.Debug("error frame write failed", "error", err)
	}
}

// writeLoop sends heartbeats while the connection for epoch is attached.
func (s *Session) writeLoop(epoch uint64) {
	ticker := time.NewTicker(s.config.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.closed.Load() || s.epoch.Load() != epoch {
				return
			}
			if err := s.sendPing(); err != nil {
				if !errors.Is(err, ErrSessionClosed) && !errors.Is(err, ErrNoConnection) {
					s.logger.Debug("heartbeat failed, detaching session", "error", err)
					s.metrics.RecordWriteError()
					s.detachEpoch(epoch)
				}
				return
			}
		case <-s.done:
			return
		}
	}
}

// eventLoop is the only goroutine that touches the view. It drains client
// events and dispatched functions until the session closes.
func (s *Session) eventLoop() {
	for {
		select {
		case event := <-s.events:
			s.processEvent(event)
		case fn := <-s.dispatch:
			s.runDispatch(fn)
		case <-s.done:
			return
		}
	}
}

// processEvent deduplicates, handles, and re-renders for one client event.
// A panicking handler closes this session and nothing else.
func (s *Session) processEvent(event *protocol.Event) {
	if event.Seq != 0 && event.Seq <= s.eventSeq.Load() {
		// at-least-once replay after a reconnect; already processed
		s.logger.Debug("dropping replayed event", "seq", event.Seq)
		return
	}
	if event.Seq != 0 {
		s.eventSeq.Store(event.Seq)
	}

	start := time.Now()
	err := s.invokeHandler(event)
	if err != nil {
		var herr *HandlerError
		if errors.As(err, &herr) {
			s.logger.Error("view handler panicked",
				"node_id", herr.NodeID,
				"event_type", herr.EventType.String(),
				"panic", herr.Panic,
				"stack", string(herr.Stack))
			s.sendError(protocol.NewFatalError(protocol.ErrHandlerPanic, "internal error"))
			_ = s.CloseWithReason(protocol.CloseError, "handler failure")
			return
		}
		s.logger.Warn("event handler failed",
			"event_type", event.Type.String(), "node_id", event.NodeID, "error", err)
		s.sendError(protocol.NewError(protocol.ErrServerError, err.Error()))
	}
	s.rerender()
	s.metrics.RecordEventProcessed()
	s.metrics.RecordEventLatency(time.Since(start).Microseconds())
}

func (s *Session) invokeHandler(event *protocol.Event) (err error) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordHandlerPanic()
			err = &HandlerError{
				SessionID: s.ID,
				NodeID:    event.NodeID,
				EventType: event.Type,
				Panic:     r,
				Stack:     debug.Stack(),
			}
		}
	}()
	return handler(s.ctx, s, event)
}

func (s *Session) runDispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordHandlerPanic()
			s.logger.Error("dispatched function panicked",
				"panic", r, "stack", string(debug.Stack()))
			_ = s.CloseWithReason(protocol.CloseError, "dispatch failure")
		}
	}()
	fn()
	s.rerender()
}

// rerender renders the view, diffs against the previous render, and pushes
// the delta. Runs on the event loop.
func (s *Session) rerender() {
	s.mu.Lock()
	view := s.view
	s.mu.Unlock()
	if view == nil || s.closed.Load() {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.metrics.RecordHandlerPanic()
			s.logger.Error("view render panicked",
				"panic", r, "stack", string(debug.Stack()))
			_ = s.CloseWithReason(protocol.CloseError, "render failure")
		}
	}()

	next := view.Render()
	vtree.CarryIDs(s.baseline, next)
	vtree.AssignIDs(next, s.ids)
	patches := vtree.Diff(s.baseline, next)
	s.baseline = next
	if len(patches) == 0 {
		return
	}
	s.pushPatches(next, protocol.ToWirePatches(patches))
}
