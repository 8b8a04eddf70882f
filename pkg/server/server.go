package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
)

// Server accepts WebSocket connections, runs the protocol handshake, and
// hands established connections to their sessions. It owns the HTTP
// listener and the session manager.
type Server struct {
	config     *Config
	logger     *slog.Logger
	sessions   *SessionManager
	upgrader   websocket.Upgrader
	router     chi.Router
	httpServer *http.Server
	metrics    *MetricsCollector
	proxies    *proxyMatcher
}

// New creates a server. Zero config fields are filled from DefaultConfig.
func New(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.normalized()

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	checkOrigin := config.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = SameOriginCheck
	}

	metrics := NewMetricsCollector()
	s := &Server{
		config:   config,
		logger:   logger,
		sessions: NewSessionManager(config, logger, metrics),
		metrics:  metrics,
		proxies:  newProxyMatcher(config.TrustedProxies, logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:    config.ReadBufferSize,
			WriteBufferSize:   config.WriteBufferSize,
			HandshakeTimeout:  config.SessionConfig.HandshakeTimeout,
			CheckOrigin:       checkOrigin,
			EnableCompression: config.SessionConfig.EnableCompression,
		},
	}

	r := chi.NewRouter()
	r.Get("/ws", s.HandleWebSocket)
	r.Get("/healthz", s.handleHealth)
	s.router = r

	s.httpServer = &http.Server{
		Addr:              config.Address,
		Handler:           r,
		ReadHeaderTimeout: config.SessionConfig.HandshakeTimeout,
	}
	return s
}

// SetView sets the factory that builds each session's view.
func (s *Server) SetView(factory ViewFactory) {
	s.sessions.SetView(factory)
}

// Use appends event middleware applied to every new session.
func (s *Server) Use(middleware ...EventMiddleware) {
	s.sessions.Use(middleware...)
}

// Router returns the server's router so applications can mount additional
// routes next to /ws and /healthz.
func (s *Server) Router() chi.Router {
	return s.router
}

// Handler returns the full HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetHandler replaces the handler served by ListenAndServe and Run.
// Applications that wrap Handler with extra routes or middleware install
// the composed handler here so the server still owns serving and
// shutdown. Must be called before ListenAndServe or Run.
func (s *Server) SetHandler(h http.Handler) {
	s.httpServer.Handler = h
}

// WebSocketHandler returns just the WebSocket endpoint for mounting into
// an existing router.
func (s *Server) WebSocketHandler() http.Handler {
	return http.HandlerFunc(s.HandleWebSocket)
}

// Sessions returns the session manager.
func (s *Server) Sessions() *SessionManager {
	return s.sessions
}

// Metrics returns a snapshot of server activity.
func (s *Server) Metrics() *ServerMetrics {
	snap := s.metrics.Snapshot()
	stats := s.sessions.Stats()
	snap.ActiveSessions = int64(stats.Connected)
	snap.DetachedSessions = int64(stats.Detached)
	snap.TotalSessions = stats.TotalCreated
	snap.SessionCloses = stats.TotalClosed
	snap.PeakSessions = int64(stats.Peak)
	return snap
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// HandleWebSocket upgrades the connection, runs the protocol handshake,
// and starts or resumes the session it names.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := clientIPFromRequest(r, s.proxies)
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "remote", ip, "error", err)
		return
	}

	hello, err := s.readClientHello(conn)
	if err != nil {
		s.logger.Debug("handshake failed", "remote", ip, "error", err)
		s.rejectHandshake(conn, protocol.HandshakeInvalidFormat)
		return
	}
	if hello.Version.Major != protocol.CurrentVersion.Major {
		s.logger.Info("rejecting client with incompatible protocol",
			"remote", ip, "client_version", hello.Version.String())
		s.rejectHandshake(conn, protocol.HandshakeVersionMismatch)
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	if hello.SessionID != "" {
		s.resumeSession(conn, ip, hello)
		return
	}
	s.startSession(conn, ip)
}

// readClientHello reads and decodes the first frame, which must be a
// handshake.
func (s *Server) readClientHello(conn *websocket.Conn) (*protocol.ClientHello, error) {
	conn.SetReadLimit(s.config.SessionConfig.MaxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(s.config.SessionConfig.HandshakeTimeout))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	frame, err := protocol.DecodeFrame(data)
	if err != nil {
		return nil, err
	}
	if frame.Type != protocol.FrameHandshake {
		return nil, ErrInvalidHandshake
	}
	return protocol.DecodeClientHello(frame.Payload)
}

// rejectHandshake tells the client why it was refused and closes the
// connection.
func (s *Server) rejectHandshake(conn *websocket.Conn, status protocol.HandshakeStatus) {
	hello := protocol.NewServerHelloError(status)
	data := protocol.NewFrame(protocol.FrameHandshake, protocol.EncodeServerHello(hello)).Encode()
	_ = conn.SetWriteDeadline(time.Now().Add(s.config.SessionConfig.WriteTimeout))
	_ = conn.WriteMessage(websocket.BinaryMessage, data)
	_ = conn.Close()
}

// handshakeStatusForError maps session errors to handshake reject codes.
func handshakeStatusForError(err error) protocol.HandshakeStatus {
	switch {
	case errors.Is(err, ErrMaxSessionsReached), errors.Is(err, ErrChannelUnavailable):
		return protocol.HandshakeServerBusy
	case errors.Is(err, ErrTooManySessionsFromIP):
		return protocol.HandshakeLimitExceeded
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrSessionNotFound):
		return protocol.HandshakeSessionExpired
	default:
		return protocol.HandshakeInternalError
	}
}

// startSession creates a fresh session, completes the handshake, delivers
// the initial tree, and starts the session loops.
func (s *Server) startSession(conn *websocket.Conn, ip string) {
	sess, err := s.sessions.Create(conn, ip)
	if err != nil {
		s.logger.Warn("session rejected", "remote", ip, "error", err)
		s.rejectHandshake(conn, handshakeStatusForError(err))
		return
	}
	hello := protocol.NewServerHello(sess.ID, sess.Version(), uint64(time.Now().UnixMilli()))
	if err := sess.sendServerHello(hello); err != nil {
		s.logger.Debug("handshake reply failed", "session_id", sess.ID, "error", err)
		_ = sess.Close()
		return
	}
	if err := sess.sendResyncFull(); err != nil {
		s.logger.Warn("initial tree delivery failed", "session_id", sess.ID, "error", err)
		_ = sess.Close()
		return
	}
	sess.Start()
	s.logger.Info("session started", "session_id", sess.ID, "remote", ip)
	if s.config.OnSessionStart != nil {
		s.config.OnSessionStart(sess)
	}
}

// resumeSession reattaches a reconnecting client to its session and brings
// it up to the current version.
func (s *Server) resumeSession(conn *websocket.Conn, ip string, hello *protocol.ClientHello) {
	sess, err := s.sessions.Resume(hello.SessionID, ip)
	if err != nil {
		s.logger.Info("resume rejected",
			"session_id", hello.SessionID, "remote", ip, "error", err)
		s.rejectHandshake(conn, handshakeStatusForError(err))
		return
	}
	sess.Attach(conn)
	reply := protocol.NewServerHello(sess.ID, sess.Version(), uint64(time.Now().UnixMilli()))
	if err := sess.sendServerHello(reply); err != nil {
		s.logger.Debug("resume handshake reply failed", "session_id", sess.ID, "error", err)
		sess.detachCurrent()
		return
	}
	if err := sess.resumeDelivery(hello.LastVersion); err != nil {
		s.logger.Warn("resume delivery failed",
			"session_id", sess.ID, "last_version", hello.LastVersion, "error", err)
		sess.detachCurrent()
		return
	}
	sess.Start()
	s.logger.Info("session resumed",
		"session_id", sess.ID, "remote", ip,
		"last_version", hello.LastVersion, "version", sess.Version())
	if s.config.OnSessionResume != nil {
		s.config.OnSessionResume(sess)
	}
}

// ListenAndServe starts the HTTP server and blocks until it stops.
func (s *Server) ListenAndServe() error {
	s.logger.Info("server listening", "address", s.config.Address)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Run starts the server and blocks until SIGINT or SIGTERM, then shuts
// down gracefully.
func (s *Server) Run() error {
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.logger.Info("server listening", "address", s.config.Address)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case sig := <-shutdown:
		s.logger.Info("shutting down", "signal", sig.String())
		return s.Shutdown()
	}
}

// Shutdown gracefully stops the server within ShutdownTimeout.
func (s *Server) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.ShutdownWithContext(ctx)
}

// ShutdownWithContext closes all sessions, persisting them first when a
// store is configured, then stops the HTTP listener.
func (s *Server) ShutdownWithContext(ctx context.Context) error {
	var firstErr error
	if err := s.sessions.ShutdownWithContext(ctx); err != nil {
		firstErr = err
	}
	if err := s.httpServer.Shutdown(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
