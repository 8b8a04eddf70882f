package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/session"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

// SessionManager owns the live sessions: creation against the server-wide
// and per-IP limits, lookup for reconnects, expiry of sessions whose grace
// period or idle timeout has lapsed, and the bridge to the persistence
// layer that keeps snapshots resumable across server restarts.
type SessionManager struct {
	mu           sync.RWMutex
	sessions     map[string]*Session
	sessionsByIP map[string]int
	peak         int
	stopped      bool

	config           *SessionConfig
	maxSessions      int
	maxSessionsPerIP int
	cleanupInterval  time.Duration

	viewFactory ViewFactory
	middleware  []EventMiddleware

	// persistence tracks detached snapshots and the cold-storage store.
	// Nil when no store is configured.
	persistence *session.Manager

	totalCreated atomic.Int64
	totalClosed  atomic.Int64

	done        chan struct{}
	cleanupDone chan struct{}

	logger  *slog.Logger
	metrics *MetricsCollector

	onSessionEnd func(*Session)
}

// NewSessionManager creates a manager from a normalized server config.
func NewSessionManager(config *Config, logger *slog.Logger, metrics *MetricsCollector) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	sc := config.SessionConfig
	if sc == nil {
		sc = DefaultSessionConfig()
	}

	var persistence *session.Manager
	if config.Store != nil {
		persistence = session.NewManager(config.Store, session.ManagerConfig{
			MaxDetachedSessions: config.MaxDetachedSessions,
			MaxSessionsPerIP:    config.MaxSessionsPerIP,
			ResumeWindow:        sc.GracePeriod,
			CleanupInterval:     config.CleanupInterval,
		}, logger)
	}

	m := &SessionManager{
		sessions:         make(map[string]*Session),
		sessionsByIP:     make(map[string]int),
		config:           sc,
		maxSessions:      config.MaxSessions,
		maxSessionsPerIP: config.MaxSessionsPerIP,
		cleanupInterval:  config.CleanupInterval,
		persistence:      persistence,
		done:             make(chan struct{}),
		cleanupDone:      make(chan struct{}),
		logger:           logger,
		metrics:          metrics,
		onSessionEnd:     config.OnSessionEnd,
	}
	if m.cleanupInterval > 0 {
		go m.cleanupLoop()
	} else {
		close(m.cleanupDone)
	}
	return m
}

// SetView sets the factory used to build each session's view. Must be set
// before sessions are created.
func (m *SessionManager) SetView(factory ViewFactory) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.viewFactory = factory
}

// Use appends event middleware applied to every subsequently created
// session, outermost first.
func (m *SessionManager) Use(middleware ...EventMiddleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middleware = append(m.middleware, middleware...)
}

// Create registers a new session for conn, enforcing the session limits.
func (m *SessionManager) Create(conn *websocket.Conn, ip string) (*Session, error) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrChannelUnavailable
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}
	if m.maxSessionsPerIP > 0 && m.sessionsByIP[ip] >= m.maxSessionsPerIP {
		m.mu.Unlock()
		return nil, ErrTooManySessionsFromIP
	}
	s := newSession(generateSessionID(), conn, ip, m.config, m.logger)
	s.metrics = m.metrics
	s.onDetach = m.handleDetach
	s.onClose = m.handleClose
	m.sessions[s.ID] = s
	m.sessionsByIP[ip]++
	if len(m.sessions) > m.peak {
		m.peak = len(m.sessions)
	}
	factory := m.viewFactory
	middleware := m.middleware
	m.mu.Unlock()

	m.totalCreated.Add(1)
	if m.persistence != nil {
		err := m.persistence.Register(&session.ManagedSession{
			ID:         s.ID,
			IP:         ip,
			CreatedAt:  s.CreatedAt,
			LastActive: s.LastActive(),
			Connected:  true,
		})
		if err != nil {
			m.logger.Warn("session persistence registration failed",
				"session_id", s.ID, "error", err)
		}
	}
	if factory != nil {
		s.MountView(factory(s), middleware...)
	}
	return s, nil
}

// Get returns the live session with the given ID, or nil.
func (m *SessionManager) Get(sessionID string) *Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Count returns the number of live sessions.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Resume returns the session for a reconnecting client. A session still in
// memory simply gets reused; one evicted or lost to a restart is rebuilt
// from its persisted snapshot. A session past its grace period is expired.
func (m *SessionManager) Resume(sessionID, ip string) (*Session, error) {
	m.mu.RLock()
	s := m.sessions[sessionID]
	stopped := m.stopped
	m.mu.RUnlock()
	if stopped {
		return nil, ErrChannelUnavailable
	}
	if s != nil {
		if s.closed.Load() {
			return nil, ErrSessionExpired
		}
		if s.IsDetached() && m.config.GracePeriod > 0 &&
			time.Since(s.DetachedSince()) > m.config.GracePeriod {
			// cleanup has not fired yet; expire it now
			_ = s.CloseWithReason(protocol.CloseSessionExpired, "session expired")
			return nil, ErrSessionExpired
		}
		return s, nil
	}
	if m.persistence == nil {
		return nil, ErrSessionNotFound
	}
	_, data, err := m.persistence.OnReconnect(sessionID)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			return nil, ErrSessionNotFound
		case errors.Is(err, session.ErrSessionExpired):
			return nil, ErrSessionExpired
		case errors.Is(err, session.ErrManagerStopped):
			return nil, ErrChannelUnavailable
		default:
			return nil, &SessionError{SessionID: sessionID, Op: "resume", Err: err}
		}
	}
	if data == nil {
		return nil, ErrSessionNotFound
	}
	return m.restore(sessionID, ip, data)
}

// restore rebuilds a session from its persisted snapshot. The view is
// freshly constructed; any drift between its render and the snapshot tree
// is pushed as a normal delta once the client reattaches.
func (m *SessionManager) restore(sessionID, ip string, data []byte) (*Session, error) {
	snap, err := session.Deserialize(data)
	if err != nil {
		return nil, &SessionError{SessionID: sessionID, Op: "restore", Err: err}
	}
	var tree *vtree.Node
	if len(snap.Tree) > 0 {
		wire, err := protocol.DecodeNodeWire(protocol.NewDecoder(snap.Tree))
		if err != nil {
			return nil, &SessionError{SessionID: sessionID, Op: "restore", Err: err}
		}
		tree = wire.ToNode()
	}

	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil, ErrChannelUnavailable
	}
	if existing := m.sessions[sessionID]; existing != nil {
		// lost a race with a concurrent reconnect for the same session
		m.mu.Unlock()
		return existing, nil
	}
	if m.maxSessions > 0 && len(m.sessions) >= m.maxSessions {
		m.mu.Unlock()
		return nil, ErrMaxSessionsReached
	}
	if m.maxSessionsPerIP > 0 && m.sessionsByIP[ip] >= m.maxSessionsPerIP {
		m.mu.Unlock()
		return nil, ErrTooManySessionsFromIP
	}
	s := newSession(sessionID, nil, ip, m.config, m.logger)
	if !snap.CreatedAt.IsZero() {
		s.CreatedAt = snap.CreatedAt
	}
	s.metrics = m.metrics
	s.onDetach = m.handleDetach
	s.onClose = m.handleClose
	m.sessions[sessionID] = s
	m.sessionsByIP[ip]++
	if len(m.sessions) > m.peak {
		m.peak = len(m.sessions)
	}
	factory := m.viewFactory
	middleware := m.middleware
	m.mu.Unlock()

	m.totalCreated.Add(1)
	s.restoreState(tree, snap.Version, snap.EventSeq)
	s.restoreValues(snap.Values)
	if factory != nil {
		s.MountView(factory(s), middleware...)
	}
	m.logger.Info("session restored from store",
		"session_id", sessionID, "version", snap.Version)
	return s, nil
}

// handleDetach persists a snapshot when a session loses its connection, so
// the client can resume even if this process restarts before it returns.
func (m *SessionManager) handleDetach(s *Session) {
	if m.persistence == nil {
		return
	}
	snap := s.Snapshot()
	data, err := session.Serialize(snap)
	if err != nil {
		m.logger.Error("session snapshot failed", "session_id", s.ID, "error", err)
		return
	}
	m.persistence.OnDisconnect(s.ID, data, snap.Version)
}

// handleClose removes a closed session from the maps. Outside shutdown the
// persisted snapshot is removed too: a closed session must not be
// resumable from cold storage.
func (m *SessionManager) handleClose(s *Session) {
	m.mu.Lock()
	if _, ok := m.sessions[s.ID]; ok {
		delete(m.sessions, s.ID)
		if n := m.sessionsByIP[s.IP]; n <= 1 {
			delete(m.sessionsByIP, s.IP)
		} else {
			m.sessionsByIP[s.IP] = n - 1
		}
	}
	stopped := m.stopped
	m.mu.Unlock()

	m.totalClosed.Add(1)
	if m.persistence != nil && !stopped {
		m.persistence.Remove(s.ID)
	}
	if m.onSessionEnd != nil {
		m.onSessionEnd(s)
	}
}

func (m *SessionManager) cleanupLoop() {
	defer close(m.cleanupDone)
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.cleanupExpired()
		case <-m.done:
			return
		}
	}
}

// cleanupExpired closes detached sessions past their grace period and
// connected sessions idle past IdleTimeout.
func (m *SessionManager) cleanupExpired() {
	grace := m.config.GracePeriod
	idle := m.config.IdleTimeout
	now := time.Now()

	var expired []*Session
	m.mu.RLock()
	for _, s := range m.sessions {
		switch {
		case s.IsDetached():
			if grace > 0 && now.Sub(s.DetachedSince()) > grace {
				expired = append(expired, s)
			}
		case idle > 0 && now.Sub(s.LastActive()) > idle:
			expired = append(expired, s)
		}
	}
	m.mu.RUnlock()

	for _, s := range expired {
		m.logger.Info("closing expired session",
			"session_id", s.ID, "detached", s.IsDetached())
		_ = s.CloseWithReason(protocol.CloseSessionExpired, "session expired")
	}
}

// Shutdown gracefully stops the manager with a background context.
func (m *SessionManager) Shutdown() error {
	return m.ShutdownWithContext(context.Background())
}

// ShutdownWithContext stops the cleanup loop, persists every live session
// so clients can resume after a restart, and closes all sessions. Closed
// sessions keep their persisted snapshots during shutdown.
func (m *SessionManager) ShutdownWithContext(ctx context.Context) error {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return nil
	}
	m.stopped = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	close(m.done)
	select {
	case <-m.cleanupDone:
	case <-ctx.Done():
	}

	if m.persistence != nil {
		for _, s := range sessions {
			if s.closed.Load() || s.IsDetached() {
				// detached sessions were snapshotted when they detached
				continue
			}
			snap := s.Snapshot()
			data, err := session.Serialize(snap)
			if err != nil {
				m.logger.Error("session snapshot failed during shutdown",
					"session_id", s.ID, "error", err)
				continue
			}
			m.persistence.OnDisconnect(s.ID, data, snap.Version)
		}
	}

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.CloseWithReason(protocol.CloseServerShutdown, "server shutting down")
		}(s)
	}
	closed := make(chan struct{})
	go func() {
		wg.Wait()
		close(closed)
	}()

	var shutdownErr error
	select {
	case <-closed:
	case <-ctx.Done():
		m.logger.Warn("shutdown timed out waiting for sessions to close")
		shutdownErr = ctx.Err()
	}

	if m.persistence != nil {
		if err := m.persistence.Shutdown(ctx); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	m.mu.Lock()
	m.sessions = make(map[string]*Session)
	m.sessionsByIP = make(map[string]int)
	m.mu.Unlock()
	return shutdownErr
}

// SessionStats summarizes the manager's session population.
type SessionStats struct {
	Total        int
	Connected    int
	Detached     int
	UniqueIPs    int
	Peak         int
	TotalCreated int64
	TotalClosed  int64
}

// Stats returns a snapshot of the session population.
func (m *SessionManager) Stats() SessionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := SessionStats{
		Total:        len(m.sessions),
		UniqueIPs:    len(m.sessionsByIP),
		Peak:         m.peak,
		TotalCreated: m.totalCreated.Load(),
		TotalClosed:  m.totalClosed.Load(),
	}
	for _, s := range m.sessions {
		if s.IsDetached() {
			stats.Detached++
		} else if s.IsConnected() {
			stats.Connected++
		}
	}
	return stats
}
