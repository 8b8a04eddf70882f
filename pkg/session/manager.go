package session

import (
	"container/list"
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"
)

// Manager tracks sessions across connect/disconnect cycles and bounds the
// memory spent on sessions whose client is gone. A detached session stays
// resumable for ResumeWindow; beyond the MaxDetachedSessions cap the
// configured eviction policy picks victims, persisting them to the store
// first so a later resume can still be served from cold storage.
type Manager struct {
	mu sync.RWMutex

	// All sessions by ID
	sessions map[string]*ManagedSession

	// Detached sessions in LRU order (front = most recently accessed)
	detachedQueue *list.List
	detachedIndex map[string]*list.Element

	// Session count per IP address
	sessionsByIP map[string]int

	config ManagerConfig
	store  Store
	logger *slog.Logger

	// Random source (for EvictionRandom); overrideable for tests.
	randIntN func(n int) int

	done    chan struct{}
	stopped bool
}

// ManagedSession wraps session data with management metadata.
type ManagedSession struct {
	// ID is the unique session identifier.
	ID string

	// IP is the client IP address for per-IP limiting.
	IP string

	// CreatedAt is when the session was created.
	CreatedAt time.Time

	// LastActive is when the session was last accessed.
	LastActive time.Time

	// DisconnectedAt is when the client disconnected (zero if connected).
	DisconnectedAt time.Time

	// LastVersion is the tree version at disconnect time. A resuming
	// client below this version needs patch replay or a full resync.
	LastVersion uint64

	// Data is the serialized snapshot (set while disconnected).
	Data []byte

	// Connected indicates whether the client has an active connection.
	Connected bool
}

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// MaxDetachedSessions is the maximum number of detached sessions
	// before eviction. Default: 10000.
	MaxDetachedSessions int

	// MaxSessionsPerIP is the maximum number of active sessions per IP
	// address. Default: 100.
	MaxSessionsPerIP int

	// ResumeWindow is how long a detached session remains resumable.
	// Default: 5 minutes.
	ResumeWindow time.Duration

	// CleanupInterval is how often expired detached sessions are removed.
	// Default: 1 minute.
	CleanupInterval time.Duration

	// EvictionPolicy picks victims when MaxDetachedSessions is exceeded.
	// Default: EvictionLRU.
	EvictionPolicy EvictionPolicy
}

// EvictionPolicy determines which detached sessions are evicted first.
type EvictionPolicy int

const (
	// EvictionLRU evicts the least recently accessed sessions first.
	EvictionLRU EvictionPolicy = iota

	// EvictionOldest evicts the oldest sessions first (by creation time).
	EvictionOldest

	// EvictionRandom evicts sessions randomly (faster but less fair).
	EvictionRandom
)

// String returns the policy name for logging.
func (p EvictionPolicy) String() string {
	switch p {
	case EvictionLRU:
		return "lru"
	case EvictionOldest:
		return "oldest"
	case EvictionRandom:
		return "random"
	default:
		return "unknown"
	}
}

// DefaultManagerConfig returns a ManagerConfig with sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxDetachedSessions: 10000,
		MaxSessionsPerIP:    100,
		ResumeWindow:        5 * time.Minute,
		CleanupInterval:     1 * time.Minute,
		EvictionPolicy:      EvictionLRU,
	}
}

// Session management errors.
var (
	// ErrTooManySessionsFromIP is returned when the per-IP session limit is exceeded.
	ErrTooManySessionsFromIP = errors.New("too many sessions from this IP address")

	// ErrSessionExpired is returned when trying to resume an expired session.
	ErrSessionExpired = errors.New("session has expired")

	// ErrSessionNotFound is returned when a session doesn't exist.
	ErrSessionNotFound = errors.New("session not found")

	// ErrManagerStopped is returned when operations are attempted on a stopped manager.
	ErrManagerStopped = errors.New("session manager is stopped")
)

// NewManager creates a new session manager.
func NewManager(store Store, config ManagerConfig, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		sessions:      make(map[string]*ManagedSession),
		detachedQueue: list.New(),
		detachedIndex: make(map[string]*list.Element),
		sessionsByIP:  make(map[string]int),
		config:        config,
		store:         store,
		logger:        logger.With("component", "session_manager"),
		randIntN:      rand.IntN,
		done:          make(chan struct{}),
	}

	go m.cleanupLoop()

	return m
}

// CheckIPLimit verifies that the IP hasn't exceeded its session limit.
// Call before creating a new session.
func (m *Manager) CheckIPLimit(ip string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.stopped {
		return ErrManagerStopped
	}

	if m.config.MaxSessionsPerIP > 0 && m.sessionsByIP[ip] >= m.config.MaxSessionsPerIP {
		return ErrTooManySessionsFromIP
	}
	return nil
}

// Register adds a new session to the manager, marked as connected.
func (m *Manager) Register(sess *ManagedSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return ErrManagerStopped
	}

	if m.config.MaxSessionsPerIP > 0 && m.sessionsByIP[sess.IP] >= m.config.MaxSessionsPerIP {
		return ErrTooManySessionsFromIP
	}

	m.sessions[sess.ID] = sess
	m.sessionsByIP[sess.IP]++
	sess.Connected = true
	sess.LastActive = time.Now()

	m.logger.Debug("session registered",
		"session_id", sess.ID,
		"ip", sess.IP,
		"ip_session_count", m.sessionsByIP[sess.IP])

	return nil
}

// OnDisconnect marks a session detached. The snapshot and tree version are
// retained so the session can be resumed within ResumeWindow, and written
// through to the store if one is configured.
func (m *Manager) OnDisconnect(sessionID string, snapshot []byte, lastVersion uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, exists := m.sessions[sessionID]
	if !exists || m.stopped {
		return
	}

	now := time.Now()
	sess.Connected = false
	sess.DisconnectedAt = now
	sess.Data = snapshot
	sess.LastVersion = lastVersion

	// At most one queue entry per session.
	if elem, ok := m.detachedIndex[sessionID]; ok {
		m.detachedQueue.Remove(elem)
		delete(m.detachedIndex, sessionID)
	}

	elem := m.detachedQueue.PushFront(sessionID)
	m.detachedIndex[sessionID] = elem

	for m.detachedQueue.Len() > m.config.MaxDetachedSessions {
		m.evictOneLocked()
	}

	if m.store != nil && len(snapshot) > 0 {
		expiresAt := now.Add(m.config.ResumeWindow)
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := m.store.Save(ctx, sessionID, snapshot, expiresAt); err != nil {
				m.logger.Warn("failed to persist detached session",
					"session_id", sessionID,
					"error", err)
			}
		}()
	}

	m.logger.Debug("session disconnected",
		"session_id", sessionID,
		"last_version", lastVersion,
		"detached_count", m.detachedQueue.Len())
}

// OnReconnect attempts to restore a session after a reconnect.
// If the session is live in memory it is reattached and its snapshot
// returned. If only the store has it, the raw snapshot is returned with a
// nil session and the caller deserializes and rebuilds.
func (m *Manager) OnReconnect(sessionID string) (*ManagedSession, []byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return nil, nil, ErrManagerStopped
	}

	sess, exists := m.sessions[sessionID]
	if !exists {
		if m.store != nil {
			data, err := m.store.Load(context.Background(), sessionID)
			if err != nil {
				return nil, nil, err
			}
			if data != nil {
				return nil, data, nil
			}
		}
		return nil, nil, ErrSessionNotFound
	}

	if !sess.DisconnectedAt.IsZero() {
		if time.Since(sess.DisconnectedAt) > m.config.ResumeWindow {
			m.removeSessionLocked(sessionID, true)
			return nil, nil, ErrSessionExpired
		}
	}

	if elem, ok := m.detachedIndex[sessionID]; ok {
		m.detachedQueue.Remove(elem)
		delete(m.detachedIndex, sessionID)
	}

	sess.Connected = true
	sess.DisconnectedAt = time.Time{}
	sess.LastActive = time.Now()
	data := sess.Data
	sess.Data = nil

	m.logger.Debug("session reconnected",
		"session_id", sessionID,
		"last_version", sess.LastVersion,
		"detached_count", m.detachedQueue.Len())

	return sess, data, nil
}

// Get retrieves a session by ID.
func (m *Manager) Get(sessionID string) *ManagedSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sessions[sessionID]
}

// Touch updates the last active time for a session.
func (m *Manager) Touch(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sess, exists := m.sessions[sessionID]; exists {
		sess.LastActive = time.Now()

		if elem, ok := m.detachedIndex[sessionID]; ok {
			m.detachedQueue.MoveToFront(elem)
		}
	}
}

// Remove removes a session. Called on explicit close or termination.
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeSessionLocked(sessionID, true)
}

// removeSessionLocked removes a session (lock held). deleteFromStore is
// false on the eviction path, which persists the snapshot right before
// removal so it stays resumable from cold storage.
func (m *Manager) removeSessionLocked(sessionID string, deleteFromStore bool) {
	sess, exists := m.sessions[sessionID]
	if !exists {
		return
	}

	delete(m.sessions, sessionID)
	m.sessionsByIP[sess.IP]--
	if m.sessionsByIP[sess.IP] <= 0 {
		delete(m.sessionsByIP, sess.IP)
	}

	if elem, ok := m.detachedIndex[sessionID]; ok {
		m.detachedQueue.Remove(elem)
		delete(m.detachedIndex, sessionID)
	}

	if m.store != nil && deleteFromStore {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			m.store.Delete(ctx, sessionID)
		}()
	}

	m.logger.Debug("session removed",
		"session_id", sessionID,
		"remaining", len(m.sessions))
}

// evictOneLocked evicts one detached session per the configured policy
// (lock held).
func (m *Manager) evictOneLocked() {
	if m.detachedQueue.Len() == 0 {
		return
	}

	var sessionID string
	switch m.config.EvictionPolicy {
	case EvictionOldest:
		sessionID = m.pickOldestLocked()
	case EvictionRandom:
		sessionID = m.pickRandomLocked()
	default:
		sessionID = m.pickLRULocked()
	}

	if sessionID == "" {
		return
	}

	sess := m.sessions[sessionID]

	// Persist before eviction so the session stays resumable from cold
	// storage.
	if m.store != nil && sess != nil && len(sess.Data) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		expiresAt := time.Now().Add(m.config.ResumeWindow)
		_ = m.store.Save(ctx, sessionID, sess.Data, expiresAt)
		cancel()
	}

	m.removeSessionLocked(sessionID, false)

	m.logger.Debug("evicted session",
		"session_id", sessionID,
		"policy", m.config.EvictionPolicy,
		"reason", "detached_limit_exceeded")
}

// pickLRULocked returns the least recently used detached session.
func (m *Manager) pickLRULocked() string {
	if back := m.detachedQueue.Back(); back != nil {
		return back.Value.(string)
	}
	return ""
}

// pickOldestLocked returns the detached session with the earliest creation
// time, falling back to LRU if none resolves.
func (m *Manager) pickOldestLocked() string {
	var oldestID string
	var oldestTime time.Time

	for e := m.detachedQueue.Front(); e != nil; e = e.Next() {
		id := e.Value.(string)
		sess := m.sessions[id]
		if sess == nil {
			continue
		}
		if oldestID == "" || sess.CreatedAt.Before(oldestTime) {
			oldestID = id
			oldestTime = sess.CreatedAt
		}
	}

	if oldestID == "" {
		return m.pickLRULocked()
	}
	return oldestID
}

// pickRandomLocked returns a uniformly random detached session.
func (m *Manager) pickRandomLocked() string {
	n := m.detachedQueue.Len()
	if n == 0 {
		return ""
	}

	intN := m.randIntN
	if intN == nil {
		intN = rand.IntN
	}

	idx := intN(n)
	if idx < 0 {
		idx = 0
	} else if idx >= n {
		idx = n - 1
	}

	e := m.detachedQueue.Front()
	for i := 0; i < idx && e != nil; i++ {
		e = e.Next()
	}
	if e == nil {
		e = m.detachedQueue.Back()
	}
	if e == nil {
		return ""
	}
	return e.Value.(string)
}

// cleanupLoop periodically removes expired detached sessions.
func (m *Manager) cleanupLoop() {
	ticker := time.NewTicker(m.config.CleanupInterval)
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

func (m *Manager) cleanupExpired() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stopped {
		return
	}

	now := time.Now()
	var expired []string

	for id, sess := range m.sessions {
		if sess.DisconnectedAt.IsZero() {
			continue
		}
		if now.Sub(sess.DisconnectedAt) > m.config.ResumeWindow {
			expired = append(expired, id)
		}
	}

	for _, id := range expired {
		m.removeSessionLocked(id, true)
	}

	if len(expired) > 0 {
		m.logger.Debug("cleaned up expired sessions",
			"count", len(expired),
			"remaining", len(m.sessions))
	}
}

// Shutdown stops the manager and persists all detached snapshots.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()

	if m.stopped {
		m.mu.Unlock()
		return nil
	}

	m.stopped = true
	close(m.done)

	toSave := make(map[string]Record)
	for id, sess := range m.sessions {
		if len(sess.Data) > 0 {
			toSave[id] = Record{
				Data:      sess.Data,
				ExpiresAt: time.Now().Add(m.config.ResumeWindow),
			}
		}
	}

	m.mu.Unlock()

	if m.store != nil && len(toSave) > 0 {
		if err := m.store.SaveAll(ctx, toSave); err != nil {
			m.logger.Warn("failed to persist sessions on shutdown",
				"error", err,
				"count", len(toSave))
			return err
		}
		m.logger.Info("persisted sessions on shutdown",
			"count", len(toSave))
	}

	return nil
}

// Stats returns manager statistics.
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connected := 0
	for _, sess := range m.sessions {
		if sess.Connected {
			connected++
		}
	}

	return ManagerStats{
		Total:     len(m.sessions),
		Connected: connected,
		Detached:  m.detachedQueue.Len(),
		UniqueIPs: len(m.sessionsByIP),
	}
}

// ManagerStats contains session manager statistics.
type ManagerStats struct {
	// Total is the total number of sessions (connected + detached).
	Total int

	// Connected is the number of sessions with an active connection.
	Connected int

	// Detached is the number of sessions waiting for reconnection.
	Detached int

	// UniqueIPs is the number of unique client IP addresses.
	UniqueIPs int
}
