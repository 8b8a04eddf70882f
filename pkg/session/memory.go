package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory session store.
// It's the default store and suitable for single-server deployments; for
// multi-server deployments use SQLStore or S3Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memoryEntry
	closed   bool
	done     chan struct{}
}

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

// MemoryStoreOption configures MemoryStore behavior.
type MemoryStoreOption func(*memoryStoreConfig)

type memoryStoreConfig struct {
	cleanupInterval time.Duration
}

// WithCleanupInterval sets how often expired sessions are removed.
// Default: 1 minute.
func WithCleanupInterval(d time.Duration) MemoryStoreOption {
	return func(c *memoryStoreConfig) {
		c.cleanupInterval = d
	}
}

// NewMemoryStore creates a new in-memory session store.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	cfg := &memoryStoreConfig{
		cleanupInterval: 1 * time.Minute,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	store := &MemoryStore{
		sessions: make(map[string]*memoryEntry),
		done:     make(chan struct{}),
	}

	go store.cleanupLoop(cfg.cleanupInterval)
	return store
}

// Save stores a session snapshot with an expiration time.
func (m *MemoryStore) Save(ctx context.Context, sessionID string, data []byte, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	// Copy so later caller mutations don't reach the store
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	m.sessions[sessionID] = &memoryEntry{
		data:      dataCopy,
		expiresAt: expiresAt,
	}
	return nil
}

// Load retrieves a session snapshot if it exists and hasn't expired.
func (m *MemoryStore) Load(ctx context.Context, sessionID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed{}
	}

	entry, ok := m.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	if time.Now().After(entry.expiresAt) {
		return nil, nil
	}

	dataCopy := make([]byte, len(entry.data))
	copy(dataCopy, entry.data)
	return dataCopy, nil
}

// Delete removes a session from the store.
func (m *MemoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	delete(m.sessions, sessionID)
	return nil
}

// Touch updates the expiration time for a session.
func (m *MemoryStore) Touch(ctx context.Context, sessionID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	if entry, ok := m.sessions[sessionID]; ok {
		entry.expiresAt = expiresAt
	}
	return nil
}

// SaveAll saves multiple sessions in one lock acquisition.
func (m *MemoryStore) SaveAll(ctx context.Context, sessions map[string]Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed{}
	}

	for id, rec := range sessions {
		dataCopy := make([]byte, len(rec.Data))
		copy(dataCopy, rec.Data)

		m.sessions[id] = &memoryEntry{
			data:      dataCopy,
			expiresAt: rec.ExpiresAt,
		}
	}
	return nil
}

// Close shuts down the store and releases resources.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}

	m.closed = true
	close(m.done)
	m.sessions = nil
	return nil
}

// Count returns the number of stored sessions, for monitoring and tests.
func (m *MemoryStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// cleanupLoop periodically removes expired sessions.
func (m *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanup()
		case <-m.done:
			return
		}
	}
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	now := time.Now()
	for id, entry := range m.sessions {
		if now.After(entry.expiresAt) {
			delete(m.sessions, id)
		}
	}
}
