package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/viewsync-dev/viewsync/pkg/session"
)

// SessionConfig controls per-session timeouts and buffer sizes.
type SessionConfig struct {
	// ReadTimeout is the maximum time to wait for a client frame before
	// the connection is considered dead. Heartbeats keep healthy
	// connections inside this window. Default: 60s.
	ReadTimeout time.Duration

	// WriteTimeout is the maximum time for a single frame write.
	// Default: 10s.
	WriteTimeout time.Duration

	// HandshakeTimeout is the maximum time for the client to complete
	// the protocol handshake after the WebSocket upgrade. Default: 10s.
	HandshakeTimeout time.Duration

	// HeartbeatInterval is how often the server pings the client.
	// Default: 30s.
	HeartbeatInterval time.Duration

	// IdleTimeout closes connected sessions with no client activity.
	// Default: 5m.
	IdleTimeout time.Duration

	// GracePeriod is how long a detached session stays resumable before
	// it is terminated. Default: 2m.
	GracePeriod time.Duration

	// MaxMessageSize is the maximum inbound message size in bytes.
	// Default: 64KB.
	MaxMessageSize int64

	// MaxPatchHistory is the number of patch frames retained for replay
	// after a reconnect. A client further behind than this gets a full
	// resync. Default: 100.
	MaxPatchHistory int

	// MaxEventQueue is the inbound event queue depth per session.
	// Events arriving at a full queue are dropped. Default: 256.
	MaxEventQueue int

	// EnableCompression enables WebSocket per-message compression.
	EnableCompression bool
}

// DefaultSessionConfig returns a SessionConfig with production defaults.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		HandshakeTimeout:  10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		IdleTimeout:       5 * time.Minute,
		GracePeriod:       2 * time.Minute,
		MaxMessageSize:    64 * 1024,
		MaxPatchHistory:   100,
		MaxEventQueue:     256,
	}
}

// Clone returns a copy of the config.
func (c *SessionConfig) Clone() *SessionConfig {
	clone := *c
	return &clone
}

// normalized fills zero fields from the defaults.
func (c *SessionConfig) normalized() *SessionConfig {
	out := c.Clone()
	def := DefaultSessionConfig()
	if out.ReadTimeout == 0 {
		out.ReadTimeout = def.ReadTimeout
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = def.WriteTimeout
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = def.HandshakeTimeout
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = def.HeartbeatInterval
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = def.IdleTimeout
	}
	if out.GracePeriod == 0 {
		out.GracePeriod = def.GracePeriod
	}
	if out.MaxMessageSize == 0 {
		out.MaxMessageSize = def.MaxMessageSize
	}
	if out.MaxPatchHistory == 0 {
		out.MaxPatchHistory = def.MaxPatchHistory
	}
	if out.MaxEventQueue == 0 {
		out.MaxEventQueue = def.MaxEventQueue
	}
	return out
}

// Config configures the server.
type Config struct {
	// Address is the listen address. Default: ":8080".
	Address string

	// SessionConfig controls per-session behavior. Zero fields are
	// filled from DefaultSessionConfig.
	SessionConfig *SessionConfig

	// ReadBufferSize is the WebSocket read buffer size. Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size. Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the Origin header during the WebSocket
	// upgrade. Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// are honored when resolving client addresses. When empty the
	// connection's remote address is always used.
	TrustedProxies []string

	// ShutdownTimeout bounds graceful shutdown. Default: 30s.
	ShutdownTimeout time.Duration

	// MaxSessions is the server-wide session limit. Default: 10000.
	MaxSessions int

	// MaxSessionsPerIP limits sessions per client address. Default: 100.
	MaxSessionsPerIP int

	// CleanupInterval is how often expired sessions are collected.
	// Default: 1m.
	CleanupInterval time.Duration

	// Store persists session snapshots across disconnects and restarts.
	// Without a store, sessions survive reconnects only while the server
	// process holds them in memory.
	Store session.Store

	// MaxDetachedSessions caps the detached snapshots tracked by the
	// persistence layer. Default: 10000.
	MaxDetachedSessions int

	// Logger is the structured logger. Default: slog.Default().
	Logger *slog.Logger

	// OnSessionStart is called after a new session completes its
	// handshake and starts its loops.
	OnSessionStart func(*Session)

	// OnSessionResume is called after a reconnecting client reattaches
	// to its session.
	OnSessionResume func(*Session)

	// OnSessionEnd is called after a session is permanently closed.
	OnSessionEnd func(*Session)
}

// DefaultConfig returns a Config with production defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:             ":8080",
		SessionConfig:       DefaultSessionConfig(),
		ReadBufferSize:      4096,
		WriteBufferSize:     4096,
		ShutdownTimeout:     30 * time.Second,
		MaxSessions:         10000,
		MaxSessionsPerIP:    100,
		CleanupInterval:     time.Minute,
		MaxDetachedSessions: 10000,
	}
}

// Clone returns a copy of the config. The session config is cloned too;
// function fields and the store are shared.
func (c *Config) Clone() *Config {
	clone := *c
	if c.SessionConfig != nil {
		clone.SessionConfig = c.SessionConfig.Clone()
	}
	if c.TrustedProxies != nil {
		clone.TrustedProxies = append([]string(nil), c.TrustedProxies...)
	}
	return &clone
}

// normalized clones the config and fills zero fields from the defaults.
func (c *Config) normalized() *Config {
	out := c.Clone()
	def := DefaultConfig()
	if out.Address == "" {
		out.Address = def.Address
	}
	if out.SessionConfig == nil {
		out.SessionConfig = DefaultSessionConfig()
	} else {
		out.SessionConfig = out.SessionConfig.normalized()
	}
	if out.ReadBufferSize == 0 {
		out.ReadBufferSize = def.ReadBufferSize
	}
	if out.WriteBufferSize == 0 {
		out.WriteBufferSize = def.WriteBufferSize
	}
	if out.ShutdownTimeout == 0 {
		out.ShutdownTimeout = def.ShutdownTimeout
	}
	if out.MaxSessions == 0 {
		out.MaxSessions = def.MaxSessions
	}
	if out.MaxSessionsPerIP == 0 {
		out.MaxSessionsPerIP = def.MaxSessionsPerIP
	}
	if out.CleanupInterval == 0 {
		out.CleanupInterval = def.CleanupInterval
	}
	if out.MaxDetachedSessions == 0 {
		out.MaxDetachedSessions = def.MaxDetachedSessions
	}
	return out
}

// WithAddress sets the listen address.
func (c *Config) WithAddress(addr string) *Config {
	c.Address = addr
	return c
}

// WithStore sets the session persistence store.
func (c *Config) WithStore(store session.Store) *Config {
	c.Store = store
	return c
}

// WithLogger sets the structured logger.
func (c *Config) WithLogger(logger *slog.Logger) *Config {
	c.Logger = logger
	return c
}

// WithMaxSessions sets the server-wide session limit.
func (c *Config) WithMaxSessions(n int) *Config {
	c.MaxSessions = n
	return c
}

// WithMaxSessionsPerIP sets the per-IP session limit.
func (c *Config) WithMaxSessionsPerIP(n int) *Config {
	c.MaxSessionsPerIP = n
	return c
}

// WithCheckOrigin sets the WebSocket origin check.
func (c *Config) WithCheckOrigin(check func(r *http.Request) bool) *Config {
	c.CheckOrigin = check
	return c
}

// WithTrustedProxies sets the trusted proxy list.
func (c *Config) WithTrustedProxies(proxies ...string) *Config {
	c.TrustedProxies = proxies
	return c
}

// WithSessionConfig sets the session config.
func (c *Config) WithSessionConfig(sc *SessionConfig) *Config {
	c.SessionConfig = sc
	return c
}

// SameOriginCheck accepts WebSocket upgrades whose Origin host matches the
// request host, plus requests without an Origin header (non-browser
// clients).
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
