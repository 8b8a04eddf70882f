package viewsync

import (
	"log/slog"
	"net/http"

	"github.com/viewsync-dev/viewsync/pkg/server"
	"github.com/viewsync-dev/viewsync/pkg/session"
)

// Config is the user-facing application configuration. New translates it
// into the internal server config; zero-valued fields keep the server
// defaults.
type Config struct {
	// Addr is the listen address used by Run and ListenAndServe.
	// Default ":8080".
	Addr string

	// Session controls per-session behavior such as the resume window,
	// outbound queue depth and heartbeat cadence. Zero fields fall back
	// to server.DefaultSessionConfig.
	Session *server.SessionConfig

	// Store persists session snapshots so sessions survive server
	// restarts. Without a store, sessions survive reconnects only while
	// the process keeps them in memory. session.NewMemoryStore,
	// session.NewSQLStore and session.NewS3Store are the bundled
	// implementations.
	Store session.Store

	// MaxSessions caps concurrent sessions server-wide.
	MaxSessions int

	// MaxSessionsPerIP caps concurrent sessions per client address.
	MaxSessionsPerIP int

	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers
	// are honored when resolving client addresses.
	TrustedProxies []string

	// CheckOrigin validates the Origin header during the WebSocket
	// upgrade. Default: server.SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// Logger receives structured logs. Default: slog.Default().
	Logger *slog.Logger

	// Middleware wraps every event dispatch, outermost first. Equivalent
	// to calling Use on the app before any client connects.
	Middleware []EventMiddleware

	// OnSessionStart is called after a new session completes its
	// handshake, OnSessionResume after a reconnecting client reattaches,
	// and OnSessionEnd after a session is permanently closed.
	OnSessionStart  func(*Session)
	OnSessionResume func(*Session)
	OnSessionEnd    func(*Session)
}

// serverConfig maps the facade config onto the internal server config.
func (c Config) serverConfig() *server.Config {
	sc := server.DefaultConfig()
	if c.Addr != "" {
		sc.Address = c.Addr
	}
	if c.Session != nil {
		sc.SessionConfig = c.Session
	}
	sc.Store = c.Store
	if c.MaxSessions > 0 {
		sc.MaxSessions = c.MaxSessions
	}
	if c.MaxSessionsPerIP > 0 {
		sc.MaxSessionsPerIP = c.MaxSessionsPerIP
	}
	if len(c.TrustedProxies) > 0 {
		sc.TrustedProxies = c.TrustedProxies
	}
	if c.CheckOrigin != nil {
		sc.CheckOrigin = c.CheckOrigin
	}
	if c.Logger != nil {
		sc.Logger = c.Logger
	}
	sc.OnSessionStart = c.OnSessionStart
	sc.OnSessionResume = c.OnSessionResume
	sc.OnSessionEnd = c.OnSessionEnd
	return sc
}
