package viewsync

import (
	"context"
	"net/http"

	"github.com/viewsync-dev/viewsync/pkg/server"
)

// App is the application entry point. It wraps the sync server in an
// http.Handler so it can be served directly or mounted into a larger mux.
//
// Create an App with viewsync.New():
//
//	app := viewsync.New(viewsync.Config{Addr: ":8080"})
//	app.SetView(newCounter)
//	log.Fatal(app.Run())
//
// or hand it to your own server:
//
//	http.ListenAndServe(":8080", app)
type App struct {
	server  *server.Server
	handler http.Handler
	config  Config
}

// New creates an application from the given configuration. Zero-valued
// fields keep their defaults, so viewsync.New(viewsync.Config{}) is a
// working in-memory app on :8080.
func New(cfg Config) *App {
	srv := server.New(cfg.serverConfig())
	srv.Use(cfg.Middleware...)

	return &App{
		server:  srv,
		handler: srv.Handler(),
		config:  cfg,
	}
}

// SetView sets the factory that builds each session's view. It must be
// called before the first client connects; sessions created without a
// view factory render an empty tree.
func (a *App) SetView(factory ViewFactory) {
	a.server.SetView(factory)
}

// Use appends event middleware applied to every new session, outermost
// first. Middleware added after a session starts does not affect it.
func (a *App) Use(middleware ...EventMiddleware) {
	a.server.Use(middleware...)
}

// ServeHTTP implements http.Handler. It serves the WebSocket endpoint at
// /ws and a health probe at /healthz.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// Run serves on the configured address until SIGINT or SIGTERM, then
// shuts down gracefully.
func (a *App) Run() error {
	return a.server.Run()
}

// ListenAndServe serves on the configured address without signal
// handling. Callers own shutdown.
func (a *App) ListenAndServe() error {
	return a.server.ListenAndServe()
}

// Shutdown stops accepting connections, notifies connected clients and
// waits for sessions to drain, bounded by the shutdown timeout.
func (a *App) Shutdown() error {
	return a.server.Shutdown()
}

// ShutdownWithContext is Shutdown bounded by the caller's context instead
// of the configured timeout.
func (a *App) ShutdownWithContext(ctx context.Context) error {
	return a.server.ShutdownWithContext(ctx)
}

// Server returns the underlying sync server for applications that need
// its router, session manager or metrics directly.
func (a *App) Server() *server.Server {
	return a.server
}
