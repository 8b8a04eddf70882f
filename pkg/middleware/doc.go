// Package middleware provides event middleware for observability.
//
// Middleware wraps a session's event handler, so it runs once per client
// event, after the event is dequeued and before the view handles it.
// Register middleware on the server before sessions are created:
//
//	srv := server.New(config)
//	srv.SetView(newAppView)
//	srv.Use(
//	    middleware.OpenTelemetry(),
//	    middleware.Prometheus(),
//	)
//
// The first middleware in the list is the outermost wrapper.
//
// Prometheus records per-event counters and latency histograms, and
// ServerCollector exposes the server's own session and patch counters on
// scrape. OpenTelemetry opens a span per event and hands its context to
// the handler.
package middleware
