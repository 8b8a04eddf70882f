package middleware

import (
	"context"
	"log/slog"
	"testing"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/server"
	"github.com/viewsync-dev/viewsync/pkg/vtree"
)

type nopView struct{}

func (nopView) Render() *vtree.Node                                { return vtree.El("div") }
func (nopView) HandleEvent(context.Context, *protocol.Event) error { return nil }

// newTestSession creates a real session without a connection so middleware
// sees the same value handlers do.
func newTestSession(t *testing.T) *server.Session {
	t.Helper()
	m := server.NewSessionManager(server.DefaultConfig(), slog.Default(), nil)
	t.Cleanup(func() { _ = m.Shutdown() })
	m.SetView(func(*server.Session) server.View { return nopView{} })
	sess, err := m.Create(nil, "127.0.0.1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	return sess
}

func clickEvent(seq uint64) *protocol.Event {
	return protocol.NewClickEvent(seq, "n5")
}
