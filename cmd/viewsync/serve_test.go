package main

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/viewsync-dev/viewsync/pkg/server"
	"github.com/viewsync-dev/viewsync/pkg/vtest"
)

func newCounterApp(sess *server.Session) server.View {
	return &counterApp{sess: sess}
}

func TestCounterAppCounts(t *testing.T) {
	h := vtest.New(t, newCounterApp)

	h.ExpectText("0")
	button := h.FindTag("button")
	h.Click(button.ID)
	h.Click(button.ID)

	h.ExpectText("2")
}

func TestCounterAppRestoresCount(t *testing.T) {
	sess := server.NewMockSession()
	sess.Set("count", 41)

	h := vtest.NewWithSession(t, sess, newCounterApp)

	h.ExpectText("41")
	h.Click(h.FindTag("button").ID)
	h.ExpectText("42")
}

func TestNewLogger(t *testing.T) {
	ctx := context.Background()

	logger, err := newLogger("debug", false)
	if err != nil {
		t.Fatalf("debug level: %v", err)
	}
	if !logger.Enabled(ctx, slog.LevelDebug) {
		t.Error("debug logger should enable debug records")
	}

	logger, err = newLogger("warn", true)
	if err != nil {
		t.Fatalf("warn level: %v", err)
	}
	if logger.Enabled(ctx, slog.LevelInfo) {
		t.Error("warn logger should not enable info records")
	}

	if _, err := newLogger("shouting", false); err == nil {
		t.Error("invalid level should be rejected")
	}
}

func TestOpenStoreMemory(t *testing.T) {
	store, cleanup, err := openStore(serveOptions{storeKind: "memory"})
	if err != nil {
		t.Fatalf("memory store: %v", err)
	}
	if store == nil {
		t.Fatal("memory store is nil")
	}
	if cleanup != nil {
		cleanup()
	}
}

func TestOpenStoreNone(t *testing.T) {
	store, cleanup, err := openStore(serveOptions{storeKind: "none"})
	if err != nil {
		t.Fatalf("none store: %v", err)
	}
	if store != nil || cleanup != nil {
		t.Error("none should produce no store and no cleanup")
	}
}

func TestOpenStoreSQLite(t *testing.T) {
	opts := serveOptions{
		storeKind: "sqlite",
		dbPath:    filepath.Join(t.TempDir(), "sessions.db"),
	}
	store, cleanup, err := openStore(opts)
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	if store == nil || cleanup == nil {
		t.Fatal("sqlite should produce a store and a cleanup")
	}
	cleanup()
}

func TestOpenStoreUnknown(t *testing.T) {
	if _, _, err := openStore(serveOptions{storeKind: "redis"}); err == nil {
		t.Error("unknown store kind should be rejected")
	}
}

func TestOpenStoreS3RequiresBucket(t *testing.T) {
	if _, _, err := openStore(serveOptions{storeKind: "s3"}); err == nil {
		t.Error("s3 without a bucket should be rejected")
	}
}
