package session

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// newSQLiteStore opens a throwaway SQLite database and returns a store
// bound to it with the schema created.
func newSQLiteStore(t *testing.T) *SQLStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("sql.Open failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewSQLStore(db,
		WithSQLDialect(DialectSQLite),
		WithSQLCleanupInterval(time.Hour),
	)
	t.Cleanup(func() { store.Close() })

	if err := store.CreateTable(context.Background()); err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	return store
}

func TestSQLStoreSaveLoad(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	data := []byte(`{"id":"sess-1","version":3}`)
	if err := store.Save(ctx, "sess-1", data, time.Now().Add(5*time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(loaded) != string(data) {
		t.Errorf("Load = %s, want %s", loaded, data)
	}
}

func TestSQLStoreOverwrite(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	expiresAt := time.Now().Add(5 * time.Minute)

	if err := store.Save(ctx, "sess-1", []byte("first"), expiresAt); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, "sess-1", []byte("second"), expiresAt); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if string(loaded) != "second" {
		t.Errorf("Load = %s, want second", loaded)
	}
}

func TestSQLStoreMissing(t *testing.T) {
	store := newSQLiteStore(t)

	loaded, err := store.Load(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != nil {
		t.Errorf("Load of missing session = %v, want nil", loaded)
	}
}

func TestSQLStoreExpiry(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "sess-1", []byte("data"), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded != nil {
		t.Error("Load returned data for an expired session")
	}
}

func TestSQLStoreDelete(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "sess-1", []byte("data"), time.Now().Add(time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil || loaded != nil {
		t.Errorf("Load after Delete = (%v, %v), want (nil, nil)", loaded, err)
	}

	// Deleting a missing session is not an error.
	if err := store.Delete(ctx, "sess-1"); err != nil {
		t.Errorf("Delete of missing session failed: %v", err)
	}
}

func TestSQLStoreTouch(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "sess-1", []byte("data"), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Expired right now; Touch revives it.
	if err := store.Touch(ctx, "sess-1", time.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("Touch failed: %v", err)
	}

	loaded, err := store.Load(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded == nil {
		t.Error("Load returned nil after Touch extended the expiry")
	}
}

func TestSQLStoreSaveAll(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	expiresAt := time.Now().Add(time.Minute)
	sessions := map[string]Record{
		"a": {Data: []byte("data-a"), ExpiresAt: expiresAt},
		"b": {Data: []byte("data-b"), ExpiresAt: expiresAt},
		"c": {Data: []byte("data-c"), ExpiresAt: expiresAt},
	}

	if err := store.SaveAll(ctx, sessions); err != nil {
		t.Fatalf("SaveAll failed: %v", err)
	}

	for id, rec := range sessions {
		loaded, err := store.Load(ctx, id)
		if err != nil {
			t.Fatalf("Load(%q) failed: %v", id, err)
		}
		if string(loaded) != string(rec.Data) {
			t.Errorf("Load(%q) = %s, want %s", id, loaded, rec.Data)
		}
	}
}

func TestSQLStoreCleanup(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, "expired", []byte("e"), time.Now().Add(-time.Minute)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(ctx, "live", []byte("l"), time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	store.cleanup()

	var count int
	if err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+store.tableName).Scan(&count); err != nil {
		t.Fatalf("count query failed: %v", err)
	}
	if count != 1 {
		t.Errorf("row count after cleanup = %d, want 1", count)
	}

	loaded, err := store.Load(ctx, "live")
	if err != nil || loaded == nil {
		t.Errorf("live session lost by cleanup: %v, %v", loaded, err)
	}
}

func TestSQLStoreClosed(t *testing.T) {
	store := newSQLiteStore(t)
	store.Close()

	ctx := context.Background()
	if err := store.Save(ctx, "s", nil, time.Now()); err == nil {
		t.Error("Save on closed store succeeded")
	}
	if _, err := store.Load(ctx, "s"); err == nil {
		t.Error("Load on closed store succeeded")
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close failed: %v", err)
	}
}

// The dialect builders produce the whole statement set up front; check the
// shapes without needing a live server for each engine.
func TestBuildQueriesDialects(t *testing.T) {
	pg := buildQueries(DialectPostgreSQL, "viewsync_sessions")
	if !strings.Contains(pg.save, "ON CONFLICT (id) DO UPDATE") {
		t.Errorf("postgres save missing upsert clause: %s", pg.save)
	}
	if !strings.Contains(pg.save, "$1") || !strings.Contains(pg.load, "$1") {
		t.Error("postgres queries missing $n placeholders")
	}
	if !strings.Contains(pg.touch, "$2") {
		t.Errorf("postgres touch missing $2 placeholder: %s", pg.touch)
	}

	my := buildQueries(DialectMySQL, "viewsync_sessions")
	if !strings.Contains(my.save, "ON DUPLICATE KEY UPDATE") {
		t.Errorf("mysql save missing upsert clause: %s", my.save)
	}
	if strings.Contains(my.load, "$") {
		t.Errorf("mysql load uses postgres placeholders: %s", my.load)
	}

	lite := buildQueries(DialectSQLite, "viewsync_sessions")
	if !strings.Contains(lite.save, "INSERT OR REPLACE") {
		t.Errorf("sqlite save missing INSERT OR REPLACE: %s", lite.save)
	}

	// Table name flows into every statement.
	custom := buildQueries(DialectSQLite, "custom_table")
	for _, q := range []string{custom.save, custom.load, custom.del, custom.touch, custom.cleanup} {
		if !strings.Contains(q, "custom_table") {
			t.Errorf("query missing custom table name: %s", q)
		}
	}
}

func TestSQLDialectString(t *testing.T) {
	cases := []struct {
		d    SQLDialect
		want string
	}{
		{DialectPostgreSQL, "postgresql"},
		{DialectMySQL, "mysql"},
		{DialectSQLite, "sqlite"},
		{SQLDialect(99), "unknown"},
	}
	for _, tc := range cases {
		if got := tc.d.String(); got != tc.want {
			t.Errorf("SQLDialect(%d).String() = %q, want %q", tc.d, got, tc.want)
		}
	}
}
