package middleware

import (
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/viewsync-dev/viewsync/pkg/server"
)

func newTestServer(t *testing.T) *server.Server {
	t.Helper()
	srv := server.New(server.DefaultConfig().WithLogger(slog.Default()))
	t.Cleanup(func() { _ = srv.Shutdown() })
	srv.SetView(func(*server.Session) server.View { return nopView{} })
	return srv
}

func gatherFamily(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func gatherValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mf := gatherFamily(t, reg, name)
	if mf == nil {
		t.Fatalf("metric %s not found", name)
	}
	ms := mf.GetMetric()
	if len(ms) != 1 {
		t.Fatalf("metric %s has %d series, want 1", name, len(ms))
	}
	if c := ms[0].GetCounter(); c != nil {
		return c.GetValue()
	}
	if g := ms[0].GetGauge(); g != nil {
		return g.GetValue()
	}
	t.Fatalf("metric %s is neither counter nor gauge", name)
	return 0
}

func TestServerCollectorExportsSnapshot(t *testing.T) {
	srv := newTestServer(t)
	sess, err := srv.Sessions().Create(nil, "127.0.0.1")
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if _, err := srv.Sessions().Create(nil, "127.0.0.2"); err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(NewServerCollector(srv))

	if got := gatherValue(t, reg, "viewsync_sessions_total"); got != 2 {
		t.Errorf("sessions_total = %v, want 2", got)
	}
	if got := gatherValue(t, reg, "viewsync_active_sessions"); got != 0 {
		t.Errorf("active_sessions = %v, want 0 for connectionless sessions", got)
	}
	if got := gatherValue(t, reg, "viewsync_peak_sessions"); got != 2 {
		t.Errorf("peak_sessions = %v, want 2", got)
	}

	if err := sess.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if got := gatherValue(t, reg, "viewsync_session_closes_total"); got != 1 {
		t.Errorf("session_closes_total = %v, want 1", got)
	}
}

func TestServerCollectorExportsAllFamilies(t *testing.T) {
	srv := newTestServer(t)
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewServerCollector(srv))

	want := []string{
		"viewsync_active_sessions",
		"viewsync_detached_sessions",
		"viewsync_sessions_total",
		"viewsync_session_closes_total",
		"viewsync_peak_sessions",
		"viewsync_reconnects_total",
		"viewsync_events_received_total",
		"viewsync_events_processed_total",
		"viewsync_events_dropped_total",
		"viewsync_patches_sent_total",
		"viewsync_patch_bytes_total",
		"viewsync_full_resyncs_total",
		"viewsync_replay_resyncs_total",
		"viewsync_handler_panics_total",
		"viewsync_read_errors_total",
		"viewsync_write_errors_total",
		"viewsync_stale_acks_total",
		"viewsync_bytes_received_total",
		"viewsync_event_latency_p50_seconds",
		"viewsync_event_latency_p99_seconds",
	}
	for _, name := range want {
		if gatherFamily(t, reg, name) == nil {
			t.Errorf("metric %s not exported", name)
		}
	}
}

func TestServerCollectorDescribe(t *testing.T) {
	srv := newTestServer(t)
	c := NewServerCollector(srv)

	ch := make(chan *prometheus.Desc, 64)
	c.Describe(ch)
	close(ch)

	count := 0
	for range ch {
		count++
	}
	if count != len(c.metrics) {
		t.Errorf("Describe sent %d descriptors, want %d", count, len(c.metrics))
	}
}

func TestServerCollectorCustomNamespace(t *testing.T) {
	srv := newTestServer(t)
	reg := prometheus.NewRegistry()
	reg.MustRegister(NewServerCollector(srv, WithNamespace("myapp"), WithSubsystem("sync")))

	if gatherFamily(t, reg, "myapp_sync_sessions_total") == nil {
		t.Error("expected namespaced metric myapp_sync_sessions_total")
	}
}
