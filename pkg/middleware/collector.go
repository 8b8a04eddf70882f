package middleware

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/viewsync-dev/viewsync/pkg/server"
)

// ServerCollector exposes a server's internal counters as Prometheus
// metrics. It reads the server's snapshot on every scrape, so it has no
// state of its own and one collector per server is enough.
//
// Register it with the same registry the event middleware uses:
//
//	prometheus.MustRegister(middleware.NewServerCollector(srv))
type ServerCollector struct {
	server  *server.Server
	metrics []serverMetric
}

type serverMetric struct {
	desc      *prometheus.Desc
	valueType prometheus.ValueType
	value     func(m *server.ServerMetrics) float64
}

// NewServerCollector creates a collector for srv. The Namespace, Subsystem,
// and ConstLabels options apply; Buckets and Registry are ignored because
// the collector only emits constant metrics and registers wherever the
// caller puts it.
func NewServerCollector(srv *server.Server, opts ...MetricsOption) *ServerCollector {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(
			prometheus.BuildFQName(config.Namespace, config.Subsystem, name),
			help, nil, config.ConstLabels)
	}
	counter := func(name, help string, value func(m *server.ServerMetrics) float64) serverMetric {
		return serverMetric{desc(name, help), prometheus.CounterValue, value}
	}
	gauge := func(name, help string, value func(m *server.ServerMetrics) float64) serverMetric {
		return serverMetric{desc(name, help), prometheus.GaugeValue, value}
	}

	return &ServerCollector{
		server: srv,
		metrics: []serverMetric{
			gauge("active_sessions", "Number of sessions with a live connection",
				func(m *server.ServerMetrics) float64 { return float64(m.ActiveSessions) }),
			gauge("detached_sessions", "Number of disconnected but resumable sessions",
				func(m *server.ServerMetrics) float64 { return float64(m.DetachedSessions) }),
			counter("sessions_total", "Total number of sessions created",
				func(m *server.ServerMetrics) float64 { return float64(m.TotalSessions) }),
			counter("session_closes_total", "Total number of sessions closed",
				func(m *server.ServerMetrics) float64 { return float64(m.SessionCloses) }),
			gauge("peak_sessions", "Highest number of concurrent sessions observed",
				func(m *server.ServerMetrics) float64 { return float64(m.PeakSessions) }),
			counter("reconnects_total", "Total number of successful session resumes",
				func(m *server.ServerMetrics) float64 { return float64(m.Reconnects) }),
			counter("events_received_total", "Total client events accepted into session queues",
				func(m *server.ServerMetrics) float64 { return float64(m.EventsReceived) }),
			counter("events_processed_total", "Total client events run through handlers",
				func(m *server.ServerMetrics) float64 { return float64(m.EventsProcessed) }),
			counter("events_dropped_total", "Total client events dropped by queue limits or dedupe",
				func(m *server.ServerMetrics) float64 { return float64(m.EventsDropped) }),
			counter("patches_sent_total", "Total patch frames pushed to clients",
				func(m *server.ServerMetrics) float64 { return float64(m.PatchesSent) }),
			counter("patch_bytes_total", "Total encoded patch bytes pushed to clients",
				func(m *server.ServerMetrics) float64 { return float64(m.PatchBytes) }),
			counter("full_resyncs_total", "Total full tree resyncs sent",
				func(m *server.ServerMetrics) float64 { return float64(m.FullResyncs) }),
			counter("replay_resyncs_total", "Total resumes served by replaying buffered frames",
				func(m *server.ServerMetrics) float64 { return float64(m.ReplayResyncs) }),
			counter("handler_panics_total", "Total recovered event handler panics",
				func(m *server.ServerMetrics) float64 { return float64(m.HandlerPanics) }),
			counter("read_errors_total", "Total WebSocket read errors",
				func(m *server.ServerMetrics) float64 { return float64(m.ReadErrors) }),
			counter("write_errors_total", "Total WebSocket write errors",
				func(m *server.ServerMetrics) float64 { return float64(m.WriteErrors) }),
			counter("stale_acks_total", "Total acknowledgments ignored as stale or ahead of the version",
				func(m *server.ServerMetrics) float64 { return float64(m.StaleAcks) }),
			counter("bytes_received_total", "Total bytes read from clients",
				func(m *server.ServerMetrics) float64 { return float64(m.BytesReceived) }),
			gauge("event_latency_p50_seconds", "Median event processing latency",
				func(m *server.ServerMetrics) float64 { return float64(m.EventLatencyP50) / 1e6 }),
			gauge("event_latency_p99_seconds", "99th percentile event processing latency",
				func(m *server.ServerMetrics) float64 { return float64(m.EventLatencyP99) / 1e6 }),
		},
	}
}

// Describe implements prometheus.Collector.
func (c *ServerCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

// Collect implements prometheus.Collector.
func (c *ServerCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.server.Metrics()
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.valueType, m.value(snap))
	}
}
