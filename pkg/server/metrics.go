package server

import (
	"slices"
	"sync/atomic"
	"time"
)

// ServerMetrics is a point-in-time snapshot of server activity.
type ServerMetrics struct {
	// Sessions
	ActiveSessions   int64
	DetachedSessions int64
	TotalSessions    int64
	SessionCloses    int64
	PeakSessions     int64
	Reconnects       int64

	// Events
	EventsReceived  int64
	EventsProcessed int64
	EventsDropped   int64

	// Patches
	PatchesSent int64
	PatchBytes  int64

	// Resyncs
	FullResyncs   int64
	ReplayResyncs int64

	// Errors
	HandlerPanics int64
	ReadErrors    int64
	WriteErrors   int64
	StaleAcks     int64

	// Network
	BytesReceived int64

	// Latency (microseconds)
	EventLatencyP50 int64
	EventLatencyP99 int64

	CollectedAt time.Time
}

// MetricsCollector accumulates counters across all sessions. All methods
// are safe for concurrent use and are no-ops on a nil collector.
type MetricsCollector struct {
	eventsReceived  atomic.Int64
	eventsProcessed atomic.Int64
	eventsDropped   atomic.Int64
	patchesSent     atomic.Int64
	patchBytes      atomic.Int64
	fullResyncs     atomic.Int64
	replayResyncs   atomic.Int64
	reconnects      atomic.Int64
	handlerPanics   atomic.Int64
	readErrors      atomic.Int64
	writeErrors     atomic.Int64
	staleAcks       atomic.Int64
	bytesReceived   atomic.Int64

	// Recent latency samples, guarded by a spinlock so the hot path
	// never parks.
	latencies []int64
	latencyMu atomic.Int32
}

// NewMetricsCollector creates a MetricsCollector.
func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		latencies: make([]int64, 0, 1000),
	}
}

// RecordEventReceived counts an event accepted into a session queue.
func (m *MetricsCollector) RecordEventReceived() {
	if m == nil {
		return
	}
	m.eventsReceived.Add(1)
}

// RecordEventProcessed counts a fully handled event.
func (m *MetricsCollector) RecordEventProcessed() {
	if m == nil {
		return
	}
	m.eventsProcessed.Add(1)
}

// RecordEventDropped counts an event dropped at a full queue.
func (m *MetricsCollector) RecordEventDropped() {
	if m == nil {
		return
	}
	m.eventsDropped.Add(1)
}

// RecordPatchesSent counts patches delivered in one frame.
func (m *MetricsCollector) RecordPatchesSent(count, bytes int) {
	if m == nil {
		return
	}
	m.patchesSent.Add(int64(count))
	m.patchBytes.Add(int64(bytes))
}

// RecordFullResync counts a full tree resync.
func (m *MetricsCollector) RecordFullResync() {
	if m == nil {
		return
	}
	m.fullResyncs.Add(1)
}

// RecordReplayResync counts a reconnect served by frame replay.
func (m *MetricsCollector) RecordReplayResync() {
	if m == nil {
		return
	}
	m.replayResyncs.Add(1)
}

// RecordReconnect counts a session reattachment.
func (m *MetricsCollector) RecordReconnect() {
	if m == nil {
		return
	}
	m.reconnects.Add(1)
}

// RecordHandlerPanic counts a recovered handler panic.
func (m *MetricsCollector) RecordHandlerPanic() {
	if m == nil {
		return
	}
	m.handlerPanics.Add(1)
}

// RecordReadError counts a connection read failure.
func (m *MetricsCollector) RecordReadError() {
	if m == nil {
		return
	}
	m.readErrors.Add(1)
}

// RecordWriteError counts a connection write failure.
func (m *MetricsCollector) RecordWriteError() {
	if m == nil {
		return
	}
	m.writeErrors.Add(1)
}

// RecordStaleAck counts an ignored stale acknowledgment.
func (m *MetricsCollector) RecordStaleAck() {
	if m == nil {
		return
	}
	m.staleAcks.Add(1)
}

// RecordBytesReceived counts inbound bytes.
func (m *MetricsCollector) RecordBytesReceived(n int) {
	if m == nil {
		return
	}
	m.bytesReceived.Add(int64(n))
}

// RecordEventLatency records one event's processing latency in microseconds.
func (m *MetricsCollector) RecordEventLatency(latencyUs int64) {
	if m == nil {
		return
	}
	for !m.latencyMu.CompareAndSwap(0, 1) {
	}
	defer m.latencyMu.Store(0)

	// Keep only recent samples.
	if len(m.latencies) >= 1000 {
		m.latencies = m.latencies[500:]
	}
	m.latencies = append(m.latencies, latencyUs)
}

// Snapshot returns the current counter values. Session gauges are filled
// in by Server.Metrics.
func (m *MetricsCollector) Snapshot() *ServerMetrics {
	if m == nil {
		return &ServerMetrics{CollectedAt: time.Now()}
	}
	snap := &ServerMetrics{
		EventsReceived:  m.eventsReceived.Load(),
		EventsProcessed: m.eventsProcessed.Load(),
		EventsDropped:   m.eventsDropped.Load(),
		PatchesSent:     m.patchesSent.Load(),
		PatchBytes:      m.patchBytes.Load(),
		FullResyncs:     m.fullResyncs.Load(),
		ReplayResyncs:   m.replayResyncs.Load(),
		Reconnects:      m.reconnects.Load(),
		HandlerPanics:   m.handlerPanics.Load(),
		ReadErrors:      m.readErrors.Load(),
		WriteErrors:     m.writeErrors.Load(),
		StaleAcks:       m.staleAcks.Load(),
		BytesReceived:   m.bytesReceived.Load(),
		CollectedAt:     time.Now(),
	}
	snap.EventLatencyP50, snap.EventLatencyP99 = m.latencyPercentiles()
	return snap
}

func (m *MetricsCollector) latencyPercentiles() (p50, p99 int64) {
	for !m.latencyMu.CompareAndSwap(0, 1) {
	}
	defer m.latencyMu.Store(0)

	n := len(m.latencies)
	if n == 0 {
		return 0, 0
	}
	sorted := make([]int64, n)
	copy(sorted, m.latencies)
	slices.Sort(sorted)
	return sorted[n/2], sorted[(n*99)/100]
}

// Reset zeroes all counters.
func (m *MetricsCollector) Reset() {
	if m == nil {
		return
	}
	m.eventsReceived.Store(0)
	m.eventsProcessed.Store(0)
	m.eventsDropped.Store(0)
	m.patchesSent.Store(0)
	m.patchBytes.Store(0)
	m.fullResyncs.Store(0)
	m.replayResyncs.Store(0)
	m.reconnects.Store(0)
	m.handlerPanics.Store(0)
	m.readErrors.Store(0)
	m.writeErrors.Store(0)
	m.staleAcks.Store(0)
	m.bytesReceived.Store(0)

	for !m.latencyMu.CompareAndSwap(0, 1) {
	}
	m.latencies = m.latencies[:0]
	m.latencyMu.Store(0)
}
