package middleware

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/server"
)

// MetricsConfig configures the Prometheus event middleware.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "viewsync").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for event duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to register with.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus event middleware.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the event duration histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "viewsync",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

// eventMetrics holds the per-event Prometheus instruments.
type eventMetrics struct {
	eventsTotal   *prometheus.CounterVec
	eventDuration *prometheus.HistogramVec
	eventErrors   *prometheus.CounterVec
}

// globalMetrics is created on the first call to Prometheus. Later calls
// reuse it regardless of their options, so the instruments register with
// a registry exactly once.
var (
	globalMetrics   *eventMetrics
	globalMetricsMu sync.Mutex
)

func initEventMetrics(config MetricsConfig) *eventMetrics {
	factory := promauto.With(config.Registry)

	return &eventMetrics{
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "events_total",
			Help:        "Total number of client events handled",
			ConstLabels: config.ConstLabels,
		}, []string{"type", "status"}),

		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_duration_seconds",
			Help:        "Event handler duration in seconds",
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, []string{"type"}),

		eventErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "event_errors_total",
			Help:        "Total number of event handler errors",
			ConstLabels: config.ConstLabels,
		}, []string{"type", "category"}),
	}
}

// Prometheus returns event middleware that records Prometheus metrics for
// every handled client event.
//
// Metrics collected:
//   - viewsync_events_total: counter of events by type and status
//   - viewsync_event_duration_seconds: histogram of handler duration by type
//   - viewsync_event_errors_total: counter of handler errors by type and category
//
// Session-level metrics (active sessions, patch counts, resyncs) come from
// the snapshot the server keeps itself; register a ServerCollector to
// expose those alongside the event metrics.
//
// Example:
//
//	srv := server.New(config)
//	srv.Use(middleware.Prometheus(middleware.WithNamespace("myapp")))
//	prometheus.MustRegister(middleware.NewServerCollector(srv))
//	http.Handle("/metrics", promhttp.Handler())
func Prometheus(opts ...MetricsOption) server.EventMiddleware {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	if globalMetrics == nil {
		globalMetrics = initEventMetrics(config)
	}
	m := globalMetrics
	globalMetricsMu.Unlock()

	return func(next server.EventHandler) server.EventHandler {
		return func(ctx context.Context, sess *server.Session, event *protocol.Event) error {
			eventType := event.Type.String()
			start := time.Now()

			err := next(ctx, sess, event)

			m.eventDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
			status := "success"
			if err != nil {
				status = "error"
				m.eventErrors.WithLabelValues(eventType, categorizeError(err)).Inc()
			}
			m.eventsTotal.WithLabelValues(eventType, status).Inc()

			return err
		}
	}
}

// categorizeError maps an error to a low-cardinality label value. Known
// sentinels match by identity; everything else falls back to a keyword
// scan of the message so arbitrary handler errors never explode the
// label space.
func categorizeError(err error) string {
	switch {
	case errors.Is(err, server.ErrSessionClosed):
		return "session_closed"
	case errors.Is(err, server.ErrEventQueueFull):
		return "queue_full"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "rate limit"):
		return "rate_limit"
	case strings.Contains(msg, "not found"):
		return "not_found"
	case strings.Contains(msg, "unauthorized"):
		return "unauthorized"
	case strings.Contains(msg, "forbidden"):
		return "forbidden"
	case strings.Contains(msg, "validation"):
		return "validation"
	default:
		return "internal"
	}
}
