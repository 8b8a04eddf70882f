package middleware

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/viewsync-dev/viewsync/pkg/protocol"
	"github.com/viewsync-dev/viewsync/pkg/server"
)

// Default tracer name for traced events.
const defaultTracerName = "viewsync"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "viewsync").
	TracerName string

	// Filter decides which events to trace. Return true to trace the
	// event, false to skip it. If nil, all events are traced.
	Filter func(sess *server.Session, event *protocol.Event) bool

	// AttributeExtractor adds custom attributes to each span.
	AttributeExtractor func(sess *server.Session, event *protocol.Event) []attribute.KeyValue

	// tracer is the resolved tracer instance.
	tracer trace.Tracer
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithEventFilter sets a filter function for events.
func WithEventFilter(filter func(sess *server.Session, event *protocol.Event) bool) OTelOption {
	return func(c *OTelConfig) {
		c.Filter = filter
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(sess *server.Session, event *protocol.Event) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName: defaultTracerName,
	}
}

// OpenTelemetry returns event middleware that wraps every handled client
// event in a span named after the event type, carrying the session ID,
// target node, and sequence number as attributes. Handler errors are
// recorded on the span and set its status.
//
// The span's context is passed to the handler, so downstream code reads
// the active span with trace.SpanFromContext(ctx) and propagates it to
// outgoing requests as usual.
//
// The tracer comes from the global OpenTelemetry tracer provider.
// Configure it in main() before starting the server:
//
//	tp := sdktrace.NewTracerProvider(
//	    sdktrace.WithBatcher(exporter),
//	    sdktrace.WithResource(resource.NewWithAttributes(
//	        semconv.SchemaURL,
//	        semconv.ServiceName("my-app"),
//	    )),
//	)
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) server.EventMiddleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	config.tracer = otel.Tracer(config.TracerName)

	return func(next server.EventHandler) server.EventHandler {
		return func(ctx context.Context, sess *server.Session, event *protocol.Event) error {
			if config.Filter != nil && !config.Filter(sess, event) {
				return next(ctx, sess, event)
			}

			attrs := []attribute.KeyValue{
				attribute.String("viewsync.event_type", event.Type.String()),
				attribute.String("viewsync.event_target", event.NodeID),
				attribute.Int64("viewsync.event_seq", int64(event.Seq)),
			}
			if sess != nil {
				attrs = append(attrs, attribute.String("viewsync.session_id", sess.ID))
			}
			if config.AttributeExtractor != nil {
				attrs = append(attrs, config.AttributeExtractor(sess, event)...)
			}

			spanCtx, span := config.tracer.Start(ctx, spanName(event),
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(attrs...),
			)
			defer span.End()

			err := next(spanCtx, sess, event)

			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			} else {
				span.SetStatus(codes.Ok, "")
			}
			return err
		}
	}
}

// spanName formats an event as a span name, e.g. "viewsync.click".
func spanName(event *protocol.Event) string {
	return "viewsync." + strings.ToLower(event.Type.String())
}
