package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrWong99/vigil"

// Attribute keys shared by spans, metric data points and log records.
const (
	AnalyzerKey = attribute.Key("analyzer")
	FrameKey    = attribute.Key("frame")
	FrameSeqKey = attribute.Key("frame.seq")
	ConnKey     = attribute.Key("conn_id")
	RouteKey    = attribute.Key("http.route")
)

// Tracer returns the tracer every vigil span is started from. It follows the
// globally registered provider, so [Setup] must run first for spans to be
// recorded.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts an internal span carrying attrs.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, trace.WithAttributes(attrs...))
}

// StartTick starts the span of one detection tick. Analyzer spans started
// from the returned context become its children.
func StartTick(ctx context.Context) (context.Context, trace.Span) {
	return StartSpan(ctx, "detector.tick")
}

// TickFrame annotates a tick span with the frame it consumed. ok is false
// when the mailbox was empty.
func TickFrame(span trace.Span, seq uint64, ok bool) {
	if !ok {
		span.SetAttributes(FrameKey.Bool(false))
		return
	}
	span.SetAttributes(FrameKey.Bool(true), FrameSeqKey.Int64(int64(seq)))
}

// StartAnalyzer starts the span of one analyzer call.
func StartAnalyzer(ctx context.Context, analyzer string) (context.Context, trace.Span) {
	return StartSpan(ctx, "analyzer."+analyzer, AnalyzerKey.String(analyzer))
}

// Fail records err on span and marks it as failed. A nil err is ignored.
func Fail(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// CorrelationID returns the trace ID of the span in ctx, or "" without one.
// It is reported to HTTP clients as X-Correlation-ID.
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

type connCtxKey struct{}

// WithConn tags ctx with the id of the streaming connection it serves and
// adds the id to the current span.
func WithConn(ctx context.Context, id string) context.Context {
	trace.SpanFromContext(ctx).SetAttributes(ConnKey.String(id))
	return context.WithValue(ctx, connCtxKey{}, id)
}

// ConnID returns the id stored by [WithConn], or "".
func ConnID(ctx context.Context) string {
	id, _ := ctx.Value(connCtxKey{}).(string)
	return id
}

// Logger returns the default logger with trace_id, span_id and conn_id
// attached when ctx carries them. Analyzer failures logged during a tick can
// thus be traced back to the connection that delivered the frame.
func Logger(ctx context.Context) *slog.Logger {
	l := slog.Default()
	var attrs []any
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	if id := ConnID(ctx); id != "" {
		attrs = append(attrs, slog.String(string(ConnKey), id))
	}
	if len(attrs) == 0 {
		return l
	}
	return l.With(attrs...)
}
