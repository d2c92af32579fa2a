// Package observe holds the telemetry of the detection pipeline: the
// instruments ticks, analyzers and streams report to, the tick and analyzer
// spans, context-aware logging and the HTTP middleware of the control API.
//
// [Setup] installs the SDK providers and exposes the metrics for Prometheus
// scraping. Tests build their own [Metrics] with [NewMetrics] over a manual
// reader rather than sharing [DefaultMetrics].
package observe

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vigil metrics.
const meterName = "github.com/MrWong99/vigil"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Latency histograms ---

	// TickDuration tracks the wall time of one detection tick, from frame
	// take to snapshot.
	TickDuration metric.Float64Histogram

	// AnalyzerDuration tracks individual analyzer calls. Use with attribute:
	//   attribute.String("analyzer", ...)
	AnalyzerDuration metric.Float64Histogram

	// --- Counters ---

	// AnalyzerErrors counts failed analyzer calls. Use with attribute:
	//   attribute.String("analyzer", ...)
	AnalyzerErrors metric.Int64Counter

	// FramesReceived counts frames put into the mailbox.
	FramesReceived metric.Int64Counter

	// FramesDropped counts frames overwritten before any tick consumed them.
	FramesDropped metric.Int64Counter

	// Snapshots counts emitted detection snapshots. Use with attribute:
	//   attribute.String("source", "tick"|"stats")
	Snapshots metric.Int64Counter

	// SessionTransitions counts interview starts and stops. Use with attribute:
	//   attribute.String("state", "active"|"idle")
	SessionTransitions metric.Int64Counter

	// --- Gauges ---

	// ActiveConnections tracks the number of open streaming connections.
	ActiveConnections metric.Int64UpDownCounter

	// SpeechConfidence reports the latest rolling speech ratio.
	SpeechConfidence metric.Float64Gauge

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks control API requests by method, route and
	// status. Upgraded websocket requests go to StreamDuration instead.
	HTTPRequestDuration metric.Float64Histogram

	// StreamDuration tracks how long streaming connections stay open.
	StreamDuration metric.Float64Histogram
}

var (
	// latencyBuckets covers per-frame model inference, in seconds.
	latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}

	// streamBuckets covers connection lifetimes from a page reload to a
	// long interview, in seconds.
	streamBuckets = []float64{1, 10, 60, 300, 900, 1800, 3600, 7200}
)

// NewMetrics creates every instrument on mp. It fails if any of them cannot be
// created.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	b := &instruments{meter: mp.Meter(meterName)}
	met := &Metrics{
		TickDuration:        b.seconds("vigil.tick.duration", "Latency of one detection tick.", latencyBuckets),
		AnalyzerDuration:    b.seconds("vigil.analyzer.duration", "Latency of individual analyzer calls.", latencyBuckets),
		HTTPRequestDuration: b.seconds("vigil.http.request.duration", "Control API latency by method, route and status.", nil),
		StreamDuration:      b.seconds("vigil.stream.duration", "Lifetime of streaming connections.", streamBuckets),

		AnalyzerErrors:     b.counter("vigil.analyzer.errors", "Total failed analyzer calls by analyzer."),
		FramesReceived:     b.counter("vigil.frames.received", "Total video frames received."),
		FramesDropped:      b.counter("vigil.frames.dropped", "Video frames replaced before being processed."),
		Snapshots:          b.counter("vigil.snapshots", "Total detection snapshots emitted by source."),
		SessionTransitions: b.counter("vigil.session.transitions", "Interview session state changes by target state."),

		ActiveConnections: b.upDown("vigil.active_connections", "Number of open streaming connections."),
		SpeechConfidence:  b.gauge("vigil.speech.confidence", "Latest rolling speech ratio in [0, 1]."),
	}
	if b.err != nil {
		return nil, b.err
	}
	return met, nil
}

// instruments creates instruments on one meter and collects their errors.
type instruments struct {
	meter metric.Meter
	err   error
}

func (b *instruments) seconds(name, desc string, bounds []float64) metric.Float64Histogram {
	opts := []metric.Float64HistogramOption{metric.WithDescription(desc), metric.WithUnit("s")}
	if bounds != nil {
		opts = append(opts, metric.WithExplicitBucketBoundaries(bounds...))
	}
	h, err := b.meter.Float64Histogram(name, opts...)
	b.err = errors.Join(b.err, err)
	return h
}

func (b *instruments) counter(name, desc string) metric.Int64Counter {
	c, err := b.meter.Int64Counter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *instruments) upDown(name, desc string) metric.Int64UpDownCounter {
	c, err := b.meter.Int64UpDownCounter(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return c
}

func (b *instruments) gauge(name, desc string) metric.Float64Gauge {
	g, err := b.meter.Float64Gauge(name, metric.WithDescription(desc))
	b.err = errors.Join(b.err, err)
	return g
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the process-wide [Metrics] built on the global meter
// provider at first use. It panics if the instruments cannot be created.
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordAnalyzer records the latency of one analyzer call and, when err is
// non-nil, increments the error counter for that analyzer.
func (m *Metrics) RecordAnalyzer(ctx context.Context, analyzer string, seconds float64, err error) {
	attrs := metric.WithAttributes(AnalyzerKey.String(analyzer))
	m.AnalyzerDuration.Record(ctx, seconds, attrs)
	if err != nil {
		m.AnalyzerErrors.Add(ctx, 1, attrs)
	}
}

// RecordFrame counts a received frame and, if it replaced an unprocessed
// one, a dropped frame.
func (m *Metrics) RecordFrame(ctx context.Context, dropped bool) {
	m.FramesReceived.Add(ctx, 1)
	if dropped {
		m.FramesDropped.Add(ctx, 1)
	}
}

// RecordSnapshot counts one emitted snapshot.
func (m *Metrics) RecordSnapshot(ctx context.Context, source string) {
	m.Snapshots.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordSessionTransition counts a session state change.
func (m *Metrics) RecordSessionTransition(ctx context.Context, state string) {
	m.SessionTransitions.Add(ctx, 1, metric.WithAttributes(attribute.String("state", state)))
}

// RecordRequest records one finished control API request.
func (m *Metrics) RecordRequest(ctx context.Context, method, route string, status int, seconds float64) {
	m.HTTPRequestDuration.Record(ctx, seconds, metric.WithAttributes(
		attribute.String("method", method),
		RouteKey.String(route),
		attribute.String("status", strconv.Itoa(status)),
	))
}

// RecordStream records the lifetime of one closed streaming connection.
func (m *Metrics) RecordStream(ctx context.Context, route string, seconds float64) {
	m.StreamDuration.Record(ctx, seconds, metric.WithAttributes(RouteKey.String(route)))
}
