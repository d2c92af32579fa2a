package observe

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// BackendsKey lists the configured analyzer backends on the resource.
const BackendsKey = attribute.Key("vigil.backends")

// Config selects what [Setup] reports and where it goes.
type Config struct {
	// ServiceName defaults to "vigil".
	ServiceName    string
	ServiceVersion string

	// Backends names the configured analyzer backends, for example
	// "landmarker=worker". They are attached to the resource so telemetry
	// from differently equipped deployments can be told apart.
	Backends []string

	// SampleRatio is the share of root traces recorded. Ticks produce a
	// trace per frame, so busy deployments want this well below one. Values
	// outside (0, 1) record every trace. Children follow their parent.
	SampleRatio float64

	// Exporter receives finished spans. Without one spans stay in process.
	Exporter sdktrace.SpanExporter

	// Registry receives the Prometheus collectors. Nil uses the default
	// registry.
	Registry *prometheus.Registry
}

// Telemetry is the installed pair of SDK providers.
type Telemetry struct {
	// Metrics is built on the installed meter provider.
	Metrics *Metrics

	// Handler serves the Prometheus exposition for /metrics.
	Handler http.Handler

	meters *sdkmetric.MeterProvider
	traces *sdktrace.TracerProvider
}

// Setup builds the meter and tracer providers described by cfg and installs
// them as the global OTel providers.
func Setup(ctx context.Context, cfg Config) (*Telemetry, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "vigil"
	}
	res, err := resource.New(ctx,
		resource.WithFromEnv(),
		resource.WithTelemetrySDK(),
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			BackendsKey.StringSlice(cfg.Backends),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("observe: resource: %w", err)
	}

	var (
		promOpts []promexporter.Option
		gatherer prometheus.Gatherer = prometheus.DefaultGatherer
	)
	if cfg.Registry != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registry))
		gatherer = cfg.Registry
	}
	reader, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader))
	met, err := NewMetrics(mp)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("observe: instruments: %w", err), mp.Shutdown(ctx))
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	}
	if cfg.Exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.Exporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)
	return &Telemetry{
		Metrics: met,
		Handler: promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
		meters:  mp,
		traces:  tp,
	}, nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio <= 0 || ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

// Shutdown flushes pending spans and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.traces.Shutdown(ctx), t.meters.Shutdown(ctx))
}
