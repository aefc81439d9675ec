package observe

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// Telemetry owns the OTel SDK providers installed by [Init]. Metrics are
// exported through a Prometheus registry that [Telemetry.Handler] serves.
type Telemetry struct {
	registry *prometheus.Registry
	meters   *sdkmetric.MeterProvider
	traces   *sdktrace.TracerProvider
}

type telemetryConfig struct {
	service  string
	version  string
	exporter sdktrace.SpanExporter
	ratio    float64
}

// TelemetryOption configures [Init].
type TelemetryOption func(*telemetryConfig)

// WithServiceVersion sets the service.version resource attribute.
func WithServiceVersion(v string) TelemetryOption {
	return func(c *telemetryConfig) { c.version = v }
}

// WithSpanExporter batches finished spans to exp. Without one, spans are
// recorded for log correlation only.
func WithSpanExporter(exp sdktrace.SpanExporter) TelemetryOption {
	return func(c *telemetryConfig) { c.exporter = exp }
}

// WithSampleRatio samples root spans at ratio (0..1]. Default 1.
func WithSampleRatio(ratio float64) TelemetryOption {
	return func(c *telemetryConfig) {
		if ratio > 0 && ratio <= 1 {
			c.ratio = ratio
		}
	}
}

// Init builds the meter and tracer providers and registers them globally,
// so [DefaultMetrics] and [StartSpan] pick them up. Call Shutdown before
// exiting to flush exporters.
func Init(ctx context.Context, opts ...TelemetryOption) (*Telemetry, error) {
	cfg := telemetryConfig{service: "introcoach", ratio: 1}
	for _, o := range opts {
		o(&cfg)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.service),
		semconv.ServiceVersion(cfg.version),
	))
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	t := &Telemetry{
		registry: reg,
		meters: sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(exp),
		),
	}

	tpOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.ratio))),
	}
	if cfg.exporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.exporter))
	}
	t.traces = sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(t.meters)
	otel.SetTracerProvider(t.traces)
	return t, nil
}

// Handler serves the Prometheus exposition of all introcoach metrics.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(t.meters.Shutdown(ctx), t.traces.Shutdown(ctx))
}

// MetricsHandler serves the process-wide default Prometheus registry. It is
// the fallback when no [Telemetry] was initialised.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
