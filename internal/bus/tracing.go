package bus

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerName names the tracer bus clients create spans with.
const TracerName = "backplane-bus"

// TracingConfig selects whether and where publish/receive spans are exported.
type TracingConfig struct {
	Enabled     bool
	ServiceName string
	ZipkinURL   string
	// SampleRatio is the fraction of root spans kept, in [0, 1].
	SampleRatio float64
}

// DefaultTracingConfig has tracing off and points at a local Zipkin.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		ServiceName: "backplane",
		ZipkinURL:   "http://localhost:9411/api/v2/spans",
		SampleRatio: 1,
	}
}

// LoadTracingConfigFromEnv overlays BACKPLANE_TRACING_* variables on the
// defaults. Values that do not parse are ignored.
func LoadTracingConfigFromEnv() TracingConfig {
	cfg := DefaultTracingConfig()

	if v, err := strconv.ParseBool(os.Getenv("BACKPLANE_TRACING_ENABLED")); err == nil {
		cfg.Enabled = v
	}
	if v := os.Getenv("BACKPLANE_TRACING_SERVICE_NAME"); v != "" {
		cfg.ServiceName = v
	}
	if v := os.Getenv("BACKPLANE_TRACING_ZIPKIN_URL"); v != "" {
		cfg.ZipkinURL = v
	}
	if v, err := strconv.ParseFloat(os.Getenv("BACKPLANE_TRACING_SAMPLE_RATIO"), 64); err == nil && v >= 0 && v <= 1 {
		cfg.SampleRatio = v
	}
	return cfg
}

// SetupOTel builds the tracer handed to clients through WithTracer.
//
// With tracing disabled it returns a no-op tracer. Otherwise spans go to
// Zipkin in batches and the provider becomes the global one, with W3C trace
// context propagation. The returned func flushes and stops the exporter.
func SetupOTel(ctx context.Context, cfg TracingConfig) (trace.Tracer, func(), error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider().Tracer(TracerName), func() {}, nil
	}

	exporter, err := zipkin.New(cfg.ZipkinURL)
	if err != nil {
		return nil, nil, fmt.Errorf("zipkin exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			semconv.MessagingSystemKey.String("backplane"),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	shutdown := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Warn("Tracer provider shutdown failed", "error", err)
		}
	}
	return tp.Tracer(TracerName), shutdown, nil
}
