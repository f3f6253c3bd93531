// Package observability emits OpenTelemetry traces for the two paths that
// matter operationally in rvm: module admission (deploy) and request
// dispatch (invoke). Tracing is off by default; with it disabled every
// helper hands out no-op spans and costs nothing on the hot path.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/rvmlabs/rvm/internal/config"
)

// Span attribute keys for the rvm domain.
const (
	attrModuleKey     = "rvm.module_key"
	attrArtifactBytes = "rvm.artifact_bytes"
)

var (
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer = trace.NewNoopTracerProvider().Tracer("")
)

// Init starts the OTLP-HTTP export pipeline when cfg.Enabled is set.
func Init(ctx context.Context, cfg config.TracingConfig) error {
	if !cfg.Enabled {
		return nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("build trace resource: %w", err)
	}

	exporter, err := otlptracehttp.New(ctx,
		otlptracehttp.WithEndpoint(cfg.Endpoint),
		otlptracehttp.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("build OTLP exporter: %w", err)
	}

	sampler := sdktrace.AlwaysSample()
	if cfg.SampleRate >= 0 && cfg.SampleRate < 1.0 {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	provider = sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracer = provider.Tracer(cfg.ServiceName)
	return nil
}

// Shutdown flushes pending spans. Safe to call with tracing disabled.
func Shutdown(ctx context.Context) error {
	if provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return provider.Shutdown(ctx)
}

// DeploySpan traces one module admission: the tenant key plus the size of
// the artifact being compiled and persisted.
func DeploySpan(ctx context.Context, key string, artifactBytes int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "rvm.deploy",
		trace.WithAttributes(
			attribute.String(attrModuleKey, key),
			attribute.Int(attrArtifactBytes, artifactBytes),
		),
	)
}

// InvokeSpan traces one dispatch through the registry to a worker.
func InvokeSpan(ctx context.Context, key string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "rvm.invoke",
		trace.WithAttributes(attribute.String(attrModuleKey, key)),
	)
}

// RecordError marks the span failed. A nil err is a no-op so callers can
// use it unconditionally on their error paths.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
