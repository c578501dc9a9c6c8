package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "facestream"

var (
	CameraIDKey  = attribute.Key("camera.id")
	SessionIDKey = attribute.Key("session.id")
	DurationKey  = attribute.Key("duration_ms")
)

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	SampleRate  float64
}

// Provider owns the SDK tracer provider. The zero value, returned when
// tracing is disabled, is a no-op.
type Provider struct {
	sdk *tracesdk.TracerProvider
}

// Init installs a Jaeger-backed provider and the W3C propagators as the
// process globals. Sampling follows the caller's decision when a parent
// span arrives over the wire.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("failed to create jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(cfg.ServiceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build resource: %w", err)
	}

	sdk := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(sdk)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{sdk: sdk}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// MeasureDuration stamps the span in ctx with the time since start.
func MeasureDuration(ctx context.Context, start time.Time, operation string) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.SetAttributes(
		attribute.String("operation", operation),
		DurationKey.Int64(time.Since(start).Milliseconds()),
	)
}

// TraceHTTPRequest starts a server span named after the matched route.
func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	name := method + " " + route
	if route == "" {
		name = method
	}
	return StartSpan(ctx, name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TracePipeline covers opening or tearing down a camera pipeline.
func TracePipeline(ctx context.Context, operation string, cameraID int) (context.Context, trace.Span) {
	return StartSpan(ctx, "pipeline."+operation,
		trace.WithAttributes(CameraIDKey.Int(cameraID)),
	)
}

// TraceSession spans the whole life of one viewer.
func TraceSession(ctx context.Context, transport, sessionID string, cameraID int) (context.Context, trace.Span) {
	return StartSpan(ctx, "session."+transport,
		trace.WithAttributes(
			SessionIDKey.String(sessionID),
			CameraIDKey.Int(cameraID),
		),
	)
}

func TraceStoreOperation(ctx context.Context, operation, backend string) (context.Context, trace.Span) {
	return StartSpan(ctx, "store."+operation,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("store.backend", backend)),
	)
}
