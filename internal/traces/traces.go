// Package traces wires OpenTelemetry spans around checkout calls, webhook
// batches and subscription operations. Without an OTLP endpoint the global
// no-op provider stays in place and every helper here is free.
package traces

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	serviceName = "checkoutkit"
	tracerName  = "github.com/mbd888/checkoutkit"
)

// Shutdown flushes and stops the exporter.
type Shutdown func(context.Context) error

// Init installs a batching OTLP/gRPC tracer provider. An empty endpoint
// leaves tracing off and returns a no-op Shutdown.
func Init(ctx context.Context, otlpEndpoint, version string, logger *slog.Logger) (Shutdown, error) {
	if otlpEndpoint == "" {
		logger.Info("tracing disabled", "reason", "OTEL_EXPORTER_OTLP_ENDPOINT not set")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(otlpEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(serviceName),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", otlpEndpoint, "version", version)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the service tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// End marks the span failed when err is set, then ends it. Pair it with a
// named return: defer func() { traces.End(span, retErr) }().
func End(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Annotate adds attributes to the span already in ctx, typically once a
// processor response is known.
func Annotate(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}

// ItemEvent records one webhook item and how it was handled.
func ItemEvent(ctx context.Context, code, pspReference, outcome string) {
	trace.SpanFromContext(ctx).AddEvent("notification.item", trace.WithAttributes(
		EventCode(code),
		PSPReference(pspReference),
		attribute.String("notification.outcome", outcome),
	))
}

func ShopperReference(ref string) attribute.KeyValue {
	return attribute.String("shopper.reference", ref)
}

func PSPReference(ref string) attribute.KeyValue {
	return attribute.String("adyen.psp_reference", ref)
}

func MerchantReference(ref string) attribute.KeyValue {
	return attribute.String("merchant.reference", ref)
}

func ResultCode(code string) attribute.KeyValue {
	return attribute.String("adyen.result_code", code)
}

func EventCode(code string) attribute.KeyValue {
	return attribute.String("adyen.event_code", code)
}

func Endpoint(name string) attribute.KeyValue {
	return attribute.String("checkout.endpoint", name)
}

func BatchSize(n int) attribute.KeyValue {
	return attribute.Int("webhook.batch_size", n)
}
