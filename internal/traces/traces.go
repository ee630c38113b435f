// Package traces configures OpenTelemetry tracing for the Workpay service.
package traces

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mbd888/workpay"

// Init configures the global tracer provider with an OTLP gRPC exporter.
// When endpoint is empty, tracing stays on the default no-op provider.
// The returned shutdown func flushes pending spans.
func Init(ctx context.Context, endpoint, env string) (func(context.Context) error, error) {
	if endpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("workpay"),
		semconv.DeploymentEnvironment(env),
	))
	if err != nil {
		return nil, fmt.Errorf("building resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return tp.Shutdown, nil
}

// Tracer returns the service tracer.
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// Start begins a span on the service tracer.
func Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name, opts...)
}

// TransactionID returns a span attribute for an escrow transaction ID.
func TransactionID(id string) attribute.KeyValue {
	return attribute.String("workpay.transaction_id", id)
}

// ContractID returns a span attribute for a contract ID.
func ContractID(id string) attribute.KeyValue {
	return attribute.String("workpay.contract_id", id)
}

// MilestoneID returns a span attribute for a milestone ID.
func MilestoneID(id string) attribute.KeyValue {
	return attribute.String("workpay.milestone_id", id)
}

// AccountID returns a span attribute for an account ID.
func AccountID(id string) attribute.KeyValue {
	return attribute.String("workpay.account_id", id)
}

// Amount returns a span attribute for a minor-unit amount.
func Amount(v int64) attribute.KeyValue {
	return attribute.Int64("workpay.amount_minor", v)
}

// Currency returns a span attribute for an ISO 4217 currency code.
func Currency(code string) attribute.KeyValue {
	return attribute.String("workpay.currency", code)
}
