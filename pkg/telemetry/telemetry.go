// Package telemetry wires OpenTelemetry tracing and metrics through the
// proxy pipeline and the brain mutation path. No exporter is configured
// here — the SDK providers run with whatever processors the operator
// attaches (or none), so instrumented code pays near-zero cost in the
// default deployment while staying one exporter registration away from a
// full trace backend.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry bundles the tracer, meter, and the pre-built instruments the
// proxy and brain store record against.
type Telemetry struct {
	Tracer trace.Tracer
	Meter  metric.Meter

	// ChatRequests counts completed chat-completion calls, attributed by
	// plan source and kernel status.
	ChatRequests metric.Int64Counter
	// BrainMutations counts brain store mutate calls, attributed by the
	// audit action they recorded.
	BrainMutations metric.Int64Counter

	tp *sdktrace.TracerProvider
	mp *sdkmetric.MeterProvider
}

// Init builds SDK providers named for service and the instruments above.
func Init(service string) (*Telemetry, error) {
	res := resource.NewSchemaless(attribute.String("service.name", service))
	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res))

	meter := mp.Meter(service)
	chatRequests, err := meter.Int64Counter("cortex.chat.requests",
		metric.WithDescription("chat completion requests by plan source and kernel status"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create chat counter: %w", err)
	}
	brainMutations, err := meter.Int64Counter("cortex.brain.mutations",
		metric.WithDescription("brain store mutations by action"))
	if err != nil {
		return nil, fmt.Errorf("telemetry: create mutation counter: %w", err)
	}

	return &Telemetry{
		Tracer:         tp.Tracer(service),
		Meter:          meter,
		ChatRequests:   chatRequests,
		BrainMutations: brainMutations,
		tp:             tp,
		mp:             mp,
	}, nil
}

// RecordChat increments the chat request counter.
func (t *Telemetry) RecordChat(ctx context.Context, planSource, kernelStatus string) {
	t.ChatRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("plan_source", planSource),
			attribute.String("kernel_status", kernelStatus),
		))
}

// RecordMutation increments the brain mutation counter.
func (t *Telemetry) RecordMutation(ctx context.Context, action string) {
	t.BrainMutations.Add(ctx, 1,
		metric.WithAttributes(attribute.String("action", action)))
}

// Shutdown flushes and stops both providers.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	traceErr := t.tp.Shutdown(ctx)
	if err := t.mp.Shutdown(ctx); err != nil {
		return err
	}
	return traceErr
}
