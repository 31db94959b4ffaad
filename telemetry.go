package eventrx

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/rbaliyan/eventrx"

const (
	spanKeyAdapter        = "eventrx.adapter"
	spanKeySubscriptionID = "subscription.id"
	spanKeyEventName      = "event.name"
	spanKeyEventKind      = "event.kind"
)

// telemetry records adapter metrics and subscription spans. Disabled parts
// are no-ops.
type telemetry struct {
	name  string
	attrs metric.MeasurementOption

	subscriptions metric.Int64Counter
	items         metric.Int64Counter
	errors        metric.Int64Counter
	completions   metric.Int64Counter
	listeners     metric.Int64UpDownCounter

	tracer trace.Tracer
}

func newTelemetry(c *adapterConfig) *telemetry {
	t := &telemetry{
		name:  c.name,
		attrs: metric.WithAttributes(attribute.String(spanKeyAdapter, c.name)),
	}

	if c.metricsEnabled {
		meter := otel.Meter(instrumentationName)
		t.subscriptions, _ = meter.Int64Counter("eventrx.subscriptions",
			metric.WithDescription("Total number of adapter subscriptions"))
		t.items, _ = meter.Int64Counter("eventrx.items",
			metric.WithDescription("Total number of items delivered"))
		t.errors, _ = meter.Int64Counter("eventrx.errors",
			metric.WithDescription("Total number of error notifications"))
		t.completions, _ = meter.Int64Counter("eventrx.completions",
			metric.WithDescription("Total number of completion notifications"))
		t.listeners, _ = meter.Int64UpDownCounter("eventrx.listeners",
			metric.WithDescription("Number of listeners currently attached to sources"))
	}

	if c.tracingEnabled {
		t.tracer = otel.Tracer(instrumentationName)
	}
	return t
}

func (t *telemetry) subscribed(ctx context.Context) {
	if t.subscriptions != nil {
		t.subscriptions.Add(ctx, 1, t.attrs)
	}
}

func (t *telemetry) item(ctx context.Context) {
	if t.items != nil {
		t.items.Add(ctx, 1, t.attrs)
	}
}

func (t *telemetry) failed(ctx context.Context) {
	if t.errors != nil {
		t.errors.Add(ctx, 1, t.attrs)
	}
}

func (t *telemetry) completed(ctx context.Context) {
	if t.completions != nil {
		t.completions.Add(ctx, 1, t.attrs)
	}
}

func (t *telemetry) attached(ctx context.Context, n int) {
	if t.listeners != nil && n != 0 {
		t.listeners.Add(ctx, int64(n), t.attrs)
	}
}

// startSpan starts the consumer span of one subscription. The returned span
// is never nil.
func (t *telemetry) startSpan(ctx context.Context, subID string) (context.Context, trace.Span) {
	if t.tracer == nil {
		return ctx, noop.Span{}
	}
	return t.tracer.Start(ctx, fmt.Sprintf("%s.subscribe", t.name),
		trace.WithAttributes(
			attribute.String(spanKeyAdapter, t.name),
			attribute.String(spanKeySubscriptionID, subID)),
		trace.WithSpanKind(trace.SpanKindConsumer))
}

// recordError marks span as failed by a source error.
func recordError(span trace.Span, event string, err error) {
	span.RecordError(err, trace.WithAttributes(
		attribute.String(spanKeyEventName, event),
		attribute.String(spanKeyEventKind, kindError.String())))
	span.SetStatus(codes.Error, err.Error())
}
