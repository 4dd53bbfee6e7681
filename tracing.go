package rabbitcore

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/trace"
)

// traceHeaderTraceID and traceHeaderSpanID are the AMQP message headers
// used to propagate an active span's identifiers to consumers, following
// the "distributed tracing support via message headers" feature carried
// forward from the corpus's rabbit client doc comments.
const (
	traceHeaderTraceID = "x-trace-id"
	traceHeaderSpanID  = "x-span-id"
)

// Tracer is the abstract span sink the core consults to extract trace
// context for outgoing messages (spec §1: "distributed-tracing context
// extraction (abstract span sink)"). rabbitcore never creates a tracer
// provider itself; Tracer only reads whatever span is already active on
// the context passed to Publish. Consume does not consult it.
type Tracer interface {
	// SpanContextFromContext returns the active span context, if any, and
	// whether one was found.
	SpanContextFromContext(ctx context.Context) (trace.SpanContext, bool)
}

// otelTracer is the default Tracer, backed by go.opentelemetry.io/otel's
// context-propagated span.
type otelTracer struct{}

func (otelTracer) SpanContextFromContext(ctx context.Context) (trace.SpanContext, bool) {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return trace.SpanContext{}, false
	}
	return sc, true
}

// NewOTelTracer returns the default OpenTelemetry-backed Tracer.
func NewOTelTracer() Tracer { return otelTracer{} }

// injectTraceHeaders adds trace/span id headers to table when tracer has
// an active span on ctx. table is mutated in place; a nil table is
// allocated only when injection actually has something to add.
func injectTraceHeaders(ctx context.Context, tracer Tracer, table amqp.Table) amqp.Table {
	if tracer == nil {
		return table
	}
	sc, ok := tracer.SpanContextFromContext(ctx)
	if !ok {
		return table
	}
	if table == nil {
		table = amqp.Table{}
	}
	// Entries the caller set explicitly take precedence.
	if _, ok := table[traceHeaderTraceID]; !ok {
		table[traceHeaderTraceID] = sc.TraceID().String()
	}
	if _, ok := table[traceHeaderSpanID]; !ok {
		table[traceHeaderSpanID] = sc.SpanID().String()
	}
	return table
}
