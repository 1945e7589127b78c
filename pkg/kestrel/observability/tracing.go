package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("kestrel")

// SpanManager traces partition batch processing and predicate evaluation.
// Grounded on the teacher's SpanManager (pkg/flowgraph/observability/tracing.go),
// retargeted from run/node spans to partition-batch/predicate spans.
type SpanManager interface {
	StartBatchSpan(ctx context.Context, partition int, batchSize int) (context.Context, trace.Span)
	StartPredicateSpan(ctx context.Context, predicateID uint64) (context.Context, trace.Span)
	EndSpanWithError(span trace.Span, err error)
	AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager backed by the global OTel tracer.
func NewSpanManager() SpanManager {
	return otelSpanManager{}
}

func (otelSpanManager) StartBatchSpan(ctx context.Context, partition int, batchSize int) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kestrel.bus.process_batch",
		trace.WithAttributes(
			attribute.Int("partition", partition),
			attribute.Int("batch_size", batchSize),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (otelSpanManager) StartPredicateSpan(ctx context.Context, predicateID uint64) (context.Context, trace.Span) {
	return tracer.Start(ctx, "kestrel.predicate.evaluate",
		trace.WithAttributes(attribute.Int64("predicate_id", int64(predicateID))),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (otelSpanManager) AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// StartBatchSpan is a package-level convenience wrapper over the global
// tracer, matching the teacher's top-level StartRunSpan/StartNodeSpan
// helpers.
func StartBatchSpan(ctx context.Context, partition int, batchSize int) (context.Context, trace.Span) {
	return NewSpanManager().StartBatchSpan(ctx, partition, batchSize)
}

// StartPredicateSpan is the package-level convenience wrapper for predicate
// evaluation spans.
func StartPredicateSpan(ctx context.Context, predicateID uint64) (context.Context, trace.Span) {
	return NewSpanManager().StartPredicateSpan(ctx, predicateID)
}

// EndSpanWithError is the package-level convenience wrapper for ending a
// span and recording an error if non-nil.
func EndSpanWithError(span trace.Span, err error) {
	NewSpanManager().EndSpanWithError(span, err)
}

// AddSpanEvent is the package-level convenience wrapper for adding an event
// to a recording span.
func AddSpanEvent(span trace.Span, name string, attrs ...attribute.KeyValue) {
	NewSpanManager().AddSpanEvent(span, name, attrs...)
}
