package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics discards every recorded metric. Used as the fallback when a
// component is given no MetricsRecorder, matching the teacher's NoopMetrics
// (pkg/flowgraph/observability/noop.go).
type NoopMetrics struct{}

func (NoopMetrics) RecordEventReceived(context.Context, int)                       {}
func (NoopMetrics) RecordEventDelivered(context.Context, int)                      {}
func (NoopMetrics) RecordEventDropped(context.Context, int, string)                {}
func (NoopMetrics) RecordQueueDepth(context.Context, int, int64)                   {}
func (NoopMetrics) RecordBackpressureWait(context.Context, int, float64)           {}
func (NoopMetrics) RecordPredicateEvaluation(context.Context, uint64, float64, bool) {}
func (NoopMetrics) RecordPredicateError(context.Context, uint64, string)           {}
func (NoopMetrics) RecordPredicateDegraded(context.Context, uint64)                {}
func (NoopMetrics) RecordPartialMatchCreated(context.Context, uint64)              {}
func (NoopMetrics) RecordPartialMatchEvicted(context.Context, uint64, string)      {}
func (NoopMetrics) RecordSequenceAlert(context.Context, uint64, uint64)            {}
func (NoopMetrics) RecordRuleLoaded(context.Context, string)                      {}
func (NoopMetrics) RecordRuleRemoved(context.Context, string)                     {}

// NoopSpanManager discards every span, returning the incoming context
// unchanged and a non-recording span from the OTel noop tracer provider.
type NoopSpanManager struct{}

func (NoopSpanManager) StartBatchSpan(ctx context.Context, _ int, _ int) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) StartPredicateSpan(ctx context.Context, _ uint64) (context.Context, trace.Span) {
	return ctx, noop.Span{}
}

func (NoopSpanManager) EndSpanWithError(trace.Span, error) {}

func (NoopSpanManager) AddSpanEvent(trace.Span, string, ...attribute.KeyValue) {}
