package observability

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder is the interface Kestrel's bus, predicate runtime, NFA
// engine, and orchestrator report through. Grounded on the teacher's
// MetricsRecorder (pkg/flowgraph/observability/metrics.go), retargeted
// from graph/node/checkpoint metrics to bus/predicate/sequence metrics
// per spec.md §4.2 (bus), §4.3 (runtime), §4.4.1 (NFA eviction reasons),
// and §4.5 (rule lifecycle).
type MetricsRecorder interface {
	// Bus metrics (spec.md §4.2).
	RecordEventReceived(ctx context.Context, partition int)
	RecordEventDelivered(ctx context.Context, partition int)
	RecordEventDropped(ctx context.Context, partition int, reason string)
	RecordQueueDepth(ctx context.Context, partition int, depth int64)
	RecordBackpressureWait(ctx context.Context, partition int, waitMs float64)

	// Predicate runtime metrics (spec.md §4.3).
	RecordPredicateEvaluation(ctx context.Context, predicateID uint64, durationMs float64, matched bool)
	RecordPredicateError(ctx context.Context, predicateID uint64, kind string)
	RecordPredicateDegraded(ctx context.Context, predicateID uint64)

	// NFA metrics (spec.md §4.4).
	RecordPartialMatchCreated(ctx context.Context, sequenceID uint64)
	RecordPartialMatchEvicted(ctx context.Context, sequenceID uint64, reason string)
	RecordSequenceAlert(ctx context.Context, ruleID, sequenceID uint64)

	// Orchestrator / rule-lifecycle metrics (spec.md §4.5).
	RecordRuleLoaded(ctx context.Context, kind string)
	RecordRuleRemoved(ctx context.Context, kind string)
}

// otelMetrics implements MetricsRecorder on top of an OpenTelemetry
// metric.Meter, mirroring the teacher's otelMetrics struct-of-instruments
// with lazy, once-guarded initialization.
type otelMetrics struct {
	meter metric.Meter

	initOnce sync.Once
	initErr  error

	eventsReceived    metric.Int64Counter
	eventsDelivered   metric.Int64Counter
	eventsDropped     metric.Int64Counter
	queueDepth        metric.Int64Gauge
	backpressureWait  metric.Float64Histogram
	predicateEvalDur  metric.Float64Histogram
	predicateEvalCnt  metric.Int64Counter
	predicateErrors   metric.Int64Counter
	predicateDegraded metric.Int64Counter
	partialCreated    metric.Int64Counter
	partialEvicted    metric.Int64Counter
	sequenceAlerts    metric.Int64Counter
	rulesLoaded       metric.Int64Counter
	rulesRemoved      metric.Int64Counter
}

// NewOTelMetrics builds a MetricsRecorder backed by the given meter. On
// instrument-creation failure it falls back to the no-op recorder, the
// same fail-open posture the teacher uses for observability wiring.
func NewOTelMetrics(meter metric.Meter) MetricsRecorder {
	m := &otelMetrics{meter: meter}
	m.init()
	if m.initErr != nil {
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) init() {
	m.initOnce.Do(func() {
		var err error
		m.eventsReceived, err = m.meter.Int64Counter("kestrel.bus.events_received")
		if err != nil {
			m.initErr = err
			return
		}
		m.eventsDelivered, err = m.meter.Int64Counter("kestrel.bus.events_delivered")
		if err != nil {
			m.initErr = err
			return
		}
		m.eventsDropped, err = m.meter.Int64Counter("kestrel.bus.events_dropped")
		if err != nil {
			m.initErr = err
			return
		}
		m.queueDepth, err = m.meter.Int64Gauge("kestrel.bus.queue_depth")
		if err != nil {
			m.initErr = err
			return
		}
		m.backpressureWait, err = m.meter.Float64Histogram("kestrel.bus.backpressure_wait_ms")
		if err != nil {
			m.initErr = err
			return
		}
		m.predicateEvalDur, err = m.meter.Float64Histogram("kestrel.predicate.eval_duration_ms")
		if err != nil {
			m.initErr = err
			return
		}
		m.predicateEvalCnt, err = m.meter.Int64Counter("kestrel.predicate.eval_total")
		if err != nil {
			m.initErr = err
			return
		}
		m.predicateErrors, err = m.meter.Int64Counter("kestrel.predicate.errors_total")
		if err != nil {
			m.initErr = err
			return
		}
		m.predicateDegraded, err = m.meter.Int64Counter("kestrel.predicate.degraded_total")
		if err != nil {
			m.initErr = err
			return
		}
		m.partialCreated, err = m.meter.Int64Counter("kestrel.nfa.partial_matches_created")
		if err != nil {
			m.initErr = err
			return
		}
		m.partialEvicted, err = m.meter.Int64Counter("kestrel.nfa.partial_matches_evicted")
		if err != nil {
			m.initErr = err
			return
		}
		m.sequenceAlerts, err = m.meter.Int64Counter("kestrel.nfa.sequence_alerts_total")
		if err != nil {
			m.initErr = err
			return
		}
		m.rulesLoaded, err = m.meter.Int64Counter("kestrel.orchestrator.rules_loaded_total")
		if err != nil {
			m.initErr = err
			return
		}
		m.rulesRemoved, err = m.meter.Int64Counter("kestrel.orchestrator.rules_removed_total")
		if err != nil {
			m.initErr = err
			return
		}
	})
}

func (m *otelMetrics) RecordEventReceived(ctx context.Context, partition int) {
	m.eventsReceived.Add(ctx, 1, metric.WithAttributes(attribute.Int("partition", partition)))
}

func (m *otelMetrics) RecordEventDelivered(ctx context.Context, partition int) {
	m.eventsDelivered.Add(ctx, 1, metric.WithAttributes(attribute.Int("partition", partition)))
}

func (m *otelMetrics) RecordEventDropped(ctx context.Context, partition int, reason string) {
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.Int("partition", partition),
		attribute.String("reason", reason),
	))
}

func (m *otelMetrics) RecordQueueDepth(ctx context.Context, partition int, depth int64) {
	m.queueDepth.Record(ctx, depth, metric.WithAttributes(attribute.Int("partition", partition)))
}

func (m *otelMetrics) RecordBackpressureWait(ctx context.Context, partition int, waitMs float64) {
	m.backpressureWait.Record(ctx, waitMs, metric.WithAttributes(attribute.Int("partition", partition)))
}

func (m *otelMetrics) RecordPredicateEvaluation(ctx context.Context, predicateID uint64, durationMs float64, matched bool) {
	attrs := metric.WithAttributes(
		attribute.Int64("predicate_id", int64(predicateID)),
		attribute.Bool("matched", matched),
	)
	m.predicateEvalCnt.Add(ctx, 1, attrs)
	m.predicateEvalDur.Record(ctx, durationMs, attrs)
}

func (m *otelMetrics) RecordPredicateError(ctx context.Context, predicateID uint64, kind string) {
	m.predicateErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("predicate_id", int64(predicateID)),
		attribute.String("kind", kind),
	))
}

func (m *otelMetrics) RecordPredicateDegraded(ctx context.Context, predicateID uint64) {
	m.predicateDegraded.Add(ctx, 1, metric.WithAttributes(attribute.Int64("predicate_id", int64(predicateID))))
}

func (m *otelMetrics) RecordPartialMatchCreated(ctx context.Context, sequenceID uint64) {
	m.partialCreated.Add(ctx, 1, metric.WithAttributes(attribute.Int64("sequence_id", int64(sequenceID))))
}

func (m *otelMetrics) RecordPartialMatchEvicted(ctx context.Context, sequenceID uint64, reason string) {
	m.partialEvicted.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("sequence_id", int64(sequenceID)),
		attribute.String("reason", reason),
	))
}

func (m *otelMetrics) RecordSequenceAlert(ctx context.Context, ruleID, sequenceID uint64) {
	m.sequenceAlerts.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("rule_id", int64(ruleID)),
		attribute.Int64("sequence_id", int64(sequenceID)),
	))
}

func (m *otelMetrics) RecordRuleLoaded(ctx context.Context, kind string) {
	m.rulesLoaded.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *otelMetrics) RecordRuleRemoved(ctx context.Context, kind string) {
	m.rulesRemoved.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
