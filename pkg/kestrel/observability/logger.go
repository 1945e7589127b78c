// Package observability provides Kestrel's structured logging, metrics,
// and tracing. Every feature is opt-in and backed by a no-op
// implementation when disabled.
//
// Grounded on the teacher's observability package
// (github.com/randalmurphal/flowgraph, pkg/flowgraph/observability):
// structured logging via log/slog, metrics and tracing via OpenTelemetry,
// with the same enrich-then-log helper shape, retargeted from graph/node
// run events to worker/predicate/sequence/alert events.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger returns a logger with partition and worker context attached.
func EnrichLogger(logger *slog.Logger, partition int, workerID string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.Int("partition", partition),
		slog.String("worker_id", workerID),
	)
}

// LogWorkerStart logs a worker beginning to consume its partition.
func LogWorkerStart(logger *slog.Logger, partition int) {
	if logger == nil {
		return
	}
	logger.Info("worker starting", slog.Int("partition", partition))
}

// LogWorkerStop logs a worker draining and returning after bus close.
func LogWorkerStop(logger *slog.Logger, partition int, eventsProcessed uint64) {
	if logger == nil {
		return
	}
	logger.Info("worker stopped",
		slog.Int("partition", partition),
		slog.Uint64("events_processed", eventsProcessed),
	)
}

// LogPredicateError logs a non-fatal predicate evaluation failure.
func LogPredicateError(logger *slog.Logger, predicateID uint64, err error) {
	if logger == nil {
		return
	}
	logger.Warn("predicate evaluation failed",
		slog.Uint64("predicate_id", predicateID),
		slog.String("error", err.Error()),
	)
}

// LogPredicateDegraded logs a predicate crossing the shedding threshold.
func LogPredicateDegraded(logger *slog.Logger, predicateID uint64, errorCount int) {
	if logger == nil {
		return
	}
	logger.Warn("predicate marked degraded, shedding evaluations",
		slog.Uint64("predicate_id", predicateID),
		slog.Int("recent_errors", errorCount),
	)
}

// LogSequenceAlert logs a sequence rule firing.
func LogSequenceAlert(logger *slog.Logger, ruleID, sequenceID uint64, matchedAtNs int64) {
	if logger == nil {
		return
	}
	logger.Info("sequence alert emitted",
		slog.Uint64("rule_id", ruleID),
		slog.Uint64("sequence_id", sequenceID),
		slog.Int64("matched_at_ns", matchedAtNs),
	)
}

// LogPartialMatchEvicted logs a partial match leaving the state store.
func LogPartialMatchEvicted(logger *slog.Logger, sequenceID uint64, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("partial match evicted",
		slog.Uint64("sequence_id", sequenceID),
		slog.String("reason", reason),
	)
}

// LogRuleLoaded logs successful rule installation.
func LogRuleLoaded(logger *slog.Logger, ruleID uint64, kind string) {
	if logger == nil {
		return
	}
	logger.Info("rule loaded", slog.Uint64("rule_id", ruleID), slog.String("kind", kind))
}

// LogRuleLoadError logs a rejected rule.
func LogRuleLoadError(logger *slog.Logger, ruleID uint64, err error) {
	if logger == nil {
		return
	}
	logger.Error("rule load failed",
		slog.Uint64("rule_id", ruleID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures elapsed time; the returned func yields
// milliseconds elapsed since TimedOperation was called.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000.0
	}
}
