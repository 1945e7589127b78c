// Package alert defines Kestrel's outbound alert shape and the sink
// contract that receives it (spec.md §6: "Alert sink contract").
//
// Encoding and transport are free to the sink; this package fixes only the
// fields an alert must carry and the minimal interface a collaborator
// implements to receive them.
package alert

import (
	"context"

	"github.com/google/uuid"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
)

// Alert is one detection hit, produced by either a single-event rule match
// or a completed NFA sequence.
type Alert struct {
	ID       string
	RuleID   uint64
	RuleName string
	Severity string

	MatchedAtMonoNs int64
	MatchedAtWallNs int64

	EntityKey kevent.EntityKey
	Captures  map[string]kevent.Value
	EventIDs  []uint64
}

// New builds an Alert with a fresh random id.
func New(ruleID uint64, ruleName, severity string, entity kevent.EntityKey, matchedAtMonoNs, matchedAtWallNs int64, captures map[string]kevent.Value, eventIDs []uint64) Alert {
	return Alert{
		ID:              uuid.NewString(),
		RuleID:          ruleID,
		RuleName:        ruleName,
		Severity:        severity,
		MatchedAtMonoNs: matchedAtMonoNs,
		MatchedAtWallNs: matchedAtWallNs,
		EntityKey:       entity,
		Captures:        captures,
		EventIDs:        eventIDs,
	}
}

// Sink receives alerts. Implementations must be safe for concurrent use:
// the orchestrator may call Emit from any worker goroutine.
type Sink interface {
	Emit(ctx context.Context, a Alert) error
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(ctx context.Context, a Alert) error

// Emit implements Sink.
func (f SinkFunc) Emit(ctx context.Context, a Alert) error { return f(ctx, a) }
