// Package orchestrator wires the schema/event model, event bus, predicate
// runtime, and NFA sequence engine together: it routes each event to
// single-event rule evaluation and to the NFA engine, and owns rule
// lifecycle (add/remove; each event is processed against the rule set
// current when it is processed). Replay logs reach it through the replay
// package's Driver, which calls ProcessEvent (spec.md §4.5).
package orchestrator

import (
	"fmt"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/nfa"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// RuleKind distinguishes the two rule shapes the compiler contract (spec.md
// §6) can deliver.
type RuleKind int

const (
	RuleSingleEvent RuleKind = iota
	RuleSequence
)

func (k RuleKind) String() string {
	if k == RuleSequence {
		return "sequence"
	}
	return "single_event"
}

// Meta carries a rule's identity and display metadata, common to both rule
// shapes.
type Meta struct {
	ID          uint64
	Name        string
	Severity    string
	Description string
}

// Rule is a single-event or sequence rule as delivered by the rule-compiler
// contract. Exactly one of the kind-specific fields is populated, selected
// by Kind.
type Rule struct {
	Meta Meta
	Kind RuleKind

	// Single-event fields.
	EventType      schema.EventTypeID
	PredicateID    uint64
	RequiredFields []schema.FieldID

	// Sequence fields.
	Sequence *nfa.SequenceDef
}

// Validate checks a rule's shape-specific invariants before it is
// installed. It does not touch the runtime or engine.
func (r *Rule) Validate() error {
	if r.Meta.ID == 0 {
		return fmt.Errorf("orchestrator: rule id must be non-zero")
	}
	switch r.Kind {
	case RuleSingleEvent:
		if r.PredicateID == 0 {
			return fmt.Errorf("orchestrator: single-event rule %d has no predicate id", r.Meta.ID)
		}
	case RuleSequence:
		if r.Sequence == nil {
			return fmt.Errorf("orchestrator: sequence rule %d has no sequence definition", r.Meta.ID)
		}
		if len(r.Sequence.Steps) == 0 {
			return fmt.Errorf("orchestrator: sequence rule %d has no steps", r.Meta.ID)
		}
		if r.Sequence.HasUntil() && (r.Sequence.UntilStep < 0 || r.Sequence.UntilStep >= len(r.Sequence.Steps)) {
			return fmt.Errorf("orchestrator: sequence rule %d has out-of-range until step %d", r.Meta.ID, r.Sequence.UntilStep)
		}
	default:
		return fmt.Errorf("orchestrator: rule %d has unknown kind %v", r.Meta.ID, r.Kind)
	}
	return nil
}
