// Package nfa implements Kestrel's sequence engine: per-entity partial
// match tracking across an ordered sequence of typed, predicate-gated
// steps, with windowing and a sharded, quota-enforcing state store.
//
// Grounded on the teacher's event.Aggregator family
// (github.com/randalmurphal/flowgraph, pkg/flowgraph/event/aggregator.go):
// the mutex-guarded accumulate-until-criteria-met shape of
// CorrelationAggregator is the design ancestor of PartialMatch, though the
// teacher aggregates by a single correlation id with no ordering
// constraint, while spec.md §4.4 requires strict per-entity monotonic
// step advancement (s_expected) and multi-key (sequence, entity, state)
// identity, which the teacher's type does not model.
package nfa

import "github.com/kestrel-edr/kestrel/pkg/kestrel/schema"

// SeqStep is one step of a sequence definition: an event type gate, the
// predicate (by id, in the Runtime) that must match, and the names under
// which this step's matched fields are captured.
type SeqStep struct {
	EventType   schema.EventTypeID
	PredicateID uint64
	Captures    []string
}

// NoUntilStep marks a SequenceDef as having no until (early-termination)
// step.
const NoUntilStep = -1

// SequenceDef is a loaded sequence: an ordered step array plus the
// pre-computed event_type -> step-index index spec.md §4.4 requires for
// O(1) step lookup.
type SequenceDef struct {
	SequenceID uint64
	RuleID     uint64
	By         schema.FieldID // grouping field id
	Steps      []SeqStep
	MaxSpanNs  int64 // <= 0 means unbounded
	UntilStep  int   // index into Steps, or NoUntilStep

	stepsByEventType map[schema.EventTypeID][]int
}

// NewSequenceDef builds a SequenceDef and its event-type index.
func NewSequenceDef(sequenceID, ruleID uint64, by schema.FieldID, steps []SeqStep, maxSpanNs int64, untilStep int) *SequenceDef {
	idx := make(map[schema.EventTypeID][]int)
	for i, s := range steps {
		idx[s.EventType] = append(idx[s.EventType], i)
	}
	return &SequenceDef{
		SequenceID:       sequenceID,
		RuleID:           ruleID,
		By:               by,
		Steps:            steps,
		MaxSpanNs:        maxSpanNs,
		UntilStep:        untilStep,
		stepsByEventType: idx,
	}
}

// StepIndicesFor returns the step indices of this sequence gated on the
// given event type, or nil if none.
func (s *SequenceDef) StepIndicesFor(eventType schema.EventTypeID) []int {
	return s.stepsByEventType[eventType]
}

// LastStep returns the index of the sequence's final step.
func (s *SequenceDef) LastStep() int {
	return len(s.Steps) - 1
}

// HasUntil reports whether the sequence declares an until step.
func (s *SequenceDef) HasUntil() bool {
	return s.UntilStep != NoUntilStep
}
