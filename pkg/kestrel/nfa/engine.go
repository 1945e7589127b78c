package nfa

import (
	"context"
	"sync"
	"time"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/observability"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/predicate"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// Alert is a sequence alert emitted on sequence completion (spec.md §3).
type Alert struct {
	RuleID      uint64
	SequenceID  uint64
	EntityKey   kevent.EntityKey
	MatchedAtNs int64
	Captures    map[string]kevent.Value
	EventIDs    []uint64
}

// Engine is the NFA sequence engine of spec.md §4.4: it maintains the
// event-type -> candidate-sequence index, advances per-entity partial
// matches, and emits alerts on completion.
type Engine struct {
	runtime *predicate.Runtime
	store   *Store
	budget  *BudgetTracker
	metrics observability.MetricsRecorder

	mu          sync.RWMutex
	sequences   map[uint64]*SequenceDef
	typeIndex   map[schema.EventTypeID][]uint64 // event type -> deduplicated sequence ids
}

// NewEngine builds an empty Engine. Sequences are loaded with LoadSequence.
func NewEngine(runtime *predicate.Runtime, store *Store, budget *BudgetTracker, metrics observability.MetricsRecorder) *Engine {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &Engine{
		runtime:   runtime,
		store:     store,
		budget:    budget,
		metrics:   metrics,
		sequences: make(map[uint64]*SequenceDef),
		typeIndex: make(map[schema.EventTypeID][]uint64),
	}
}

// LoadSequence installs a sequence definition and extends the event-type
// index, deduplicating per spec.md §4.4 ("listed once per event type even
// if several of its steps match that type").
func (e *Engine) LoadSequence(def *SequenceDef) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.sequences[def.SequenceID] = def

	touched := make(map[schema.EventTypeID]bool)
	for _, s := range def.Steps {
		touched[s.EventType] = true
	}
	for t := range touched {
		ids := e.typeIndex[t]
		already := false
		for _, id := range ids {
			if id == def.SequenceID {
				already = true
				break
			}
		}
		if !already {
			e.typeIndex[t] = append(ids, def.SequenceID)
		}
	}
}

// UnloadSequence removes a sequence definition and its index entries.
func (e *Engine) UnloadSequence(sequenceID uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sequences, sequenceID)
	for t, ids := range e.typeIndex {
		out := ids[:0]
		for _, id := range ids {
			if id != sequenceID {
				out = append(out, id)
			}
		}
		e.typeIndex[t] = out
	}
}

// Process runs one event through every candidate sequence for its event
// type, implementing spec.md §4.4's processing algorithm, and returns any
// alerts produced.
func (e *Engine) Process(ctx context.Context, evt *kevent.Event) []Alert {
	e.mu.RLock()
	candidates := e.typeIndex[evt.EventType()]
	defs := make([]*SequenceDef, 0, len(candidates))
	for _, id := range candidates {
		if def, ok := e.sequences[id]; ok {
			defs = append(defs, def)
		}
	}
	e.mu.RUnlock()

	var alerts []Alert
	entity := evt.EntityKey()
	t := evt.TSMono()

	for _, def := range defs {
		if a := e.processSequence(ctx, def, evt, entity, t); a != nil {
			alerts = append(alerts, *a)
		}
		e.store.ReapExpired(def.SequenceID, entity, t)
	}
	return alerts
}

func (e *Engine) processSequence(ctx context.Context, def *SequenceDef, evt *kevent.Event, entity kevent.EntityKey, t int64) *Alert {
	if e.budget != nil && !e.budget.Allow(def.SequenceID, t) {
		return nil
	}

	sExpected, found := e.store.MaxNonTerminatedState(def.SequenceID, entity, t)
	if !found {
		sExpected = 0
	} else {
		sExpected++
	}

	for _, i := range def.StepIndicesFor(evt.EventType()) {
		if i != sExpected {
			continue // out-of-order events do not create spurious matches
		}

		if def.HasUntil() && i == def.UntilStep {
			e.store.TerminateMostRecent(def.SequenceID, entity)
			return nil
		}

		step := def.Steps[i]
		evalStart := time.Now()
		matched, err := e.evaluateStep(ctx, step.PredicateID, evt)
		if e.budget != nil {
			e.budget.Record(def.SequenceID, time.Since(evalStart).Nanoseconds())
		}
		if err != nil {
			continue // a runtime error is treated as "predicate returned false"
		}
		if !matched {
			continue
		}

		captures := captureFields(e.runtime, step, evt)

		if i == 0 {
			expires := NoExpiry
			if def.MaxSpanNs > 0 {
				expires = t + def.MaxSpanNs
			}
			m := &PartialMatch{
				SequenceID:   def.SequenceID,
				EntityKey:    entity,
				CurrentState: 0,
				StartedAtNs:  t,
				ExpiresAtNs:  expires,
				LastTouchNs:  t,
				Captures:     captures,
				EventIDs:     []uint64{evt.ID()},
			}
			e.store.Create(m)
			e.metrics.RecordPartialMatchCreated(ctx, def.SequenceID)

			if i == def.LastStep() {
				m.Terminated = true
				return e.emitAlert(ctx, def, m, t)
			}
			continue
		}

		m, ok := e.store.Advance(def.SequenceID, entity, i-1, i, t, func(m *PartialMatch) {
			m.mergeCaptures(captures)
			m.EventIDs = append(m.EventIDs, evt.ID())
			m.LastTouchNs = t
		})
		if !ok {
			continue
		}

		if i == def.LastStep() {
			m.Terminated = true
			return e.emitAlert(ctx, def, m, t)
		}
	}
	return nil
}

// evaluateStep runs one step's predicate. A runtime error (trap, resource
// exhaustion, timeout) is returned as-is; processSequence treats any error
// as "predicate returned false" per spec.md §4.3/§7.
func (e *Engine) evaluateStep(ctx context.Context, predicateID uint64, evt *kevent.Event) (bool, error) {
	matched, _, err := e.runtime.Evaluate(ctx, predicateID, evt)
	return matched, err
}

// emitAlert builds the completion alert. MatchedAtNs is the completing
// event's timestamp t, not the sequence's StartedAtNs (spec.md §4.4 step
// 1.2.5): a sequence "matches" at the moment its last step fires.
func (e *Engine) emitAlert(ctx context.Context, def *SequenceDef, m *PartialMatch, t int64) *Alert {
	e.metrics.RecordSequenceAlert(ctx, def.RuleID, def.SequenceID)
	return &Alert{
		RuleID:      def.RuleID,
		SequenceID:  def.SequenceID,
		EntityKey:   m.EntityKey,
		MatchedAtNs: t,
		Captures:    m.Captures,
		EventIDs:    append([]uint64(nil), m.EventIDs...),
	}
}

// captureFields maps a step's declared capture names onto the event's
// field values, positionally aligned with the step predicate's declared
// required fields: the i-th capture name takes the value of the i-th
// required field, so the engine pairs them by declaration order.
func captureFields(runtime *predicate.Runtime, step SeqStep, evt *kevent.Event) map[string]kevent.Value {
	if len(step.Captures) == 0 {
		return nil
	}
	fields, ok := runtime.RequiredFields(step.PredicateID)
	if !ok {
		return nil
	}
	out := make(map[string]kevent.Value, len(step.Captures))
	for i, name := range step.Captures {
		if i >= len(fields) {
			break
		}
		if v, ok := evt.GetField(fields[i]); ok {
			out[name] = v
		}
	}
	return out
}
