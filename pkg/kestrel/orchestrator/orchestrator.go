package orchestrator

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/alert"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/kerrors"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/nfa"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/observability"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/predicate"
)

// degradedWindow and degradedThreshold set how many runtime errors within
// how long a window mark a predicate as degraded. Crossing the threshold
// only records a degraded-predicate metric; the predicate keeps being
// evaluated.
const (
	degradedWindow    = 10 * time.Second
	degradedThreshold = 20
)

// Orchestrator is the detection orchestrator of spec.md §4.5: it owns rule
// lifecycle and routes every event to single-event rule evaluation and the
// NFA engine, isolating per-event failures from the caller.
type Orchestrator struct {
	runtime *predicate.Runtime
	engine  *nfa.Engine
	sink    alert.Sink
	metrics observability.MetricsRecorder

	snapshot atomic.Pointer[ruleSnapshot]
	mu       sync.Mutex // serializes AddRule/RemoveRule; readers never block

	errRing     *kerrors.Ring
	errCounters *kerrors.Counters
	shed        *kerrors.ShedWindow
}

// New builds an Orchestrator with an empty rule set.
func New(runtime *predicate.Runtime, engine *nfa.Engine, sink alert.Sink, metrics observability.MetricsRecorder) *Orchestrator {
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	o := &Orchestrator{
		runtime:     runtime,
		engine:      engine,
		sink:        sink,
		metrics:     metrics,
		errRing:     kerrors.NewRing(256),
		errCounters: kerrors.NewCounters(),
		shed:        kerrors.NewShedWindow(degradedWindow, degradedThreshold),
	}
	o.snapshot.Store(emptySnapshot())
	return o
}

// AddRule validates rule, dispatches it to the single-event index or the
// NFA engine by shape, and installs a new rule snapshot atomically. A rule
// id already present is rejected with *kerrors.ErrRuleAlreadyExists.
func (o *Orchestrator) AddRule(rule Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	cur := o.snapshot.Load()
	if _, exists := cur.rules[rule.Meta.ID]; exists {
		return &kerrors.ErrRuleAlreadyExists{RuleID: rule.Meta.ID}
	}

	next := cur.withRule(&rule)
	if rule.Kind == RuleSequence {
		o.engine.LoadSequence(rule.Sequence)
	}
	o.snapshot.Store(next)
	o.metrics.RecordRuleLoaded(context.Background(), rule.Kind.String())
	return nil
}

// RemoveRule uninstalls ruleID, unloading its NFA sequence if it was a
// sequence rule. *kerrors.ErrRuleNotFound if no such rule is active.
func (o *Orchestrator) RemoveRule(ruleID uint64) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	cur := o.snapshot.Load()
	next, removed, ok := cur.withoutRule(ruleID)
	if !ok {
		return &kerrors.ErrRuleNotFound{RuleID: ruleID}
	}

	if removed.Kind == RuleSequence {
		o.engine.UnloadSequence(removed.Sequence.SequenceID)
	}
	o.snapshot.Store(next)
	o.metrics.RecordRuleRemoved(context.Background(), removed.Kind.String())
	return nil
}

// ProcessEvent routes one event to every matching single-event rule and to
// the NFA engine, emitting an alert to the sink for each hit. Per-event
// runtime errors are recorded in the error ring and counted, never
// returned: a predicate
// error degrades to "false" for that event (spec.md §7).
func (o *Orchestrator) ProcessEvent(ctx context.Context, evt *kevent.Event) {
	snap := o.snapshot.Load()

	for _, rule := range snap.singleIndex[evt.EventType()] {
		matched, _, err := o.runtime.Evaluate(ctx, rule.PredicateID, evt)
		if err != nil {
			o.recordRuntimeError(rule.PredicateID, err)
			continue
		}
		if !matched {
			continue
		}
		o.emitSingleEvent(ctx, rule, evt)
	}

	for _, a := range o.engine.Process(ctx, evt) {
		o.emitSequence(ctx, snap, a)
	}
}

func (o *Orchestrator) emitSingleEvent(ctx context.Context, rule *Rule, evt *kevent.Event) {
	captures := make(map[string]kevent.Value, len(rule.RequiredFields))
	for _, fid := range rule.RequiredFields {
		if v, ok := evt.GetField(fid); ok {
			captures[strconv.FormatUint(uint64(fid), 10)] = v
		}
	}
	a := alert.New(rule.Meta.ID, rule.Meta.Name, rule.Meta.Severity, evt.EntityKey(), evt.TSMono(), evt.TSWall(), captures, []uint64{evt.ID()})
	o.emit(ctx, a)
}

func (o *Orchestrator) emitSequence(ctx context.Context, snap *ruleSnapshot, a nfa.Alert) {
	name, severity := "", ""
	if rule, ok := snap.rules[a.RuleID]; ok {
		name, severity = rule.Meta.Name, rule.Meta.Severity
	}
	out := alert.New(a.RuleID, name, severity, a.EntityKey, a.MatchedAtNs, 0, a.Captures, a.EventIDs)
	o.emit(ctx, out)
}

func (o *Orchestrator) emit(ctx context.Context, a alert.Alert) {
	if o.sink == nil {
		return
	}
	if err := o.sink.Emit(ctx, a); err != nil {
		o.errRing.Add(kerrors.Record{Category: kerrors.CategoryOrchestrator, Reason: "sink_emit_failed", Context: a.ID, At: time.Now()})
		o.errCounters.Inc(kerrors.CategoryOrchestrator, "sink_emit_failed")
	}
}

// recordRuntimeError counts a predicate evaluation failure and records a
// degraded-predicate metric once it crosses the shedding threshold within
// the window (spec.md §7). Automatic unloading of a degraded predicate is
// left to an external supervisor watching that metric.
func (o *Orchestrator) recordRuntimeError(predicateID uint64, err error) {
	kind := "trap"
	if re, ok := err.(*kerrors.RuntimeError); ok {
		kind = re.Kind.String()
	}
	o.errRing.Add(kerrors.Record{Category: kerrors.CategoryRuntime, Reason: kind, Context: err.Error(), At: time.Now()})
	o.errCounters.Inc(kerrors.CategoryRuntime, kind)

	if o.shed.RecordError(predicateID, time.Now()) {
		o.metrics.RecordPredicateDegraded(context.Background(), predicateID)
	}
}

// Errors returns a snapshot of recent error records, for diagnostics.
func (o *Orchestrator) Errors() []kerrors.Record {
	return o.errRing.Snapshot()
}

// ErrorCounts returns a snapshot of per-(category, reason) error counts.
func (o *Orchestrator) ErrorCounts() map[string]uint64 {
	return o.errCounters.Snapshot()
}
