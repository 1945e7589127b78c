package orchestrator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/alert"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/kerrors"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/nfa"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/predicate"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

const (
	typeExec    = schema.EventTypeID(1)
	typeConnect = schema.EventTypeID(2)
	fieldExe    schema.FieldID = 1
)

func buildEvt(t *testing.T, eventType schema.EventTypeID, entity, id uint64, tsMono int64) *kevent.Event {
	t.Helper()
	evt, err := kevent.NewBuilder(eventType).
		WithTimestamps(tsMono, tsMono).
		WithEntityKey(kevent.EntityKeyFromUint64(entity)).
		WithEventID(id).
		Set(fieldExe, kevent.Str("/bin/sh")).
		Build()
	require.NoError(t, err)
	return evt
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *predicate.Runtime, *nfa.Engine, *alert.MemorySink) {
	t.Helper()
	rt := predicate.NewRuntime(predicate.Options{})
	engine := nfa.NewEngine(rt, nfa.NewStore(4, 0, 0), nfa.NewBudgetTracker(0, 0), nil)
	sink := alert.NewMemorySink()
	o := New(rt, engine, sink, nil)
	return o, rt, engine, sink
}

func TestAddRuleSingleEventFiresAlert(t *testing.T) {
	o, rt, _, sink := newTestOrchestrator(t)
	require.NoError(t, rt.LoadTrusted(1, predicate.HasField(fieldExe), predicate.NewPatternCache()))

	require.NoError(t, o.AddRule(Rule{
		Meta:           Meta{ID: 10, Name: "exec-seen", Severity: "low"},
		Kind:           RuleSingleEvent,
		EventType:      typeExec,
		PredicateID:    1,
		RequiredFields: []schema.FieldID{fieldExe},
	}))

	o.ProcessEvent(context.Background(), buildEvt(t, typeExec, 1, 1, 1000))

	require.Equal(t, 1, sink.Len())
	a := sink.Alerts()[0]
	assert.Equal(t, uint64(10), a.RuleID)
	assert.Equal(t, "exec-seen", a.RuleName)
}

func TestAddRuleDuplicateIDRejected(t *testing.T) {
	o, rt, _, _ := newTestOrchestrator(t)
	require.NoError(t, rt.LoadTrusted(1, predicate.HasField(fieldExe), predicate.NewPatternCache()))

	rule := Rule{Meta: Meta{ID: 10, Name: "r"}, Kind: RuleSingleEvent, EventType: typeExec, PredicateID: 1}
	require.NoError(t, o.AddRule(rule))

	err := o.AddRule(rule)
	require.Error(t, err)
	var exists *kerrors.ErrRuleAlreadyExists
	assert.ErrorAs(t, err, &exists)
}

func TestRemoveRuleStopsFutureAlerts(t *testing.T) {
	o, rt, _, sink := newTestOrchestrator(t)
	require.NoError(t, rt.LoadTrusted(1, predicate.HasField(fieldExe), predicate.NewPatternCache()))
	require.NoError(t, o.AddRule(Rule{Meta: Meta{ID: 10, Name: "r"}, Kind: RuleSingleEvent, EventType: typeExec, PredicateID: 1}))

	require.NoError(t, o.RemoveRule(10))

	o.ProcessEvent(context.Background(), buildEvt(t, typeExec, 1, 1, 1000))
	assert.Equal(t, 0, sink.Len())
}

func TestRemoveRuleUnknownIDErrors(t *testing.T) {
	o, _, _, _ := newTestOrchestrator(t)
	err := o.RemoveRule(999)
	require.Error(t, err)
	var notFound *kerrors.ErrRuleNotFound
	assert.ErrorAs(t, err, &notFound)
}

func TestSequenceRuleRoutesThroughNFAEngine(t *testing.T) {
	o, rt, _, sink := newTestOrchestrator(t)
	require.NoError(t, rt.LoadTrusted(1, predicate.HasField(fieldExe), predicate.NewPatternCache()))
	require.NoError(t, rt.LoadTrusted(2, predicate.HasField(fieldExe), predicate.NewPatternCache()))

	def := nfa.NewSequenceDef(100, 20, fieldExe, []nfa.SeqStep{
		{EventType: typeExec, PredicateID: 1},
		{EventType: typeConnect, PredicateID: 2},
	}, 0, nfa.NoUntilStep)

	require.NoError(t, o.AddRule(Rule{Meta: Meta{ID: 20, Name: "exec-then-connect", Severity: "high"}, Kind: RuleSequence, Sequence: def}))

	ctx := context.Background()
	o.ProcessEvent(ctx, buildEvt(t, typeExec, 1, 1, 1000))
	o.ProcessEvent(ctx, buildEvt(t, typeConnect, 1, 2, 2000))

	require.Equal(t, 1, sink.Len())
	a := sink.Alerts()[0]
	assert.Equal(t, uint64(20), a.RuleID)
	assert.Equal(t, "exec-then-connect", a.RuleName)
	assert.Equal(t, []uint64{1, 2}, a.EventIDs)
}

func TestInvalidSequenceRuleRejectedAtAddTime(t *testing.T) {
	o, rt, _, _ := newTestOrchestrator(t)
	require.NoError(t, rt.LoadTrusted(1, predicate.HasField(fieldExe), predicate.NewPatternCache()))

	def := nfa.NewSequenceDef(101, 21, fieldExe, []nfa.SeqStep{
		{EventType: typeExec, PredicateID: 1},
	}, 0, 5) // until step out of range

	err := o.AddRule(Rule{Meta: Meta{ID: 21, Name: "bad"}, Kind: RuleSequence, Sequence: def})
	require.Error(t, err)
}

func TestRuntimeErrorDoesNotStopProcessing(t *testing.T) {
	o, _, _, sink := newTestOrchestrator(t)
	// No predicate loaded for id 1: every evaluation traps with LoadFailed,
	// which must degrade to "false" rather than abort.
	require.NoError(t, o.AddRule(Rule{Meta: Meta{ID: 10, Name: "r"}, Kind: RuleSingleEvent, EventType: typeExec, PredicateID: 1}))

	assert.NotPanics(t, func() {
		o.ProcessEvent(context.Background(), buildEvt(t, typeExec, 1, 1, 1000))
	})
	assert.Equal(t, 0, sink.Len())
	assert.NotEmpty(t, o.ErrorCounts())
}
