package nfa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/predicate"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

const (
	typeExec    = schema.EventTypeID(1)
	typeConnect = schema.EventTypeID(2)
	typeExit    = schema.EventTypeID(3)

	fieldExe schema.FieldID = 1
)

func buildEvt(t *testing.T, eventType schema.EventTypeID, entity uint64, id uint64, tsMono int64, exe string) *kevent.Event {
	t.Helper()
	b := kevent.NewBuilder(eventType).
		WithTimestamps(tsMono, tsMono).
		WithEntityKey(kevent.EntityKeyFromUint64(entity)).
		WithEventID(id)
	if exe != "" {
		b.Set(fieldExe, kevent.Str(exe))
	}
	evt, err := b.Build()
	require.NoError(t, err)
	return evt
}

// alwaysTruePredicate loads a trivially-true predicate on id for test setup.
func alwaysTruePredicate(t *testing.T, rt *predicate.Runtime, id uint64) {
	t.Helper()
	require.NoError(t, rt.LoadTrusted(id, predicate.HasField(fieldExe), predicate.NewPatternCache()))
}

func newTestEngine() (*Engine, *predicate.Runtime) {
	rt := predicate.NewRuntime(predicate.Options{})
	store := NewStore(4, 10, 100)
	engine := NewEngine(rt, store, NewBudgetTracker(0, 0), nil)
	return engine, rt
}

func TestSequenceCompletesInOrder(t *testing.T) {
	engine, rt := newTestEngine()
	alwaysTruePredicate(t, rt, 1)
	alwaysTruePredicate(t, rt, 2)

	def := NewSequenceDef(100, 1, fieldExe, []SeqStep{
		{EventType: typeExec, PredicateID: 1},
		{EventType: typeConnect, PredicateID: 2},
	}, 0, NoUntilStep)
	engine.LoadSequence(def)

	ctx := context.Background()
	alerts := engine.Process(ctx, buildEvt(t, typeExec, 1, 1, 1, "/bin/sh"))
	assert.Empty(t, alerts)

	alerts = engine.Process(ctx, buildEvt(t, typeConnect, 1, 2, 2, "/bin/sh"))
	require.Len(t, alerts, 1)
	assert.Equal(t, uint64(100), alerts[0].SequenceID)
	assert.Equal(t, []uint64{1, 2}, alerts[0].EventIDs)
}

func TestOutOfOrderEventsDoNotCreateSpuriousMatches(t *testing.T) {
	engine, rt := newTestEngine()
	alwaysTruePredicate(t, rt, 1)
	alwaysTruePredicate(t, rt, 2)

	def := NewSequenceDef(101, 1, fieldExe, []SeqStep{
		{EventType: typeExec, PredicateID: 1},
		{EventType: typeConnect, PredicateID: 2},
	}, 0, NoUntilStep)
	engine.LoadSequence(def)

	ctx := context.Background()
	// Connect arrives before exec: s_expected is 0, but connect is step 1 — skipped.
	alerts := engine.Process(ctx, buildEvt(t, typeConnect, 1, 1, 1, "/bin/sh"))
	assert.Empty(t, alerts)

	_, found := engine.store.MaxNonTerminatedState(101, kevent.EntityKeyFromUint64(1), 1)
	assert.False(t, found)
}

func TestEntityIsolation(t *testing.T) {
	engine, rt := newTestEngine()
	alwaysTruePredicate(t, rt, 1)
	alwaysTruePredicate(t, rt, 2)

	def := NewSequenceDef(102, 1, fieldExe, []SeqStep{
		{EventType: typeExec, PredicateID: 1},
		{EventType: typeConnect, PredicateID: 2},
	}, 0, NoUntilStep)
	engine.LoadSequence(def)

	ctx := context.Background()
	engine.Process(ctx, buildEvt(t, typeExec, 1, 1, 1, "/bin/sh"))

	// A different entity's connect event must not advance entity 1's match.
	alerts := engine.Process(ctx, buildEvt(t, typeConnect, 2, 2, 2, "/bin/sh"))
	assert.Empty(t, alerts)
}

func TestWindowExpiryPreventsLateAdvance(t *testing.T) {
	engine, rt := newTestEngine()
	alwaysTruePredicate(t, rt, 1)
	alwaysTruePredicate(t, rt, 2)

	const maxSpanNs = int64(10)
	def := NewSequenceDef(103, 1, fieldExe, []SeqStep{
		{EventType: typeExec, PredicateID: 1},
		{EventType: typeConnect, PredicateID: 2},
	}, maxSpanNs, NoUntilStep)
	engine.LoadSequence(def)

	ctx := context.Background()
	engine.Process(ctx, buildEvt(t, typeExec, 1, 1, 100, "/bin/sh"))

	// Arrives after the window closed (100+10=110).
	alerts := engine.Process(ctx, buildEvt(t, typeConnect, 1, 2, 500, "/bin/sh"))
	assert.Empty(t, alerts)
}

func TestUntilStepTerminatesWithoutEmitting(t *testing.T) {
	engine, rt := newTestEngine()
	alwaysTruePredicate(t, rt, 1)
	alwaysTruePredicate(t, rt, 2)
	alwaysTruePredicate(t, rt, 3)

	def := NewSequenceDef(104, 1, fieldExe, []SeqStep{
		{EventType: typeExec, PredicateID: 1},
		{EventType: typeExit, PredicateID: 3}, // until step
		{EventType: typeConnect, PredicateID: 2},
	}, 0, 1)
	engine.LoadSequence(def)

	ctx := context.Background()
	engine.Process(ctx, buildEvt(t, typeExec, 1, 1, 1, "/bin/sh"))
	alerts := engine.Process(ctx, buildEvt(t, typeExit, 1, 2, 2, "/bin/sh"))
	assert.Empty(t, alerts)

	// Even if connect arrives afterward, the match was terminated, so
	// s_expected resets to 0; connect is step 1, so it is skipped and
	// neither resumes the old match nor starts a new one.
	alerts = engine.Process(ctx, buildEvt(t, typeConnect, 1, 3, 3, "/bin/sh"))
	assert.Empty(t, alerts)
}

func TestMatchedAtNsIsCompletingEventTimestamp(t *testing.T) {
	engine, rt := newTestEngine()
	alwaysTruePredicate(t, rt, 1)
	alwaysTruePredicate(t, rt, 2)
	alwaysTruePredicate(t, rt, 3)

	def := NewSequenceDef(105, 1, fieldExe, []SeqStep{
		{EventType: typeExec, PredicateID: 1},
		{EventType: typeConnect, PredicateID: 2},
		{EventType: typeExit, PredicateID: 3},
	}, 0, NoUntilStep)
	engine.LoadSequence(def)

	ctx := context.Background()
	alerts := engine.Process(ctx, buildEvt(t, typeExec, 1, 1, 1000, "/bin/sh"))
	assert.Empty(t, alerts)

	alerts = engine.Process(ctx, buildEvt(t, typeConnect, 1, 2, 2000, "/bin/sh"))
	assert.Empty(t, alerts)

	alerts = engine.Process(ctx, buildEvt(t, typeExit, 1, 3, 3000, "/bin/sh"))
	require.Len(t, alerts, 1)
	assert.Equal(t, int64(3000), alerts[0].MatchedAtNs, "MatchedAtNs must be the completing event's timestamp, not the sequence's start")
}

func TestBudgetTrackerShedsAfterQuotaCrossed(t *testing.T) {
	rt := predicate.NewRuntime(predicate.Options{})
	store := NewStore(4, 10, 100)
	budget := NewBudgetTracker(1, 0) // one evaluation per second
	engine := NewEngine(rt, store, budget, nil)

	alwaysTruePredicate(t, rt, 1)
	alwaysTruePredicate(t, rt, 2)

	def := NewSequenceDef(106, 1, fieldExe, []SeqStep{
		{EventType: typeExec, PredicateID: 1},
		{EventType: typeConnect, PredicateID: 2},
	}, 0, NoUntilStep)
	engine.LoadSequence(def)

	ctx := context.Background()
	// First exec spends the sequence's sole evaluation for this window.
	alerts := engine.Process(ctx, buildEvt(t, typeExec, 1, 1, 1, "/bin/sh"))
	assert.Empty(t, alerts)

	// The quota is now exhausted, so a second entity's exec within the
	// same one-second window must be shed before it ever reaches the
	// predicate runtime or the store.
	alerts = engine.Process(ctx, buildEvt(t, typeExec, 2, 2, 2, "/bin/sh"))
	assert.Empty(t, alerts)
	_, found := engine.store.MaxNonTerminatedState(106, kevent.EntityKeyFromUint64(2), 2)
	assert.False(t, found, "shed evaluation must not create a partial match")
}

func TestStoreQuotaEvictsLeastRecentlyTouched(t *testing.T) {
	store := NewStore(1, 1, 0)
	entity := kevent.EntityKeyFromUint64(1)

	store.Create(&PartialMatch{SequenceID: 1, EntityKey: entity, CurrentState: 0, LastTouchNs: 1, ExpiresAtNs: NoExpiry})
	store.Create(&PartialMatch{SequenceID: 1, EntityKey: entity, CurrentState: 1, LastTouchNs: 2, ExpiresAtNs: NoExpiry})

	_, ok := store.Get(1, entity, 0)
	assert.False(t, ok, "oldest match should have been evicted under per-entity quota of 1")
	_, ok = store.Get(1, entity, 1)
	assert.True(t, ok)

	counters := store.Counters()
	assert.Equal(t, uint64(1), counters[EvictionLRU])
}

func TestReapExpiredRemovesOnlyClosedWindows(t *testing.T) {
	store := NewStore(1, 0, 0)
	entity := kevent.EntityKeyFromUint64(1)

	store.Create(&PartialMatch{SequenceID: 1, EntityKey: entity, CurrentState: 0, ExpiresAtNs: 100})
	store.Create(&PartialMatch{SequenceID: 1, EntityKey: entity, CurrentState: 1, ExpiresAtNs: NoExpiry})

	store.ReapExpired(1, entity, 200)

	_, ok := store.Get(1, entity, 0)
	assert.False(t, ok)
	_, ok = store.Get(1, entity, 1)
	assert.True(t, ok)
}
