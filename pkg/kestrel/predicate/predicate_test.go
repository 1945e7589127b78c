package predicate

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kerrors"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

const (
	fieldExe  schema.FieldID = 1
	fieldArgc schema.FieldID = 2
)

func buildEvent(t *testing.T, exe string, argc int64) *kevent.Event {
	t.Helper()
	evt, err := kevent.NewBuilder(schema.EventTypeID(1)).
		WithTimestamps(1, 1).
		WithEntityKey(kevent.EntityKeyFromUint64(1)).
		WithEventID(1).
		Set(fieldExe, kevent.Str(exe)).
		Set(fieldArgc, kevent.I64(argc)).
		Build()
	require.NoError(t, err)
	return evt
}

func TestTrustedBackendEqAndAnd(t *testing.T) {
	rt := NewRuntime(Options{})
	patterns := NewPatternCache()

	tree := And(
		Eq(fieldExe, Value{Kind: ValueBytes, Bytes: []byte("/bin/sh")}),
		Ge(fieldArgc, Value{Kind: ValueI64, I64: 2}),
	)
	require.NoError(t, rt.LoadTrusted(1, tree, patterns))

	matched, _, err := rt.Evaluate(context.Background(), 1, buildEvent(t, "/bin/sh", 3))
	require.NoError(t, err)
	assert.True(t, matched)

	matched, _, err = rt.Evaluate(context.Background(), 1, buildEvent(t, "/bin/sh", 1))
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestRequiredFieldsCollectsLeaves(t *testing.T) {
	tree := Or(Eq(fieldExe, Value{Kind: ValueBytes}), HasField(fieldArgc))
	fields := RequiredFields(tree)
	assert.ElementsMatch(t, []schema.FieldID{fieldExe, fieldArgc}, fields)
}

func TestMissingFieldComparisonDefaultsFalseExceptNe(t *testing.T) {
	rt := NewRuntime(Options{})
	patterns := NewPatternCache()
	const absentField schema.FieldID = 99

	require.NoError(t, rt.LoadTrusted(1, Eq(absentField, Value{Kind: ValueI64, I64: 1}), patterns))
	matched, _, err := rt.Evaluate(context.Background(), 1, buildEvent(t, "/bin/sh", 1))
	require.NoError(t, err)
	assert.False(t, matched)

	require.NoError(t, rt.LoadTrusted(2, Ne(absentField, Value{Kind: ValueI64, I64: 1}), patterns))
	matched, _, err = rt.Evaluate(context.Background(), 2, buildEvent(t, "/bin/sh", 1))
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestGlobAndRegexMatch(t *testing.T) {
	patterns := NewPatternCache()
	globID, err := patterns.RegisterGlob("/bin/*")
	require.NoError(t, err)
	reID, err := patterns.RegisterRegex(`^/bin/s[hx]$`)
	require.NoError(t, err)

	rt := NewRuntime(Options{})
	require.NoError(t, rt.LoadTrusted(1, GlobMatch(fieldExe, globID), patterns))
	require.NoError(t, rt.LoadTrusted(2, ReMatch(fieldExe, reID), patterns))

	matched, _, err := rt.Evaluate(context.Background(), 1, buildEvent(t, "/bin/sh", 1))
	require.NoError(t, err)
	assert.True(t, matched)

	matched, _, err = rt.Evaluate(context.Background(), 2, buildEvent(t, "/bin/zsh", 1))
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestSandboxedEvaluationSameInputSameResult(t *testing.T) {
	rt := NewRuntime(Options{InstancePoolSize: 4, CPUBudget: 1000, InstanceTimeout: 20 * time.Millisecond})
	patterns := NewPatternCache()
	tree := Eq(fieldExe, Value{Kind: ValueBytes, Bytes: []byte("/bin/sh")})
	require.NoError(t, rt.LoadSandboxed(1, tree, patterns))

	evt := buildEvent(t, "/bin/sh", 1)
	for i := 0; i < 10; i++ {
		matched, _, err := rt.Evaluate(context.Background(), 1, evt)
		require.NoError(t, err)
		assert.True(t, matched)
	}
}

func TestSandboxedCPUBudgetExhaustion(t *testing.T) {
	rt := NewRuntime(Options{InstancePoolSize: 2, CPUBudget: 1, InstanceTimeout: 50 * time.Millisecond})
	patterns := NewPatternCache()
	// Three nodes (And + two Eq leaves) exceeds a budget of 1 instruction.
	tree := And(
		Eq(fieldExe, Value{Kind: ValueBytes, Bytes: []byte("/bin/sh")}),
		Eq(fieldArgc, Value{Kind: ValueI64, I64: 1}),
	)
	require.NoError(t, rt.LoadSandboxed(1, tree, patterns))

	_, _, err := rt.Evaluate(context.Background(), 1, buildEvent(t, "/bin/sh", 1))
	require.Error(t, err)
	var rtErr *kerrors.RuntimeError
	require.ErrorAs(t, err, &rtErr)
	assert.Equal(t, kerrors.RuntimeResourceExhausted, rtErr.Kind)
}

func TestEvaluateUnknownPredicateErrors(t *testing.T) {
	rt := NewRuntime(Options{})
	_, _, err := rt.Evaluate(context.Background(), 999, buildEvent(t, "/bin/sh", 1))
	require.Error(t, err)
}

func TestUnloadRemovesPredicate(t *testing.T) {
	rt := NewRuntime(Options{})
	patterns := NewPatternCache()
	require.NoError(t, rt.LoadTrusted(1, HasField(fieldExe), patterns))
	rt.Unload(1)

	_, _, err := rt.Evaluate(context.Background(), 1, buildEvent(t, "/bin/sh", 1))
	assert.Error(t, err)
}

func TestAlertEmitRecordsCaptures(t *testing.T) {
	rt := NewRuntime(Options{})
	patterns := NewPatternCache()

	tree := And(HasField(fieldExe), AlertEmit(fieldExe, fieldArgc))
	require.NoError(t, rt.LoadTrusted(1, tree, patterns))

	matched, alerts, err := rt.Evaluate(context.Background(), 1, buildEvent(t, "/bin/sh", 3))
	require.NoError(t, err)
	assert.True(t, matched)
	require.Len(t, alerts, 1)

	exe, ok := alerts[0].Captures[strconv.FormatUint(uint64(fieldExe), 10)]
	require.True(t, ok)
	s, ok := exe.AsString()
	require.True(t, ok)
	assert.Equal(t, "/bin/sh", s)

	assert.Equal(t, uint64(1), alerts[0].PredicateID)
}

func TestInstancePoolBoundsConcurrency(t *testing.T) {
	pool := newInstancePool(1)
	inst := pool.acquire()

	acquired := make(chan struct{})
	go func() {
		pool.acquire()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire should have blocked with pool size 1")
	case <-time.After(20 * time.Millisecond):
	}

	pool.release(inst)
	select {
	case <-acquired:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("acquire should have unblocked after release")
	}
}
