package kevent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

func TestBuilderSortsAndDedupesOnBuild(t *testing.T) {
	b := NewBuilder(1).
		WithTimestamps(1000, 2000).
		WithEntityKey(EntityKeyFromUint64(0xAAA)).
		WithEventID(7)

	b.Set(schema.FieldID(30), I64(3))
	b.Set(schema.FieldID(10), I64(1))
	b.Set(schema.FieldID(20), I64(2))

	evt, err := b.Build()
	require.NoError(t, err)

	ids := evt.FieldIDs()
	assert.Equal(t, []schema.FieldID{10, 20, 30}, ids)

	v, ok := evt.GetField(20)
	require.True(t, ok)
	i, ok := v.AsI64()
	require.True(t, ok)
	assert.Equal(t, int64(2), i)
}

func TestSetOverwritesRatherThanDuplicating(t *testing.T) {
	b := NewBuilder(1)
	b.Set(schema.FieldID(1), I64(1))
	b.Set(schema.FieldID(1), I64(2))

	evt, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 1, evt.NumFields())

	v, ok := evt.GetField(1)
	require.True(t, ok)
	i, _ := v.AsI64()
	assert.Equal(t, int64(2), i)
}

func TestGetFieldAbsent(t *testing.T) {
	evt, err := NewBuilder(1).Build()
	require.NoError(t, err)

	_, ok := evt.GetField(99)
	assert.False(t, ok)
	assert.False(t, evt.HasField(99))
}

func TestInlineVsOverflowStorage(t *testing.T) {
	b := NewBuilder(1)
	for i := 0; i < 20; i++ {
		b.Set(schema.FieldID(i), I64(int64(i)))
	}
	evt, err := b.Build()
	require.NoError(t, err)
	assert.Equal(t, 20, evt.NumFields())

	for i := 0; i < 20; i++ {
		v, ok := evt.GetField(schema.FieldID(i))
		require.True(t, ok)
		got, _ := v.AsI64()
		assert.Equal(t, int64(i), got)
	}
}

func TestCompareOrderTsMonoThenEventID(t *testing.T) {
	a, _ := NewBuilder(1).WithTimestamps(100, 0).WithEventID(2).Build()
	b, _ := NewBuilder(1).WithTimestamps(100, 0).WithEventID(3).Build()
	c, _ := NewBuilder(1).WithTimestamps(200, 0).WithEventID(1).Build()

	assert.True(t, CompareOrder(a, b))
	assert.False(t, CompareOrder(b, a))
	assert.True(t, CompareOrder(b, c))
}

func TestEmptyFieldListNoPanic(t *testing.T) {
	evt, err := NewBuilder(1).Build()
	require.NoError(t, err)
	assert.Equal(t, 0, evt.NumFields())
	v, ok := evt.GetField(1)
	assert.False(t, ok)
	assert.True(t, v.IsNull())
}

func TestEntityKeyFromUint64RoundTrip(t *testing.T) {
	k := EntityKeyFromUint64(0xDEADBEEF)
	assert.False(t, k.IsZero())
	assert.NotEmpty(t, k.String())
}
