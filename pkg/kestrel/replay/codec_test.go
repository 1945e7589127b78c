package replay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

const (
	typeExec schema.EventTypeID = 1
	fieldExe schema.FieldID     = 1
	fieldPID schema.FieldID     = 2
)

func buildTestEvent(t *testing.T, id uint64, tsMono int64) *kevent.Event {
	t.Helper()
	evt, err := kevent.NewBuilder(typeExec).
		WithTimestamps(tsMono, tsMono+1).
		WithEntityKey(kevent.EntityKeyFromUint64(7)).
		WithEventID(id).
		Set(fieldExe, kevent.Str("/bin/sh")).
		Set(fieldPID, kevent.I64(4242)).
		Build()
	require.NoError(t, err)
	return evt
}

func TestEncodeDecodeEventRoundTrip(t *testing.T) {
	evt := buildTestEvent(t, 99, 1000)

	body := encodeEvent(evt)
	got, err := decodeEvent(body, 0)
	require.NoError(t, err)

	assert.Equal(t, evt.EventType(), got.EventType())
	assert.Equal(t, evt.TSMono(), got.TSMono())
	assert.Equal(t, evt.TSWall(), got.TSWall())
	assert.Equal(t, evt.EntityKey(), got.EntityKey())
	assert.Equal(t, evt.ID(), got.ID())

	exe, ok := got.GetField(fieldExe)
	require.True(t, ok)
	s, ok := exe.AsString()
	require.True(t, ok)
	assert.Equal(t, "/bin/sh", s)

	pid, ok := got.GetField(fieldPID)
	require.True(t, ok)
	i, ok := pid.AsI64()
	require.True(t, ok)
	assert.Equal(t, int64(4242), i)
}

func TestDecodeEventOverridesZeroID(t *testing.T) {
	evt := buildTestEvent(t, 0, 1000)
	body := encodeEvent(evt)

	got, err := decodeEvent(body, 55)
	require.NoError(t, err)
	assert.Equal(t, uint64(55), got.ID())
}

func TestDecodeEventTruncatedFails(t *testing.T) {
	evt := buildTestEvent(t, 1, 1000)
	body := encodeEvent(evt)

	_, err := decodeEvent(body[:len(body)-3], 0)
	assert.Error(t, err)
}
