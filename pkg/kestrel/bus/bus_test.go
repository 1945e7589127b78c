package bus

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-edr/kestrel/pkg/kestrel/kerrors"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/kevent"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/observability"
	"github.com/kestrel-edr/kestrel/pkg/kestrel/schema"
)

// recordingMetrics is a minimal observability.MetricsRecorder fake that
// counts backpressure-wait calls and records their reported durations.
type recordingMetrics struct {
	observability.NoopMetrics

	mu        sync.Mutex
	waitCalls atomic.Int64
	waitMs    []float64
}

func (m *recordingMetrics) RecordBackpressureWait(_ context.Context, _ int, waitMs float64) {
	m.waitCalls.Add(1)
	m.mu.Lock()
	m.waitMs = append(m.waitMs, waitMs)
	m.mu.Unlock()
}

func mustEvent(t *testing.T, entity uint64, id uint64) *kevent.Event {
	t.Helper()
	b := kevent.NewBuilder(schema.EventTypeID(1)).
		WithTimestamps(int64(id), int64(id)).
		WithEntityKey(kevent.EntityKeyFromUint64(entity)).
		WithEventID(id)
	evt, err := b.Build()
	require.NoError(t, err)
	return evt
}

func TestSameEntityAlwaysSamePartition(t *testing.T) {
	b := New(Config{Partitions: 8})
	defer b.Close()

	var firstPartition = -1
	for i := uint64(0); i < 50; i++ {
		evt := mustEvent(t, 42, i+1)
		p, err := b.partitionFor(evt)
		require.NoError(t, err)
		if firstPartition == -1 {
			firstPartition = p.id
		}
		assert.Equal(t, firstPartition, p.id)
	}
}

func TestPublishOrderPreservedWithinPartition(t *testing.T) {
	b := New(Config{Partitions: 1, ChannelSize: 16, BatchSize: 4, CoalesceDelay: 5 * time.Millisecond})
	defer b.Close()

	ch, err := b.Subscribe(0)
	require.NoError(t, err)

	ctx := context.Background()
	for i := uint64(1); i <= 10; i++ {
		require.NoError(t, b.Publish(ctx, mustEvent(t, 1, i)))
	}

	var got []uint64
	for len(got) < 10 {
		batch := <-ch
		for _, e := range batch {
			got = append(got, e.ID())
		}
	}
	for i, id := range got {
		assert.Equal(t, uint64(i+1), id)
	}
}

func TestTryPublishReturnsFullWhenSaturated(t *testing.T) {
	// BatchSize 1 means every event immediately attempts to flush into the
	// fixed-size output buffer; with no subscriber draining it, the batch
	// loop eventually blocks inside that send and stops reading its input
	// channel, so publishes genuinely back up.
	b := New(Config{Partitions: 1, ChannelSize: 1, BatchSize: 1, CoalesceDelay: time.Millisecond})
	defer b.Close()

	// Drive blocking publishes, with a short per-call deadline, until one
	// times out — proof the partition is saturated and its consumer is
	// stuck.
	var id uint64
	saturated := false
	for i := 0; i < 64; i++ {
		id++
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := b.Publish(ctx, mustEvent(t, 1, id))
		cancel()
		if err != nil {
			saturated = true
			break
		}
	}
	require.True(t, saturated, "expected partition to saturate within 64 publishes")

	err := b.TryPublish(mustEvent(t, 1, id+1))
	require.Error(t, err)
	var full *kerrors.ErrFull
	assert.ErrorAs(t, err, &full)
}

func TestTryPublishReturnsClosedAfterClose(t *testing.T) {
	b := New(Config{Partitions: 2})
	require.NoError(t, b.Close())

	err := b.TryPublish(mustEvent(t, 1, 1))
	var closedErr *kerrors.ErrClosed
	assert.ErrorAs(t, err, &closedErr)
}

func TestPublishReturnsErrorAfterClose(t *testing.T) {
	b := New(Config{Partitions: 1, ChannelSize: 0})
	require.NoError(t, b.Close())

	err := b.Publish(context.Background(), mustEvent(t, 1, 1))
	assert.Error(t, err)
}

func TestSubscribeInvalidPartition(t *testing.T) {
	b := New(Config{Partitions: 4})
	defer b.Close()

	_, err := b.Subscribe(4)
	var invalid *kerrors.ErrInvalidPartition
	assert.ErrorAs(t, err, &invalid)
}

func TestCoalesceDelayFlushesPartialBatch(t *testing.T) {
	b := New(Config{Partitions: 1, ChannelSize: 16, BatchSize: 100, CoalesceDelay: 10 * time.Millisecond})
	defer b.Close()

	ch, err := b.Subscribe(0)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), mustEvent(t, 1, 1)))

	select {
	case batch := <-ch:
		assert.Len(t, batch, 1)
	case <-time.After(200 * time.Millisecond):
		t.Fatal("expected coalesce delay to flush partial batch")
	}
}

func TestPublishRecordsBackpressureWaitWhenBlocked(t *testing.T) {
	// Same saturation setup as TestTryPublishReturnsFullWhenSaturated: with
	// no subscriber draining, the partition's output buffer (size 4) and
	// its single-slot input queue both fill, forcing Publish to block.
	metrics := &recordingMetrics{}
	b := New(Config{Partitions: 1, ChannelSize: 1, BatchSize: 1, CoalesceDelay: time.Millisecond, Metrics: metrics})
	defer b.Close()

	var id uint64
	saturated := false
	for i := 0; i < 64; i++ {
		id++
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		err := b.Publish(ctx, mustEvent(t, 1, id))
		cancel()
		if err != nil {
			saturated = true
			break
		}
	}
	require.True(t, saturated, "expected partition to saturate within 64 publishes")
	assert.GreaterOrEqual(t, metrics.waitCalls.Load(), int64(1))
}

func TestCloseDrainsPendingAndClosesOutput(t *testing.T) {
	b := New(Config{Partitions: 1, ChannelSize: 16, BatchSize: 100, CoalesceDelay: time.Hour})

	ch, err := b.Subscribe(0)
	require.NoError(t, err)

	require.NoError(t, b.Publish(context.Background(), mustEvent(t, 1, 1)))
	require.NoError(t, b.Close())

	batch, ok := <-ch
	require.True(t, ok)
	assert.Len(t, batch, 1)

	_, ok = <-ch
	assert.False(t, ok)
}
