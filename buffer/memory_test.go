package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
	"github.com/c360/eventflow/event/path"
)

var messagePath = path.MustParse(".message")

func testEvent(t *testing.T, msg string) event.Event {
	t.Helper()
	log := event.NewLogEvent()
	require.NoError(t, log.Insert(messagePath, event.String(msg)))
	return event.FromLog(log)
}

func messageOf(t *testing.T, e event.Event) string {
	t.Helper()
	log, ok := e.AsLog()
	require.True(t, ok)
	msg, ok := log.GetString(messagePath)
	require.True(t, ok)
	return msg
}

func TestMemorySendRecvFIFO(t *testing.T) {
	buf, err := NewMemory[event.Event](4)
	require.NoError(t, err)
	defer buf.Close()

	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, buf.Send(ctx, testEvent(t, msg)))
	}
	require.Equal(t, 3, buf.Len())

	for _, want := range []string{"a", "b", "c"} {
		got, err := buf.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, messageOf(t, got))
	}
	assert.Equal(t, 0, buf.Len())
}

func TestMemoryBlockPolicyCancellation(t *testing.T) {
	buf, err := NewMemory[event.Event](1)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.Send(context.Background(), testEvent(t, "first")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = buf.Send(ctx, testEvent(t, "second"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBlockPolicyUnblocksOnRecv(t *testing.T) {
	buf, err := NewMemory[event.Event](1)
	require.NoError(t, err)
	defer buf.Close()

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, testEvent(t, "first")))

	sent := make(chan error, 1)
	go func() {
		sent <- buf.Send(ctx, testEvent(t, "second"))
	}()

	time.Sleep(10 * time.Millisecond)
	got, err := buf.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "first", messageOf(t, got))

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked send never completed")
	}

	got, err = buf.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", messageOf(t, got))
}

func TestMemoryTrySendFull(t *testing.T) {
	buf, err := NewMemory[event.Event](1)
	require.NoError(t, err)
	defer buf.Close()

	require.NoError(t, buf.TrySend(testEvent(t, "first")))
	err = buf.TrySend(testEvent(t, "second"))
	require.ErrorIs(t, err, errors.ErrBufferFull)
}

func TestMemoryDropNewest(t *testing.T) {
	buf, err := NewMemory[event.Event](1, WithPolicy[event.Event](DropNewest))
	require.NoError(t, err)
	defer buf.Close()

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, testEvent(t, "kept")))

	notifier, receiver := event.NewBatchNotifier()
	dropped := testEvent(t, "dropped")
	dropped.AddBatchNotifier(notifier)
	notifier.Close()

	require.NoError(t, buf.Send(ctx, dropped))

	status, ok := receiver.TryRecv()
	require.True(t, ok, "dropped item should have resolved finalizers")
	assert.Equal(t, event.StatusDropped, status)

	assert.Equal(t, int64(1), buf.Stats().Dropped())
	assert.Equal(t, 1, buf.Len())

	got, err := buf.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kept", messageOf(t, got))
}

func TestMemoryOverflowPolicyRejected(t *testing.T) {
	_, err := NewMemory[event.Event](1, WithPolicy[event.Event](Overflow))
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}

func TestMemoryCloseDrains(t *testing.T) {
	buf, err := NewMemory[event.Event](4)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, testEvent(t, "a")))
	require.NoError(t, buf.Send(ctx, testEvent(t, "b")))
	require.NoError(t, buf.Close())

	err = buf.Send(ctx, testEvent(t, "late"))
	require.ErrorIs(t, err, errors.ErrBufferClosed)

	for _, want := range []string{"a", "b"} {
		got, err := buf.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, messageOf(t, got))
	}

	_, err = buf.Recv(ctx)
	require.ErrorIs(t, err, errors.ErrBufferClosed)
}

func TestMemoryCloseReleasesBlockedRecv(t *testing.T) {
	buf, err := NewMemory[event.Event](1)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := buf.Recv(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, buf.Close())

	select {
	case err := <-done:
		require.ErrorIs(t, err, errors.ErrBufferClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked recv never released")
	}
}

func TestMemoryStatisticsInvariant(t *testing.T) {
	buf, err := NewMemory[event.Event](8)
	require.NoError(t, err)
	defer buf.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, buf.Send(ctx, testEvent(t, "x")))
	}
	for i := 0; i < 3; i++ {
		_, err := buf.Recv(ctx)
		require.NoError(t, err)
	}

	stats := buf.Stats()
	assert.Equal(t, int64(5), stats.EventsIn())
	assert.Equal(t, int64(3), stats.EventsOut())
	assert.Equal(t, int64(2), stats.Depth())
	assert.Equal(t, int64(5), stats.MaxDepth())
	assert.Zero(t, stats.EventsIn()-stats.EventsOut()-stats.Depth())
}

func TestMemoryTryRecvEmpty(t *testing.T) {
	buf, err := NewMemory[event.Event](1)
	require.NoError(t, err)
	defer buf.Close()

	_, ok := buf.TryRecv()
	assert.False(t, ok)
}

func TestMemoryInvalidCapacity(t *testing.T) {
	_, err := NewMemory[event.Event](0)
	require.Error(t, err)
	assert.True(t, errors.IsKind(err, errors.KindConfiguration))
}
