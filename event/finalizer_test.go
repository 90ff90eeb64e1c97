package event

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventStatusUpdate(t *testing.T) {
	tests := []struct {
		name     string
		current  EventStatus
		incoming EventStatus
		want     EventStatus
	}{
		{"dropped takes anything", StatusDropped, StatusDelivered, StatusDelivered},
		{"dropped identity on merge", StatusDelivered, StatusDropped, StatusDelivered},
		{"delivered upgraded to errored", StatusDelivered, StatusErrored, StatusErrored},
		{"errored upgraded to rejected", StatusErrored, StatusRejected, StatusRejected},
		{"rejected beats delivered", StatusRejected, StatusDelivered, StatusRejected},
		{"delivered loses to rejected", StatusDelivered, StatusRejected, StatusRejected},
		{"rejected is sticky", StatusRejected, StatusErrored, StatusRejected},
		{"same status unchanged", StatusErrored, StatusErrored, StatusErrored},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.current.Update(tt.incoming))
		})
	}
}

func TestBatchNotifierResolvesOnLastFinalizer(t *testing.T) {
	notifier, receiver := NewBatchNotifier()

	f1 := NewFinalizer(notifier)
	f2 := NewFinalizer(notifier)
	notifier.Close()

	_, resolved := receiver.TryRecv()
	require.False(t, resolved, "notifier must not resolve while finalizers are outstanding")

	f1.Update(StatusDelivered)
	f1.Done()

	_, resolved = receiver.TryRecv()
	require.False(t, resolved, "notifier must not resolve until the last finalizer is done")

	f2.Update(StatusDelivered)
	f2.Done()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := receiver.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, status)
}

func TestBatchNotifierWorstWins(t *testing.T) {
	// An event cloned to two sinks; one delivers, the other rejects. The
	// source must observe the rejection.
	notifier, receiver := NewBatchNotifier()

	ev := FromLog(NewLogEvent())
	ev.AddBatchNotifier(notifier)
	notifier.Close()

	clone := ev.Clone()

	ev.Finalize(StatusDelivered)
	_, resolved := receiver.TryRecv()
	require.False(t, resolved, "clone still outstanding")

	clone.Finalize(StatusRejected)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	status, err := receiver.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, status)
}

func TestBatchNotifierAllDropped(t *testing.T) {
	notifier, receiver := NewBatchNotifier()
	ev := FromLog(NewLogEvent())
	ev.AddBatchNotifier(notifier)
	notifier.Close()

	ev.Finalize(StatusDropped)

	status, resolved := receiver.TryRecv()
	require.True(t, resolved)
	assert.Equal(t, StatusDropped, status)
}

func TestFinalizerDoneIdempotent(t *testing.T) {
	notifier, receiver := NewBatchNotifier()
	f := NewFinalizer(notifier)
	notifier.Close()

	f.Update(StatusDelivered)
	f.Done()
	f.Done()
	f.Update(StatusRejected) // after Done, updates are ignored

	status, resolved := receiver.TryRecv()
	require.True(t, resolved)
	assert.Equal(t, StatusDelivered, status)
}

func TestFinalizeExactlyOncePerClone(t *testing.T) {
	notifier, receiver := NewBatchNotifier()
	batch := Batch{FromLog(NewLogEvent()), FromLog(NewLogEvent()), FromLog(NewLogEvent())}
	batch.AddBatchNotifier(notifier)
	notifier.Close()

	for _, ev := range batch {
		ev.Finalize(StatusDelivered)
	}

	status, resolved := receiver.TryRecv()
	require.True(t, resolved)
	assert.Equal(t, StatusDelivered, status)
}

func TestMetadataMergeUnionsFinalizers(t *testing.T) {
	n1, r1 := NewBatchNotifier()
	n2, r2 := NewBatchNotifier()

	a := FromLog(NewLogEvent())
	a.AddBatchNotifier(n1)
	n1.Close()
	b := FromLog(NewLogEvent())
	b.AddBatchNotifier(n2)
	n2.Close()

	a.Metadata().Merge(b.Metadata())
	require.Len(t, a.Metadata().Finalizers(), 2)
	require.Empty(t, b.Metadata().Finalizers(), "merge must move finalizers, not copy them")

	a.Finalize(StatusDelivered)

	for _, r := range []BatchStatusReceiver{r1, r2} {
		status, resolved := r.TryRecv()
		require.True(t, resolved)
		assert.Equal(t, StatusDelivered, status)
	}
}

func TestAwaitCancelled(t *testing.T) {
	notifier, receiver := NewBatchNotifier()
	_ = NewFinalizer(notifier) // never finished
	notifier.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := receiver.Await(ctx)
	require.Error(t, err)
}
