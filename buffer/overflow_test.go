package buffer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

func newTestChain(t *testing.T, primaryCap, secondaryCap int) (*Chain[event.Event], *Memory[event.Event], *Memory[event.Event]) {
	t.Helper()
	primary, err := NewMemory[event.Event](primaryCap)
	require.NoError(t, err)
	secondary, err := NewMemory[event.Event](secondaryCap)
	require.NoError(t, err)
	chain, err := NewChain[event.Event](primary, secondary)
	require.NoError(t, err)
	return chain, primary, secondary
}

func TestChainSpillsToSecondary(t *testing.T) {
	chain, primary, secondary := newTestChain(t, 1, 4)
	defer chain.Close()

	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, chain.Send(ctx, testEvent(t, msg)))
	}

	assert.Equal(t, 1, primary.Len())
	assert.Equal(t, 2, secondary.Len())
	assert.Equal(t, 3, chain.Len())
	assert.Equal(t, int64(2), chain.Stats().Overflows())
}

func TestChainRecvDrainsPrimaryFirst(t *testing.T) {
	chain, _, _ := newTestChain(t, 1, 4)
	defer chain.Close()

	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, chain.Send(ctx, testEvent(t, msg)))
	}

	got, err := chain.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", messageOf(t, got))

	// The primary has room again, so the next send lands there and jumps
	// ahead of the spilled items. Ordering is FIFO per buffer, not globally.
	require.NoError(t, chain.Send(ctx, testEvent(t, "d")))

	var order []string
	for i := 0; i < 3; i++ {
		got, err := chain.Recv(ctx)
		require.NoError(t, err)
		order = append(order, messageOf(t, got))
	}
	assert.Equal(t, []string{"d", "b", "c"}, order)
}

func TestChainSecondaryFullPropagates(t *testing.T) {
	chain, _, _ := newTestChain(t, 1, 1)
	defer chain.Close()

	require.NoError(t, chain.TrySend(testEvent(t, "a")))
	require.NoError(t, chain.TrySend(testEvent(t, "b")))
	err := chain.TrySend(testEvent(t, "c"))
	require.ErrorIs(t, err, errors.ErrBufferFull)
}

func TestChainRecvBlocksUntilSend(t *testing.T) {
	chain, _, _ := newTestChain(t, 2, 2)
	defer chain.Close()

	ctx := context.Background()
	got := make(chan event.Event, 1)
	go func() {
		item, err := chain.Recv(ctx)
		if err == nil {
			got <- item
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, chain.Send(ctx, testEvent(t, "late")))

	select {
	case item := <-got:
		assert.Equal(t, "late", messageOf(t, item))
	case <-time.After(time.Second):
		t.Fatal("blocked recv never received the item")
	}
}

func TestChainRecvCancellation(t *testing.T) {
	chain, _, _ := newTestChain(t, 1, 1)
	defer chain.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := chain.Recv(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChainCloseDrains(t *testing.T) {
	chain, _, _ := newTestChain(t, 1, 4)

	ctx := context.Background()
	require.NoError(t, chain.Send(ctx, testEvent(t, "a")))
	require.NoError(t, chain.Send(ctx, testEvent(t, "b")))
	require.NoError(t, chain.Close())

	err := chain.Send(ctx, testEvent(t, "late"))
	require.ErrorIs(t, err, errors.ErrBufferClosed)

	for _, want := range []string{"a", "b"} {
		got, err := chain.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, messageOf(t, got))
	}

	_, err = chain.Recv(ctx)
	require.ErrorIs(t, err, errors.ErrBufferClosed)
}

func TestChainStatisticsInvariant(t *testing.T) {
	chain, _, _ := newTestChain(t, 1, 8)
	defer chain.Close()

	ctx := context.Background()
	for i := 0; i < 6; i++ {
		require.NoError(t, chain.Send(ctx, testEvent(t, "x")))
	}
	for i := 0; i < 4; i++ {
		_, err := chain.Recv(ctx)
		require.NoError(t, err)
	}

	stats := chain.Stats()
	assert.Equal(t, int64(6), stats.EventsIn())
	assert.Equal(t, int64(4), stats.EventsOut())
	assert.Zero(t, stats.EventsIn()-stats.EventsOut()-stats.Depth())
}

func TestChainRequiresBothBuffers(t *testing.T) {
	primary, err := NewMemory[event.Event](1)
	require.NoError(t, err)
	_, err = NewChain[event.Event](primary, nil)
	require.Error(t, err)
}
