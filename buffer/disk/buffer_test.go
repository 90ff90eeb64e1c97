package disk

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/eventflow/buffer"
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

func testConfig(t *testing.T) Config {
	t.Helper()
	return Config{
		Dir:           t.TempDir(),
		MaxBufferSize: 1 << 20,
	}
}

func openTestBuffer(t *testing.T, cfg Config) *Buffer[event.Event] {
	t.Helper()
	buf, err := New[event.Event](cfg, EventCodec{})
	require.NoError(t, err)
	return buf
}

func TestDiskBufferRoundTrip(t *testing.T) {
	buf := openTestBuffer(t, testConfig(t))
	defer buf.Close()

	ctx := context.Background()
	want := testEvent(t, "hello")
	require.NoError(t, buf.Send(ctx, want))

	got, err := buf.Recv(ctx)
	require.NoError(t, err)
	assert.True(t, want.Equal(got), "event should survive the disk round trip")
}

func TestDiskBufferFIFO(t *testing.T) {
	buf := openTestBuffer(t, testConfig(t))
	defer buf.Close()

	ctx := context.Background()
	msgs := []string{"a", "b", "c", "d"}
	for _, msg := range msgs {
		require.NoError(t, buf.Send(ctx, testEvent(t, msg)))
	}
	for _, want := range msgs {
		got, err := buf.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, messageOf(t, got))
	}
}

func TestDiskBufferSendResolvesUpstream(t *testing.T) {
	buf := openTestBuffer(t, testConfig(t))
	defer buf.Close()

	notifier, receiver := event.NewBatchNotifier()
	e := testEvent(t, "durable")
	e.AddBatchNotifier(notifier)
	notifier.Close()

	require.NoError(t, buf.Send(context.Background(), e))

	status, ok := receiver.TryRecv()
	require.True(t, ok, "finalizers should resolve once the record is persisted")
	assert.Equal(t, event.StatusDelivered, status)
}

func TestDiskBufferAckDecrementsCounts(t *testing.T) {
	buf := openTestBuffer(t, testConfig(t))
	defer buf.Close()

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, testEvent(t, "a")))
	require.NoError(t, buf.Send(ctx, testEvent(t, "b")))
	require.Equal(t, 2, buf.Len())

	got, err := buf.Recv(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, buf.Len(), "unacknowledged records stay counted")

	got.Finalize(event.StatusDelivered)
	require.Eventually(t, func() bool { return buf.Len() == 1 },
		time.Second, 5*time.Millisecond)
}

func TestDiskBufferReopenResumesQueue(t *testing.T) {
	cfg := testConfig(t)
	buf := openTestBuffer(t, cfg)

	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, buf.Send(ctx, testEvent(t, msg)))
	}
	for i := 0; i < 2; i++ {
		got, err := buf.Recv(ctx)
		require.NoError(t, err)
		got.Finalize(event.StatusDelivered)
	}
	require.Eventually(t, func() bool { return buf.Len() == 3 },
		time.Second, 5*time.Millisecond)
	require.NoError(t, buf.Close())

	reopened := openTestBuffer(t, cfg)
	defer reopened.Close()
	require.Equal(t, 3, reopened.Len())

	for _, want := range []string{"c", "d", "e"} {
		got, err := reopened.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, messageOf(t, got))
	}
}

func TestDiskBufferReopenAfterUnackedReads(t *testing.T) {
	cfg := testConfig(t)
	buf := openTestBuffer(t, cfg)

	ctx := context.Background()
	for _, msg := range []string{"a", "b", "c"} {
		require.NoError(t, buf.Send(ctx, testEvent(t, msg)))
	}
	// Read two records without resolving their finalizers, as a consumer
	// that dies mid-flight would.
	for i := 0; i < 2; i++ {
		_, err := buf.Recv(ctx)
		require.NoError(t, err)
	}
	require.NoError(t, buf.Close())

	reopened := openTestBuffer(t, cfg)
	defer reopened.Close()
	require.Equal(t, 1, reopened.Len(), "records read before the restart are not redelivered")

	got, err := reopened.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "c", messageOf(t, got))
	got.Finalize(event.StatusDelivered)

	require.Eventually(t, func() bool {
		return reopened.Len() == 0 && reopened.ledger.totalBufferSize.Load() == 0
	}, time.Second, 5*time.Millisecond, "draining the queue should return the full byte budget")
}

func TestDiskBufferSegmentRotation(t *testing.T) {
	cfg := testConfig(t)
	body, err := testEvent(t, "sizer").Encode()
	require.NoError(t, err)
	recordSize := recordDiskSize(len(body))
	// Room for two records per segment.
	cfg.MaxSegmentSize = recordSize*2 + recordSize/2
	cfg.MaxRecordSize = recordSize * 2

	buf := openTestBuffer(t, cfg)
	defer buf.Close()

	ctx := context.Background()
	msgs := []string{"11111", "22222", "33333", "44444", "55555"}
	for _, msg := range msgs {
		require.NoError(t, buf.Send(ctx, testEvent(t, msg)))
	}

	assert.Greater(t, buf.ledger.writerFileID(), uint16(0), "writer should have rotated")
	_, err = os.Stat(filepath.Join(cfg.Dir, "buffer-data-00001.dat"))
	require.NoError(t, err)

	for _, want := range msgs {
		got, err := buf.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, messageOf(t, got))
		got.Finalize(event.StatusDelivered)
	}

	// Consumed segments are removed once the reader moves past them.
	_, err = os.Stat(filepath.Join(cfg.Dir, "buffer-data-00000.dat"))
	assert.True(t, os.IsNotExist(err))
}

func TestDiskBufferRecordTooLarge(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxRecordSize = 16

	buf := openTestBuffer(t, cfg)
	defer buf.Close()

	err := buf.Send(context.Background(), testEvent(t, "way too large for sixteen bytes"))
	require.ErrorIs(t, err, errors.ErrRecordTooLarge)
}

func TestDiskBufferTrySendFull(t *testing.T) {
	cfg := testConfig(t)
	body, err := testEvent(t, "sizer").Encode()
	require.NoError(t, err)
	cfg.MaxBufferSize = recordDiskSize(len(body)) + 4

	buf := openTestBuffer(t, cfg)
	defer buf.Close()

	require.NoError(t, buf.TrySend(testEvent(t, "first")))
	err = buf.TrySend(testEvent(t, "extra"))
	require.ErrorIs(t, err, errors.ErrBufferFull)
}

func TestDiskBufferBlockedSendUnblocksOnAck(t *testing.T) {
	cfg := testConfig(t)
	body, err := testEvent(t, "sizer").Encode()
	require.NoError(t, err)
	cfg.MaxBufferSize = recordDiskSize(len(body)) + 4

	buf := openTestBuffer(t, cfg)
	defer buf.Close()

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, testEvent(t, "first")))

	sent := make(chan error, 1)
	go func() {
		sent <- buf.Send(ctx, testEvent(t, "blockd"))
	}()

	time.Sleep(20 * time.Millisecond)
	select {
	case err := <-sent:
		t.Fatalf("send should have blocked, got %v", err)
	default:
	}

	got, err := buf.Recv(ctx)
	require.NoError(t, err)
	got.Finalize(event.StatusDelivered)

	select {
	case err := <-sent:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("blocked send never completed after acknowledgement")
	}
}

func TestDiskBufferDirectoryLock(t *testing.T) {
	cfg := testConfig(t)
	buf := openTestBuffer(t, cfg)
	defer buf.Close()

	_, err := New[event.Event](cfg, EventCodec{})
	require.ErrorIs(t, err, errors.ErrBufferLocked)
}

func TestDiskBufferCorruptRecordSkipped(t *testing.T) {
	cfg := testConfig(t)
	buf := openTestBuffer(t, cfg)

	ctx := context.Background()
	for _, msg := range []string{"aaaa", "bbbb", "cccc"} {
		require.NoError(t, buf.Send(ctx, testEvent(t, msg)))
	}
	require.NoError(t, buf.Close())

	// Flip a byte in the middle record's body.
	segPath := filepath.Join(cfg.Dir, "buffer-data-00000.dat")
	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	body, err := testEvent(t, "aaaa").Encode()
	require.NoError(t, err)
	offset := int(recordDiskSize(len(body))) + recordLenSize + recordHeaderSize + 4
	data[offset] ^= 0xff
	require.NoError(t, os.WriteFile(segPath, data, 0o644))

	reopened := openTestBuffer(t, cfg)
	defer reopened.Close()

	got, err := reopened.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "aaaa", messageOf(t, got))

	got, err = reopened.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "cccc", messageOf(t, got), "corrupt record should be skipped")
}

func TestDiskBufferTruncatedTailRecovered(t *testing.T) {
	cfg := testConfig(t)
	buf := openTestBuffer(t, cfg)

	ctx := context.Background()
	require.NoError(t, buf.Send(ctx, testEvent(t, "kept")))
	require.NoError(t, buf.Send(ctx, testEvent(t, "torn")))
	require.NoError(t, buf.Close())

	// Chop the last record in half to simulate a crash mid-write.
	segPath := filepath.Join(cfg.Dir, "buffer-data-00000.dat")
	data, err := os.ReadFile(segPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(segPath, data[:len(data)-7], 0o644))

	reopened := openTestBuffer(t, cfg)
	defer reopened.Close()

	got, err := reopened.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "kept", messageOf(t, got))

	_, ok := reopened.TryRecv()
	assert.False(t, ok, "the torn record should have been truncated away")
}

func TestDiskBufferTryRecvEmpty(t *testing.T) {
	buf := openTestBuffer(t, testConfig(t))
	defer buf.Close()

	_, ok := buf.TryRecv()
	assert.False(t, ok)
}

func TestDiskSecondaryOverflowPreservesOrder(t *testing.T) {
	primary, err := buffer.NewMemory[event.Event](2)
	require.NoError(t, err)
	secondary := openTestBuffer(t, testConfig(t))
	chain, err := buffer.NewChain[event.Event](primary, secondary)
	require.NoError(t, err)
	defer chain.Close()

	ctx := context.Background()
	msgs := []string{"1", "2", "3", "4", "5", "6", "7", "8"}
	for _, msg := range msgs {
		require.NoError(t, chain.Send(ctx, testEvent(t, msg)))
	}
	assert.Equal(t, 2, primary.Len())

	for _, want := range msgs {
		got, err := chain.Recv(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, messageOf(t, got))
	}
}
