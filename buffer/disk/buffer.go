package disk

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/c360/eventflow/buffer"
	"github.com/c360/eventflow/errors"
	"github.com/c360/eventflow/event"
)

// Codec serializes items for the on-disk record body.
type Codec[T any] interface {
	Encode(item T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// EventCodec frames single events with the native binary encoding.
type EventCodec struct{}

// Encode serializes one event.
func (EventCodec) Encode(e event.Event) ([]byte, error) { return e.Encode() }

// Decode deserializes one event.
func (EventCodec) Decode(data []byte) (event.Event, error) {
	e, err := event.Decode(data)
	if err != nil {
		return e, errors.WrapDecode(err, "EventCodec", "Decode", "decode record body")
	}
	return e, nil
}

// Buffer is the durable variant of the pipeline buffer, bounded in bytes.
//
// Writing an item persists it and resolves the item's upstream finalizers
// as Delivered; durability is the delivery guarantee upstream is waiting
// on. Each item handed out by Recv carries a fresh buffer-owned notifier,
// and the ledger's record and byte counts decrement only when the consumer
// resolves it.
type Buffer[T buffer.Item] struct {
	cfg    Config
	codec  Codec[T]
	ledger *ledger
	writer *writer
	reader *reader

	stats *buffer.Statistics

	closed    atomic.Bool
	closeOnce sync.Once
	closeCh   chan struct{}
}

// New opens or creates the disk buffer rooted at cfg.Dir.
func New[T buffer.Item](cfg Config, codec Codec[T]) (*Buffer[T], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	l, err := openLedger(cfg.Dir, cfg.FlushInterval)
	if err != nil {
		return nil, err
	}
	w, err := openWriter(l, &cfg)
	if err != nil {
		l.close()
		return nil, err
	}
	r, err := openReader(l, &cfg)
	if err != nil {
		w.close()
		l.close()
		return nil, err
	}
	return &Buffer[T]{
		cfg:     cfg,
		codec:   codec,
		ledger:  l,
		writer:  w,
		reader:  r,
		stats:   buffer.NewStatistics(),
		closeCh: make(chan struct{}),
	}, nil
}

// Send persists the item, blocking while the byte budget is exhausted. On
// success the item's upstream finalizers resolve as Delivered.
func (b *Buffer[T]) Send(ctx context.Context, item T) error {
	if b.closed.Load() {
		return errors.ErrBufferClosed
	}
	body, err := b.codec.Encode(item)
	if err != nil {
		return errors.WrapEncode(err, "DiskBuffer", "Send", "encode item")
	}

	sendCtx, cancel := b.sendContext(ctx)
	defer cancel()
	if _, err := b.writer.writeRecord(sendCtx, body, true); err != nil {
		if sendCtx.Err() != nil && b.closed.Load() {
			return errors.ErrBufferClosed
		}
		return err
	}

	n := item.EventCount()
	b.stats.RecordSend(n)
	item.Finalize(event.StatusDelivered)
	return nil
}

// TrySend persists the item only if the byte budget allows it right now.
func (b *Buffer[T]) TrySend(item T) error {
	if b.closed.Load() {
		return errors.ErrBufferClosed
	}
	body, err := b.codec.Encode(item)
	if err != nil {
		return errors.WrapEncode(err, "DiskBuffer", "TrySend", "encode item")
	}
	if !b.writer.hasCapacity(len(body)) {
		return errors.WrapBufferFull(errors.ErrBufferFull, "DiskBuffer", "TrySend",
			"byte budget exhausted")
	}

	// The capacity check raced nothing: this buffer is single-producer, so
	// only acknowledgements can change the budget between check and write,
	// and those only free space.
	sendCtx, cancel := b.sendContext(context.Background())
	defer cancel()
	if _, err := b.writer.writeRecord(sendCtx, body, true); err != nil {
		return err
	}

	b.stats.RecordSend(item.EventCount())
	item.Finalize(event.StatusDelivered)
	return nil
}

// Recv returns the next item. Undecodable records are acknowledged in
// place and skipped.
func (b *Buffer[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		if b.closed.Load() {
			return b.recvClosed()
		}

		recvCtx, cancel := b.sendContext(ctx)
		body, id, diskSize, err := b.reader.next(recvCtx)
		cancel()
		if err != nil {
			if recvCtx.Err() != nil && b.closed.Load() {
				return b.recvClosed()
			}
			return zero, err
		}

		item, ok := b.materialize(body, id, diskSize)
		if !ok {
			continue
		}
		return item, nil
	}
}

// TryRecv returns the next item if one is immediately available.
func (b *Buffer[T]) TryRecv() (T, bool) {
	var zero T
	for {
		body, id, diskSize, ok, err := b.reader.tryNext()
		if err != nil || !ok {
			return zero, false
		}
		if item, ok := b.materialize(body, id, diskSize); ok {
			return item, true
		}
	}
}

// materialize decodes a record body and wires the acknowledgement hook. A
// decode failure acknowledges the record in place and reports ok=false.
func (b *Buffer[T]) materialize(body []byte, id uint64, diskSize uint64) (T, bool) {
	var zero T
	item, err := b.codec.Decode(body)
	if err != nil {
		b.cfg.Logger.Error("discarding undecodable record",
			"record", id, "error", err)
		b.ledger.trackAck(1, diskSize)
		b.ledger.notifyReaderProgress()
		return zero, false
	}

	notifier, receiver := event.NewBatchNotifier()
	item.AddBatchNotifier(notifier)
	notifier.Close()
	go func() {
		_, _ = receiver.Await(context.Background())
		b.ledger.trackAck(1, diskSize)
		b.ledger.notifyReaderProgress()
	}()

	b.stats.RecordRecv(item.EventCount())
	return item, true
}

// Len returns the number of records currently in the buffer.
func (b *Buffer[T]) Len() int {
	return int(b.ledger.totalRecords.Load())
}

// Stats returns the in-process statistics. Counts persisted by a previous
// process appear in Len but not here.
func (b *Buffer[T]) Stats() *buffer.Statistics {
	return b.stats
}

// Close flushes and releases the buffer. The directory can be reopened by
// a later process.
func (b *Buffer[T]) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.closeCh)
		err = b.writer.close()
		if cerr := b.reader.close(); cerr != nil && err == nil {
			err = cerr
		}
		if cerr := b.ledger.close(); cerr != nil && err == nil {
			err = cerr
		}
	})
	return err
}

// sendContext derives a context that is also cancelled by Close, so blocked
// producers and consumers are released on shutdown.
func (b *Buffer[T]) sendContext(ctx context.Context) (context.Context, context.CancelFunc) {
	derived, cancel := context.WithCancel(ctx)
	go func() {
		select {
		case <-b.closeCh:
			cancel()
		case <-derived.Done():
		}
	}()
	return derived, cancel
}

func (b *Buffer[T]) recvClosed() (T, error) {
	var zero T
	if body, id, diskSize, ok, err := b.reader.tryNext(); err == nil && ok {
		if item, ok := b.materialize(body, id, diskSize); ok {
			return item, nil
		}
	}
	return zero, errors.ErrBufferClosed
}
