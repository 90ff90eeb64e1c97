package disk

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/c360/eventflow/errors"
)

// The ledger is a fixed 40-byte little-endian record, memory-mapped and
// accessed only through atomics:
//
//	offset 0   total_records            u64
//	offset 8   total_buffer_size        u64  bytes across all segments
//	offset 16  writer_next_record_id    u64  starts at 1
//	offset 24  writer_current_file_id   u16  packed low half of one u32
//	offset 26  reader_current_file_id   u16  packed high half of one u32
//	offset 28  padding                  4 bytes, zero
//	offset 32  reader_last_record_id    u64
//
// The two u16 file ids share one u32 so each can be updated with a CAS
// while the other is read consistently. The padding keeps the final u64
// eight-byte aligned.
const (
	ledgerSize = 40

	offTotalRecords       = 0
	offTotalBufferSize    = 8
	offWriterNextRecordID = 16
	offFileIDs            = 24
	offReaderLastRecordID = 32
)

const (
	lockFileName   = "buffer.lock"
	ledgerFileName = "buffer.db"
)

type ledger struct {
	dir      string
	lockFile *os.File
	file     *os.File
	data     []byte

	totalRecords       *atomic.Uint64
	totalBufferSize    *atomic.Uint64
	writerNextRecordID *atomic.Uint64
	fileIDs            *atomic.Uint32
	readerLastRecordID *atomic.Uint64

	flushInterval time.Duration
	lastFlush     atomic.Int64

	// Single-notifier condvars. writerNotify is poked by the writer after
	// each write or rotation and awaited by an empty reader; readerNotify
	// is poked by the reader after a segment deletion and awaited by a
	// writer that cannot rotate or has run out of byte budget.
	writerNotify chan struct{}
	readerNotify chan struct{}
}

// openLedger locks the buffer directory, maps the ledger file, and
// initializes it on first use. A second process opening the same directory
// gets ErrBufferLocked.
func openLedger(dir string, flushInterval time.Duration) (*ledger, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "DiskBuffer", "openLedger", "create data directory")
	}

	lockFile, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "DiskBuffer", "openLedger", "open lock file")
	}
	if err := unix.Flock(int(lockFile.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, errors.Wrap(errors.ErrBufferLocked, "DiskBuffer", "openLedger",
			"acquire directory lock")
	}

	file, err := os.OpenFile(filepath.Join(dir, ledgerFileName), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		lockFile.Close()
		return nil, errors.Wrap(err, "DiskBuffer", "openLedger", "open ledger file")
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		lockFile.Close()
		return nil, errors.Wrap(err, "DiskBuffer", "openLedger", "stat ledger file")
	}
	fresh := info.Size() == 0
	switch {
	case info.Size() > ledgerSize:
		file.Close()
		lockFile.Close()
		return nil, errors.Wrap(errors.ErrLedgerInvalid, "DiskBuffer", "openLedger",
			fmt.Sprintf("ledger file is %d bytes, want %d", info.Size(), ledgerSize))
	case info.Size() < ledgerSize:
		// A short ledger is unusable; grow it and rewrite from defaults.
		fresh = true
		if err := file.Truncate(ledgerSize); err != nil {
			file.Close()
			lockFile.Close()
			return nil, errors.Wrap(err, "DiskBuffer", "openLedger", "size ledger file")
		}
	}

	data, err := unix.Mmap(int(file.Fd()), 0, ledgerSize,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		file.Close()
		lockFile.Close()
		return nil, errors.Wrap(err, "DiskBuffer", "openLedger", "map ledger file")
	}

	l := &ledger{
		dir:                dir,
		lockFile:           lockFile,
		file:               file,
		data:               data,
		totalRecords:       (*atomic.Uint64)(unsafe.Pointer(&data[offTotalRecords])),
		totalBufferSize:    (*atomic.Uint64)(unsafe.Pointer(&data[offTotalBufferSize])),
		writerNextRecordID: (*atomic.Uint64)(unsafe.Pointer(&data[offWriterNextRecordID])),
		fileIDs:            (*atomic.Uint32)(unsafe.Pointer(&data[offFileIDs])),
		readerLastRecordID: (*atomic.Uint64)(unsafe.Pointer(&data[offReaderLastRecordID])),
		flushInterval:      flushInterval,
		writerNotify:       make(chan struct{}, 1),
		readerNotify:       make(chan struct{}, 1),
	}

	if fresh {
		l.totalRecords.Store(0)
		l.totalBufferSize.Store(0)
		l.writerNextRecordID.Store(1)
		l.fileIDs.Store(0)
		l.readerLastRecordID.Store(0)
		if err := l.flush(); err != nil {
			l.close()
			return nil, err
		}
	}
	return l, nil
}

func (l *ledger) writerFileID() uint16 {
	return uint16(l.fileIDs.Load())
}

func (l *ledger) readerFileID() uint16 {
	return uint16(l.fileIDs.Load() >> 16)
}

// incrementWriterFileID advances the writer segment id with u16 wraparound.
func (l *ledger) incrementWriterFileID() uint16 {
	for {
		old := l.fileIDs.Load()
		next := uint16(old) + 1
		packed := old&0xffff0000 | uint32(next)
		if l.fileIDs.CompareAndSwap(old, packed) {
			return next
		}
	}
}

// incrementReaderFileID advances the reader segment id with u16 wraparound.
func (l *ledger) incrementReaderFileID() uint16 {
	for {
		old := l.fileIDs.Load()
		next := uint16(old>>16) + 1
		packed := old&0x0000ffff | uint32(next)<<16
		if l.fileIDs.CompareAndSwap(old, packed) {
			return next
		}
	}
}

// nextRecordID assigns the next record id.
func (l *ledger) nextRecordID() uint64 {
	return l.writerNextRecordID.Add(1) - 1
}

func (l *ledger) trackWrite(diskSize uint64) {
	l.totalRecords.Add(1)
	l.totalBufferSize.Add(diskSize)
}

func (l *ledger) trackAck(records, bytes uint64) {
	l.totalRecords.Add(^(records - 1))
	l.totalBufferSize.Add(^(bytes - 1))
}

func (l *ledger) dataFilePath(fileID uint16) string {
	return filepath.Join(l.dir, fmt.Sprintf("buffer-data-%05d.dat", fileID))
}

// shouldFlush elects exactly one flusher per flush interval via a CAS on
// the last flush timestamp.
func (l *ledger) shouldFlush() bool {
	last := l.lastFlush.Load()
	now := time.Now().UnixNano()
	if now-last < l.flushInterval.Nanoseconds() {
		return false
	}
	return l.lastFlush.CompareAndSwap(last, now)
}

// flush forces the mapped ledger out to disk.
func (l *ledger) flush() error {
	if err := unix.Msync(l.data, unix.MS_SYNC); err != nil {
		return errors.Wrap(err, "DiskBuffer", "flush", "sync ledger")
	}
	return nil
}

// notifyWriterProgress wakes a reader waiting for data.
func (l *ledger) notifyWriterProgress() {
	select {
	case l.writerNotify <- struct{}{}:
	default:
	}
}

// notifyReaderProgress wakes a writer waiting for space.
func (l *ledger) notifyReaderProgress() {
	select {
	case l.readerNotify <- struct{}{}:
	default:
	}
}

func (l *ledger) awaitWriterProgress(ctx context.Context) error {
	select {
	case <-l.writerNotify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ledger) awaitReaderProgress(ctx context.Context) error {
	select {
	case <-l.readerNotify:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *ledger) close() error {
	var firstErr error
	if l.data != nil {
		if err := l.flush(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := unix.Munmap(l.data); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "DiskBuffer", "close", "unmap ledger")
		}
		l.data = nil
	}
	if l.file != nil {
		if err := l.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.file = nil
	}
	if l.lockFile != nil {
		if err := l.lockFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		l.lockFile = nil
	}
	return firstErr
}
