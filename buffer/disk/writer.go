package disk

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/c360/eventflow/errors"
)

// writer appends framed records to the current segment, rotating to a new
// file when the segment budget is exhausted. The mutex is held only across
// a single record write, never across an await.
type writer struct {
	ledger *ledger
	cfg    *Config
	logger *slog.Logger

	mu          sync.Mutex
	file        *os.File
	segmentSize uint64
	scratch     []byte
	unsynced    bool
}

func openWriter(l *ledger, cfg *Config) (*writer, error) {
	w := &writer{ledger: l, cfg: cfg, logger: cfg.Logger}
	if err := w.recover(); err != nil {
		return nil, err
	}
	return w, nil
}

// recover opens the current writer segment, truncates any partial trailing
// record left by a crash, and realigns writer_next_record_id with the last
// record actually on disk.
func (w *writer) recover() error {
	path := w.ledger.dataFilePath(w.ledger.writerFileID())
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errors.Wrap(err, "DiskBuffer", "recover", "open writer segment")
	}

	var (
		validEnd uint64
		lastID   uint64
		haveLast bool
	)
	for {
		id, _, diskSize, err := readRecord(file)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			w.logger.Warn("truncating partial record at end of segment",
				"segment", path, "offset", validEnd)
			break
		}
		if errors.IsKind(err, errors.KindCorruption) && diskSize > 0 {
			// Framing is intact; the reader deals with the bad record.
			validEnd += diskSize
			if id > lastID {
				lastID = id
				haveLast = true
			}
			continue
		}
		if err != nil {
			w.logger.Warn("stopping writer recovery at unreadable data",
				"segment", path, "offset", validEnd, "error", err)
			break
		}
		validEnd += diskSize
		lastID = id
		haveLast = true
	}

	if err := file.Truncate(int64(validEnd)); err != nil {
		file.Close()
		return errors.Wrap(err, "DiskBuffer", "recover", "truncate writer segment")
	}
	if _, err := file.Seek(int64(validEnd), io.SeekStart); err != nil {
		file.Close()
		return errors.Wrap(err, "DiskBuffer", "recover", "seek writer segment")
	}

	if haveLast && lastID >= w.ledger.writerNextRecordID.Load() {
		// The data file outran the lazily flushed ledger.
		w.ledger.writerNextRecordID.Store(lastID + 1)
	}

	w.file = file
	w.segmentSize = validEnd
	return nil
}

// writeRecord encodes and appends one record, honoring capacity and segment
// budgets. durable demands an fsync subject to the flush interval.
func (w *writer) writeRecord(ctx context.Context, body []byte, durable bool) (uint64, error) {
	diskSize := recordDiskSize(len(body))
	if diskSize > w.cfg.MaxRecordSize {
		return 0, errors.Wrap(errors.ErrRecordTooLarge, "DiskBuffer", "writeRecord",
			fmt.Sprintf("record of %d bytes exceeds limit of %d", diskSize, w.cfg.MaxRecordSize))
	}

	// Wait for byte budget before touching the file.
	for w.ledger.totalBufferSize.Load()+diskSize > w.cfg.MaxBufferSize {
		if err := w.ledger.awaitReaderProgress(ctx); err != nil {
			return 0, err
		}
	}

	for {
		w.mu.Lock()
		if w.segmentSize+diskSize <= w.cfg.MaxSegmentSize {
			break
		}
		err := w.rotateLocked()
		w.mu.Unlock()
		if err == nil {
			w.mu.Lock()
			break
		}
		if err != errSegmentOccupied {
			return 0, err
		}
		// The next segment still holds unread data from a previous
		// wraparound; wait for the reader to release it.
		if err := w.ledger.awaitReaderProgress(ctx); err != nil {
			return 0, err
		}
	}
	defer w.mu.Unlock()

	id := w.ledger.nextRecordID()
	w.scratch = appendRecord(w.scratch[:0], id, body)
	if _, err := w.file.Write(w.scratch); err != nil {
		return 0, errors.Wrap(err, "DiskBuffer", "writeRecord", "append record")
	}
	w.segmentSize += diskSize
	w.unsynced = true
	w.ledger.trackWrite(diskSize)

	if durable && w.ledger.shouldFlush() {
		if err := w.syncLocked(); err != nil {
			return 0, err
		}
	}

	w.ledger.notifyWriterProgress()
	return id, nil
}

// hasCapacity reports whether a record of the given body length fits the
// byte budget right now.
func (w *writer) hasCapacity(bodyLen int) bool {
	return w.ledger.totalBufferSize.Load()+recordDiskSize(bodyLen) <= w.cfg.MaxBufferSize
}

var errSegmentOccupied = errors.Wrap(errors.ErrBufferFull,
	"DiskBuffer", "rotate", "next segment not yet released by reader")

// rotateLocked closes the current segment and opens the next one. It fails
// with errSegmentOccupied when the next file id, after u16 wraparound,
// still names a segment the reader has not consumed.
func (w *writer) rotateLocked() error {
	if err := w.syncLocked(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return errors.Wrap(err, "DiskBuffer", "rotate", "close segment")
	}
	w.file = nil

	nextID := w.ledger.writerFileID() + 1
	nextPath := w.ledger.dataFilePath(nextID)
	if _, err := os.Stat(nextPath); err == nil {
		// Reopen the finished segment so the writer stays usable while it
		// waits; the reader may still be far behind.
		file, err := os.OpenFile(w.ledger.dataFilePath(w.ledger.writerFileID()),
			os.O_RDWR|os.O_APPEND, 0o644)
		if err != nil {
			return errors.Wrap(err, "DiskBuffer", "rotate", "reopen segment")
		}
		w.file = file
		return errSegmentOccupied
	}

	file, err := os.OpenFile(nextPath, os.O_CREATE|os.O_RDWR|os.O_EXCL, 0o644)
	if err != nil {
		return errors.Wrap(err, "DiskBuffer", "rotate", "create segment")
	}
	w.ledger.incrementWriterFileID()
	w.file = file
	w.segmentSize = 0
	w.ledger.notifyWriterProgress()
	return nil
}

func (w *writer) syncLocked() error {
	if !w.unsynced {
		return nil
	}
	if err := w.file.Sync(); err != nil {
		return errors.Wrap(err, "DiskBuffer", "sync", "fsync segment")
	}
	w.unsynced = false
	return w.ledger.flush()
}

func (w *writer) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.syncLocked()
	if cerr := w.file.Close(); cerr != nil && err == nil {
		err = cerr
	}
	w.file = nil
	return err
}
