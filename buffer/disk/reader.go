package disk

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/c360/eventflow/errors"
)

// reader consumes framed records sequentially across segments, trailing the
// writer. It is single-consumer; no locking is needed on its own state.
type reader struct {
	ledger *ledger
	cfg    *Config
	logger *slog.Logger

	file       *os.File
	offset     uint64
	lastReadID uint64
}

type readOutcome int

const (
	outcomeItem readOutcome = iota
	outcomeRetry
	outcomeWait
)

func openReader(l *ledger, cfg *Config) (*reader, error) {
	r := &reader{
		ledger:     l,
		cfg:        cfg,
		logger:     cfg.Logger,
		lastReadID: l.readerLastRecordID.Load(),
	}
	if err := r.removeOrphanedSegments(); err != nil {
		return nil, err
	}
	if err := r.reconcileCounts(); err != nil {
		return nil, err
	}
	return r, nil
}

// reconcileCounts rebuilds the ledger totals from ground truth at open
// time. Counts carried over from a previous process still include records
// that were handed out but never acknowledged; those are skipped on replay
// rather than redelivered, so their decrements can no longer arrive. The id
// window names exactly the unread records, and the byte count restarts from
// the surviving segments; the consumed prefix of the current segment is
// released again as the replay steps over it.
func (r *reader) reconcileCounts() error {
	var unread uint64
	if written := r.ledger.writerNextRecordID.Load() - 1; written > r.lastReadID {
		unread = written - r.lastReadID
	}
	r.ledger.totalRecords.Store(unread)

	entries, err := os.ReadDir(r.ledger.dir)
	if err != nil {
		return errors.Wrap(err, "DiskBuffer", "openReader", "scan data directory")
	}
	var onDisk uint64
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "buffer-data-") || !strings.HasSuffix(name, ".dat") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			return errors.Wrap(err, "DiskBuffer", "openReader", "stat segment")
		}
		onDisk += uint64(info.Size())
	}
	r.ledger.totalBufferSize.Store(onDisk)
	r.ledger.notifyReaderProgress()
	return nil
}

// removeOrphanedSegments deletes data files outside the live id range left
// behind by a prior crash.
func (r *reader) removeOrphanedSegments() error {
	entries, err := os.ReadDir(r.ledger.dir)
	if err != nil {
		return errors.Wrap(err, "DiskBuffer", "openReader", "scan data directory")
	}
	lo, hi := r.ledger.readerFileID(), r.ledger.writerFileID()
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "buffer-data-") || !strings.HasSuffix(name, ".dat") {
			continue
		}
		idStr := strings.TrimSuffix(strings.TrimPrefix(name, "buffer-data-"), ".dat")
		id, err := strconv.ParseUint(idStr, 10, 16)
		if err != nil {
			continue
		}
		if !fileIDInRange(uint16(id), lo, hi) {
			r.logger.Warn("removing orphaned segment", "segment", name)
			if err := os.Remove(filepath.Join(r.ledger.dir, name)); err != nil {
				return errors.Wrap(err, "DiskBuffer", "openReader", "remove orphaned segment")
			}
		}
	}
	return nil
}

// fileIDInRange reports whether id lies in the circular range [lo, hi].
func fileIDInRange(id, lo, hi uint16) bool {
	if lo <= hi {
		return id >= lo && id <= hi
	}
	return id >= lo || id <= hi
}

// next returns the next record, blocking on writer progress when the buffer
// is drained.
func (r *reader) next(ctx context.Context) (body []byte, id uint64, diskSize uint64, err error) {
	for {
		body, id, diskSize, outcome, err := r.step()
		if err != nil {
			return nil, 0, 0, err
		}
		switch outcome {
		case outcomeItem:
			return body, id, diskSize, nil
		case outcomeRetry:
			continue
		case outcomeWait:
			if err := r.ledger.awaitWriterProgress(ctx); err != nil {
				return nil, 0, 0, err
			}
		}
	}
}

// tryNext is the non-blocking variant of next.
func (r *reader) tryNext() (body []byte, id uint64, diskSize uint64, ok bool, err error) {
	for {
		body, id, diskSize, outcome, err := r.step()
		if err != nil {
			return nil, 0, 0, false, err
		}
		switch outcome {
		case outcomeItem:
			return body, id, diskSize, true, nil
		case outcomeRetry:
			continue
		case outcomeWait:
			return nil, 0, 0, false, nil
		}
	}
}

// step attempts to read exactly one record from the current position and
// reports what the caller should do next.
func (r *reader) step() ([]byte, uint64, uint64, readOutcome, error) {
	if r.file == nil {
		outcome, err := r.openCurrent()
		if err != nil || outcome != outcomeRetry {
			return nil, 0, 0, outcome, err
		}
	}

	id, body, diskSize, err := readRecord(r.file)
	switch {
	case err == nil:
		r.offset += diskSize
		if id <= r.lastReadID && r.lastReadID != 0 {
			// Consumed before a restart. The open-time reconcile already
			// dropped it from the record count; release its bytes now that
			// the replay has stepped over it.
			r.ledger.trackAck(0, diskSize)
			r.ledger.notifyReaderProgress()
			return nil, 0, 0, outcomeRetry, nil
		}
		if expected := r.lastReadID + 1; id > expected {
			gap := id - expected
			r.logger.Warn("detected gap in record ids, adjusting counts",
				"expected", expected, "got", id, "skipped", gap)
			r.ledger.trackAck(gap, 0)
		}
		r.lastReadID = id
		r.ledger.readerLastRecordID.Store(id)
		return body, id, diskSize, outcomeItem, nil

	case err == io.EOF:
		if r.ledger.readerFileID() == r.ledger.writerFileID() {
			return nil, 0, 0, outcomeWait, nil
		}
		if err := r.finishSegment(); err != nil {
			return nil, 0, 0, outcomeRetry, err
		}
		return nil, 0, 0, outcomeRetry, nil

	case err == io.ErrUnexpectedEOF:
		if r.ledger.readerFileID() == r.ledger.writerFileID() {
			// The writer is mid-append; rewind to the record boundary and
			// wait for the rest.
			if _, serr := r.file.Seek(int64(r.offset), io.SeekStart); serr != nil {
				return nil, 0, 0, outcomeWait, errors.Wrap(serr, "DiskBuffer", "step", "rewind to record boundary")
			}
			return nil, 0, 0, outcomeWait, nil
		}
		// A crash truncated this sealed segment; whatever followed the
		// last good record is gone.
		r.logger.Warn("sealed segment ends mid-record, abandoning remainder",
			"segment", r.ledger.readerFileID(), "offset", r.offset)
		r.discardRemainder()
		if err := r.finishSegment(); err != nil {
			return nil, 0, 0, outcomeRetry, err
		}
		return nil, 0, 0, outcomeRetry, nil

	case errors.IsKind(err, errors.KindCorruption):
		if r.ledger.readerFileID() == r.ledger.writerFileID() {
			// The live segment cannot be abandoned; skip the one bad
			// record, framing is still aligned.
			r.logger.Error("corrupt record in live segment, skipping",
				"segment", r.ledger.readerFileID(), "offset", r.offset, "error", err)
			r.offset += diskSize
			// Bytes are released now; the record count is reconciled by
			// gap detection on the next good read.
			r.ledger.trackAck(0, diskSize)
			return nil, 0, 0, outcomeRetry, nil
		}
		r.logger.Error("corrupt record, abandoning remainder of segment",
			"segment", r.ledger.readerFileID(), "offset", r.offset, "error", err)
		r.discardRemainder()
		if err := r.finishSegment(); err != nil {
			return nil, 0, 0, outcomeRetry, err
		}
		return nil, 0, 0, outcomeRetry, nil

	default:
		return nil, 0, 0, outcomeWait, err
	}
}

// discardRemainder charges the unread tail of the current segment against
// the ledger's byte count. Record counts for the skipped tail are fixed by
// id-gap detection on the next successful read.
func (r *reader) discardRemainder() {
	info, err := r.file.Stat()
	if err != nil {
		return
	}
	if size := uint64(info.Size()); size > r.offset {
		r.ledger.trackAck(0, size-r.offset)
	}
}

// finishSegment deletes the consumed data file, advances the reader id, and
// wakes a writer that may be waiting on the segment or byte budget.
func (r *reader) finishSegment() error {
	path := r.ledger.dataFilePath(r.ledger.readerFileID())
	if err := r.file.Close(); err != nil {
		return errors.Wrap(err, "DiskBuffer", "finishSegment", "close segment")
	}
	r.file = nil
	r.offset = 0
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "DiskBuffer", "finishSegment", "remove segment")
	}
	r.ledger.incrementReaderFileID()
	r.ledger.notifyReaderProgress()
	return nil
}

// openCurrent opens the reader's current segment. outcomeRetry means the
// file is open and ready; outcomeWait means it does not exist yet.
func (r *reader) openCurrent() (readOutcome, error) {
	path := r.ledger.dataFilePath(r.ledger.readerFileID())
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		if r.ledger.readerFileID() == r.ledger.writerFileID() {
			return outcomeWait, nil
		}
		// Deleted by a prior crash after being consumed; move on.
		r.ledger.incrementReaderFileID()
		return outcomeRetry, nil
	}
	if err != nil {
		return outcomeWait, errors.Wrap(err, "DiskBuffer", "openCurrent", "open segment")
	}
	r.file = file
	r.offset = 0
	return outcomeRetry, nil
}

func (r *reader) close() error {
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	if err != nil {
		return errors.Wrap(err, "DiskBuffer", "close", "close reader segment")
	}
	return nil
}
