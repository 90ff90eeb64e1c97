// Package disk implements a crash-consistent, append-only disk buffer. A
// fixed-layout memory-mapped ledger tracks reader and writer positions over
// a sequence of numbered segment files, so that a process restart resumes
// the queue where it left off.
package disk

import (
	"log/slog"
	"time"

	"github.com/c360/eventflow/errors"
)

const (
	// DefaultMaxSegmentSize caps individual data files at 128 MiB.
	DefaultMaxSegmentSize = 128 << 20
	// DefaultMaxRecordSize caps a single encoded record at 8 MiB.
	DefaultMaxRecordSize = 8 << 20
	// DefaultFlushInterval bounds how often the writer issues fsync when
	// durability is demanded.
	DefaultFlushInterval = 500 * time.Millisecond
)

// Config holds the tunables for a disk buffer.
type Config struct {
	// Dir is the directory holding the ledger, lock file, and segments. It
	// is created if missing. One buffer per directory.
	Dir string
	// MaxBufferSize bounds the total bytes held across all segments.
	MaxBufferSize uint64
	// MaxSegmentSize bounds a single data file. Zero uses the default.
	MaxSegmentSize uint64
	// MaxRecordSize bounds a single encoded record. Records larger than
	// this are refused outright. Zero uses the default.
	MaxRecordSize uint64
	// FlushInterval is the minimum spacing between fsyncs when durability
	// is demanded. Zero uses the default.
	FlushInterval time.Duration
	// Logger receives corruption and recovery reports. Nil uses the
	// default logger.
	Logger *slog.Logger
}

func (c *Config) validate() error {
	if c.Dir == "" {
		return errors.WrapConfiguration(errors.ErrInvalidConfig,
			"DiskBuffer", "validate", "data directory is required")
	}
	if c.MaxBufferSize == 0 {
		return errors.WrapConfiguration(errors.ErrInvalidConfig,
			"DiskBuffer", "validate", "max buffer size must be positive")
	}
	if c.MaxSegmentSize == 0 {
		c.MaxSegmentSize = DefaultMaxSegmentSize
	}
	if c.MaxRecordSize == 0 {
		c.MaxRecordSize = DefaultMaxRecordSize
	}
	if c.MaxRecordSize > c.MaxSegmentSize {
		return errors.WrapConfiguration(errors.ErrInvalidConfig,
			"DiskBuffer", "validate", "max record size exceeds max segment size")
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = DefaultFlushInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
