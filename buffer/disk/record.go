package disk

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/c360/eventflow/errors"
)

// Record framing, little-endian:
//
//	len (u32) | id (u64) | crc32c(body) (u32) | body (len - 12)
//
// len excludes itself, so the on-disk footprint of a record is len + 4.
const (
	recordLenSize    = 4
	recordHeaderSize = 8 + 4
)

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// recordDiskSize returns the total on-disk footprint of a record with the
// given body length.
func recordDiskSize(bodyLen int) uint64 {
	return uint64(recordLenSize + recordHeaderSize + bodyLen)
}

// appendRecord frames id and body into buf and returns the extended slice.
func appendRecord(buf []byte, id uint64, body []byte) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(recordHeaderSize+len(body)))
	buf = binary.LittleEndian.AppendUint64(buf, id)
	buf = binary.LittleEndian.AppendUint32(buf, crc32.Checksum(body, castagnoli))
	return append(buf, body...)
}

// readRecord reads one record starting at the current position of r.
//
// It returns io.EOF when r is positioned exactly at a record boundary with
// no further data, io.ErrUnexpectedEOF when the data ends mid-record, and
// ErrRecordCorrupt when the checksum does not match.
func readRecord(r io.Reader) (id uint64, body []byte, diskSize uint64, err error) {
	var lenBuf [recordLenSize]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		if err == io.EOF {
			return 0, nil, 0, io.EOF
		}
		return 0, nil, 0, io.ErrUnexpectedEOF
	}
	recordLen := binary.LittleEndian.Uint32(lenBuf[:])
	if recordLen < recordHeaderSize {
		return 0, nil, 0, errors.WrapCorruption(errors.ErrRecordCorrupt,
			"DiskBuffer", "readRecord", fmt.Sprintf("record length %d below header size", recordLen))
	}

	payload := make([]byte, recordLen)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, 0, io.ErrUnexpectedEOF
	}

	id = binary.LittleEndian.Uint64(payload[0:8])
	checksum := binary.LittleEndian.Uint32(payload[8:12])
	body = payload[12:]
	diskSize = recordDiskSize(len(body))
	if crc32.Checksum(body, castagnoli) != checksum {
		// Framing is intact, so diskSize is still meaningful to callers
		// that want to step over the bad record.
		return id, nil, diskSize, errors.WrapCorruption(errors.ErrRecordCorrupt,
			"DiskBuffer", "readRecord", fmt.Sprintf("checksum mismatch for record %d", id))
	}
	return id, body, diskSize, nil
}
