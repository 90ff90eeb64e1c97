package disk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLedger(t *testing.T, dir string) *ledger {
	t.Helper()
	l, err := openLedger(dir, 100*time.Millisecond)
	require.NoError(t, err)
	t.Cleanup(func() { l.close() })
	return l
}

func TestLedgerFreshDefaults(t *testing.T) {
	l := openTestLedger(t, t.TempDir())

	assert.Equal(t, uint64(0), l.totalRecords.Load())
	assert.Equal(t, uint64(0), l.totalBufferSize.Load())
	assert.Equal(t, uint64(1), l.writerNextRecordID.Load())
	assert.Equal(t, uint16(0), l.writerFileID())
	assert.Equal(t, uint16(0), l.readerFileID())
	assert.Equal(t, uint64(0), l.readerLastRecordID.Load())
}

func TestLedgerPersistsAcrossOpens(t *testing.T) {
	dir := t.TempDir()
	l := openTestLedger(t, dir)
	l.trackWrite(128)
	l.trackWrite(64)
	l.trackAck(1, 128)
	l.nextRecordID()
	l.nextRecordID()
	l.incrementWriterFileID()
	l.readerLastRecordID.Store(1)
	require.NoError(t, l.close())

	l2 := openTestLedger(t, dir)
	assert.Equal(t, uint64(1), l2.totalRecords.Load())
	assert.Equal(t, uint64(64), l2.totalBufferSize.Load())
	assert.Equal(t, uint64(3), l2.writerNextRecordID.Load())
	assert.Equal(t, uint16(1), l2.writerFileID())
	assert.Equal(t, uint16(0), l2.readerFileID())
	assert.Equal(t, uint64(1), l2.readerLastRecordID.Load())
}

func TestLedgerFileIDsIndependent(t *testing.T) {
	l := openTestLedger(t, t.TempDir())

	l.incrementWriterFileID()
	l.incrementWriterFileID()
	assert.Equal(t, uint16(2), l.writerFileID())
	assert.Equal(t, uint16(0), l.readerFileID())

	l.incrementReaderFileID()
	assert.Equal(t, uint16(2), l.writerFileID())
	assert.Equal(t, uint16(1), l.readerFileID())
}

func TestLedgerFileIDWraparound(t *testing.T) {
	l := openTestLedger(t, t.TempDir())

	l.fileIDs.Store(0xffff_ffff)
	assert.Equal(t, uint16(0xffff), l.writerFileID())
	assert.Equal(t, uint16(0xffff), l.readerFileID())

	assert.Equal(t, uint16(0), l.incrementWriterFileID())
	assert.Equal(t, uint16(0), l.incrementReaderFileID())
	assert.Equal(t, uint16(0), l.writerFileID())
	assert.Equal(t, uint16(0), l.readerFileID())
}

func TestLedgerShouldFlushRespectsInterval(t *testing.T) {
	l := openTestLedger(t, t.TempDir())

	require.True(t, l.shouldFlush(), "first caller is elected")
	assert.False(t, l.shouldFlush(), "second caller inside the interval is not")

	time.Sleep(120 * time.Millisecond)
	assert.True(t, l.shouldFlush(), "interval elapsed, a new flusher is elected")
	assert.False(t, l.shouldFlush())
}

func TestLedgerRejectsOversizedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ledgerFileName), make([]byte, ledgerSize+8), 0o644))

	_, err := openLedger(dir, time.Second)
	require.Error(t, err)
}

func TestLedgerGrowsShortFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ledgerFileName), make([]byte, 10), 0o644))

	l := openTestLedger(t, dir)
	assert.Equal(t, uint64(1), l.writerNextRecordID.Load())
}
