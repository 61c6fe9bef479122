package wal

import (
	"io"
	"os"

	"github.com/strata-systems/strata-core/pkg/record"
	"github.com/strata-systems/strata-core/pkg/strataerr"
)

// Reader sweeps a WAL file sequentially through its own file handle,
// independent of any concurrently open Writer.
type Reader struct {
	file *os.File
}

// OpenReader opens path for sequential reading.
func OpenReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, strataerr.WrapIoError("wal open for read", err)
	}
	return &Reader{file: f}, nil
}

// Close releases the reader's file handle.
func (r *Reader) Close() error {
	return strataerr.WrapIoError("wal reader close", r.file.Close())
}

// Cursor is a sequential sweep over a WAL file starting at a given offset.
// Next is called repeatedly until it returns io.EOF (clean end, including a
// truncated trailing record) or a non-nil, non-EOF error (a genuine
// strataerr.CorruptionError; the sweep must not continue past it).
type Cursor struct {
	file   *os.File
	offset int64
}

// ReadFrom begins a sweep at the given byte offset.
func (r *Reader) ReadFrom(offset int64) *Cursor {
	return &Cursor{file: r.file, offset: offset}
}

// Next decodes the entry at the cursor's current offset and advances past
// it. On a clean EOF — no bytes left, or a trailing record shorter than its
// declared frame length — it returns (0, nil, io.EOF), never a
// CorruptionError: spec §4.1 treats a truncated tail as the expected
// signature of a crash mid-append. A length prefix or CRC that disagrees
// with a frame that was read in full is a genuine CorruptionError, and the
// cursor does not advance past it — the caller must stop the sweep there.
// On any non-EOF error the returned offset is the start of the record that
// could not be read.
func (c *Cursor) Next() (int64, record.Entry, error) {
	start := c.offset
	// Read at the cursor's own offset rather than the file's shared seek
	// position, so ReadFrom's offset is honored and cursors stay independent.
	sr := io.NewSectionReader(c.file, start, 1<<62)

	lenBuf := make([]byte, 4)
	n, err := io.ReadFull(sr, lenBuf)
	if err == io.EOF {
		return 0, nil, io.EOF
	}
	if err == io.ErrUnexpectedEOF || n < 4 {
		return 0, nil, io.EOF
	}
	if err != nil {
		return start, nil, strataerr.WrapIoError("wal read", err)
	}

	declared := record.DecodedFrameLength(lenBuf)
	if declared > record.MaxPayloadLen() {
		return start, nil, strataerr.NewCorruptionError(start, strataerr.CorruptBadLength)
	}

	rest := make([]byte, 1+declared+4)
	n, err = io.ReadFull(sr, rest)
	if err == io.EOF || err == io.ErrUnexpectedEOF || n < len(rest) {
		// Header was intact but the body was cut short: a crash mid-append,
		// not corruption.
		return 0, nil, io.EOF
	}
	if err != nil {
		return start, nil, strataerr.WrapIoError("wal read", err)
	}

	frame := make([]byte, 0, len(lenBuf)+len(rest))
	frame = append(frame, lenBuf...)
	frame = append(frame, rest...)

	entry, consumed, err := record.DecodeEntry(frame, start)
	if err != nil {
		return start, nil, err
	}

	c.offset = start + int64(consumed)
	return start, entry, nil
}

// FindLastCheckpoint scans the WAL from the beginning and returns the
// offset of the last RecordCheckpoint entry encountered, or (0, false) if
// none is present or the scan hits a corruption point first.
func (r *Reader) FindLastCheckpoint() (int64, bool) {
	cur := r.ReadFrom(0)
	var lastOffset int64
	found := false
	for {
		offset, entry, err := cur.Next()
		if err != nil {
			break
		}
		if entry.Type() == record.RecordCheckpoint {
			lastOffset = offset
			found = true
		}
	}
	return lastOffset, found
}
