package wal

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"replaylog/pkg/dberrors"
	"replaylog/pkg/segment"
	"replaylog/pkg/types"
)

// Cursor reads records of a WAL in append order. It is not safe for
// concurrent use; every retrieval owns its own cursor.
type Cursor struct {
	w      *WAL
	cycle  types.CycleID
	offset int64
	file   *os.File
	hdr    [headerSize]byte
}

var _ segment.Cursor = (*Cursor)(nil)

func (c *Cursor) CycleID() types.CycleID { return c.cycle }

// TryReadNext returns the next record, or ok=false when the reader caught up
// with the writer. A torn tail is treated as "not yet written" while its
// segment is the newest one, and skipped once a later segment exists.
func (c *Cursor) TryReadNext() (types.Record, bool, error) {
	if c.w.closed.Load() {
		return nil, false, dberrors.ErrClosed
	}

	for {
		if c.file == nil {
			moved, err := c.advance()
			if err != nil || !moved {
				return nil, false, err
			}
		}

		rec, ok, err := c.readAt()
		if err != nil || ok {
			return rec, ok, err
		}

		// Nothing more in this segment. Only once a later segment is visible is
		// this one final, so re-read before moving on.
		if _, hasNext := c.w.nextSegment(c.cycle); !hasNext {
			return nil, false, nil
		}
		rec, ok, err = c.readAt()
		if err != nil || ok {
			return rec, ok, err
		}

		if err := c.closeFile(); err != nil {
			return nil, false, err
		}
	}
}

// advance opens the first segment after the current cycle. Segments removed
// by another reader in between are skipped.
func (c *Cursor) advance() (bool, error) {
	for {
		next, ok := c.w.nextSegment(c.cycle)
		if !ok {
			return false, nil
		}

		file, err := os.Open(next.path)
		if errors.Is(err, fs.ErrNotExist) {
			c.cycle = next.cycle
			continue
		}
		if err != nil {
			return false, fmt.Errorf("failed to open WAL segment for reading: %w", err)
		}

		c.file = file
		c.cycle = next.cycle
		c.offset = 0
		return true, nil
	}
}

// readAt reads one complete record at the current offset.
func (c *Cursor) readAt() (types.Record, bool, error) {
	n, err := c.file.ReadAt(c.hdr[:], c.offset)
	if n < headerSize {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, false, fmt.Errorf("failed to read WAL record header: %w", err)
		}
		return nil, false, nil
	}

	size, sum := decodeHeader(c.hdr[:])
	if int(size) > c.w.maxRecord {
		return nil, false, fmt.Errorf("%w: length %d at offset %d of cycle %d",
			dberrors.ErrCorruptRecord, size, c.offset, c.cycle)
	}

	payload := make([]byte, size)
	n, err = c.file.ReadAt(payload, c.offset+headerSize)
	if n < int(size) {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, false, fmt.Errorf("failed to read WAL record: %w", err)
		}
		return nil, false, nil
	}

	if !validChecksum(payload, sum) {
		return nil, false, fmt.Errorf("%w: checksum mismatch at offset %d of cycle %d",
			dberrors.ErrCorruptRecord, c.offset, c.cycle)
	}

	c.offset += headerSize + int64(size)
	return payload, true, nil
}

func (c *Cursor) closeFile() error {
	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	if err != nil {
		return fmt.Errorf("failed to close WAL segment: %w", err)
	}
	return nil
}

func (c *Cursor) Close() error {
	return c.closeFile()
}
