package pebblelog

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"replaylog/pkg/dberrors"
	"replaylog/pkg/segment"
	"replaylog/pkg/types"
)

// Cursor remembers the last key it returned and seeks past it on every read,
// so records appended after the previous read are always visible.
type Cursor struct {
	l     *Log
	last  []byte
	cycle types.CycleID
}

var _ segment.Cursor = (*Cursor)(nil)

func (c *Cursor) CycleID() types.CycleID { return c.cycle }

func (c *Cursor) TryReadNext() (types.Record, bool, error) {
	if c.l.closed.Load() {
		return nil, false, dberrors.ErrClosed
	}

	lower := logPrefix
	if c.last != nil {
		lower = successor(c.last)
	}
	iter, err := c.l.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: logUpper})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	if !iter.First() {
		if err := iter.Error(); err != nil {
			return nil, false, fmt.Errorf("failed to read record: %w", err)
		}
		return nil, false, nil
	}

	key := append([]byte(nil), iter.Key()...)
	cycle, _, ok := decodeKey(key)
	if !ok {
		return nil, false, fmt.Errorf("%w: key %q", dberrors.ErrCorruptRecord, key)
	}
	rec := append([]byte{}, iter.Value()...)

	c.last = key
	if cycle > c.cycle {
		c.cycle = cycle
	}
	return rec, true, nil
}

func (c *Cursor) Close() error { return nil }
