// Package segment defines the boundary between the replay core and a durable,
// segmented, append-only log.
//
// A Log is split into segments identified by a CycleID. Cursors read records
// sequentially without blocking and report the cycle they are positioned in;
// as a cursor advances its cycle never decreases. Segments that have been fully
// read can be resolved and deleted through a Handle.
package segment

import (
	"context"

	"replaylog/pkg/types"
)

// Log is an append-only segmented record log.
// Implementations must be safe for concurrent appends and reads.
type Log interface {
	// Append durably writes one record.
	Append(ctx context.Context, rec types.Record) error
	// NewCursor opens a cursor at the beginning of the log, or at its current
	// end when atEnd is set.
	NewCursor(atEnd bool) (Cursor, error)
	// ResolveSegment returns the backing object for a cycle. ok is false when
	// no segment exists for it.
	ResolveSegment(cycle types.CycleID) (h Handle, ok bool, err error)
	// Name describes the log for diagnostics (usually its path).
	Name() string
}

// Cursor is a sequential read position in a Log.
type Cursor interface {
	// TryReadNext returns the next record without blocking. ok is false when no
	// record is available yet; that is not an error.
	TryReadNext() (rec types.Record, ok bool, err error)
	// CycleID is the cycle of the cursor's current position.
	CycleID() types.CycleID
	Close() error
}

// Handle is the backing object of one segment.
type Handle interface {
	Cycle() types.CycleID
	// Name identifies the backing object, e.g. a file path.
	Name() string
	// Delete removes the segment. deleted is false when the object could not be
	// removed without a hard failure (already gone, still active).
	Delete() (deleted bool, err error)
}
