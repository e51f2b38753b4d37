// Package pebblelog implements a segmented record log on top of a Pebble
// key-value store. A segment is the key range of one roll cycle.
package pebblelog

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"replaylog/pkg/clock"
	"replaylog/pkg/dberrors"
	"replaylog/pkg/segment"
	"replaylog/pkg/types"
)

// Options configures a Log.
type Options struct {
	Dir        string
	RollCycle  segment.RollCycle
	SyncWrites bool
	Clock      clock.Clock
	Logger     *slog.Logger
	// PebbleOptions allows tuning of the store. Defaults are used when nil.
	PebbleOptions *pebble.Options
}

type Log struct {
	db        *pebble.DB
	dir       string
	roll      segment.RollCycle
	clk       clock.Clock
	logger    *slog.Logger
	writeOpts *pebble.WriteOptions

	mu          sync.Mutex
	activeCycle types.CycleID
	seq         *clock.AtomicClock
	closed      atomic.Bool
}

var _ segment.Log = (*Log)(nil)

func Open(opts Options) (*Log, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: empty pebble dir", dberrors.ErrInvalidArgument)
	}
	if opts.RollCycle.Period() <= 0 {
		opts.RollCycle = segment.Daily
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	dir := filepath.Clean(opts.Dir)
	db, err := pebble.Open(dir, po)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble log: %w", err)
	}

	l := &Log{
		db:          db,
		dir:         dir,
		roll:        opts.RollCycle,
		clk:         clock.OrReal(opts.Clock),
		logger:      opts.Logger.With("pebblelog", dir),
		writeOpts:   pebble.NoSync,
		activeCycle: types.NoCycle,
		seq:         clock.NewAtomic(0),
	}
	if opts.SyncWrites {
		l.writeOpts = pebble.Sync
	}

	if err := l.restore(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return l, nil
}

// restore picks up the sequence and cycle of the newest record.
func (l *Log) restore() error {
	last, ok, err := l.lastKey()
	if err != nil || !ok {
		return err
	}
	cycle, seq, _ := decodeKey(last)
	l.activeCycle = cycle
	l.seq.Advance(seq)
	l.logger.Debug("log restored", "cycle", cycle, "seq", seq)
	return nil
}

func (l *Log) lastKey() ([]byte, bool, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: logPrefix, UpperBound: logUpper})
	if err != nil {
		return nil, false, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	if !iter.Last() {
		return nil, false, iter.Error()
	}
	return append([]byte(nil), iter.Key()...), true, nil
}

func (l *Log) Name() string { return l.dir }

// Append stores rec under the current cycle with the next sequence number.
func (l *Log) Append(ctx context.Context, rec types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return dberrors.ErrClosed
	}

	cycle := l.roll.ToCycle(l.clk.Now())
	if cycle < l.activeCycle {
		cycle = l.activeCycle
	}

	seq := l.seq.Next()
	if err := l.db.Set(recordKey(cycle, seq), rec, l.writeOpts); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if cycle != l.activeCycle {
		l.logger.Debug("segment rolled", "cycle", cycle, "cycle_start", l.roll.Start(cycle))
	}
	l.activeCycle = cycle

	return nil
}

// NewCursor opens a cursor at the first record, or after the newest one when
// atEnd is set.
func (l *Log) NewCursor(atEnd bool) (segment.Cursor, error) {
	if l.closed.Load() {
		return nil, dberrors.ErrClosed
	}

	c := &Cursor{l: l, cycle: types.NoCycle}
	if !atEnd {
		return c, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	last, ok, err := l.lastKey()
	if err != nil {
		return nil, err
	}
	if ok {
		c.last = last
		c.cycle, _, _ = decodeKey(last)
	}
	return c, nil
}

func (l *Log) ResolveSegment(cycle types.CycleID) (segment.Handle, bool, error) {
	if l.closed.Load() {
		return nil, false, dberrors.ErrClosed
	}
	ok, err := l.hasSegment(cycle)
	if err != nil || !ok {
		return nil, false, err
	}
	return &handle{l: l, cycle: cycle}, true, nil
}

func (l *Log) hasSegment(cycle types.CycleID) (bool, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: segmentPrefix(cycle), UpperBound: segmentUpper(cycle)})
	if err != nil {
		return false, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	if iter.First() {
		return true, nil
	}
	return false, iter.Error()
}

// Segments lists the cycles holding records, in ascending order.
func (l *Log) Segments() ([]types.CycleID, error) {
	iter, err := l.db.NewIter(&pebble.IterOptions{LowerBound: logPrefix, UpperBound: logUpper})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	var out []types.CycleID
	for ok := iter.First(); ok; ok = iter.SeekGE(segmentUpper(out[len(out)-1])) {
		cycle, _, valid := decodeKey(iter.Key())
		if !valid {
			return out, fmt.Errorf("%w: key %q", dberrors.ErrCorruptRecord, iter.Key())
		}
		out = append(out, cycle)
	}
	return out, iter.Error()
}

// deleteSegment drops the key range of cycle. The cycle taking appends is
// never removed.
func (l *Log) deleteSegment(cycle types.CycleID) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Load() {
		return false, dberrors.ErrClosed
	}
	if cycle == l.activeCycle {
		l.logger.Warn("refusing to delete active segment", "cycle", cycle)
		return false, nil
	}

	ok, err := l.hasSegment(cycle)
	if err != nil || !ok {
		return false, err
	}
	if err := l.db.DeleteRange(segmentPrefix(cycle), segmentUpper(cycle), l.writeOpts); err != nil {
		return false, fmt.Errorf("failed to delete segment %d: %w", cycle, err)
	}
	return true, nil
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed.Swap(true) {
		return nil
	}
	if err := l.db.Flush(); err != nil {
		l.logger.Warn("failed to flush on close", "error", err)
	}
	if err := l.db.Close(); err != nil {
		return fmt.Errorf("failed to close pebble log: %w", err)
	}
	return nil
}

type handle struct {
	l     *Log
	cycle types.CycleID
}

func (h *handle) Cycle() types.CycleID { return h.cycle }

func (h *handle) Name() string {
	return fmt.Sprintf("%s[cycle=%d]", h.l.dir, h.cycle)
}

func (h *handle) Delete() (bool, error) { return h.l.deleteSegment(h.cycle) }
