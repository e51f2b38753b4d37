package wal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/zhangyunhao116/skipmap"

	"replaylog/pkg/clock"
	"replaylog/pkg/dberrors"
	"replaylog/pkg/segment"
	"replaylog/pkg/types"
)

// DefaultMaxRecordSize bounds a single payload (16MB).
const DefaultMaxRecordSize = 16 << 20

// Options configures a WAL.
type Options struct {
	Dir           string
	RollCycle     segment.RollCycle
	SyncWrites    bool
	MaxRecordSize int
	Clock         clock.Clock
	Logger        *slog.Logger
}

// WAL is a segmented append-only log on the local file system.
// Every roll cycle gets its own file named after the cycle id.
type WAL struct {
	mu          sync.Mutex
	dir         string
	roll        segment.RollCycle
	syncWrites  bool
	maxRecord   int
	clk         clock.Clock
	logger      *slog.Logger
	active      *os.File
	activeCycle types.CycleID
	closed      atomic.Bool

	// cycle -> segment file, ordered by cycle
	segments *skipmap.OrderedMap[int64, *segmentFile]
}

var _ segment.Log = (*WAL)(nil)

// Open creates the directory if needed and indexes the segments already in it.
func Open(opts Options) (*WAL, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: empty WAL dir", dberrors.ErrInvalidArgument)
	}
	if opts.RollCycle.Period() <= 0 {
		opts.RollCycle = segment.Daily
	}
	if opts.MaxRecordSize <= 0 {
		opts.MaxRecordSize = DefaultMaxRecordSize
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	dir := filepath.Clean(opts.Dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{
		dir:         dir,
		roll:        opts.RollCycle,
		syncWrites:  opts.SyncWrites,
		maxRecord:   opts.MaxRecordSize,
		clk:         clock.OrReal(opts.Clock),
		logger:      opts.Logger.With("wal", dir),
		activeCycle: types.NoCycle,
		segments:    skipmap.New[int64, *segmentFile](),
	}

	if err := w.loadSegments(); err != nil {
		return nil, err
	}

	return w, nil
}

func (w *WAL) loadSegments() error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("failed to list WAL directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		cycle, ok := parseSegmentName(e.Name())
		if !ok {
			continue
		}
		w.segments.Store(int64(cycle), &segmentFile{cycle: cycle, path: filepath.Join(w.dir, e.Name())})
		if cycle > w.activeCycle {
			w.activeCycle = cycle
		}
	}
	w.logger.Debug("segments loaded", "count", w.segments.Len())
	return nil
}

func (w *WAL) Name() string { return w.dir }

// Append writes one record to the segment of the current cycle.
func (w *WAL) Append(ctx context.Context, rec types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rec) > w.maxRecord {
		return fmt.Errorf("%w: %d bytes", dberrors.ErrRecordTooLarge, len(rec))
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Load() {
		return dberrors.ErrClosed
	}

	if err := w.rollIfNeeded(); err != nil {
		return err
	}

	if _, err := w.active.Write(encodeRecord(rec)); err != nil {
		return fmt.Errorf("failed to write WAL record: %w", err)
	}
	if w.syncWrites {
		if err := w.active.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL: %w", err)
		}
	}

	return nil
}

// rollIfNeeded switches the active file when the clock entered a later cycle.
// A clock that moves backwards, including across restarts, keeps writing to the
// newest segment so cycle ids stay monotonic.
func (w *WAL) rollIfNeeded() error {
	cycle := w.roll.ToCycle(w.clk.Now())
	if cycle < w.activeCycle {
		cycle = w.activeCycle
	}
	if w.active != nil && cycle == w.activeCycle {
		return nil
	}

	path := filepath.Join(w.dir, segmentName(cycle))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open WAL segment: %w", err)
	}

	if w.active != nil {
		if err := w.active.Close(); err != nil {
			w.logger.Warn("failed to close rolled segment", "cycle", w.activeCycle, "error", err)
		}
	}

	w.active = file
	w.activeCycle = cycle
	w.segments.Store(int64(cycle), &segmentFile{cycle: cycle, path: path})
	w.logger.Debug("segment rolled", "cycle", cycle, "cycle_start", w.roll.Start(cycle), "path", path)

	return nil
}

// NewCursor opens a cursor at the first segment, or at the current end of the
// newest segment when atEnd is set.
func (w *WAL) NewCursor(atEnd bool) (segment.Cursor, error) {
	if w.closed.Load() {
		return nil, dberrors.ErrClosed
	}

	c := &Cursor{w: w, cycle: types.NoCycle}
	if !atEnd {
		return c, nil
	}

	// hold the writer lock so the end offset never falls inside a record
	w.mu.Lock()
	defer w.mu.Unlock()

	last, ok := w.lastSegment()
	if !ok {
		return c, nil
	}

	file, err := os.Open(last.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL segment for reading: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat WAL segment: %w", err)
	}

	c.file = file
	c.cycle = last.cycle
	c.offset = info.Size()

	return c, nil
}

// ResolveSegment looks up the segment file of a cycle.
func (w *WAL) ResolveSegment(cycle types.CycleID) (segment.Handle, bool, error) {
	seg, ok := w.segments.Load(int64(cycle))
	if !ok {
		return nil, false, nil
	}
	return &handle{w: w, seg: seg}, true, nil
}

// Segments returns the indexed cycles in ascending order.
func (w *WAL) Segments() []types.CycleID {
	out := make([]types.CycleID, 0, w.segments.Len())
	w.segments.Range(func(cycle int64, _ *segmentFile) bool {
		out = append(out, types.CycleID(cycle))
		return true
	})
	return out
}

// nextSegment returns the first segment strictly after cycle.
func (w *WAL) nextSegment(cycle types.CycleID) (*segmentFile, bool) {
	var next *segmentFile
	w.segments.Range(func(c int64, seg *segmentFile) bool {
		if types.CycleID(c) > cycle {
			next = seg
			return false
		}
		return true
	})
	return next, next != nil
}

func (w *WAL) lastSegment() (*segmentFile, bool) {
	var last *segmentFile
	w.segments.Range(func(_ int64, seg *segmentFile) bool {
		last = seg
		return true
	})
	return last, last != nil
}

func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed.Swap(true) {
		return nil
	}

	if w.active != nil {
		if err := w.active.Sync(); err != nil {
			return fmt.Errorf("failed to sync WAL on close: %w", err)
		}
		if err := w.active.Close(); err != nil {
			return fmt.Errorf("failed to close WAL file: %w", err)
		}
		w.active = nil
	}

	return nil
}
