package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"replaylog/pkg/segment"
	"replaylog/pkg/types"
)

var errInjected = errors.New("injected failure")

type fakeRecord struct {
	cycle types.CycleID
	data  []byte
}

// fakeLog is an in-memory segment.Log whose cycles are set by the test.
type fakeLog struct {
	mu      sync.Mutex
	records []fakeRecord
	cycle   types.CycleID

	failReadAt int
	failAppend error
	resolveErr error
	deleteErr  error
	notDeleted bool
	missing    map[types.CycleID]bool
	deleted    []types.CycleID
}

var _ segment.Log = (*fakeLog)(nil)

func newFakeLog() *fakeLog {
	return &fakeLog{cycle: 1, failReadAt: -1, missing: map[types.CycleID]bool{}}
}

func (l *fakeLog) Name() string { return "fake" }

func (l *fakeLog) setCycle(c types.CycleID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cycle = c
}

func (l *fakeLog) Append(ctx context.Context, rec types.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAppend != nil {
		return l.failAppend
	}
	l.records = append(l.records, fakeRecord{cycle: l.cycle, data: append([]byte(nil), rec...)})
	return nil
}

func (l *fakeLog) NewCursor(atEnd bool) (segment.Cursor, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := &fakeCursor{log: l, cycle: types.NoCycle}
	if atEnd && len(l.records) > 0 {
		c.pos = len(l.records)
		c.cycle = l.records[c.pos-1].cycle
	}
	return c, nil
}

func (l *fakeLog) ResolveSegment(cycle types.CycleID) (segment.Handle, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.resolveErr != nil {
		return nil, false, l.resolveErr
	}
	if l.missing[cycle] {
		return nil, false, nil
	}
	return &fakeHandle{log: l, cycle: cycle}, true, nil
}

func (l *fakeLog) deletedCycles() []types.CycleID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]types.CycleID(nil), l.deleted...)
}

type fakeCursor struct {
	log   *fakeLog
	pos   int
	cycle types.CycleID
}

func (c *fakeCursor) TryReadNext() (types.Record, bool, error) {
	c.log.mu.Lock()
	defer c.log.mu.Unlock()
	if c.pos == c.log.failReadAt {
		return nil, false, errInjected
	}
	if c.pos >= len(c.log.records) {
		return nil, false, nil
	}
	r := c.log.records[c.pos]
	c.pos++
	c.cycle = r.cycle
	return r.data, true, nil
}

func (c *fakeCursor) CycleID() types.CycleID { return c.cycle }
func (c *fakeCursor) Close() error           { return nil }

type fakeHandle struct {
	log   *fakeLog
	cycle types.CycleID
}

func (h *fakeHandle) Cycle() types.CycleID { return h.cycle }
func (h *fakeHandle) Name() string         { return fmt.Sprintf("fake/%d", h.cycle) }

func (h *fakeHandle) Delete() (bool, error) {
	h.log.mu.Lock()
	defer h.log.mu.Unlock()
	if h.log.deleteErr != nil {
		return false, h.log.deleteErr
	}
	if h.log.notDeleted {
		return false, nil
	}
	h.log.deleted = append(h.log.deleted, h.cycle)
	return true, nil
}
