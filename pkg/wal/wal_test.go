package wal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaylog/pkg/dberrors"
	"replaylog/pkg/segment"
	"replaylog/pkg/types"
)

func openTestWAL(t *testing.T, dir string, fc *clockwork.FakeClock) *WAL {
	t.Helper()
	w, err := Open(Options{Dir: dir, RollCycle: segment.Minutely, Clock: fc})
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func readAll(t *testing.T, c segment.Cursor) []string {
	t.Helper()
	var out []string
	for {
		rec, ok, err := c.TryReadNext()
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, string(rec))
	}
}

func TestWAL_AppendAndReadInOrder(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, t.TempDir(), clockwork.NewFakeClock())

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Append(ctx, []byte(fmt.Sprintf("value-%d", i))))
	}

	c, err := w.NewCursor(false)
	require.NoError(t, err)
	defer c.Close()

	got := readAll(t, c)
	require.Len(t, got, 10)
	for i, v := range got {
		assert.Equal(t, fmt.Sprintf("value-%d", i), v)
	}
}

func TestWAL_EmptyRecordRoundTrips(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, t.TempDir(), clockwork.NewFakeClock())

	require.NoError(t, w.Append(ctx, nil))
	require.NoError(t, w.Append(ctx, []byte("x")))

	c, err := w.NewCursor(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"", "x"}, readAll(t, c))
}

func TestWAL_CursorOnEmptyLog(t *testing.T) {
	w := openTestWAL(t, t.TempDir(), clockwork.NewFakeClock())

	c, err := w.NewCursor(false)
	require.NoError(t, err)

	_, ok, err := c.TryReadNext()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, types.NoCycle, c.CycleID())
}

func TestWAL_TailSeesNewAppends(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, t.TempDir(), clockwork.NewFakeClock())

	c, err := w.NewCursor(false)
	require.NoError(t, err)
	assert.Empty(t, readAll(t, c))

	require.NoError(t, w.Append(ctx, []byte("late")))
	assert.Equal(t, []string{"late"}, readAll(t, c))
}

func TestWAL_CursorAtEndSkipsHistory(t *testing.T) {
	ctx := context.Background()
	w := openTestWAL(t, t.TempDir(), clockwork.NewFakeClock())

	require.NoError(t, w.Append(ctx, []byte("old-1")))
	require.NoError(t, w.Append(ctx, []byte("old-2")))

	c, err := w.NewCursor(true)
	require.NoError(t, err)
	assert.Empty(t, readAll(t, c))

	require.NoError(t, w.Append(ctx, []byte("new")))
	assert.Equal(t, []string{"new"}, readAll(t, c))
}

func TestWAL_RollsAcrossCycles(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	w := openTestWAL(t, t.TempDir(), fc)

	require.NoError(t, w.Append(ctx, []byte("a")))
	require.NoError(t, w.Append(ctx, []byte("b")))
	first := segment.Minutely.ToCycle(fc.Now())

	fc.Advance(time.Minute)
	require.NoError(t, w.Append(ctx, []byte("c")))

	assert.Equal(t, []types.CycleID{first, first + 1}, w.Segments())

	c, err := w.NewCursor(false)
	require.NoError(t, err)

	var cycles []types.CycleID
	for {
		rec, ok, err := c.TryReadNext()
		require.NoError(t, err)
		if !ok {
			break
		}
		cycles = append(cycles, c.CycleID())
		_ = rec
	}
	assert.Equal(t, []types.CycleID{first, first, first + 1}, cycles)
}

func TestWAL_ClockGoingBackwardsKeepsCycleMonotonic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	w, err := Open(Options{Dir: dir, RollCycle: segment.Minutely, Clock: clockwork.NewFakeClockAt(start.Add(2 * time.Minute))})
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, []byte("a")))
	later := w.Segments()
	require.NoError(t, w.Close())

	// restarted with a clock that is behind the newest segment
	w2 := openTestWAL(t, dir, clockwork.NewFakeClockAt(start))
	require.NoError(t, w2.Append(ctx, []byte("b")))
	assert.Equal(t, later, w2.Segments())

	c, err := w2.NewCursor(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, readAll(t, c))
}

func TestWAL_ReopenIndexesExistingSegments(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fc := clockwork.NewFakeClock()

	w, err := Open(Options{Dir: dir, RollCycle: segment.Minutely, Clock: fc})
	require.NoError(t, err)
	require.NoError(t, w.Append(ctx, []byte("persisted")))
	require.NoError(t, w.Close())

	w2 := openTestWAL(t, dir, fc)
	c, err := w2.NewCursor(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"persisted"}, readAll(t, c))

	require.NoError(t, w2.Append(ctx, []byte("appended")))
	assert.Equal(t, []string{"appended"}, readAll(t, c))
}

func TestWAL_TornTailIsAbsentNotError(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	w := openTestWAL(t, t.TempDir(), fc)

	require.NoError(t, w.Append(ctx, []byte("complete")))

	// simulate a writer that has only flushed part of a record
	frame := encodeRecord([]byte("partial"))
	_, err := w.active.Write(frame[:headerSize+2])
	require.NoError(t, err)

	c, err := w.NewCursor(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"complete"}, readAll(t, c))

	_, err = w.active.Write(frame[headerSize+2:])
	require.NoError(t, err)
	assert.Equal(t, []string{"partial"}, readAll(t, c))
}

func TestWAL_ChecksumMismatchIsReadFailure(t *testing.T) {
	dir := t.TempDir()
	fc := clockwork.NewFakeClock()
	w := openTestWAL(t, dir, fc)

	require.NoError(t, w.Append(context.Background(), []byte("payload")))

	path := filepath.Join(dir, segmentName(segment.Minutely.ToCycle(fc.Now())))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)-1] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0600))

	c, err := w.NewCursor(false)
	require.NoError(t, err)
	_, _, err = c.TryReadNext()
	assert.ErrorIs(t, err, dberrors.ErrCorruptRecord)
}

func TestWAL_RecordTooLarge(t *testing.T) {
	w, err := Open(Options{Dir: t.TempDir(), MaxRecordSize: 4, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	defer w.Close()

	err = w.Append(context.Background(), []byte("12345"))
	assert.ErrorIs(t, err, dberrors.ErrRecordTooLarge)
}

func TestWAL_AppendAfterClose(t *testing.T) {
	w, err := Open(Options{Dir: t.TempDir(), Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	assert.ErrorIs(t, w.Append(context.Background(), []byte("x")), dberrors.ErrClosed)
	_, err = w.NewCursor(false)
	assert.ErrorIs(t, err, dberrors.ErrClosed)
}

func TestWAL_ResolveAndDeleteSegment(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	w := openTestWAL(t, t.TempDir(), fc)

	require.NoError(t, w.Append(ctx, []byte("a")))
	first := segment.Minutely.ToCycle(fc.Now())
	fc.Advance(time.Minute)
	require.NoError(t, w.Append(ctx, []byte("b")))

	_, ok, err := w.ResolveSegment(first - 1)
	require.NoError(t, err)
	assert.False(t, ok)

	// the segment being written to is never removed
	active, ok, err := w.ResolveSegment(first + 1)
	require.NoError(t, err)
	require.True(t, ok)
	deleted, err := active.Delete()
	require.NoError(t, err)
	assert.False(t, deleted)

	h, ok, err := w.ResolveSegment(first)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, first, h.Cycle())

	deleted, err = h.Delete()
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.NoFileExists(t, h.Name())
	assert.Equal(t, []types.CycleID{first + 1}, w.Segments())

	// second delete is a miss, not a failure
	deleted, err = h.Delete()
	require.NoError(t, err)
	assert.False(t, deleted)
}

func TestWAL_CursorSkipsSegmentDeletedUnderneath(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	fc := clockwork.NewFakeClock()
	w := openTestWAL(t, dir, fc)

	require.NoError(t, w.Append(ctx, []byte("gone")))
	first := segment.Minutely.ToCycle(fc.Now())
	fc.Advance(time.Minute)
	require.NoError(t, w.Append(ctx, []byte("kept")))

	// remove the file behind the index's back
	require.NoError(t, os.Remove(filepath.Join(dir, segmentName(first))))

	c, err := w.NewCursor(false)
	require.NoError(t, err)
	assert.Equal(t, []string{"kept"}, readAll(t, c))
}
