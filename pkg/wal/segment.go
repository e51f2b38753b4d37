package wal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"replaylog/pkg/types"
)

const segmentExt = ".wal"

type segmentFile struct {
	cycle types.CycleID
	path  string
}

func segmentName(cycle types.CycleID) string {
	return fmt.Sprintf("%020d%s", int64(cycle), segmentExt)
}

func parseSegmentName(name string) (types.CycleID, bool) {
	if !strings.HasSuffix(name, segmentExt) {
		return 0, false
	}
	n, err := strconv.ParseInt(strings.TrimSuffix(name, segmentExt), 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return types.CycleID(n), true
}

// handle implements segment.Handle for one segment file.
type handle struct {
	w   *WAL
	seg *segmentFile
}

func (h *handle) Cycle() types.CycleID { return h.seg.cycle }

func (h *handle) Name() string { return h.seg.path }

func (h *handle) Delete() (bool, error) {
	return h.w.deleteSegment(h.seg)
}

// deleteSegment removes a segment file and drops it from the index.
// The segment currently open for appends is never removed.
func (w *WAL) deleteSegment(seg *segmentFile) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.active != nil && w.activeCycle == seg.cycle {
		w.logger.Warn("refusing to delete active segment", "cycle", seg.cycle, "path", seg.path)
		return false, nil
	}

	err := os.Remove(seg.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		w.segments.Delete(int64(seg.cycle))
		return false, nil
	case err != nil:
		return false, fmt.Errorf("failed to remove segment %s: %w", filepath.Base(seg.path), err)
	}

	w.segments.Delete(int64(seg.cycle))
	return true, nil
}
