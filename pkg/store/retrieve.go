package store

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"replaylog/pkg/clock"
	"replaylog/pkg/dberrors"
	"replaylog/pkg/flow"
	"replaylog/pkg/metrics"
	"replaylog/pkg/segment"
	"replaylog/pkg/types"
)

// State is a step of the retrieval loop.
type State uint8

const (
	StateWaitForDemand State = iota
	StateWaitForData
	StateRead
	StateCheckCycle
	StateComplete
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateWaitForDemand:
		return "WAIT_FOR_DEMAND"
	case StateWaitForData:
		return "WAIT_FOR_DATA"
	case StateRead:
		return "READ"
	case StateCheckCycle:
		return "CHECK_CYCLE"
	case StateComplete:
		return "COMPLETE"
	case StateCancelled:
		return "CANCELLED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

func (s State) terminal() bool {
	return s == StateComplete || s == StateCancelled || s == StateFailed
}

type mode uint8

const (
	modeLive mode = iota
	modeHistory
)

func (m mode) String() string {
	if m == modeHistory {
		return "history"
	}
	return "live"
}

type retrievalPlan struct {
	mode            mode
	fromEnd         bool
	deleteAfterRead bool
}

// retrieval is the polling task behind one subscription.
type retrieval[T any] struct {
	s      *Store[T]
	plan   retrievalPlan
	sink   *flow.Sink[T]
	cursor segment.Cursor
	logger *slog.Logger

	// cycle of the segment the cursor was last seen in
	tracked types.CycleID
}

func (s *Store[T]) retrieve(plan retrievalPlan) flow.Stream[T] {
	return flow.New(s.opts.name, func(sink *flow.Sink[T]) {
		r := &retrieval[T]{
			s:    s,
			plan: plan,
			sink: sink,
			logger: s.logger.With(
				"task", uuid.NewString(),
				"mode", plan.mode.String(),
				"from_end", plan.fromEnd,
			),
		}
		r.run()
	})
}

func (r *retrieval[T]) run() {
	s := r.s
	s.metrics.SetGauge(metrics.ActiveRetrievals, s.labels, float64(s.activeRetrievals.Add(1)))
	defer func() {
		s.metrics.SetGauge(metrics.ActiveRetrievals, s.labels, float64(s.activeRetrievals.Add(-1)))
	}()

	cursor, err := s.log.NewCursor(r.plan.fromEnd)
	if err != nil {
		r.fail(fmt.Errorf("failed to open cursor: %w", err))
		return
	}
	defer func() {
		if err := cursor.Close(); err != nil {
			r.logger.Warn("failed to close cursor", "error", err)
		}
	}()

	r.cursor = cursor
	r.tracked = cursor.CycleID()
	r.logger.Debug("retrieval started", "cycle", r.tracked)

	final := r.loop()
	r.logger.Debug("retrieval ended", "state", final.String())
}

func (r *retrieval[T]) loop() State {
	for {
		if r.sink.Cancelled() {
			return StateCancelled
		}

		var state State
		if r.sink.Requested() <= 0 {
			state = r.waitForDemand()
		} else {
			state = r.read()
		}
		if state.terminal() {
			return state
		}

		r.checkCycle()
	}
}

// waitForDemand sleeps for at most the demand poll. New demand and
// cancellation cut the wait short.
func (r *retrieval[T]) waitForDemand() State {
	t := r.s.clk.NewTimer(r.s.opts.demandPoll)
	defer t.Stop()

	select {
	case <-t.Chan():
	case <-r.sink.DemandChanged():
	case <-r.sink.Done():
		return StateCancelled
	}
	return StateWaitForDemand
}

func (r *retrieval[T]) read() State {
	rec, ok, err := r.cursor.TryReadNext()
	if err != nil {
		r.fail(fmt.Errorf("failed to read record at cycle %d: %w", r.cursor.CycleID(), err))
		return StateFailed
	}

	if !ok {
		if r.plan.mode == modeHistory {
			r.sink.Complete()
			return StateComplete
		}
		if !clock.Sleep(r.sink.Done(), r.s.clk, r.s.opts.dataPoll) {
			return StateCancelled
		}
		return StateWaitForData
	}

	v, err := r.s.codec.Unmarshal(rec)
	if err != nil {
		r.fail(fmt.Errorf("%w: failed to deserialize record at cycle %d: %w", dberrors.ErrCorruptRecord, r.cursor.CycleID(), err))
		return StateFailed
	}

	if err := r.sink.Next(v); err != nil {
		if errors.Is(err, dberrors.ErrNoDemand) {
			r.fail(err)
			return StateFailed
		}
		return StateCancelled
	}
	r.s.metrics.IncCounter(metrics.RecordsRead, r.s.labels, 1)

	return StateRead
}

// checkCycle notices the cursor entering another segment and, when
// retention is on, deletes the one it left.
func (r *retrieval[T]) checkCycle() {
	cycle := r.cursor.CycleID()
	if cycle == r.tracked {
		return
	}

	previous := r.tracked
	r.tracked = cycle
	r.logger.Debug("segment boundary crossed", "from", previous, "to", cycle)

	if r.plan.deleteAfterRead && previous != types.NoCycle {
		r.s.deleteSegment(previous, r.logger)
	}
}

func (r *retrieval[T]) fail(err error) {
	r.s.metrics.IncCounter(metrics.ReadFailures, r.s.labels, 1)
	r.logger.Error("retrieval aborted", "error", err, "policy", r.s.opts.readErrors.String())

	if r.s.opts.readErrors == ReadErrorPropagate {
		r.sink.Error(err)
	}
}

// deleteSegment removes the segment of cycle. Every outcome is logged and
// none is returned: housekeeping never interrupts a retrieval.
func (s *Store[T]) deleteSegment(cycle types.CycleID, logger *slog.Logger) {
	h, ok, err := s.log.ResolveSegment(cycle)
	switch {
	case err != nil:
		s.metrics.IncCounter(metrics.DeletionFailures, s.labels, 1)
		logger.Error("failed to resolve segment", "cycle", cycle, "error", err)
		return
	case !ok:
		s.metrics.IncCounter(metrics.ResolutionMisses, s.labels, 1)
		logger.Debug("no segment to delete", "cycle", cycle)
		return
	}

	deleted, err := h.Delete()
	switch {
	case err != nil:
		s.metrics.IncCounter(metrics.DeletionFailures, s.labels, 1)
		logger.Error("could not delete segment", "cycle", cycle, "path", h.Name(), "error", err)
	case !deleted:
		s.metrics.IncCounter(metrics.DeletionFailures, s.labels, 1)
		logger.Error("could not delete segment", "cycle", cycle, "path", h.Name())
	default:
		s.metrics.IncCounter(metrics.SegmentsDeleted, s.labels, 1)
		logger.Debug("segment deleted after read", "cycle", cycle, "path", h.Name())
	}
}
