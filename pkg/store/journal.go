package store

import (
	"context"
	"encoding/binary"
	"fmt"

	"replaylog/pkg/clock"
	"replaylog/pkg/codec"
	"replaylog/pkg/dberrors"
	"replaylog/pkg/flow"
	"replaylog/pkg/replay"
	"replaylog/pkg/segment"
	"replaylog/pkg/types"
)

const timestampSize = 8

// timedCodec frames a value as its unix millisecond timestamp (int64, little
// endian) followed by the value's own encoding.
type timedCodec[T any] struct {
	inner codec.Codec[T]
}

// TimedCodec wraps inner so that records carry the time they were stored at.
func TimedCodec[T any](inner codec.Codec[T]) codec.Codec[replay.Timed[T]] {
	return timedCodec[T]{inner: inner}
}

func (c timedCodec[T]) Marshal(v replay.Timed[T]) (types.Record, error) {
	payload, err := c.inner.Marshal(v.Value)
	if err != nil {
		return nil, err
	}
	rec := make([]byte, timestampSize+len(payload))
	binary.LittleEndian.PutUint64(rec, uint64(v.Time))
	copy(rec[timestampSize:], payload)
	return rec, nil
}

func (c timedCodec[T]) Unmarshal(rec types.Record) (replay.Timed[T], error) {
	var out replay.Timed[T]
	if len(rec) < timestampSize {
		return out, fmt.Errorf("%w: timed record of %d bytes", dberrors.ErrCorruptRecord, len(rec))
	}
	v, err := c.inner.Unmarshal(rec[timestampSize:])
	if err != nil {
		return out, err
	}
	out.Time = int64(binary.LittleEndian.Uint64(rec))
	out.Value = v
	return out, nil
}

// Journal stores values together with the time they were stored at, so that
// a replay can reproduce the original pacing.
type Journal[T any] struct {
	store *Store[replay.Timed[T]]
	clk   clock.Clock
}

func NewJournal[T any](log segment.Log, c codec.Codec[T], opts ...Option) (*Journal[T], error) {
	if c == nil {
		return nil, fmt.Errorf("%w: nil codec", dberrors.ErrInvalidArgument)
	}
	s, err := New(log, TimedCodec(c), opts...)
	if err != nil {
		return nil, err
	}
	return &Journal[T]{store: s, clk: s.clk}, nil
}

func (j *Journal[T]) Name() string { return j.store.Name() }

// Store returns the underlying store of timed values.
func (j *Journal[T]) Store() *Store[replay.Timed[T]] { return j.store }

// Append stamps v with the current time and stores it.
func (j *Journal[T]) Append(ctx context.Context, v T) error {
	return j.store.Store(ctx, j.stamp(v))
}

// AppendTimed stores a value with a timestamp supplied by the caller.
func (j *Journal[T]) AppendTimed(ctx context.Context, v replay.Timed[T]) error {
	return j.store.Store(ctx, v)
}

// AppendFrom stamps every value of src as it arrives and stores it.
func (j *Journal[T]) AppendFrom(ctx context.Context, src flow.Stream[T]) *Ingestion {
	return j.store.StoreFrom(ctx, flow.Map(src, j.stamp))
}

func (j *Journal[T]) RetrieveAll(deleteAfterRead bool) flow.Stream[replay.Timed[T]] {
	return j.store.RetrieveAll(deleteAfterRead)
}

func (j *Journal[T]) RetrieveHistory() flow.Stream[replay.Timed[T]] {
	return j.store.RetrieveHistory()
}

func (j *Journal[T]) RetrieveNewValues() flow.Stream[replay.Timed[T]] {
	return j.store.RetrieveNewValues()
}

// ReplayHistory replays the history paced by the stored timestamps.
func (j *Journal[T]) ReplayHistory(opts ...replay.Option) *replay.Flux[replay.Timed[T]] {
	return j.store.ReplayHistory(timeOf[T], opts...)
}

func (j *Journal[T]) stamp(v T) replay.Timed[T] {
	return replay.Timed[T]{Time: clock.NowMs(j.clk), Value: v}
}

func timeOf[T any](v replay.Timed[T]) int64 { return v.Time }
