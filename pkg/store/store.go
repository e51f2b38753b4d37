// Package store persists values to a segmented log and streams them back.
//
// Writes are synchronous appends. Every retrieval subscription owns a cursor
// and a goroutine that polls the log while the subscriber has demand.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"replaylog/pkg/clock"
	"replaylog/pkg/codec"
	"replaylog/pkg/dberrors"
	"replaylog/pkg/flow"
	"replaylog/pkg/listener"
	"replaylog/pkg/metrics"
	"replaylog/pkg/replay"
	"replaylog/pkg/segment"
)

type Store[T any] struct {
	log   segment.Log
	codec codec.Codec[T]
	opts  options

	logger  *slog.Logger
	metrics metrics.Collector
	clk     clock.Clock
	labels  map[string]string

	activeRetrievals atomic.Int64
}

// New returns a store over log that encodes values with c.
func New[T any](log segment.Log, c codec.Codec[T], opts ...Option) (*Store[T], error) {
	if log == nil {
		return nil, fmt.Errorf("%w: nil log", dberrors.ErrInvalidArgument)
	}
	if c == nil {
		return nil, fmt.Errorf("%w: nil codec", dberrors.ErrInvalidArgument)
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.demandPoll <= 0 {
		return nil, fmt.Errorf("%w: demand poll %s", dberrors.ErrInvalidArgument, o.demandPoll)
	}
	if o.dataPoll <= 0 {
		return nil, fmt.Errorf("%w: data poll %s", dberrors.ErrInvalidArgument, o.dataPoll)
	}
	if o.name == "" {
		o.name = log.Name()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	return &Store[T]{
		log:     log,
		codec:   c,
		opts:    o,
		logger:  o.logger.With("store", o.name),
		metrics: metrics.OrNop(o.metrics),
		clk:     clock.OrReal(o.clk),
		labels:  map[string]string{"store": o.name},
	}, nil
}

func (s *Store[T]) Name() string { return s.opts.name }

// Store serializes v and appends it before returning.
func (s *Store[T]) Store(ctx context.Context, v T) error {
	rec, err := s.codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to serialize value: %w", err)
	}
	if err := s.log.Append(ctx, rec); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	s.metrics.IncCounter(metrics.RecordsAppended, s.labels, 1)
	return nil
}

type ingestionJob interface {
	listener.Job
	Wait()
	Done() <-chan struct{}
	Err() error
}

// Ingestion is a running StoreFrom.
type Ingestion struct {
	job     ingestionJob
	stopped *atomic.Bool
}

// Stop stops consuming the source and waits for an append in progress.
func (i *Ingestion) Stop() {
	i.stopped.Store(true)
	i.job.Stop()
}

// Wait blocks until the ingestion ended on its own or was stopped.
func (i *Ingestion) Wait() { i.job.Wait() }

func (i *Ingestion) Done() <-chan struct{} { return i.job.Done() }

// Err is the append failure that ended the ingestion, if any.
func (i *Ingestion) Err() error { return i.job.Err() }

// StoreFrom appends every value src emits, on a background goroutine. An
// error from src ends the ingestion and is logged, records written before it
// stay in the log.
func (s *Store[T]) StoreFrom(ctx context.Context, src flow.Stream[T]) *Ingestion {
	sub := src.Subscribe(ctx)
	stopped := new(atomic.Bool)

	l := listener.New(sub.Signals(), func(sig flow.Signal[T]) error {
		if stopped.Load() {
			return listener.ErrStop
		}
		switch sig.Kind {
		case flow.KindComplete:
			s.logger.Debug("ingestion source completed", "source", src.Name())
			return listener.ErrStop
		case flow.KindError:
			s.metrics.IncCounter(metrics.IngestionErrors, s.labels, 1)
			s.logger.Error("ingestion source failed, appends stopped", "source", src.Name(), "error", sig.Err)
			return listener.ErrStop
		}

		if err := s.Store(ctx, sig.Value); err != nil {
			s.metrics.IncCounter(metrics.IngestionErrors, s.labels, 1)
			return err
		}
		return nil
	},
		listener.WithName("ingestion:"+src.Name()),
		listener.WithLogger(s.logger),
		listener.WithStopHandler(sub.Cancel),
	)

	l.Start(ctx)
	sub.Request(flow.Unbounded)

	return &Ingestion{job: l, stopped: stopped}
}

// RetrieveAll streams the whole log and keeps tailing it. With
// deleteAfterRead, a segment is deleted once the retrieval moved past it.
func (s *Store[T]) RetrieveAll(deleteAfterRead bool) flow.Stream[T] {
	return s.retrieve(retrievalPlan{mode: modeLive, deleteAfterRead: deleteAfterRead})
}

// RetrieveHistory streams what the log holds and completes once it caught up
// with the writer.
func (s *Store[T]) RetrieveHistory() flow.Stream[T] {
	return s.retrieve(retrievalPlan{mode: modeHistory})
}

// RetrieveNewValues streams only what is appended after subscription.
func (s *Store[T]) RetrieveNewValues() flow.Stream[T] {
	return s.retrieve(retrievalPlan{mode: modeLive, fromEnd: true})
}

// ReplayHistory returns a replay over the history. Every subscription of a
// derived stream reads the log anew.
func (s *Store[T]) ReplayHistory(timestampOf func(T) int64, opts ...replay.Option) *replay.Flux[T] {
	opts = append([]replay.Option{replay.WithClock(s.clk), replay.WithMetrics(s.metrics)}, opts...)
	return replay.NewFlux(s.RetrieveHistory(), timestampOf, opts...)
}
