package flow

import (
	"context"
	"sync/atomic"

	"replaylog/pkg/dberrors"
)

// Sink is the producer's side of a subscription.
type Sink[T any] struct {
	ctx        context.Context
	sub        *Subscription[T]
	terminated atomic.Bool
}

// Context is cancelled when the subscriber cancels.
func (k *Sink[T]) Context() context.Context { return k.ctx }

// Done is closed when the subscriber cancels.
func (k *Sink[T]) Done() <-chan struct{} { return k.ctx.Done() }

func (k *Sink[T]) Cancelled() bool { return k.ctx.Err() != nil }

// Requested is the outstanding demand.
func (k *Sink[T]) Requested() int64 { return k.sub.requested.Load() }

// DemandChanged fires after the subscriber requested more.
func (k *Sink[T]) DemandChanged() <-chan struct{} { return k.sub.demand }

// AwaitDemand blocks until there is outstanding demand or the subscription is
// cancelled.
func (k *Sink[T]) AwaitDemand() error {
	for k.Requested() <= 0 {
		select {
		case <-k.sub.demand:
		case <-k.ctx.Done():
			return k.ctx.Err()
		}
	}
	return k.ctx.Err()
}

// Next emits one element and consumes one unit of demand. It blocks until the
// subscriber receives the element or cancels.
func (k *Sink[T]) Next(v T) error {
	if k.terminated.Load() {
		return dberrors.ErrClosed
	}
	if k.sub.requested.Add(-1) < 0 {
		k.sub.requested.Add(1)
		return dberrors.ErrNoDemand
	}
	return k.send(Signal[T]{Kind: KindNext, Value: v})
}

// Complete delivers the completion signal. Later emissions are rejected.
func (k *Sink[T]) Complete() {
	if k.terminated.Swap(true) {
		return
	}
	_ = k.send(Signal[T]{Kind: KindComplete})
}

// Error delivers err as the terminal signal.
func (k *Sink[T]) Error(err error) {
	if k.terminated.Swap(true) {
		return
	}
	_ = k.send(Signal[T]{Kind: KindError, Err: err})
}

func (k *Sink[T]) send(sig Signal[T]) error {
	select {
	case k.sub.signals <- sig:
		return nil
	case <-k.ctx.Done():
		return k.ctx.Err()
	}
}
