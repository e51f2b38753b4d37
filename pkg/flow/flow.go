package flow

import (
	"context"
	"math"
	"sync/atomic"
)

// Unbounded is the demand that never runs out.
const Unbounded = math.MaxInt64

type Kind uint8

const (
	KindNext Kind = iota
	KindComplete
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindNext:
		return "next"
	case KindComplete:
		return "complete"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Signal is one event delivered to a subscriber.
type Signal[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// Producer emits into a sink. It runs on its own goroutine and should return
// once it completed, failed or observed cancellation.
type Producer[T any] func(sink *Sink[T])

// Stream is a cold publisher: every subscription runs the producer anew.
type Stream[T any] struct {
	name    string
	produce Producer[T]
}

// New returns a stream backed by produce.
func New[T any](name string, produce Producer[T]) Stream[T] {
	return Stream[T]{name: name, produce: produce}
}

// Name is the label attached to the stream, used in logs.
func (s Stream[T]) Name() string { return s.name }

// Subscribe starts the producer. The subscription ends when the producer
// returns, when ctx is done or when Cancel is called.
func (s Stream[T]) Subscribe(ctx context.Context) *Subscription[T] {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription[T]{
		signals: make(chan Signal[T]),
		demand:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	sink := &Sink[T]{ctx: ctx, sub: sub}

	go func() {
		defer close(sub.done)
		defer close(sub.signals)
		defer cancel()
		if s.produce != nil {
			s.produce(sink)
		}
	}()

	return sub
}

// Subscription is the consumer's handle on a running stream.
type Subscription[T any] struct {
	requested atomic.Int64
	signals   chan Signal[T]
	demand    chan struct{}
	done      chan struct{}
	cancel    context.CancelFunc
	completed atomic.Bool
}

// Request adds n to the outstanding demand. Non-positive n is ignored.
func (s *Subscription[T]) Request(n int64) {
	if n <= 0 {
		return
	}
	for {
		cur := s.requested.Load()
		next := cur + n
		if next < cur {
			next = Unbounded
		}
		if s.requested.CompareAndSwap(cur, next) {
			break
		}
	}
	select {
	case s.demand <- struct{}{}:
	default:
	}
}

// Cancel stops the producer. It is safe to call more than once.
func (s *Subscription[T]) Cancel() { s.cancel() }

// Signals delivers elements and the terminal signal, then closes.
func (s *Subscription[T]) Signals() <-chan Signal[T] { return s.signals }

// Done is closed once the producer goroutine exited.
func (s *Subscription[T]) Done() <-chan struct{} { return s.done }

// Completed reports whether Next observed the completion signal, as opposed
// to the stream ending silently.
func (s *Subscription[T]) Completed() bool { return s.completed.Load() }

// Next requests one element and waits for it. ok is false when the stream
// ended, err carries an error signal or ctx's error.
func (s *Subscription[T]) Next(ctx context.Context) (v T, ok bool, err error) {
	s.Request(1)
	select {
	case sig, open := <-s.signals:
		if !open {
			return v, false, nil
		}
		switch sig.Kind {
		case KindNext:
			return sig.Value, true, nil
		case KindError:
			return v, false, sig.Err
		default:
			s.completed.Store(true)
			return v, false, nil
		}
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}
