package flow

import (
	"context"
)

// FromSlice emits values in order and completes.
func FromSlice[T any](name string, values ...T) Stream[T] {
	return New(name, func(sink *Sink[T]) {
		for _, v := range values {
			if err := sink.AwaitDemand(); err != nil {
				return
			}
			if err := sink.Next(v); err != nil {
				return
			}
		}
		sink.Complete()
	})
}

// Error returns a stream that fails immediately with err.
func Error[T any](name string, err error) Stream[T] {
	return New(name, func(sink *Sink[T]) {
		sink.Error(err)
	})
}

// Pipe runs fn with an upstream subscription bound to the downstream
// subscription's lifetime. The upstream is cancelled when fn returns.
func Pipe[T, U any](src Stream[T], name string, fn func(up *Subscription[T], sink *Sink[U])) Stream[U] {
	return New(name, func(sink *Sink[U]) {
		up := src.Subscribe(sink.Context())
		defer up.Cancel()
		fn(up, sink)
	})
}

// Forward pulls one element at a time from up whenever sink has demand and
// hands it to emit. Upstream completion and errors are relayed; a silent
// upstream end ends the sink silently too.
func Forward[T, U any](up *Subscription[T], sink *Sink[U], emit func(T) error) {
	ctx := sink.Context()
	for {
		if err := sink.AwaitDemand(); err != nil {
			return
		}
		v, ok, err := up.Next(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				sink.Error(err)
			}
			return
		case !ok:
			if up.Completed() {
				sink.Complete()
			}
			return
		}
		if err := emit(v); err != nil {
			return
		}
	}
}

// Map transforms every element with fn. The stream keeps the source's name.
func Map[T, U any](src Stream[T], fn func(T) U) Stream[U] {
	return Pipe(src, src.Name(), func(up *Subscription[T], sink *Sink[U]) {
		Forward(up, sink, func(v T) error {
			return sink.Next(fn(v))
		})
	})
}

// Collect subscribes to s and gathers up to max elements (all when max <= 0)
// until completion. A silent end returns what was received so far.
func Collect[T any](ctx context.Context, s Stream[T], max int) ([]T, error) {
	sub := s.Subscribe(ctx)
	defer sub.Cancel()

	if max > 0 {
		sub.Request(int64(max))
	} else {
		sub.Request(Unbounded)
	}

	var out []T
	for {
		select {
		case sig, open := <-sub.Signals():
			if !open {
				return out, nil
			}
			switch sig.Kind {
			case KindNext:
				out = append(out, sig.Value)
				if max > 0 && len(out) >= max {
					return out, nil
				}
			case KindError:
				return out, sig.Err
			case KindComplete:
				return out, nil
			}
		case <-ctx.Done():
			return out, ctx.Err()
		}
	}
}
