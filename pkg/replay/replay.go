// Package replay re-emits a finite history with its original pacing and can
// loop it indefinitely.
package replay

import (
	"fmt"
	"math"
	"time"

	"replaylog/pkg/clock"
	"replaylog/pkg/dberrors"
	"replaylog/pkg/flow"
	"replaylog/pkg/metrics"
)

// Timed pairs a value with the unix millisecond time it was recorded at.
type Timed[T any] struct {
	Time  int64 `json:"time" msgpack:"time"`
	Value T     `json:"value" msgpack:"value"`
}

// ReplayValue is one element of a looped replay. Restart is set on the first
// element of every iteration.
type ReplayValue[T any] struct {
	Value   T    `json:"value"`
	Restart bool `json:"restart"`
}

// DefaultEmptyLoopBackoff paces iterations over an empty history when no
// restart delay is configured.
const DefaultEmptyLoopBackoff = 10 * time.Millisecond

type Option func(*options)

type options struct {
	clk          clock.Clock
	metrics      metrics.Collector
	emptyBackoff time.Duration
}

func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithEmptyLoopBackoff sets how long a loop waits before restarting after an
// iteration that emitted nothing and had no restart delay.
func WithEmptyLoopBackoff(d time.Duration) Option {
	return func(o *options) { o.emptyBackoff = d }
}

func buildOptions(opts []Option) options {
	o := options{emptyBackoff: DefaultEmptyLoopBackoff}
	for _, opt := range opts {
		opt(&o)
	}
	o.clk = clock.OrReal(o.clk)
	o.metrics = metrics.OrNop(o.metrics)
	return o
}

// Delay is the pause before an element stamped ts that follows one stamped
// prev. A missing predecessor or a timestamp going backwards yields zero.
func Delay(prev *int64, ts int64, acceleration float64) time.Duration {
	if prev == nil || ts <= *prev {
		return 0
	}
	// float64 so that neither the gap nor its scaling can wrap around
	d := (float64(ts) - float64(*prev)) * float64(time.Millisecond) / acceleration
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

// WithTiming delays every element of src by the gap between its timestamp and
// the previous element's, divided by acceleration. The first element is
// emitted at once and order is preserved.
func WithTiming[T any](src flow.Stream[T], timestampOf func(T) int64, acceleration float64, opts ...Option) (flow.Stream[T], error) {
	if !(acceleration > 0) {
		return flow.Stream[T]{}, fmt.Errorf("%w: %v", dberrors.ErrInvalidAcceleration, acceleration)
	}
	if timestampOf == nil {
		return flow.Stream[T]{}, fmt.Errorf("%w: nil timestamp extractor", dberrors.ErrInvalidArgument)
	}
	o := buildOptions(opts)

	return flow.Pipe(src, src.Name(), func(up *flow.Subscription[T], sink *flow.Sink[T]) {
		var prev *int64
		flow.Forward(up, sink, func(v T) error {
			ts := timestampOf(v)
			d := Delay(prev, ts, acceleration)
			prev = &ts

			if d > 0 {
				o.metrics.ObserveHistogram(metrics.ReplayDelaySeconds, map[string]string{"stream": src.Name()}, d.Seconds())
			}
			if !clock.Sleep(sink.Done(), o.clk, d) {
				return sink.Context().Err()
			}
			return sink.Next(v)
		})
	}), nil
}

// InLoop replays src over and over. Each iteration subscribes to src afresh
// after waiting restartDelay, including the first one, and starts only after
// the previous iteration completed. An error from src ends the loop with that
// error.
func InLoop[T any](src flow.Stream[T], restartDelay time.Duration, opts ...Option) flow.Stream[ReplayValue[T]] {
	o := buildOptions(opts)
	labels := map[string]string{"stream": src.Name()}

	return flow.New(src.Name(), func(sink *flow.Sink[ReplayValue[T]]) {
		ctx := sink.Context()
		emptyRun := false

		for {
			if err := sink.AwaitDemand(); err != nil {
				return
			}

			wait := restartDelay
			if emptyRun && wait <= 0 {
				wait = o.emptyBackoff
			}
			if !clock.Sleep(sink.Done(), o.clk, wait) {
				return
			}
			o.metrics.IncCounter(metrics.ReplayLoopIteration, labels, 1)

			emitted, completed := iterate(src, sink)
			if !completed {
				return
			}
			emptyRun = emitted == 0
			if ctx.Err() != nil {
				return
			}
		}
	})
}

// iterate runs one pass over src. completed is false when the loop has to
// end: src failed or ended silently, or the subscriber went away.
func iterate[T any](src flow.Stream[T], sink *flow.Sink[ReplayValue[T]]) (emitted int, completed bool) {
	ctx := sink.Context()
	up := src.Subscribe(ctx)
	defer up.Cancel()

	first := true
	for {
		if err := sink.AwaitDemand(); err != nil {
			return emitted, false
		}
		v, ok, err := up.Next(ctx)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				sink.Error(err)
			}
			return emitted, false
		case !ok:
			return emitted, up.Completed()
		}

		if err := sink.Next(ReplayValue[T]{Value: v, Restart: first}); err != nil {
			return emitted, false
		}
		first = false
		emitted++
	}
}
