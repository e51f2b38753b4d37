package replay

import (
	"time"

	"replaylog/pkg/flow"
)

// Flux wraps a finite history and derives timed and looped replays from it.
// Every derived stream keeps the history's name.
type Flux[T any] struct {
	src         flow.Stream[T]
	timestampOf func(T) int64
	opts        []Option
}

func NewFlux[T any](src flow.Stream[T], timestampOf func(T) int64, opts ...Option) *Flux[T] {
	return &Flux[T]{src: src, timestampOf: timestampOf, opts: opts}
}

func (f *Flux[T]) Name() string { return f.src.Name() }

// Stream plays the history once, as fast as it is requested.
func (f *Flux[T]) Stream() flow.Stream[T] { return f.src }

// WithOriginalTiming paces the history at its recorded speed.
func (f *Flux[T]) WithOriginalTiming() *Flux[T] {
	// acceleration 1 always passes validation
	g, _ := f.WithTimeAcceleration(1)
	return g
}

// WithTimeAcceleration paces the history acceleration times faster than it
// was recorded. It fails for a non-positive acceleration.
func (f *Flux[T]) WithTimeAcceleration(acceleration float64) (*Flux[T], error) {
	timed, err := WithTiming(f.src, f.timestampOf, acceleration, f.opts...)
	if err != nil {
		return nil, err
	}
	return &Flux[T]{src: timed, timestampOf: f.timestampOf, opts: f.opts}, nil
}

// InLoop repeats the history without pause between iterations.
func (f *Flux[T]) InLoop() flow.Stream[ReplayValue[T]] {
	return InLoop(f.src, 0, f.opts...)
}

// InLoopWithDelay waits restartDelay before every iteration.
func (f *Flux[T]) InLoopWithDelay(restartDelay time.Duration) flow.Stream[ReplayValue[T]] {
	return InLoop(f.src, restartDelay, f.opts...)
}
