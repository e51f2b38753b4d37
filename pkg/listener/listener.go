package listener

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

var (
	// ErrStop is returned by a handler to end the listener without logging.
	ErrStop = errors.New("listener stopped")

	errInputClosed = errors.New("input closed")
)

type Job interface {
	Start(ctx context.Context)
	Stop()
}

type Option func(*options)

type options struct {
	name        string
	logger      *slog.Logger
	stopHandler func()
}

func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithStopHandler registers fn to run once after the loop exited.
func WithStopHandler(fn func()) Option {
	return func(o *options) {
		if fn != nil {
			o.stopHandler = fn
		}
	}
}

// Listener feeds every value received on a channel to a handler on a
// background goroutine. The loop ends on Stop, on a closed input channel or on
// the first handler error.
type Listener[T any] struct {
	handler func(input T) error
	opts    options

	in       <-chan T
	wg       sync.WaitGroup
	cancel   func()
	done     chan struct{}
	stopOnce sync.Once
	err      error
}

var _ Job = (*Listener[int])(nil)

func New[T any](in <-chan T, handler func(T) error, opts ...Option) *Listener[T] {
	o := options{
		name:        "listener",
		logger:      slog.Default(),
		stopHandler: func() {},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &Listener[T]{
		in:      in,
		handler: handler,
		opts:    o,
		cancel:  func() {},
		done:    make(chan struct{}),
	}
}

func (l *Listener[T]) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	l.wg.Add(1)

	go func() {
		defer l.wg.Done()
		defer l.finish()
		for {
			err := l.run(ctx)
			switch {
			case err == nil:
				continue
			case errors.Is(err, ErrStop), errors.Is(err, errInputClosed), ctx.Err() != nil:
				return
			default:
				l.err = err
				l.opts.logger.Error("listener stopped on error", "listener", l.opts.name, "error", err)
				return
			}
		}
	}()
}

func (l *Listener[T]) run(ctx context.Context) error {
	select {
	case inp, ok := <-l.in:
		if !ok {
			return errInputClosed
		}
		if err := l.handler(inp); err != nil {
			if errors.Is(err, ErrStop) {
				return err
			}
			return fmt.Errorf("failed to handle input: %w", err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

func (l *Listener[T]) finish() {
	l.stopOnce.Do(l.opts.stopHandler)
	close(l.done)
}

// Stop cancels the loop and waits for it. A handler call in progress is
// allowed to finish.
func (l *Listener[T]) Stop() {
	l.cancel()
	l.wg.Wait()
}

// Wait blocks until the loop exited.
func (l *Listener[T]) Wait() { l.wg.Wait() }

// Done is closed once the loop exited and the stop handler ran.
func (l *Listener[T]) Done() <-chan struct{} { return l.done }

// Err is the handler error that ended the loop, if any. Only valid after Done.
func (l *Listener[T]) Err() error { return l.err }
