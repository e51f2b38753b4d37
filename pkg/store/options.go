package store

import (
	"log/slog"
	"time"

	"replaylog/pkg/clock"
	"replaylog/pkg/metrics"
)

const (
	// DefaultDemandPoll bounds how long a retrieval waits for downstream
	// demand before it re-checks for cancellation.
	DefaultDemandPoll = 100 * time.Millisecond
	// DefaultDataPoll is the pause of a live retrieval that caught up with
	// the writer.
	DefaultDataPoll = 10 * time.Millisecond
)

// ReadErrorPolicy decides what the consumer sees when a retrieval fails to
// read or decode a record.
type ReadErrorPolicy uint8

const (
	// ReadErrorSilent ends the stream without a terminal signal.
	ReadErrorSilent ReadErrorPolicy = iota
	// ReadErrorPropagate ends the stream with an error signal.
	ReadErrorPropagate
)

func (p ReadErrorPolicy) String() string {
	switch p {
	case ReadErrorSilent:
		return "silent"
	case ReadErrorPropagate:
		return "propagate"
	default:
		return "unknown"
	}
}

type options struct {
	name       string
	demandPoll time.Duration
	dataPoll   time.Duration
	readErrors ReadErrorPolicy
	metrics    metrics.Collector
	logger     *slog.Logger
	clk        clock.Clock
}

type Option func(*options)

// WithName labels the store in logs, metrics and stream names. Defaults to
// the log's name.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

func WithDemandPoll(d time.Duration) Option {
	return func(o *options) { o.demandPoll = d }
}

func WithDataPoll(d time.Duration) Option {
	return func(o *options) { o.dataPoll = d }
}

func WithReadErrorPolicy(p ReadErrorPolicy) Option {
	return func(o *options) { o.readErrors = p }
}

func WithMetrics(m metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock sets the clock used for polling and journal timestamps.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clk = c }
}

func defaultOptions() options {
	return options{
		demandPoll: DefaultDemandPoll,
		dataPoll:   DefaultDataPoll,
		readErrors: ReadErrorSilent,
	}
}
