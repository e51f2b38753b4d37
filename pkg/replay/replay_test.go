package replay

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"replaylog/pkg/dberrors"
	"replaylog/pkg/flow"
	"replaylog/pkg/metrics"
)

func identity(v int64) int64 { return v }

func receive[T any](t *testing.T, sub *flow.Subscription[T]) flow.Signal[T] {
	t.Helper()
	select {
	case sig, ok := <-sub.Signals():
		require.True(t, ok, "stream ended")
		return sig
	case <-time.After(time.Second):
		t.Fatal("no signal received")
	}
	return flow.Signal[T]{}
}

func requireQuiet[T any](t *testing.T, sub *flow.Subscription[T]) {
	t.Helper()
	select {
	case sig := <-sub.Signals():
		t.Fatalf("unexpected signal %v", sig.Kind)
	case <-time.After(15 * time.Millisecond):
	}
}

func TestDelay(t *testing.T) {
	prev := int64(10_000)

	assert.Zero(t, Delay(nil, 10_000, 1))
	assert.Equal(t, time.Second, Delay(&prev, 11_000, 1))
	assert.Equal(t, 500*time.Millisecond, Delay(&prev, 11_000, 2))
	assert.Equal(t, 2*time.Second, Delay(&prev, 11_000, 0.5))
	assert.Zero(t, Delay(&prev, 9_000, 1))
	assert.Zero(t, Delay(&prev, 10_000, 1))

	// gaps too long for a time.Duration saturate instead of turning negative
	zero, lowest := int64(0), int64(math.MinInt64)
	assert.Equal(t, time.Duration(math.MaxInt64), Delay(&zero, 1<<62, 1))
	assert.Equal(t, time.Duration(math.MaxInt64), Delay(&lowest, math.MaxInt64, 1))
	assert.Equal(t, time.Duration(math.MaxInt64), Delay(&prev, 11_000, 1e-12))
	assert.Positive(t, Delay(&prev, 10_001, 1e-300))
}

func TestWithTiming_ReproducesGaps(t *testing.T) {
	stamps := []int64{10_000, 11_000, 12_000, 15_000}
	ms := time.Millisecond

	cases := []struct {
		name         string
		acceleration float64
		gaps         []time.Duration
	}{
		{"original", 1, []time.Duration{0, 1000 * ms, 1000 * ms, 3000 * ms}},
		{"twice as fast", 2, []time.Duration{0, 500 * ms, 500 * ms, 1500 * ms}},
		{"half speed", 0.5, []time.Duration{0, 2000 * ms, 2000 * ms, 6000 * ms}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			fc := clockwork.NewFakeClock()
			reg := metrics.NewRegistry()

			timed, err := WithTiming(flow.FromSlice("ticks", stamps...), identity, tc.acceleration,
				WithClock(fc), WithMetrics(reg))
			require.NoError(t, err)

			sub := timed.Subscribe(ctx)
			defer sub.Cancel()
			sub.Request(flow.Unbounded)

			for i, gap := range tc.gaps {
				if gap > 0 {
					require.NoError(t, fc.BlockUntilContext(ctx, 1))
					fc.Advance(gap - time.Millisecond)
					requireQuiet(t, sub)
					fc.Advance(time.Millisecond)
				}
				sig := receive(t, sub)
				require.Equal(t, flow.KindNext, sig.Kind)
				assert.Equal(t, stamps[i], sig.Value)
			}
			assert.Equal(t, flow.KindComplete, receive(t, sub).Kind)
		})
	}
}

func TestWithTiming_BackwardsTimestampEmitsImmediately(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()

	timed, err := WithTiming(flow.FromSlice("skewed", int64(5_000), int64(3_000), int64(4_000)), identity, 1, WithClock(fc))
	require.NoError(t, err)

	sub := timed.Subscribe(ctx)
	defer sub.Cancel()
	sub.Request(flow.Unbounded)

	assert.Equal(t, int64(5_000), receive(t, sub).Value)
	assert.Equal(t, int64(3_000), receive(t, sub).Value)

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(time.Second)
	assert.Equal(t, int64(4_000), receive(t, sub).Value)
}

func TestWithTiming_RejectsNonPositiveAcceleration(t *testing.T) {
	for _, a := range []float64{0, -1, math.NaN()} {
		_, err := WithTiming(flow.FromSlice[int64]("x"), identity, a)
		assert.ErrorIs(t, err, dberrors.ErrInvalidAcceleration, "acceleration %v", a)
	}
}

func TestWithTiming_CancelAbandonsPendingDelay(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()

	timed, err := WithTiming(flow.FromSlice("slow", int64(0), int64(3_600_000)), identity, 1, WithClock(fc))
	require.NoError(t, err)

	sub := timed.Subscribe(ctx)
	sub.Request(flow.Unbounded)
	receive(t, sub)
	require.NoError(t, fc.BlockUntilContext(ctx, 1))

	sub.Cancel()
	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("pending delay kept the stream alive")
	}
}

func TestInLoop_MarksFirstElementOfEachIteration(t *testing.T) {
	looped := InLoop(flow.FromSlice("abc", "a", "b", "c"), 0)

	got, err := flow.Collect(context.Background(), looped, 7)
	require.NoError(t, err)

	assert.Equal(t, []ReplayValue[string]{
		{"a", true}, {"b", false}, {"c", false},
		{"a", true}, {"b", false}, {"c", false},
		{"a", true},
	}, got)
}

func TestInLoop_WaitsRestartDelayBeforeEveryIteration(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()
	reg := metrics.NewRegistry()

	looped := InLoop(flow.FromSlice("pair", 1, 2), 5*time.Second, WithClock(fc), WithMetrics(reg))
	sub := looped.Subscribe(ctx)
	defer sub.Cancel()
	sub.Request(flow.Unbounded)

	for iteration := 1; iteration <= 2; iteration++ {
		require.NoError(t, fc.BlockUntilContext(ctx, 1))
		requireQuiet(t, sub)
		fc.Advance(5 * time.Second)

		assert.Equal(t, ReplayValue[int]{1, true}, receive(t, sub).Value)
		assert.Equal(t, ReplayValue[int]{2, false}, receive(t, sub).Value)
	}
	assert.GreaterOrEqual(t, reg.Counter(metrics.ReplayLoopIteration, map[string]string{"stream": "pair"}), float64(2))
}

func TestInLoop_EmptyHistoryBacksOff(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()

	looped := InLoop(flow.FromSlice[int]("empty"), 0, WithClock(fc), WithEmptyLoopBackoff(time.Second))
	sub := looped.Subscribe(ctx)
	defer sub.Cancel()
	sub.Request(1)

	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	requireQuiet(t, sub)
}

func TestInLoop_SourceErrorEndsLoop(t *testing.T) {
	boom := errors.New("boom")
	looped := InLoop(flow.Error[int]("broken", boom), 0)

	_, err := flow.Collect(context.Background(), looped, 0)
	assert.ErrorIs(t, err, boom)
}

func TestFlux_KeepsNameAcrossDerivedStreams(t *testing.T) {
	f := NewFlux(flow.FromSlice("quotes", int64(1), int64(2)), identity)

	assert.Equal(t, "quotes", f.Name())
	assert.Equal(t, "quotes", f.Stream().Name())
	assert.Equal(t, "quotes", f.WithOriginalTiming().Name())
	assert.Equal(t, "quotes", f.WithOriginalTiming().InLoop().Name())
	assert.Equal(t, "quotes", f.InLoopWithDelay(time.Second).Name())

	_, err := f.WithTimeAcceleration(0)
	assert.ErrorIs(t, err, dberrors.ErrInvalidAcceleration)
}

func TestFlux_TimedLoop(t *testing.T) {
	ctx := context.Background()
	fc := clockwork.NewFakeClock()

	f, err := NewFlux(flow.FromSlice("ticks", int64(0), int64(1_000)), identity, WithClock(fc)).
		WithTimeAcceleration(10)
	require.NoError(t, err)

	sub := f.InLoop().Subscribe(ctx)
	defer sub.Cancel()
	sub.Request(flow.Unbounded)

	assert.Equal(t, ReplayValue[int64]{0, true}, receive(t, sub).Value)
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
	fc.Advance(100 * time.Millisecond)
	assert.Equal(t, ReplayValue[int64]{1_000, false}, receive(t, sub).Value)

	// the next iteration starts over without a delay for its first element
	assert.Equal(t, ReplayValue[int64]{0, true}, receive(t, sub).Value)
}
