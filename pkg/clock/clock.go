package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is the time source used for pacing, polling and segment rolls.
// Tests substitute clockwork.NewFakeClock().
type Clock = clockwork.Clock

// Real returns the wall clock.
func Real() Clock {
	return clockwork.NewRealClock()
}

// OrReal returns c, or the wall clock when c is nil.
func OrReal(c Clock) Clock {
	if c == nil {
		return Real()
	}
	return c
}

// NowMs returns the current unix time of c in milliseconds.
func NowMs(c Clock) int64 {
	return c.Now().UnixMilli()
}

// Sleep waits for d on c or until done is closed. It reports false when done fired first.
// A non-positive d returns immediately without arming a timer.
func Sleep(done <-chan struct{}, c Clock, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return false
		default:
			return true
		}
	}
	t := c.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.Chan():
		return true
	case <-done:
		return false
	}
}
