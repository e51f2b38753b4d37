package clock

import (
	"sync/atomic"

	"replaylog/pkg/types"
)

// AtomicClock is a logical clock handing out increasing sequence numbers.
// It only moves forward.
type AtomicClock struct {
	v atomic.Uint64
}

func NewAtomic(init types.SequenceNumber) *AtomicClock {
	var ac AtomicClock
	ac.v.Store(uint64(init))
	return &ac
}

func (ac *AtomicClock) Val() types.SequenceNumber {
	return types.SequenceNumber(ac.v.Load())
}

func (ac *AtomicClock) Next() types.SequenceNumber {
	return types.SequenceNumber(ac.v.Add(1))
}

// Advance moves the clock forward to n. It never moves back.
func (ac *AtomicClock) Advance(n types.SequenceNumber) {
	for {
		cur := ac.v.Load()
		if cur >= uint64(n) || ac.v.CompareAndSwap(cur, uint64(n)) {
			return
		}
	}
}
