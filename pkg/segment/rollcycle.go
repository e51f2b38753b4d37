package segment

import (
	"fmt"
	"strings"
	"time"

	"replaylog/pkg/dberrors"
	"replaylog/pkg/types"
)

// RollCycle maps wall-clock time onto segment cycles of a fixed length.
type RollCycle struct {
	name   string
	period time.Duration
}

var (
	Minutely = RollCycle{name: "MINUTELY", period: time.Minute}
	Hourly   = RollCycle{name: "HOURLY", period: time.Hour}
	Daily    = RollCycle{name: "DAILY", period: 24 * time.Hour}
)

// NewRollCycle returns a custom roll cycle with the given period.
func NewRollCycle(period time.Duration) (RollCycle, error) {
	if period < time.Millisecond {
		return RollCycle{}, fmt.Errorf("%w: roll period %s is below 1ms", dberrors.ErrInvalidArgument, period)
	}
	return RollCycle{name: period.String(), period: period}, nil
}

// ParseRollCycle accepts MINUTELY, HOURLY, DAILY (any case) or a Go duration.
func ParseRollCycle(s string) (RollCycle, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", Daily.name:
		return Daily, nil
	case Hourly.name:
		return Hourly, nil
	case Minutely.name:
		return Minutely, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return RollCycle{}, fmt.Errorf("%w: unknown roll cycle %q", dberrors.ErrInvalidArgument, s)
	}
	return NewRollCycle(d)
}

func (r RollCycle) String() string { return r.name }

func (r RollCycle) Period() time.Duration { return r.period }

// ToCycle returns the cycle containing t.
func (r RollCycle) ToCycle(t time.Time) types.CycleID {
	return types.CycleID(t.UnixMilli() / r.period.Milliseconds())
}

// Start returns the first instant of cycle c.
func (r RollCycle) Start(c types.CycleID) time.Time {
	return time.UnixMilli(int64(c) * r.period.Milliseconds())
}
