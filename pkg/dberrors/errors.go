package dberrors

import "errors"

var (
	ErrClosed              = errors.New("replaylog: closed")
	ErrInvalidArgument     = errors.New("replaylog: invalid argument")
	ErrInvalidAcceleration = errors.New("replaylog: acceleration must be positive")
	ErrCorruptRecord       = errors.New("replaylog: corrupt record")
	ErrRecordTooLarge      = errors.New("replaylog: record too large")
	ErrNoDemand            = errors.New("replaylog: emission without downstream demand")
)
