package protocol

import "time"

// Clock supplies the current unix time in seconds. The engine never reads
// the wall clock directly, so replays and tests control time.
type Clock interface {
	Now() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

func (f ClockFunc) Now() int64 { return f() }

// SystemClock reads the wall clock.
var SystemClock Clock = ClockFunc(func() int64 { return time.Now().Unix() })

// FixedClock always returns ts.
func FixedClock(ts int64) Clock {
	return ClockFunc(func() int64 { return ts })
}
