package engine

import "time"

// Clock supplies transition timestamps.
// Implemented by SystemClock (production) and testutil.FixedClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in UTC.
//
// Thread-safety: SystemClock is stateless and safe for concurrent use.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
