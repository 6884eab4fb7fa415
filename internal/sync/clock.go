package sync

import "time"

// Clock returns the current wall time in milliseconds since the Unix
// epoch. The engine threads one Clock through every timestamp decision
// so tests can inject a deterministic source. Skew between devices is
// tolerated by last-write-wins; there is no monotonicity requirement.
type Clock func() int64

// WallClock is the production Clock.
func WallClock() int64 {
	return time.Now().UnixMilli()
}
