// Package window implements fixed-window time arithmetic for rate limiting.
//
// Windows are aligned to the Unix epoch, so every process computing the
// window for the same instant agrees on its boundaries without coordination.
package window

import "time"

// Start floors now to the nearest multiple of size since the Unix epoch.
func Start(now time.Time, size time.Duration) time.Time {
	if size <= 0 {
		return now.UTC()
	}
	ms := now.UnixMilli()
	step := size.Milliseconds()
	if step <= 0 {
		return now.UTC()
	}
	floored := ms - mod(ms, step)
	return time.UnixMilli(floored).UTC()
}

// End returns the exclusive end of the window beginning at start.
func End(start time.Time, size time.Duration) time.Time {
	return start.Add(size)
}

// SecondsUntil returns the whole seconds remaining until target, rounded up
// and clamped at zero.
func SecondsUntil(target, now time.Time) int {
	remaining := target.Sub(now)
	if remaining <= 0 {
		return 0
	}
	secs := remaining / time.Second
	if remaining%time.Second != 0 {
		secs++
	}
	return int(secs)
}

// mod is a floor modulo so instants before the epoch still floor downwards.
func mod(a, b int64) int64 {
	r := a % b
	if r < 0 {
		r += b
	}
	return r
}
