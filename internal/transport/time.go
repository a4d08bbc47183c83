package transport

import "time"

// timeUntil is time.Until clamped to a small positive minimum, for client
// libraries that treat a zero timeout as "no timeout".
func timeUntil(deadline time.Time) time.Duration {
	d := time.Until(deadline)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
