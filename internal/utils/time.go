package utils

import "time"

func NowUTC() time.Time {
	return time.Now().UTC()
}

// Later returns whichever of a and b is later. Activity timestamps never move
// backwards even when the wall clock does.
func Later(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
