package helpers

import (
	"strconv"
	"time"
)

// IntToString converts int64 to string.
func IntToString(i int64) string {
	return strconv.FormatInt(i, 10)
}

// Ms converts a millisecond count to a time.Duration.
func Ms(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
