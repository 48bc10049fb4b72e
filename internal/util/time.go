package util

import (
	"fmt"
	"strconv"
	"time"
)

// ParseTimeFlexible accepts the time formats the oracle and API clients are
// known to produce: RFC3339 with or without fractional seconds, a naive ISO
// timestamp without zone, or epoch milliseconds.
func ParseTimeFlexible(timeStr string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, timeStr)
	if err == nil {
		return t.UTC(), nil
	}
	t, err = time.Parse(time.RFC3339, timeStr)
	if err == nil {
		return t.UTC(), nil
	}

	// Naive ISO timestamp, treated as UTC.
	t, err = time.Parse("2006-01-02T15:04:05", timeStr)
	if err == nil {
		return t.UTC(), nil
	}

	// Epoch milliseconds.
	ms, err := strconv.ParseInt(timeStr, 10, 64)
	if err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	return time.Time{}, fmt.Errorf("invalid time format: %s", timeStr)
}
