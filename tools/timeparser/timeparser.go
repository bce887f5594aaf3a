package timeparser

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold separates second and millisecond epochs: 13 digit
// values are milliseconds
const epochMillisThreshold = 1000000000000

// NormalizeEpoch returns v in seconds, converting millisecond epochs
func NormalizeEpoch(v int64) int64 {
	if v >= epochMillisThreshold {
		return v / 1000
	}
	return v
}

// ParseEpochKey parses a history key holding an epoch in seconds or
// milliseconds and returns seconds
func ParseEpochKey(key string) (int64, error) {
	v, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid epoch key '%s': %w", key, err)
	}
	if v < 0 {
		return 0, fmt.Errorf("invalid epoch key '%s': negative", key)
	}
	return NormalizeEpoch(v), nil
}

// IsWithinTolerance checks if the reading timestamp is within tolerance of received time
func IsWithinTolerance(readingTime, receivedTime time.Time, toleranceMinutes int) bool {
	diff := readingTime.Sub(receivedTime)
	if diff < 0 {
		diff = -diff
	}
	return diff <= time.Duration(toleranceMinutes)*time.Minute
}
