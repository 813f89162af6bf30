// Package safe provides guarded file access and checked numeric conversions.
package safe

import (
	"math"
)

// Int64ToInt converts an int64 to int, clamping to the int range on platforms
// where it is narrower.
// Returns the converted value and a boolean indicating whether clamping occurred.
func Int64ToInt(val int64) (int, bool) {
	if val > math.MaxInt {
		return math.MaxInt, true
	}
	if val < math.MinInt {
		return math.MinInt, true
	}
	return int(val), false
}

// IntToUint64 converts a non-negative int to uint64, clamping negatives to 0.
// Returns the converted value and a boolean indicating whether clamping occurred.
func IntToUint64(val int) (uint64, bool) {
	if val < 0 {
		return 0, true
	}
	return uint64(val), false
}
