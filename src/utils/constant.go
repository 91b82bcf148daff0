package utils

import "math"

// -----------------------------------------------------------------------------

const (
	// DefaultHistorySize is the per-(type, symbol) buffer capacity when none is configured.
	DefaultHistorySize = 1000

	// DefaultMaxMemoryMB bounds the heap before history buffers are halved.
	DefaultMaxMemoryMB = 512

	// tradingSecondsPerDay covers 6.5 market hours.
	tradingSecondsPerDay = 6.5 * 3600
)

// -----------------------------------------------------------------------------

// CalculateMaxDataPoints returns how many periodSeconds-long bars fit in
// days trading days.
func CalculateMaxDataPoints(days, periodSeconds int) int {
	if days <= 0 || periodSeconds <= 0 {
		return DefaultHistorySize
	}
	return int(math.Ceil(float64(days) * tradingSecondsPerDay / float64(periodSeconds)))
}
