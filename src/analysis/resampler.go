package analysis

import (
	"sort"
)

// Window is a group of sample indices falling into [StartTime, EndTime).
type Window struct {
	Indices   []int
	StartTime int64
	EndTime   int64
}

// -----------------------------------------------------------------------------

// ResampleIndices groups sorted timestamps into aligned windows of width
// window. Empty windows are skipped.
func ResampleIndices(timestamps []int64, window int64) []Window {
	if len(timestamps) == 0 || window <= 0 {
		return nil
	}

	var results []Window
	for i := 0; i < len(timestamps); {
		start, end := CalculateWindowBoundaries(timestamps[i], window)

		// Find end index (left side search)
		j := i + sort.Search(len(timestamps)-i, func(k int) bool {
			return timestamps[i+k] >= end
		})

		indices := make([]int, j-i)
		for idx := i; idx < j; idx++ {
			indices[idx-i] = idx
		}
		results = append(results, Window{Indices: indices, StartTime: start, EndTime: end})
		i = j
	}

	return results
}

// -----------------------------------------------------------------------------

// CalculateWindowBoundaries returns the aligned window holding ts.
func CalculateWindowBoundaries(ts int64, window int64) (int64, int64) {
	start := ts - (ts % window)
	if ts < 0 && ts%window != 0 {
		start -= window
	}
	return start, start + window
}
