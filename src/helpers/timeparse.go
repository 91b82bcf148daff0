package helpers

import (
	"math"
	"strconv"
	"strings"
	"time"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"20060102-150405",
	"2006-01-02",
	"20060102",
}

// ParseTime converts a user supplied time into epoch milliseconds.
// Numbers (and numeric strings) are taken as milliseconds already; strings
// without a zone are read as UTC.
func ParseTime(v interface{}) (int64, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli(), nil
	case *time.Time:
		if t == nil {
			return 0, NewValidationError("nil time")
		}
		return t.UnixMilli(), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return floatMillis(t)
	case float32:
		return floatMillis(float64(t))
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, NewValidationError("empty time")
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil && len(s) != 8 {
			return ms, nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UnixMilli(), nil
			}
		}
		return 0, NewValidationError("unrecognized time %q", s)
	default:
		return 0, NewValidationError("unsupported time value %v (%T)", v, v)
	}
}

// floatMillis truncates t, rejecting values int64 cannot hold.
func floatMillis(t float64) (int64, error) {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0, NewValidationError("time %v is not a finite number", t)
	}
	if t < math.MinInt64 || t >= math.MaxInt64 {
		return 0, NewValidationError("time %v is out of range", t)
	}
	return int64(t), nil
}
