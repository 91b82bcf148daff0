package models

import "time"

// Well-known field names inside an event's field map.
const (
	FieldEventSymbol = "eventSymbol"
	FieldEventType   = "eventType"
	FieldTime        = "time"
	FieldIndex       = "index"
)

// MEventRecord is one decoded market event.
// Records are never mutated once handed to the registry; a newer record with the same key replaces it.
type MEventRecord struct {
	Type   string         `json:"eventType"`
	Symbol string         `json:"eventSymbol"`
	Time   int64          `json:"time,omitempty"`  // epoch millis, 0 when the schema has no time field
	Index  int64          `json:"index,omitempty"` // per-symbol ordering key for time-series events
	Fields map[string]any `json:"fields"`
}

// -----------------------------------------------------------------------------

// NewEventRecord builds a record from a field map, lifting symbol, time and index out of it.
func NewEventRecord(eventType string, fields map[string]any) *MEventRecord {
	rec := &MEventRecord{
		Type:   eventType,
		Fields: fields,
	}
	if s, ok := fields[FieldEventSymbol].(string); ok {
		rec.Symbol = s
	}
	if t, ok := AsInt64(fields[FieldTime]); ok {
		rec.Time = t
	}
	if i, ok := AsInt64(fields[FieldIndex]); ok {
		rec.Index = i
	}
	return rec
}

// -----------------------------------------------------------------------------

// Float returns a numeric field as float64.
func (e *MEventRecord) Float(name string) float64 {
	f, _ := AsFloat64(e.Fields[name])
	return f
}

// -----------------------------------------------------------------------------

// Timestamp returns Time as a time.Time in UTC.
func (e *MEventRecord) Timestamp() time.Time {
	return time.UnixMilli(e.Time).UTC()
}

// -----------------------------------------------------------------------------

// Values flattens the record into the order given by fields (wire order).
func (e *MEventRecord) Values(fields []string) []any {
	out := make([]any, len(fields))
	for i, f := range fields {
		switch f {
		case FieldEventSymbol:
			out[i] = e.Symbol
		case FieldTime:
			out[i] = e.Time
		case FieldIndex:
			out[i] = e.Index
		default:
			out[i] = e.Fields[f]
		}
	}
	return out
}

// -----------------------------------------------------------------------------

// AsInt64 converts the numeric shapes produced by the JSON and CBOR decoders.
func AsInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case uint32:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	}
	return 0, false
}

// AsFloat64 converts the numeric shapes produced by the JSON and CBOR decoders.
func AsFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint32:
		return float64(n), true
	}
	return 0, false
}
