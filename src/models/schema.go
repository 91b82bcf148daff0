package models

// MEventSchema describes the wire field order of an event type.
type MEventSchema struct {
	Name       string   `json:"type" yaml:"type"`
	Fields     []string `json:"fields" yaml:"fields"`
	TimeSeries bool     `json:"timeSeries" yaml:"time_series"`
}

// Built-in event types published by the push server.
var (
	QuoteSchema = MEventSchema{
		Name:   "Quote",
		Fields: []string{FieldEventSymbol, FieldTime, "bidPrice", "bidSize", "askPrice", "askSize"},
	}
	TradeSchema = MEventSchema{
		Name:   "Trade",
		Fields: []string{FieldEventSymbol, FieldTime, "price", "size", "dayVolume"},
	}
	CandleSchema = MEventSchema{
		Name:       "Candle",
		Fields:     []string{FieldEventSymbol, FieldTime, FieldIndex, "open", "high", "low", "close", "volume", "vwap"},
		TimeSeries: true,
	}
)

// KnownSchemas indexes the built-in event types by name.
func KnownSchemas() map[string]MEventSchema {
	return map[string]MEventSchema{
		QuoteSchema.Name:  QuoteSchema,
		TradeSchema.Name:  TradeSchema,
		CandleSchema.Name: CandleSchema,
	}
}
