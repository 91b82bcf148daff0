package server

import (
	"math"
	"strconv"

	"market-feed/src/helpers"
	"market-feed/src/models"
)

// -----------------------------------------------------------------------------

var errRejected = helpers.NewTransportError("handshake rejected", nil)

func errUnexpected(channel string) error {
	return helpers.NewTransportError("expected handshake, got "+channel, nil)
}

// -----------------------------------------------------------------------------

type typeBatch struct {
	eventType string
	records   []*models.MEventRecord
}

// groupByType splits records into per-type batches in order of first
// appearance, keeping the record order inside each batch.
func groupByType(records []*models.MEventRecord) []typeBatch {
	var batches []typeBatch
	index := make(map[string]int)
	for _, rec := range records {
		i, ok := index[rec.Type]
		if !ok {
			i = len(batches)
			index[rec.Type] = i
			batches = append(batches, typeBatch{eventType: rec.Type})
		}
		batches[i].records = append(batches[i].records, rec)
	}
	return batches
}

// -----------------------------------------------------------------------------

// dataMessage flattens records into the [type, [values...]] wire shape.
func dataMessage(schema models.MEventSchema, records []*models.MEventRecord) []interface{} {
	values := make([]interface{}, 0, len(records)*len(schema.Fields))
	for _, rec := range records {
		values = append(values, rec.Values(schema.Fields)...)
	}
	return []interface{}{schema.Name, values}
}

// -----------------------------------------------------------------------------

// timeArg coerces an onDemand argument to epoch millis. Numbers are millis,
// strings go through helpers.ParseTime.
func timeArg(args []interface{}, i int) (int64, error) {
	if i >= len(args) || args[i] == nil {
		return 0, helpers.NewValidationError("arg #%d is missing", i)
	}
	if n, ok := models.AsInt64(args[i]); ok {
		return n, nil
	}
	if str, ok := args[i].(string); ok {
		return helpers.ParseTime(str)
	}
	return 0, helpers.NewValidationError("arg #%d cannot be coerced to time", i)
}

// -----------------------------------------------------------------------------

func floatArg(args []interface{}, i int) (float64, error) {
	if i >= len(args) || args[i] == nil {
		return 0, helpers.NewValidationError("arg #%d is missing", i)
	}
	if f, ok := models.AsFloat64(args[i]); ok {
		return f, nil
	}
	if str, ok := args[i].(string); ok {
		f, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return 0, helpers.NewValidationError("arg #%d: %v", i, err)
		}
		return f, nil
	}
	return 0, helpers.NewValidationError("arg #%d cannot be coerced to double", i)
}

// speedArg is floatArg restricted to finite, non-negative replay speeds.
func speedArg(args []interface{}, i int) (float64, error) {
	speed, err := floatArg(args, i)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(speed) || math.IsInf(speed, 0) || speed < 0 {
		return 0, helpers.NewValidationError("arg #%d: speed %v must be a finite non-negative number", i, speed)
	}
	return speed, nil
}
