package feed

import (
	"fmt"

	"market-feed/src/helpers"
	"market-feed/src/models"
)

// schemaCache remembers the field order of each event type. Schemas arrive
// either on the schema channel or inline as the head of a data batch.
type schemaCache struct {
	fields map[string][]string
}

func newSchemaCache() *schemaCache {
	return &schemaCache{fields: make(map[string][]string)}
}

func (c *schemaCache) register(eventType string, fields []string) {
	c.fields[eventType] = append([]string(nil), fields...)
}

// decodeBatch expands a `[type, values]` data message into records.
// type is a known name or an inline [name, fields] pair.
func (c *schemaCache) decodeBatch(data []interface{}) ([]*models.MEventRecord, error) {
	if len(data) != 2 {
		return nil, helpers.NewDecodeError(fmt.Sprintf("data message has %d elements, want 2", len(data)), nil)
	}

	var eventType string
	var fields []string
	switch head := data[0].(type) {
	case string:
		eventType = head
		known, ok := c.fields[head]
		if !ok {
			return nil, helpers.NewDecodeError("no schema announced for "+head, nil)
		}
		fields = known
	case []interface{}:
		name, list, err := inlineSchema(head)
		if err != nil {
			return nil, err
		}
		eventType, fields = name, list
		c.register(name, list)
	default:
		return nil, helpers.NewDecodeError(fmt.Sprintf("unexpected data head %T", data[0]), nil)
	}

	values, ok := data[1].([]interface{})
	if !ok {
		return nil, helpers.NewDecodeError(fmt.Sprintf("%s values are %T, want array", eventType, data[1]), nil)
	}
	n := len(fields)
	if n == 0 {
		return nil, helpers.NewDecodeError("empty schema for "+eventType, nil)
	}
	if len(values)%n != 0 {
		return nil, helpers.NewDecodeError(fmt.Sprintf("%s: %d values do not divide into %d fields", eventType, len(values), n), nil)
	}

	records := make([]*models.MEventRecord, 0, len(values)/n)
	for i := 0; i < len(values); i += n {
		row := make(map[string]interface{}, n)
		for j, f := range fields {
			row[f] = values[i+j]
		}
		rec := models.NewEventRecord(eventType, row)
		if rec.Symbol == "" {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func inlineSchema(head []interface{}) (string, []string, error) {
	if len(head) != 2 {
		return "", nil, helpers.NewDecodeError("inline schema must be [name, fields]", nil)
	}
	name, ok := head[0].(string)
	if !ok {
		return "", nil, helpers.NewDecodeError(fmt.Sprintf("inline schema name is %T", head[0]), nil)
	}
	raw, ok := head[1].([]interface{})
	if !ok {
		return "", nil, helpers.NewDecodeError(fmt.Sprintf("inline schema fields of %s are %T", name, head[1]), nil)
	}
	fields := make([]string, len(raw))
	for i, f := range raw {
		s, ok := f.(string)
		if !ok {
			return "", nil, helpers.NewDecodeError(fmt.Sprintf("field %d of %s is %T", i, name, f), nil)
		}
		fields[i] = s
	}
	return name, fields, nil
}
