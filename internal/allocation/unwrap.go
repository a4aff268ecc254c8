package allocation

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedResponse is returned when an allocation body is not valid JSON.
var ErrMalformedResponse = errors.New("malformed allocation response")

// envelopeKeys are tried in priority order before treating the body as a bare array.
var envelopeKeys = []string{"data", "allocation"}

// Unwrap extracts records from an allocation response. The body may be {"data": [...]},
// {"allocation": [...]}, or a bare array, tried in that order; anything else yields no
// records. Array elements that are not objects are skipped.
func Unwrap(body []byte) ([]Record, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if obj, ok := raw.(map[string]any); ok {
		for _, key := range envelopeKeys {
			if items, ok := obj[key].([]any); ok {
				return toRecords(items), nil
			}
		}
		return []Record{}, nil
	}

	if items, ok := raw.([]any); ok {
		return toRecords(items), nil
	}
	return []Record{}, nil
}

func toRecords(items []any) []Record {
	records := make([]Record, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			records = append(records, Record(obj))
		}
	}
	return records
}
