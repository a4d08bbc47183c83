package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// PayloadFromJSON parses a JSON object into a Payload with the same value
// types a decoded frame would carry: whole numbers become int64 and all
// other numbers float64.
func PayloadFromJSON(data []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse payload: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("parse payload: expected a JSON object")
	}

	return normalize(raw).(Payload), nil
}

func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(Payload, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		f, _ := val.Float64()
		return f
	default:
		return val
	}
}
