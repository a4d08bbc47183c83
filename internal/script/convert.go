package script

import (
	"fmt"
	"time"

	"github.com/nfrund/backplane/internal/envelope"
)

// toPayloadValue turns the result of tengo.ToInterface into values the
// envelope codec can carry.
func toPayloadValue(v any) (any, error) {
	switch val := v.(type) {
	case nil, bool, int64, float64, string, []byte, time.Time:
		return val, nil
	case rune:
		return string(val), nil
	case error:
		return val.Error(), nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			converted, err := toPayloadValue(item)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = converted
		}
		return out, nil
	case map[string]any:
		out := make(envelope.Payload, len(val))
		for key, item := range val {
			converted, err := toPayloadValue(item)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", key, err)
			}
			out[key] = converted
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported value of type %T", v)
	}
}
