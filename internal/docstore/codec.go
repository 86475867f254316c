package docstore

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Times are tagged so they survive the JSON round trip as time.Time.
const timeKey = "$time"

// EncodeJSON renders document data for stores that keep a JSON body.
func EncodeJSON(data map[string]any) (string, error) {
	b, err := json.Marshal(toWire(data))
	if err != nil {
		return "", fmt.Errorf("docstore: encode: %w", err)
	}
	return string(b), nil
}

func DecodeJSON(s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, fmt.Errorf("docstore: decode: %w", err)
	}
	out, _ := fromWire(m).(map[string]any)
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

func toWire(v any) any {
	switch t := v.(type) {
	case time.Time:
		return map[string]any{timeKey: t.UTC().Format(time.RFC3339Nano)}
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toWire(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toWire(e)
		}
		return out
	default:
		return v
	}
}

func fromWire(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if s, ok := t[timeKey].(string); ok && len(t) == 1 {
			if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
				return ts
			}
		}
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = fromWire(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = fromWire(e)
		}
		return out
	default:
		return v
	}
}
