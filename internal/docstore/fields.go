package docstore

import (
	"strings"
	"time"
)

func lookup(data map[string]any, field string) any {
	cur := any(data)
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[part]
	}
	return cur
}

// setPath writes v at a dotted field path, creating intermediate maps.
func setPath(data map[string]any, field string, v any) {
	parts := strings.Split(field, ".")
	cur := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = map[string]any{}
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = v
}

// Clone deep-copies maps and slices; other values are immutable or shared.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = Clone(e)
		}
		return out
	case Fields:
		return Clone(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = Clone(e)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = e
		}
		return out
	default:
		return v
	}
}

func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return map[string]any{}
	}
	return Clone(data).(map[string]any)
}

// ApplySet returns the body after a Set. Merge deep-merges nested maps.
func ApplySet(existing map[string]any, fields Fields, opt SetOption) map[string]any {
	incoming := Clone(map[string]any(fields)).(map[string]any)
	if opt == Overwrite || existing == nil {
		return incoming
	}
	out := CloneData(existing)
	mergeInto(out, incoming)
	return out
}

func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		sm, sok := v.(map[string]any)
		dm, dok := dst[k].(map[string]any)
		if sok && dok {
			mergeInto(dm, sm)
			continue
		}
		dst[k] = v
	}
}

// ApplyUpdate returns the body after an Update with dotted field paths.
func ApplyUpdate(existing map[string]any, fields Fields) map[string]any {
	out := CloneData(existing)
	for k, v := range fields {
		setPath(out, k, Clone(v))
	}
	return out
}

// ResolveServerTimestamps replaces every ServerTimestamp sentinel with now.
func ResolveServerTimestamps(data map[string]any, now time.Time) {
	for k, v := range data {
		switch t := v.(type) {
		case map[string]any:
			ResolveServerTimestamps(t, now)
		default:
			if IsServerTimestamp(v) {
				data[k] = now
			}
		}
	}
}

// PendServerTimestamps replaces sentinels with nil and returns their dotted
// paths, so a store can resolve them later.
func PendServerTimestamps(data map[string]any) []string {
	return pend(data, "")
}

func pend(data map[string]any, prefix string) []string {
	var paths []string
	for k, v := range data {
		p := k
		if prefix != "" {
			p = prefix + "." + k
		}
		if m, ok := v.(map[string]any); ok {
			paths = append(paths, pend(m, p)...)
			continue
		}
		if IsServerTimestamp(v) {
			data[k] = nil
			paths = append(paths, p)
		}
	}
	return paths
}

// ResolvePaths sets each dotted path to now.
func ResolvePaths(data map[string]any, paths []string, now time.Time) {
	for _, p := range paths {
		setPath(data, p, now)
	}
}
