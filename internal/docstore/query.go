package docstore

import (
	"fmt"
	"sort"
	"time"
)

// Evaluate applies q's filters, ordering, range and limit to docs, which must
// be in insertion order. It is the query engine of the stores that cannot
// push queries down.
func Evaluate(q Query, docs []*Document) []*Document {
	out := make([]*Document, 0, len(docs))
	for _, d := range docs {
		if matches(q.Filters, d) {
			out = append(out, d)
		}
	}
	if len(q.OrderBy) > 0 {
		sort.SliceStable(out, func(i, j int) bool {
			for _, o := range q.OrderBy {
				c := compare(out[i].Lookup(o.Field), out[j].Lookup(o.Field))
				if c == 0 {
					continue
				}
				if o.Desc {
					return c > 0
				}
				return c < 0
			}
			return false
		})
		out = applyRange(q, out)
	}
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func applyRange(q Query, docs []*Document) []*Document {
	if q.StartAt == nil && q.EndAt == nil {
		return docs
	}
	o := q.OrderBy[0]
	out := docs[:0:0]
	for _, d := range docs {
		v := d.Lookup(o.Field)
		if v == nil {
			continue
		}
		if q.StartAt != nil {
			c := compare(v, q.StartAt)
			if (!o.Desc && c < 0) || (o.Desc && c > 0) {
				continue
			}
		}
		if q.EndAt != nil {
			c := compare(v, q.EndAt)
			if (!o.Desc && c > 0) || (o.Desc && c < 0) {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}

func matches(filters []Filter, d *Document) bool {
	for _, f := range filters {
		v := d.Lookup(f.Field)
		switch f.Op {
		case OpEqual:
			if compare(v, f.Value) != 0 || (v == nil) != (f.Value == nil) {
				return false
			}
		case OpArrayContains:
			if !contains(v, f.Value) {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func contains(arr, want any) bool {
	switch a := arr.(type) {
	case []any:
		for _, e := range a {
			if compare(e, want) == 0 && e != nil {
				return true
			}
		}
	case []string:
		s, ok := want.(string)
		if !ok {
			return false
		}
		for _, e := range a {
			if e == s {
				return true
			}
		}
	}
	return false
}

// compare orders values of the same kind. nil sorts after everything, so an
// unresolved server timestamp reads as the latest value.
func compare(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			}
			return 1
		}
	}
	if af, ok := toFloat(a); ok {
		if bf, ok := toFloat(b); ok {
			switch {
			case af < bf:
				return -1
			case af > bf:
				return 1
			}
			return 0
		}
	}
	// Mixed kinds order by type name so sorting stays total.
	ta, tb := fmt.Sprintf("%T", a), fmt.Sprintf("%T", b)
	switch {
	case ta < tb:
		return -1
	case ta > tb:
		return 1
	}
	return 0
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}
