// Package docstore describes the document database the messaging layer runs
// on: path-addressed JSON-like documents, collection queries and live
// subscriptions that deliver full snapshots.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("docstore: document not found")

// Fields is a document body or a partial update. Keys passed to Update may be
// dotted field paths ("readBy.u1").
type Fields map[string]any

type serverTimestamp struct{}

// ServerTimestamp is replaced by the store's clock when the write is applied.
var ServerTimestamp any = serverTimestamp{}

func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestamp)
	return ok
}

type SetOption int

const (
	Overwrite SetOption = iota
	Merge
)

// Document is one stored record. Data is owned by the caller.
type Document struct {
	Path string
	ID   string
	Data map[string]any
	// PendingWrites is true while some server timestamp in Data is still nil.
	PendingWrites bool
}

type Op string

const (
	OpEqual         Op = "=="
	OpArrayContains Op = "array-contains"
)

type Filter struct {
	Field string
	Op    Op
	Value any
}

type Order struct {
	Field string
	Desc  bool
}

// Query selects documents of one collection. StartAt and EndAt bound the first
// order-by field inclusively.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    []Order
	StartAt    any
	EndAt      any
	Limit      int
}

func (q Query) Where(field string, op Op, v any) Query {
	q.Filters = append(append([]Filter(nil), q.Filters...), Filter{Field: field, Op: op, Value: v})
	return q
}

func (q Query) Order(field string, desc bool) Query {
	q.OrderBy = append(append([]Order(nil), q.OrderBy...), Order{Field: field, Desc: desc})
	return q
}

func Collection(path string) Query {
	return Query{Collection: path}
}

type SnapshotFunc func(docs []*Document)

type ErrorFunc func(err error)

// Unsubscribe stops a subscription. It is safe to call more than once.
type Unsubscribe func()

// Store is the document database collaborator.
type Store interface {
	Get(ctx context.Context, path string) (*Document, error)
	Set(ctx context.Context, path string, fields Fields, opt SetOption) error
	Update(ctx context.Context, path string, fields Fields) error
	Add(ctx context.Context, collection string, fields Fields) (string, error)
	Delete(ctx context.Context, path string) error
	Query(ctx context.Context, q Query) ([]*Document, error)
	// Subscribe delivers the full result of q now and after every change to
	// q's collection. Callbacks of one subscription never run concurrently.
	Subscribe(ctx context.Context, q Query, onSnapshot SnapshotFunc, onError ErrorFunc) Unsubscribe
}

// Split returns the parent collection path and the document id of path.
func Split(path string) (collection, id string) {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return "", path
	}
	return path[:i], path[i+1:]
}

// ValidDocPath reports whether path names a document (even segment count).
func ValidDocPath(path string) bool {
	if path == "" || strings.HasPrefix(path, "/") || strings.HasSuffix(path, "/") {
		return false
	}
	parts := strings.Split(path, "/")
	for _, p := range parts {
		if p == "" {
			return false
		}
	}
	return len(parts)%2 == 0
}

func (d *Document) String(field string) string {
	s, _ := d.Lookup(field).(string)
	return s
}

// Time returns the time at field, false when missing, nil or not a time.
func (d *Document) Time(field string) (time.Time, bool) {
	t, ok := d.Lookup(field).(time.Time)
	return t, ok
}

func (d *Document) Bool(field string) bool {
	b, _ := d.Lookup(field).(bool)
	return b
}

func (d *Document) Map(field string) map[string]any {
	m, _ := d.Lookup(field).(map[string]any)
	return m
}

// Strings returns the string elements of an array field, skipping others.
func (d *Document) Strings(field string) []string {
	var out []string
	switch v := d.Lookup(field).(type) {
	case []string:
		out = append(out, v...)
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
	}
	return out
}

// Lookup resolves a dotted field path, nil when absent.
func (d *Document) Lookup(field string) any {
	if d == nil {
		return nil
	}
	return lookup(d.Data, field)
}
