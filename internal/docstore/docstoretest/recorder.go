// Package docstoretest wraps a docstore.Store to record calls and inject
// failures in tests.
package docstoretest

import (
	"context"
	"strings"
	"sync"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
)

type Call struct {
	Method string
	Path   string
	Fields docstore.Fields
}

type failure struct {
	method string
	prefix string
	err    error
}

// Store records every call made through it before delegating.
type Store struct {
	inner docstore.Store

	mu       sync.Mutex
	calls    []Call
	failures []failure
}

func Wrap(inner docstore.Store) *Store {
	return &Store{inner: inner}
}

// FailOn makes method calls whose path starts with prefix return err.
func (s *Store) FailOn(method, prefix string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, failure{method: method, prefix: prefix, err: err})
}

func (s *Store) ClearFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = nil
}

func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Count returns the number of calls to method on paths starting with prefix.
func (s *Store) Count(method, prefix string) int {
	n := 0
	for _, c := range s.Calls() {
		if c.Method == method && strings.HasPrefix(c.Path, prefix) {
			n++
		}
	}
	return n
}

// Writes counts Set, Update, Add and Delete calls.
func (s *Store) Writes() int {
	n := 0
	for _, c := range s.Calls() {
		switch c.Method {
		case "Set", "Update", "Add", "Delete":
			n++
		}
	}
	return n
}

func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *Store) record(method, path string, fields docstore.Fields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Method: method, Path: path, Fields: fields})
	for _, f := range s.failures {
		if f.method == method && strings.HasPrefix(path, f.prefix) {
			return f.err
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Document, error) {
	if err := s.record("Get", path, nil); err != nil {
		return nil, err
	}
	return s.inner.Get(ctx, path)
}

func (s *Store) Set(ctx context.Context, path string, fields docstore.Fields, opt docstore.SetOption) error {
	if err := s.record("Set", path, fields); err != nil {
		return err
	}
	return s.inner.Set(ctx, path, fields, opt)
}

func (s *Store) Update(ctx context.Context, path string, fields docstore.Fields) error {
	if err := s.record("Update", path, fields); err != nil {
		return err
	}
	return s.inner.Update(ctx, path, fields)
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	if err := s.record("Add", collection, fields); err != nil {
		return "", err
	}
	return s.inner.Add(ctx, collection, fields)
}

func (s *Store) Delete(ctx context.Context, path string) error {
	if err := s.record("Delete", path, nil); err != nil {
		return err
	}
	return s.inner.Delete(ctx, path)
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	if err := s.record("Query", q.Collection, nil); err != nil {
		return nil, err
	}
	return s.inner.Query(ctx, q)
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) docstore.Unsubscribe {
	if err := s.record("Subscribe", q.Collection, nil); err != nil {
		if onError != nil {
			go onError(err)
		}
		return func() {}
	}
	return s.inner.Subscribe(ctx, q, onSnapshot, onError)
}
