// Package memory is an in-process document store with live subscriptions.
// It is NOT persistent and is only suitable for development / local mode and
// tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
)

type entry struct {
	data map[string]any
	seq  uint64
}

type Store struct {
	mu      sync.RWMutex
	docs    map[string]*entry
	pending map[string][]string
	seq     uint64

	clock          clockwork.Clock
	deferTimestamp bool
	watchers       *docstore.Watchers
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithDeferredTimestamps leaves server timestamps nil until ResolvePending is
// called, the way a remote store shows a local write before the server has
// stamped it.
func WithDeferredTimestamps() Option {
	return func(s *Store) { s.deferTimestamp = true }
}

func New(opts ...Option) *Store {
	s := &Store{
		docs:     make(map[string]*entry),
		pending:  make(map[string][]string),
		clock:    clockwork.NewRealClock(),
		watchers: docstore.NewWatchers(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) Get(_ context.Context, path string) (*docstore.Document, error) {
	if !docstore.ValidDocPath(path) {
		return nil, fmt.Errorf("memory: Get %q: invalid document path", path)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.docs[path]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return s.document(path, e), nil
}

func (s *Store) Set(_ context.Context, path string, fields docstore.Fields, opt docstore.SetOption) error {
	return s.write(path, false, func(existing map[string]any) map[string]any {
		return docstore.ApplySet(existing, fields, opt)
	})
}

func (s *Store) Update(_ context.Context, path string, fields docstore.Fields) error {
	return s.write(path, true, func(existing map[string]any) map[string]any {
		return docstore.ApplyUpdate(existing, fields)
	})
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	id := uuid.NewString()
	if err := s.Set(ctx, collection+"/"+id, fields, docstore.Overwrite); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	if !docstore.ValidDocPath(path) {
		return fmt.Errorf("memory: Delete %q: invalid document path", path)
	}
	s.mu.Lock()
	delete(s.docs, path)
	delete(s.pending, path)
	s.mu.Unlock()

	collection, _ := docstore.Split(path)
	s.watchers.Notify(collection)
	return nil
}

func (s *Store) Query(_ context.Context, q docstore.Query) ([]*docstore.Document, error) {
	s.mu.RLock()
	type row struct {
		doc *docstore.Document
		seq uint64
	}
	var rows []row
	for path, e := range s.docs {
		if c, _ := docstore.Split(path); c == q.Collection {
			rows = append(rows, row{doc: s.document(path, e), seq: e.seq})
		}
	}
	s.mu.RUnlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	docs := make([]*docstore.Document, len(rows))
	for i, r := range rows {
		docs[i] = r.doc
	}
	return docstore.Evaluate(q, docs), nil
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) docstore.Unsubscribe {
	return s.watchers.Watch(ctx, q, s.Query, onSnapshot, onError)
}

// ResolvePending stamps every deferred server timestamp with the clock's time.
func (s *Store) ResolvePending() {
	now := s.clock.Now()
	collections := map[string]struct{}{}

	s.mu.Lock()
	for path, fields := range s.pending {
		if e, ok := s.docs[path]; ok {
			docstore.ResolvePaths(e.data, fields, now)
			c, _ := docstore.Split(path)
			collections[c] = struct{}{}
		}
		delete(s.pending, path)
	}
	s.mu.Unlock()

	for c := range collections {
		s.watchers.Notify(c)
	}
}

// Subscriptions reports how many live subscriptions the store is serving.
func (s *Store) Subscriptions() int {
	return s.watchers.Len()
}

func (s *Store) write(path string, mustExist bool, apply func(existing map[string]any) map[string]any) error {
	if !docstore.ValidDocPath(path) {
		return fmt.Errorf("memory: write %q: invalid document path", path)
	}

	s.mu.Lock()
	e, ok := s.docs[path]
	if !ok && mustExist {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	var existing map[string]any
	if ok {
		existing = e.data
	}
	data := apply(existing)

	if s.deferTimestamp {
		still := s.pending[path][:0:0]
		for _, p := range s.pending[path] {
			if (&docstore.Document{Data: data}).Lookup(p) == nil {
				still = append(still, p)
			}
		}
		still = append(still, docstore.PendServerTimestamps(data)...)
		if len(still) > 0 {
			s.pending[path] = still
		} else {
			delete(s.pending, path)
		}
	} else {
		docstore.ResolveServerTimestamps(data, s.clock.Now())
	}

	if !ok {
		s.seq++
		e = &entry{seq: s.seq}
		s.docs[path] = e
	}
	e.data = data
	s.mu.Unlock()

	collection, _ := docstore.Split(path)
	s.watchers.Notify(collection)
	return nil
}

func (s *Store) document(path string, e *entry) *docstore.Document {
	_, id := docstore.Split(path)
	return &docstore.Document{
		Path:          path,
		ID:            id,
		Data:          docstore.CloneData(e.data),
		PendingWrites: len(s.pending[path]) > 0,
	}
}
