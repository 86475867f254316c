package docstore

import (
	"context"
	"reflect"
	"sync"
)

// Fetcher runs a query against the backing store.
type Fetcher func(ctx context.Context, q Query) ([]*Document, error)

// Watchers turns "collection changed" notifications into live query
// snapshots for stores without native listeners. Each subscription re-runs
// its query on its own goroutine; bursts of notifications coalesce into one
// refetch and unchanged results are not redelivered.
type Watchers struct {
	mu   sync.Mutex
	next int
	subs map[int]*watcher
}

type watcher struct {
	collection string
	dirty      chan struct{}
}

func NewWatchers() *Watchers {
	return &Watchers{subs: make(map[int]*watcher)}
}

func (w *Watchers) Watch(ctx context.Context, q Query, fetch Fetcher, onSnapshot SnapshotFunc, onError ErrorFunc) Unsubscribe {
	ctx, cancel := context.WithCancel(ctx)
	wt := &watcher{collection: q.Collection, dirty: make(chan struct{}, 1)}
	wt.dirty <- struct{}{}

	w.mu.Lock()
	id := w.next
	w.next++
	w.subs[id] = wt
	w.mu.Unlock()

	go func() {
		var last []*Document
		delivered := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-wt.dirty:
			}
			docs, err := fetch(ctx, q)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			if delivered && reflect.DeepEqual(last, docs) {
				continue
			}
			last, delivered = docs, true
			onSnapshot(cloneDocs(docs))
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs, id)
			w.mu.Unlock()
			cancel()
		})
	}
}

// Notify marks every subscription on collection dirty.
func (w *Watchers) Notify(collection string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, wt := range w.subs {
		if wt.collection != collection {
			continue
		}
		select {
		case wt.dirty <- struct{}{}:
		default:
		}
	}
}

// NotifyAll marks every subscription dirty, used after a lost change feed.
func (w *Watchers) NotifyAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, wt := range w.subs {
		select {
		case wt.dirty <- struct{}{}:
		default:
		}
	}
}

// Len reports the number of live subscriptions.
func (w *Watchers) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.subs)
}

func cloneDocs(docs []*Document) []*Document {
	out := make([]*Document, len(docs))
	for i, d := range docs {
		cp := *d
		cp.Data = CloneData(d.Data)
		out[i] = &cp
	}
	return out
}
