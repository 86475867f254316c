// Package firestore adapts Google Cloud Firestore to docstore.Store. It is the
// only backend with native listeners, so Subscribe maps directly onto
// query snapshots.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
)

type Store struct {
	client *firestore.Client
}

// NewStore creates a Firestore-backed store for projectID. Credentials and the
// emulator host come from the environment.
func NewStore(ctx context.Context, projectID string) (*Store, error) {
	if strings.TrimSpace(projectID) == "" {
		return nil, errors.New("firestore: projectID is required")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("firestore: creating client: %w", err)
	}
	return &Store{client: client}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) doc(path string) (*firestore.DocumentRef, error) {
	if !docstore.ValidDocPath(path) {
		return nil, fmt.Errorf("firestore: invalid document path %q", path)
	}
	ref := s.client.Doc(path)
	if ref == nil {
		return nil, fmt.Errorf("firestore: invalid document path %q", path)
	}
	return ref, nil
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Document, error) {
	ref, err := s.doc(path)
	if err != nil {
		return nil, err
	}
	snap, err := ref.Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("firestore Get %q: %w", path, err)
	}
	return toDocument(path, snap), nil
}

func (s *Store) Set(ctx context.Context, path string, fields docstore.Fields, opt docstore.SetOption) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	data := toNative(map[string]any(fields)).(map[string]any)
	if opt == docstore.Merge {
		_, err = ref.Set(ctx, data, firestore.MergeAll)
	} else {
		_, err = ref.Set(ctx, data)
	}
	if err != nil {
		return fmt.Errorf("firestore Set %q: %w", path, err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, path string, fields docstore.Fields) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, updates(fields))
	if status.Code(err) == codes.NotFound {
		return docstore.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("firestore Update %q: %w", path, err)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields docstore.Fields) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, toNative(map[string]any(fields)))
	if err != nil {
		return "", fmt.Errorf("firestore Add %q: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *Store) Delete(ctx context.Context, path string) error {
	ref, err := s.doc(path)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("firestore Delete %q: %w", path, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	fq, err := s.query(q)
	if err != nil {
		return nil, err
	}
	snaps, err := fq.Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("firestore Query %q: %w", q.Collection, err)
	}
	return toDocuments(q.Collection, snaps), nil
}

// Subscribe listens on the query's snapshot stream until ctx ends or the
// returned function is called.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) docstore.Unsubscribe {
	fq, err := s.query(q)
	if err != nil {
		go onError(err)
		return func() {}
	}

	ctx, cancel := context.WithCancel(ctx)
	it := fq.Snapshots(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err == iterator.Done || status.Code(err) == codes.Canceled || ctx.Err() != nil {
				return
			}
			if err != nil {
				onError(fmt.Errorf("firestore Subscribe %q: %w", q.Collection, err))
				return
			}
			snaps, err := qs.Documents.GetAll()
			if err != nil {
				onError(fmt.Errorf("firestore Subscribe %q: %w", q.Collection, err))
				return
			}
			onSnapshot(toDocuments(q.Collection, snaps))
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func (s *Store) query(q docstore.Query) (firestore.Query, error) {
	if q.Collection == "" {
		return firestore.Query{}, errors.New("firestore: query needs a collection")
	}
	fq := s.client.Collection(q.Collection).Query
	for _, f := range q.Filters {
		fq = fq.Where(f.Field, string(f.Op), toNative(f.Value))
	}
	for _, o := range q.OrderBy {
		dir := firestore.Asc
		if o.Desc {
			dir = firestore.Desc
		}
		fq = fq.OrderBy(o.Field, dir)
	}
	if q.StartAt != nil || q.EndAt != nil {
		if len(q.OrderBy) == 0 {
			return firestore.Query{}, errors.New("firestore: range bounds need an order-by field")
		}
		if q.StartAt != nil {
			fq = fq.StartAt(q.StartAt)
		}
		if q.EndAt != nil {
			fq = fq.EndAt(q.EndAt)
		}
	}
	if q.Limit > 0 {
		fq = fq.Limit(q.Limit)
	}
	return fq, nil
}

// updates turns dotted update keys into Firestore field paths.
func updates(fields docstore.Fields) []firestore.Update {
	out := make([]firestore.Update, 0, len(fields))
	for k, v := range fields {
		out = append(out, firestore.Update{Path: k, Value: toNative(v)})
	}
	return out
}

// toNative swaps docstore sentinels for their Firestore equivalents.
func toNative(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = toNative(e)
		}
		return out
	case docstore.Fields:
		return toNative(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = toNative(e)
		}
		return out
	default:
		if docstore.IsServerTimestamp(v) {
			return firestore.ServerTimestamp
		}
		return v
	}
}

func toDocument(path string, snap *firestore.DocumentSnapshot) *docstore.Document {
	_, id := docstore.Split(path)
	return &docstore.Document{Path: path, ID: id, Data: docstore.CloneData(snap.Data())}
}

func toDocuments(collection string, snaps []*firestore.DocumentSnapshot) []*docstore.Document {
	docs := make([]*docstore.Document, 0, len(snaps))
	for _, snap := range snaps {
		docs = append(docs, toDocument(collection+"/"+snap.Ref.ID, snap))
	}
	return docs
}
