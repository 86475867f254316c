// Package sqlstore keeps documents as JSON rows in one SQL table, on sqlite or
// postgres. Queries load the collection and are evaluated in process; live
// subscriptions are driven by local writes and, on postgres, by NOTIFY from
// other processes.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
)

type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// NotifyChannel is the postgres channel carrying changed collection paths.
const NotifyChannel = "documents_changed"

var placeholder = regexp.MustCompile(`\$(\d+)`)

type Store struct {
	db       *sql.DB
	dialect  Dialect
	clock    clockwork.Clock
	watchers *docstore.Watchers

	mu      sync.Mutex
	lastSeq int64
}

type Option func(*Store)

func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func New(db *sql.DB, dialect Dialect, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("sqlstore: db must not be nil")
	}
	s := &Store{
		db:       db,
		dialect:  dialect,
		clock:    clockwork.NewRealClock(),
		watchers: docstore.NewWatchers(),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Changed re-runs subscriptions on collection. An empty collection means
// "unknown" and refreshes every subscription.
func (s *Store) Changed(collection string) {
	if collection == "" {
		s.watchers.NotifyAll()
		return
	}
	s.watchers.Notify(collection)
}

func (s *Store) Get(ctx context.Context, path string) (*docstore.Document, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT data FROM documents WHERE path = $1`), path).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: Get %q: %w", path, err)
	}
	return toDocument(path, raw)
}

func (s *Store) Set(ctx context.Context, path string, fields docstore.Fields, opt docstore.SetOption) error {
	if opt == docstore.Overwrite {
		return s.write(ctx, path, false, func(map[string]any) map[string]any {
			return docstore.ApplySet(nil, fields, docstore.Overwrite)
		})
	}
	return s.write(ctx, path, false, func(existing map[string]any) map[string]any {
		return docstore.ApplySet(existing, fields, docstore.Merge)
	})
}

func (s *Store) Update(ctx context.Context, path string, fields docstore.Fields) error {
	return s.write(ctx, path, true, func(existing map[string]any) map[string]any {
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

func (s *Store) Delete(ctx context.Context, path string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: Delete begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM documents WHERE path = $1`), path); err != nil {
		return fmt.Errorf("sqlstore: Delete %q: %w", path, err)
	}
	collection, _ := docstore.Split(path)
	if err := s.publish(ctx, tx, collection); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: Delete commit: %w", err)
	}
	s.watchers.Notify(collection)
	return nil
}

func (s *Store) Query(ctx context.Context, q docstore.Query) ([]*docstore.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT path, data FROM documents WHERE collection = $1 ORDER BY created_at, path`),
		q.Collection)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: Query %q: %w", q.Collection, err)
	}
	defer rows.Close()

	var docs []*docstore.Document
	for rows.Next() {
		var path, raw string
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, fmt.Errorf("sqlstore: Query scan: %w", err)
		}
		d, err := toDocument(path, raw)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: Query rows: %w", err)
	}
	return docstore.Evaluate(q, docs), nil
}

func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotFunc, onError docstore.ErrorFunc) docstore.Unsubscribe {
	return s.watchers.Watch(ctx, q, s.Query, onSnapshot, onError)
}

func (s *Store) write(ctx context.Context, path string, mustExist bool, apply func(existing map[string]any) map[string]any) error {
	if !docstore.ValidDocPath(path) {
		return fmt.Errorf("sqlstore: write %q: invalid document path", path)
	}
	collection, _ := docstore.Split(path)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	defer tx.Rollback()

	sel := `SELECT data FROM documents WHERE path = $1`
	if s.dialect == Postgres {
		sel += ` FOR UPDATE`
	}
	var raw string
	var existing map[string]any
	err = tx.QueryRowContext(ctx, s.rebind(sel), path).Scan(&raw)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if mustExist {
			return docstore.ErrNotFound
		}
	case err != nil:
		return fmt.Errorf("sqlstore: load %q: %w", path, err)
	default:
		if existing, err = docstore.DecodeJSON(raw); err != nil {
			return err
		}
	}

	data := apply(existing)
	now := s.clock.Now()
	docstore.ResolveServerTimestamps(data, now)
	body, err := docstore.EncodeJSON(data)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO documents (path, collection, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (path) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`),
		path, collection, body, s.nextSeq(now.UnixNano()), now.UnixNano())
	if err != nil {
		return fmt.Errorf("sqlstore: upsert %q: %w", path, err)
	}
	if err := s.publish(ctx, tx, collection); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit %q: %w", path, err)
	}

	s.watchers.Notify(collection)
	return nil
}

// publish queues a NOTIFY so other processes refresh; postgres delivers it on
// commit.
func (s *Store) publish(ctx context.Context, tx *sql.Tx, collection string) error {
	if s.dialect != Postgres {
		return nil
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_notify($1, $2)`, NotifyChannel, collection); err != nil {
		return fmt.Errorf("sqlstore: notify: %w", err)
	}
	return nil
}

// nextSeq keeps created_at strictly increasing so insertion order is stable
// even when the clock does not move.
func (s *Store) nextSeq(now int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now <= s.lastSeq {
		now = s.lastSeq + 1
	}
	s.lastSeq = now
	return now
}

func (s *Store) rebind(query string) string {
	if s.dialect == SQLite {
		return placeholder.ReplaceAllString(query, "?$1")
	}
	return query
}

func toDocument(path, raw string) (*docstore.Document, error) {
	data, err := docstore.DecodeJSON(raw)
	if err != nil {
		return nil, err
	}
	_, id := docstore.Split(path)
	return &docstore.Document{Path: path, ID: id, Data: data}, nil
}
