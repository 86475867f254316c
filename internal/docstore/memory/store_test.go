package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
)

type recorder struct {
	mu    sync.Mutex
	snaps [][]*docstore.Document
}

func (r *recorder) on(docs []*docstore.Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, docs)
}

func (r *recorder) last() []*docstore.Document {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.snaps) == 0 {
		return nil
	}
	return r.snaps[len(r.snaps)-1]
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func TestGetSetUpdateDelete(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Get(ctx, "users/u1")
	require.ErrorIs(t, err, docstore.ErrNotFound)
	require.ErrorIs(t, s.Update(ctx, "users/u1", docstore.Fields{"x": 1}), docstore.ErrNotFound)

	require.NoError(t, s.Set(ctx, "users/u1", docstore.Fields{"username": "ann", "meta": map[string]any{"a": 1}}, docstore.Overwrite))
	require.NoError(t, s.Set(ctx, "users/u1", docstore.Fields{"meta": map[string]any{"b": 2}}, docstore.Merge))
	require.NoError(t, s.Update(ctx, "users/u1", docstore.Fields{"meta.c": 3}))

	d, err := s.Get(ctx, "users/u1")
	require.NoError(t, err)
	require.Equal(t, "ann", d.String("username"))
	require.Equal(t, map[string]any{"a": 1, "b": 2, "c": 3}, d.Map("meta"))

	d.Data["username"] = "mutated"
	again, _ := s.Get(ctx, "users/u1")
	require.Equal(t, "ann", again.String("username"))

	require.NoError(t, s.Delete(ctx, "users/u1"))
	_, err = s.Get(ctx, "users/u1")
	require.ErrorIs(t, err, docstore.ErrNotFound)

	require.Error(t, s.Set(ctx, "users", docstore.Fields{}, docstore.Overwrite))
}

func TestAddGeneratesID(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.Add(ctx, "conversations", docstore.Fields{"participants": []any{"a", "b"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	d, err := s.Get(ctx, "conversations/"+id)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, d.Strings("participants"))
}

func TestServerTimestampResolvedOnWrite(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC))
	s := New(WithClock(clock))

	require.NoError(t, s.Set(ctx, "c/x", docstore.Fields{"at": docstore.ServerTimestamp}, docstore.Overwrite))
	d, err := s.Get(ctx, "c/x")
	require.NoError(t, err)
	at, ok := d.Time("at")
	require.True(t, ok)
	require.Equal(t, clock.Now(), at)
	require.False(t, d.PendingWrites)
}

func TestDeferredTimestamps(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	s := New(WithClock(clock), WithDeferredTimestamps())

	require.NoError(t, s.Set(ctx, "c/x", docstore.Fields{"at": docstore.ServerTimestamp, "text": "hi"}, docstore.Overwrite))
	d, _ := s.Get(ctx, "c/x")
	require.True(t, d.PendingWrites)
	require.Nil(t, d.Lookup("at"))

	s.ResolvePending()
	d, _ = s.Get(ctx, "c/x")
	require.False(t, d.PendingWrites)
	_, ok := d.Time("at")
	require.True(t, ok)
}

func TestSubscribe_InitialSnapshotThenUpdates(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Set(ctx, "conversations/a_b", docstore.Fields{"participants": []any{"a", "b"}}, docstore.Overwrite))

	rec := &recorder{}
	q := docstore.Collection("conversations").Where("participants", docstore.OpArrayContains, "a")
	unsub := s.Subscribe(ctx, q, rec.on, nil)
	defer unsub()

	require.Eventually(t, func() bool { return len(rec.last()) == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Set(ctx, "conversations/a_c", docstore.Fields{"participants": []any{"a", "c"}}, docstore.Overwrite))
	require.Eventually(t, func() bool { return len(rec.last()) == 2 }, time.Second, 5*time.Millisecond)

	// a write that does not change the result is not redelivered
	before := rec.count()
	require.NoError(t, s.Set(ctx, "conversations/b_c", docstore.Fields{"participants": []any{"b", "c"}}, docstore.Overwrite))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, before, rec.count())
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	ctx := context.Background()
	s := New()
	rec := &recorder{}
	unsub := s.Subscribe(ctx, docstore.Collection("c"), rec.on, nil)
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, 1, s.Subscriptions())

	unsub()
	unsub()
	require.Equal(t, 0, s.Subscriptions())

	require.NoError(t, s.Set(ctx, "c/x", docstore.Fields{"v": 1}, docstore.Overwrite))
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, rec.count())
}
