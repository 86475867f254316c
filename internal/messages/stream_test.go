package messages

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore/docstoretest"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore/memory"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
	"github.com/ageniuscoder/mmchat/messaging/internal/observability"
)

const wait = 2 * time.Second
const tick = 5 * time.Millisecond

func TestStream_ProvisionalOrderingReconciles(t *testing.T) {
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(t0)
	store := memory.New(memory.WithClock(clock), memory.WithDeferredTimestamps())
	seedConversation(t, store, "a_b", "a", "b")
	seedMessage(t, store, "a_b", "m2", "b", t0.Add(time.Minute))
	seedMessage(t, store, "a_b", "m1", "b", t0)

	svc := &Service{Store: store, Log: observability.Discard()}
	var got latest
	st := svc.Subscribe(context.Background(), "a_b", "a", nil, got.set, nil)
	defer st.Close()

	require.Eventually(t, func() bool { return len(got.get()) == 2 }, wait, tick)
	require.Equal(t, []string{"m1", "m2"}, got.ids())

	st.AppendLocal(domain.Message{ID: "m3", SenderID: "a", Text: "hi"})
	require.Equal(t, []string{"m1", "m2", "m3"}, got.ids())
	require.True(t, got.get()[2].SentAt.IsPending())

	// the store has the write but not its server time yet
	seedMessage(t, store, "a_b", "m3", "a", docstore.ServerTimestamp)
	require.Eventually(t, func() bool {
		st.mu.Lock()
		defer st.mu.Unlock()
		return len(st.remote) == 3 && len(st.local) == 0
	}, wait, tick)
	require.Equal(t, []string{"m1", "m2", "m3"}, got.ids())
	require.True(t, got.get()[2].SentAt.IsPending())

	clock.Advance(5 * time.Minute)
	store.ResolvePending()
	require.Eventually(t, func() bool {
		msgs := got.get()
		return len(msgs) == 3 && !msgs[2].SentAt.IsPending()
	}, wait, tick)
	require.Equal(t, []string{"m1", "m2", "m3"}, got.ids())

	msgs := got.get()
	for i := 1; i < len(msgs); i++ {
		a, _ := msgs[i-1].SentAt.Time()
		b, _ := msgs[i].SentAt.Time()
		require.False(t, b.Before(a))
	}
}

func TestStream_DropLocal(t *testing.T) {
	store := memory.New()
	seedConversation(t, store, "a_b", "a", "b")
	svc := &Service{Store: store, Log: observability.Discard()}
	var got latest
	st := svc.Subscribe(context.Background(), "a_b", "a", nil, got.set, nil)
	defer st.Close()
	require.Eventually(t, func() bool { return got.deliveries() > 0 }, wait, tick)

	st.AppendLocal(domain.Message{ID: "x", SenderID: "a", Text: "hi"})
	require.Len(t, st.Messages(), 1)
	st.DropLocal("x")
	require.Empty(t, st.Messages())
	require.Empty(t, got.get())
}

func TestStream_MarksIncomingRead(t *testing.T) {
	rec := docstoretest.Wrap(memory.New())
	seedConversation(t, rec, "a_b", "a", "b")
	now := time.Now()
	seedMessage(t, rec, "a_b", "m1", "b", now)
	seedMessage(t, rec, "a_b", "m2", "b", now)
	seedMessage(t, rec, "a_b", "m3", "a", now)
	rec.Reset()

	svc := &Service{Store: rec, Log: observability.Discard()}
	var got latest
	st := svc.Subscribe(context.Background(), "a_b", "a", NewReadMarker(rec, observability.Discard()), got.set, nil)
	defer st.Close()

	require.Eventually(t, func() bool {
		msgs := got.get()
		if len(msgs) != 3 {
			return false
		}
		for _, m := range msgs {
			if !m.IsReadBy("a") {
				return false
			}
		}
		return true
	}, wait, tick)

	// later deliveries of the fully read thread issue no writes
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 2, rec.Count("Update", domain.MessagesCollection("a_b")))
}

func TestStream_CloseTearsDown(t *testing.T) {
	store := memory.New()
	seedConversation(t, store, "a_b", "a", "b")
	svc := &Service{Store: store, Log: observability.Discard()}
	var got latest
	st := svc.Subscribe(context.Background(), "a_b", "a", nil, got.set, nil)
	require.Eventually(t, func() bool { return got.deliveries() == 1 }, wait, tick)
	require.Equal(t, 1, store.Subscriptions())

	st.Close()
	st.Close()
	require.Zero(t, store.Subscriptions())

	seedMessage(t, store, "a_b", "m1", "b", time.Now())
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, 1, got.deliveries())

	st.AppendLocal(domain.Message{ID: "late", SenderID: "a"})
	require.Equal(t, 1, got.deliveries())
}

func TestStream_SubscribeErrorKeepsLastSnapshot(t *testing.T) {
	rec := docstoretest.Wrap(memory.New())
	rec.FailOn("Subscribe", domain.MessagesCollection("a_b"), errors.New("permission denied"))
	svc := &Service{Store: rec, Log: observability.Discard()}

	errs := make(chan error, 1)
	st := svc.Subscribe(context.Background(), "a_b", "a", nil, nil, func(err error) { errs <- err })
	defer st.Close()

	select {
	case err := <-errs:
		require.Equal(t, domain.KindTransient, domain.KindOf(err))
	case <-time.After(wait):
		t.Fatal("no error delivered")
	}
	require.Empty(t, st.Messages())
}

func TestLoad(t *testing.T) {
	store := memory.New()
	seedConversation(t, store, "a_b", "a", "b")
	t0 := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	seedMessage(t, store, "a_b", "m2", "b", t0.Add(time.Second))
	seedMessage(t, store, "a_b", "m1", "a", t0)
	svc := &Service{Store: store, Log: observability.Discard()}

	msgs, err := svc.Load(context.Background(), "a_b", "a")
	require.NoError(t, err)
	require.Equal(t, "m1", msgs[0].ID)
	require.Equal(t, "m2", msgs[1].ID)

	_, err = svc.Load(context.Background(), "a_b", "eve")
	require.Equal(t, domain.KindForbidden, domain.KindOf(err))
}
