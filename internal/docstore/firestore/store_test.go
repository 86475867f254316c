package firestore

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
)

func TestToNative_ReplacesServerTimestamp(t *testing.T) {
	got := toNative(map[string]any{
		"updatedAt": docstore.ServerTimestamp,
		"readBy":    map[string]any{"u1": docstore.ServerTimestamp},
		"list":      []any{docstore.ServerTimestamp, "x"},
		"text":      "hi",
	}).(map[string]any)

	require.Equal(t, firestore.ServerTimestamp, got["updatedAt"])
	require.Equal(t, firestore.ServerTimestamp, got["readBy"].(map[string]any)["u1"])
	require.Equal(t, []any{firestore.ServerTimestamp, "x"}, got["list"])
	require.Equal(t, "hi", got["text"])
}

func TestUpdates_KeepsDottedPaths(t *testing.T) {
	ups := updates(docstore.Fields{"readBy.u1": docstore.ServerTimestamp})
	require.Len(t, ups, 1)
	require.Equal(t, "readBy.u1", ups[0].Path)
	require.Equal(t, firestore.ServerTimestamp, ups[0].Value)
}

func TestNewStore_RequiresProject(t *testing.T) {
	_, err := NewStore(context.Background(), " ")
	require.ErrorContains(t, err, "projectID is required")
}

// The remaining test talks to the Firestore emulator when one is running.
func emulatorStore(t *testing.T) *Store {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	s, err := NewStore(context.Background(), "mmchat-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestEmulator_RoundTripAndSubscribe(t *testing.T) {
	s := emulatorStore(t)
	ctx := context.Background()
	conv := "conversations/" + uuid.NewString()

	require.NoError(t, s.Set(ctx, conv, docstore.Fields{
		"participants": []any{"a", "b"},
		"updatedAt":    docstore.ServerTimestamp,
	}, docstore.Overwrite))
	require.NoError(t, s.Update(ctx, conv, docstore.Fields{"lastMessage": "hi"}))

	d, err := s.Get(ctx, conv)
	require.NoError(t, err)
	require.Equal(t, "hi", d.String("lastMessage"))
	_, ok := d.Time("updatedAt")
	require.True(t, ok)

	err = s.Update(ctx, "conversations/"+uuid.NewString(), docstore.Fields{"x": 1})
	require.ErrorIs(t, err, docstore.ErrNotFound)

	msgs := docstore.Collection(conv + "/messages").Order("timestamp", false)
	got := make(chan int, 8)
	unsub := s.Subscribe(ctx, msgs, func(docs []*docstore.Document) { got <- len(docs) },
		func(err error) { t.Errorf("subscribe: %v", err) })
	defer unsub()

	_, err = s.Add(ctx, conv+"/messages", docstore.Fields{"text": "one", "timestamp": docstore.ServerTimestamp})
	require.NoError(t, err)

	deadline := time.After(5 * time.Second)
	for {
		select {
		case n := <-got:
			if n == 1 {
				return
			}
		case <-deadline:
			t.Fatal("no snapshot with the new message")
		}
	}
}
