package messages

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

func TestDecode(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	d := &docstore.Document{ID: "m1", Data: map[string]any{
		"senderId":  "a",
		"text":      "hi",
		"timestamp": at,
		"readBy":    map[string]any{"a": at, "b": true, "c": false, "d": nil, "e": "junk"},
		"mediaUrl":  "https://x/f.pdf",
		"mediaType": "weird",
	}}
	m := Decode("a_b", d, 7)

	require.Equal(t, "a_b", m.ConversationID)
	got, ok := m.SentAt.Time()
	require.True(t, ok)
	require.True(t, got.Equal(at))
	require.Equal(t, uint64(7), m.SentAt.LocalOrder())

	require.True(t, m.IsReadBy("a"))
	readAt, ok := m.ReadStateOf("a").At()
	require.True(t, ok)
	require.True(t, readAt.Equal(at))
	require.True(t, m.IsReadBy("b"))
	_, ok = m.ReadStateOf("b").At()
	require.False(t, ok)
	require.False(t, m.IsReadBy("c"))
	require.True(t, m.IsReadBy("d"))
	require.False(t, m.IsReadBy("e"))

	require.Equal(t, domain.MediaFile, m.Media.Type)
}

func TestDecode_MalformedTimestampIsPending(t *testing.T) {
	d := &docstore.Document{ID: "m1", Data: map[string]any{"senderId": "a", "timestamp": "yesterday"}}
	m := Decode("c", d, 3)
	require.True(t, m.SentAt.IsPending())
	require.Equal(t, uint64(3), m.SentAt.LocalOrder())
	require.Nil(t, m.Media)
	require.False(t, m.HasText())
}
