package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func doc(id string, data map[string]any) *Document {
	return &Document{Path: "users/" + id, ID: id, Data: data}
}

func ids(docs []*Document) []string {
	out := make([]string, len(docs))
	for i, d := range docs {
		out[i] = d.ID
	}
	return out
}

func TestApplyUpdate_DottedPaths(t *testing.T) {
	existing := map[string]any{"text": "hi", "readBy": map[string]any{"a": true}}
	out := ApplyUpdate(existing, Fields{"readBy.b": true, "text": "edited"})

	require.Equal(t, "edited", out["text"])
	require.Equal(t, map[string]any{"a": true, "b": true}, out["readBy"])
	// the input is untouched
	require.Equal(t, map[string]any{"a": true}, existing["readBy"])
}

func TestApplySet_MergeAndOverwrite(t *testing.T) {
	existing := map[string]any{"a": 1, "nested": map[string]any{"x": 1}}

	merged := ApplySet(existing, Fields{"nested": map[string]any{"y": 2}}, Merge)
	require.Equal(t, 1, merged["a"])
	require.Equal(t, map[string]any{"x": 1, "y": 2}, merged["nested"])

	replaced := ApplySet(existing, Fields{"b": 2}, Overwrite)
	require.Equal(t, map[string]any{"b": 2}, replaced)
}

func TestServerTimestamps(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	data := map[string]any{"at": ServerTimestamp, "readBy": map[string]any{"u": ServerTimestamp}}
	paths := PendServerTimestamps(data)
	require.ElementsMatch(t, []string{"at", "readBy.u"}, paths)
	require.Nil(t, data["at"])

	ResolvePaths(data, paths, now)
	d := &Document{Data: data}
	at, ok := d.Time("readBy.u")
	require.True(t, ok)
	require.Equal(t, now, at)

	other := map[string]any{"at": ServerTimestamp}
	ResolveServerTimestamps(other, now)
	require.Equal(t, now, other["at"])
}

func TestEvaluate_ArrayContainsOrderedDescWithPendingFirst(t *testing.T) {
	t0 := time.Unix(100, 0)
	docs := []*Document{
		doc("c1", map[string]any{"participants": []any{"a", "b"}, "updatedAt": t0}),
		doc("c2", map[string]any{"participants": []any{"b", "c"}, "updatedAt": t0.Add(time.Second)}),
		doc("c3", map[string]any{"participants": []any{"a", "c"}, "updatedAt": t0.Add(2 * time.Second)}),
		doc("c4", map[string]any{"participants": []any{"a", "d"}, "updatedAt": nil}),
		doc("c5", map[string]any{"participants": []any{"d", "a"}, "updatedAt": t0}),
	}
	q := Collection("conversations").Where("participants", OpArrayContains, "a").Order("updatedAt", true)

	require.Equal(t, []string{"c4", "c3", "c1", "c5"}, ids(Evaluate(q, docs)))
}

func TestEvaluate_PrefixRangeAndLimit(t *testing.T) {
	docs := []*Document{
		doc("1", map[string]any{"username": "bob"}),
		doc("2", map[string]any{"username": "alice"}),
		doc("3", map[string]any{"username": "albert"}),
		doc("4", map[string]any{"username": "al"}),
		doc("5", map[string]any{}),
	}
	q := Collection("users").Order("username", false)
	q.StartAt = "al"
	q.EndAt = "al\uf8ff"
	require.Equal(t, []string{"4", "3", "2"}, ids(Evaluate(q, docs)))

	q.Limit = 2
	require.Equal(t, []string{"4", "3"}, ids(Evaluate(q, docs)))
}

func TestEvaluate_Equal(t *testing.T) {
	docs := []*Document{
		doc("1", map[string]any{"isTyping": true}),
		doc("2", map[string]any{"isTyping": false}),
		doc("3", map[string]any{}),
	}
	got := Evaluate(Collection("typing").Where("isTyping", OpEqual, true), docs)
	require.Equal(t, []string{"1"}, ids(got))
}

func TestDocumentAccessors(t *testing.T) {
	d := doc("x", map[string]any{
		"participants": []any{"a", 3, "b"},
		"lastMessage":  map[string]any{"text": "hey"},
		"flag":         true,
	})
	require.Equal(t, []string{"a", "b"}, d.Strings("participants"))
	require.Equal(t, "hey", d.String("lastMessage.text"))
	require.True(t, d.Bool("flag"))
	require.Empty(t, d.String("missing.field"))
	_, ok := d.Time("flag")
	require.False(t, ok)
}

func TestSplitAndValidDocPath(t *testing.T) {
	c, id := Split("conversations/a_b/messages/m1")
	require.Equal(t, "conversations/a_b/messages", c)
	require.Equal(t, "m1", id)

	require.True(t, ValidDocPath("conversations/a_b"))
	require.False(t, ValidDocPath("conversations"))
	require.False(t, ValidDocPath("conversations//x/y"))
}
