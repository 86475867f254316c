package messages

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

type fakeBlobs struct {
	mu     sync.Mutex
	puts   map[string]string
	putErr error
}

func (f *fakeBlobs) PutBytes(_ context.Context, path string, _ []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	if f.puts == nil {
		f.puts = map[string]string{}
	}
	f.puts[path] = contentType
	return nil
}

func (f *fakeBlobs) DownloadURL(_ context.Context, path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.puts[path]; !ok {
		return "", errors.New("no such object")
	}
	return "https://blobs.test/" + path, nil
}

type fakeNames map[string]string

func (f fakeNames) Get(_ context.Context, id string) (domain.Profile, error) {
	if n, ok := f[id]; ok {
		return domain.Profile{ID: id, Username: n}, nil
	}
	return domain.FallbackProfile(id), nil
}

// latest keeps the most recent delivery of a stream.
type latest struct {
	mu    sync.Mutex
	msgs  []domain.Message
	count int
}

func (l *latest) set(msgs []domain.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = msgs
	l.count++
}

func (l *latest) get() []domain.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.msgs
}

func (l *latest) deliveries() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

func (l *latest) ids() []string {
	var out []string
	for _, m := range l.get() {
		out = append(out, m.ID)
	}
	return out
}

func seedConversation(t *testing.T, s docstore.Store, id string, participants ...string) {
	t.Helper()
	ps := make([]any, len(participants))
	for i, p := range participants {
		ps[i] = p
	}
	require.NoError(t, s.Set(context.Background(), domain.ConversationPath(id), docstore.Fields{
		"participants": ps,
		"updatedAt":    docstore.ServerTimestamp,
	}, docstore.Overwrite))
}

func seedMessage(t *testing.T, s docstore.Store, conv, id, sender string, at any) {
	t.Helper()
	require.NoError(t, s.Set(context.Background(), domain.MessagePath(conv, id), docstore.Fields{
		"senderId":  sender,
		"text":      "text of " + id,
		"timestamp": at,
		"readBy":    map[string]any{sender: at},
	}, docstore.Overwrite))
}
