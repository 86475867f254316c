package messages

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

// ReadMarker writes read receipts. It remembers, per reader, what it has
// already written so a snapshot that still shows a message as unread (the
// write has not round-tripped yet) does not trigger a second write. One
// marker may be shared by every stream of a process.
type ReadMarker struct {
	store docstore.Store
	log   *slog.Logger

	mu     sync.Mutex
	marked map[claimKey]bool
}

type claimKey struct {
	reader string
	path   string
}

func NewReadMarker(store docstore.Store, log *slog.Logger) *ReadMarker {
	return &ReadMarker{store: store, log: log, marked: make(map[claimKey]bool)}
}

// MarkRead marks every message of msgs that readerID did not send and has
// not read. It returns the number of writes issued. Failed writes are
// forgotten so the next call retries them.
func (r *ReadMarker) MarkRead(ctx context.Context, conversationID string, msgs []domain.Message, readerID string) (int, error) {
	var errs []error
	writes := 0
	for _, m := range msgs {
		if m.SenderID == readerID || m.ID == "" {
			continue
		}
		key := claimKey{reader: readerID, path: domain.MessagePath(conversationID, m.ID)}
		if m.IsReadBy(readerID) {
			// the receipt is visible in the snapshot now
			r.release(key)
			continue
		}
		if !r.claim(key) {
			continue
		}
		writes++
		err := r.store.Update(ctx, key.path, docstore.Fields{fieldReadBy + "." + readerID: docstore.ServerTimestamp})
		if err != nil {
			r.release(key)
			r.log.Error("mark read failed", "conversation_id", conversationID, "message_id", m.ID, "user_id", readerID, "err", err)
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return writes, domain.NewError(domain.KindTransient, "messages.MarkRead", errors.Join(errs...))
	}
	return writes, nil
}

// Forget drops what the marker remembers for readerID in one conversation.
func (r *ReadMarker) Forget(conversationID, readerID string) {
	prefix := domain.MessagesCollection(conversationID) + "/"
	r.mu.Lock()
	defer r.mu.Unlock()
	for k := range r.marked {
		if k.reader == readerID && strings.HasPrefix(k.path, prefix) {
			delete(r.marked, k)
		}
	}
}

func (r *ReadMarker) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.marked)
}

func (r *ReadMarker) claim(k claimKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.marked[k] {
		return false
	}
	r.marked[k] = true
	return true
}

func (r *ReadMarker) release(k claimKey) {
	r.mu.Lock()
	delete(r.marked, k)
	r.mu.Unlock()
}
