package messages

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

type Service struct {
	Store docstore.Store
	Log   *slog.Logger
}

func threadQuery(conversationID string) docstore.Query {
	return docstore.Collection(domain.MessagesCollection(conversationID)).Order(fieldTimestamp, false)
}

// Stream is the live, ordered message list of one conversation as seen by
// one viewer. Optimistic local messages are merged in until the store
// delivers them.
type Stream struct {
	conversationID string
	viewer         string
	marker         *ReadMarker
	log            *slog.Logger
	ctx            context.Context

	onUpdate func([]domain.Message)
	onError  func(error)

	emitMu sync.Mutex

	mu     sync.Mutex
	orders map[string]uint64
	next   uint64
	remote []domain.Message
	local  map[string]domain.Message
	closed bool
	unsub  docstore.Unsubscribe
}

// Subscribe opens a live stream. Every delivery calls onUpdate with the full
// ordered list. When marker is not nil, messages from others are marked read
// by viewer as they arrive. Close must be called when the view goes away.
func (s *Service) Subscribe(ctx context.Context, conversationID, viewer string, marker *ReadMarker, onUpdate func([]domain.Message), onError func(error)) *Stream {
	st := &Stream{
		conversationID: conversationID,
		viewer:         viewer,
		marker:         marker,
		log:            s.Log.With("conversation_id", conversationID, "user_id", viewer),
		ctx:            ctx,
		onUpdate:       onUpdate,
		onError:        onError,
		orders:         make(map[string]uint64),
		local:          make(map[string]domain.Message),
	}
	unsub := s.Store.Subscribe(ctx, threadQuery(conversationID), st.handle, st.fail)

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		unsub()
		return st
	}
	st.unsub = unsub
	st.mu.Unlock()
	return st
}

func (st *Stream) ConversationID() string { return st.conversationID }

// order hands out a stable local order per message id. Callers hold mu.
func (st *Stream) order(id string) uint64 {
	if o, ok := st.orders[id]; ok {
		return o
	}
	st.next++
	st.orders[id] = st.next
	return st.next
}

func (st *Stream) handle(docs []*docstore.Document) {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	remote := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		m := Decode(st.conversationID, d, st.order(d.ID))
		remote = append(remote, m)
		delete(st.local, m.ID)
	}
	sortMessages(remote)
	st.remote = remote
	st.mu.Unlock()

	st.publish()

	if st.marker != nil {
		// failures are logged by the marker and retried on the next delivery
		_, _ = st.marker.MarkRead(st.ctx, st.conversationID, remote, st.viewer)
		st.mu.Lock()
		closed := st.closed
		st.mu.Unlock()
		if closed {
			st.marker.Forget(st.conversationID, st.viewer)
		}
	}
}

func (st *Stream) fail(err error) {
	st.log.Error("message subscription failed", "subscription", "messages", "err", err)
	st.mu.Lock()
	closed := st.closed
	st.mu.Unlock()
	if !closed && st.onError != nil {
		st.onError(domain.NewError(domain.KindTransient, "messages.Subscribe", err))
	}
}

func (st *Stream) publish() {
	st.emitMu.Lock()
	defer st.emitMu.Unlock()

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	view := st.viewLocked()
	st.mu.Unlock()

	if st.onUpdate != nil {
		st.onUpdate(view)
	}
}

func (st *Stream) viewLocked() []domain.Message {
	view := make([]domain.Message, 0, len(st.remote)+len(st.local))
	view = append(view, st.remote...)
	for _, m := range st.local {
		view = append(view, m)
	}
	sortMessages(view)
	return view
}

// AppendLocal shows m before the store has it. Its timestamp becomes a
// pending one that sorts after everything already delivered.
func (st *Stream) AppendLocal(m domain.Message) {
	st.mu.Lock()
	if st.closed || m.ID == "" || slices.ContainsFunc(st.remote, func(r domain.Message) bool { return r.ID == m.ID }) {
		st.mu.Unlock()
		return
	}
	m.ConversationID = st.conversationID
	m.SentAt = domain.Pending(st.order(m.ID))
	st.local[m.ID] = m
	st.mu.Unlock()
	st.publish()
}

// DropLocal withdraws an optimistic message whose send failed.
func (st *Stream) DropLocal(id string) {
	st.mu.Lock()
	_, ok := st.local[id]
	delete(st.local, id)
	st.mu.Unlock()
	if ok {
		st.publish()
	}
}

// Messages returns the current ordered view.
func (st *Stream) Messages() []domain.Message {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.viewLocked()
}

// Close tears the subscription down. Nothing is delivered after it returns.
// It must not be called from onUpdate.
func (st *Stream) Close() {
	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		return
	}
	st.closed = true
	unsub := st.unsub
	st.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	// wait out a delivery already in flight
	st.emitMu.Lock()
	st.emitMu.Unlock()

	if st.marker != nil {
		st.marker.Forget(st.conversationID, st.viewer)
	}
}

func sortMessages(msgs []domain.Message) {
	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].SentAt.Before(msgs[j].SentAt) })
}

// Load reads a thread once, for callers without a live view. viewer must be
// a participant.
func (s *Service) Load(ctx context.Context, conversationID, viewer string) ([]domain.Message, error) {
	if err := requireMember(ctx, s.Store, "messages.Load", conversationID, viewer); err != nil {
		return nil, err
	}
	docs, err := s.Store.Query(ctx, threadQuery(conversationID))
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, "messages.Load", err)
	}
	out := make([]domain.Message, 0, len(docs))
	for i, d := range docs {
		out = append(out, Decode(conversationID, d, uint64(i+1)))
	}
	sortMessages(out)
	return out, nil
}

// Authorize fails with a forbidden error unless userID takes part in
// conversationID.
func (s *Service) Authorize(ctx context.Context, conversationID, userID string) error {
	return requireMember(ctx, s.Store, "messages.Authorize", conversationID, userID)
}

// participants loads the participant list of a conversation.
func participants(ctx context.Context, store docstore.Store, op, conversationID string) ([]string, error) {
	d, err := store.Get(ctx, domain.ConversationPath(conversationID))
	if errors.Is(err, docstore.ErrNotFound) {
		return nil, domain.NewError(domain.KindNotFound, op, err)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindTransient, op, err)
	}
	return d.Strings("participants"), nil
}

func requireMember(ctx context.Context, store docstore.Store, op, conversationID, userID string) error {
	ps, err := participants(ctx, store, op, conversationID)
	if err != nil {
		return err
	}
	if !slices.Contains(ps, userID) {
		return domain.NewError(domain.KindForbidden, op, errors.New("not a participant"))
	}
	return nil
}
