// Package conversations keeps the live list of a user's conversations, with
// participant profiles and unread counts resolved.
package conversations

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
	"github.com/ageniuscoder/mmchat/messaging/internal/messages"
	"github.com/ageniuscoder/mmchat/messaging/internal/profile"
)

type Entry struct {
	Conversation domain.Conversation
	Title        string
	Others       []domain.Profile
	Unread       int
}

// Snapshot is the whole directory at one point in time, newest first.
type Snapshot struct {
	Entries  []Entry
	Profiles map[string]domain.Profile
}

type Directory struct {
	Store    docstore.Store
	Profiles *profile.Cache
	Log      *slog.Logger
}

func directoryQuery(userID string) docstore.Query {
	return docstore.Collection(domain.ConversationsCollection).
		Where("participants", docstore.OpArrayContains, userID).
		Order("updatedAt", true)
}

// Subscription is one live directory view.
type Subscription struct {
	dir      *Directory
	userID   string
	ctx      context.Context
	log      *slog.Logger
	onUpdate func(Snapshot)
	onError  func(error)

	emitMu sync.Mutex

	mu       sync.Mutex
	orders   map[string]uint64
	next     uint64
	convs    []domain.Conversation
	profiles map[string]domain.Profile
	unread   map[string]int
	counters map[string]docstore.Unsubscribe
	ready    bool
	closed   bool
	unsub    docstore.Unsubscribe
}

// Subscribe opens the live directory of userID. Each delivery is the full
// directory, published only after participant profiles are resolved. On a
// subscription error onError is called and the last snapshot stays current.
func (d *Directory) Subscribe(ctx context.Context, userID string, onUpdate func(Snapshot), onError func(error)) *Subscription {
	s := &Subscription{
		dir:      d,
		userID:   userID,
		ctx:      ctx,
		log:      d.Log.With("user_id", userID),
		onUpdate: onUpdate,
		onError:  onError,
		orders:   make(map[string]uint64),
		profiles: make(map[string]domain.Profile),
		unread:   make(map[string]int),
		counters: make(map[string]docstore.Unsubscribe),
	}
	unsub := d.Store.Subscribe(ctx, directoryQuery(userID), s.handle, s.fail)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		unsub()
		return s
	}
	s.unsub = unsub
	s.mu.Unlock()
	return s
}

func (s *Subscription) order(id string) uint64 {
	if o, ok := s.orders[id]; ok {
		return o
	}
	s.next++
	s.orders[id] = s.next
	return s.next
}

func (s *Subscription) handle(docs []*docstore.Document) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	convs := make([]domain.Conversation, 0, len(docs))
	for _, d := range docs {
		convs = append(convs, Decode(d, s.order(d.ID)))
	}
	s.mu.Unlock()

	profiles := s.dir.Profiles.Resolve(s.ctx, otherParticipants(convs, s.userID))

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.convs = convs
	for id, p := range profiles {
		s.profiles[id] = p
	}
	live := make(map[string]bool, len(convs))
	var start []string
	for _, c := range convs {
		live[c.ID] = true
		if _, ok := s.counters[c.ID]; !ok {
			start = append(start, c.ID)
		}
	}
	var stop []docstore.Unsubscribe
	for id, unsub := range s.counters {
		if !live[id] {
			stop = append(stop, unsub)
			delete(s.counters, id)
			delete(s.unread, id)
		}
	}
	s.ready = true
	s.mu.Unlock()

	for _, unsub := range stop {
		unsub()
	}
	for _, id := range start {
		s.startCounter(id)
	}
	s.publish()
}

// startCounter keeps unread[id] current until the conversation leaves the
// directory or the subscription closes.
func (s *Subscription) startCounter(convID string) {
	onSnapshot := func(docs []*docstore.Document) {
		n := countUnread(convID, docs, s.userID)
		s.mu.Lock()
		if s.closed || s.counters[convID] == nil {
			s.mu.Unlock()
			return
		}
		changed := s.unread[convID] != n
		s.unread[convID] = n
		s.mu.Unlock()
		if changed {
			s.publish()
		}
	}
	onError := func(err error) {
		s.log.Error("unread counter failed", "subscription", "unread", "conversation_id", convID, "err", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	// placeholder so concurrent handles do not start a second counter
	s.counters[convID] = func() {}
	s.mu.Unlock()

	unsub := s.dir.Store.Subscribe(s.ctx, docstore.Collection(domain.MessagesCollection(convID)), onSnapshot, onError)

	s.mu.Lock()
	if _, ok := s.counters[convID]; !ok || s.closed {
		s.mu.Unlock()
		unsub()
		return
	}
	s.counters[convID] = unsub
	s.mu.Unlock()
}

func countUnread(convID string, docs []*docstore.Document, userID string) int {
	n := 0
	for i, d := range docs {
		m := messages.Decode(convID, d, uint64(i))
		if m.SenderID != userID && !m.IsReadBy(userID) {
			n++
		}
	}
	return n
}

func (s *Subscription) fail(err error) {
	s.log.Error("directory subscription failed", "subscription", "conversations", "err", err)
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if !closed && s.onError != nil {
		s.onError(domain.NewError(domain.KindTransient, "conversations.Subscribe", err))
	}
}

func (s *Subscription) publish() {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	if s.closed || !s.ready {
		s.mu.Unlock()
		return
	}
	snap := build(s.convs, s.userID, s.profiles, s.unread)
	s.mu.Unlock()

	if s.onUpdate != nil {
		s.onUpdate(snap)
	}
}

// Snapshot returns the last published directory; ok is false before the first.
func (s *Subscription) Snapshot() (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return Snapshot{}, false
	}
	return build(s.convs, s.userID, s.profiles, s.unread), true
}

// Close stops the directory and every unread counter. It must not be called
// from onUpdate.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := make([]docstore.Unsubscribe, 0, len(s.counters)+1)
	if s.unsub != nil {
		unsubs = append(unsubs, s.unsub)
	}
	for id, u := range s.counters {
		unsubs = append(unsubs, u)
		delete(s.counters, id)
	}
	s.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	s.emitMu.Lock()
	s.emitMu.Unlock()
}

func otherParticipants(convs []domain.Conversation, userID string) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, c := range convs {
		for _, p := range c.Others(userID) {
			if !seen[p] {
				seen[p] = true
				ids = append(ids, p)
			}
		}
	}
	return ids
}

func build(convs []domain.Conversation, userID string, profiles map[string]domain.Profile, unread map[string]int) Snapshot {
	snap := Snapshot{
		Entries:  make([]Entry, 0, len(convs)),
		Profiles: make(map[string]domain.Profile, len(profiles)),
	}
	for id, p := range profiles {
		snap.Profiles[id] = p
	}
	for _, c := range convs {
		e := Entry{Conversation: c, Title: Title(c, userID, profiles), Unread: unread[c.ID]}
		for _, id := range c.Others(userID) {
			p, ok := profiles[id]
			if !ok {
				p = domain.FallbackProfile(id)
			}
			e.Others = append(e.Others, p)
		}
		snap.Entries = append(snap.Entries, e)
	}
	return snap
}

// Load reads the directory once, unread counts included.
func (d *Directory) Load(ctx context.Context, userID string) (Snapshot, error) {
	docs, err := d.Store.Query(ctx, directoryQuery(userID))
	if err != nil {
		return Snapshot{}, domain.NewError(domain.KindTransient, "conversations.Load", err)
	}
	convs := make([]domain.Conversation, 0, len(docs))
	for i, doc := range docs {
		convs = append(convs, Decode(doc, uint64(i+1)))
	}
	profiles := d.Profiles.Resolve(ctx, otherParticipants(convs, userID))

	counts := make([]int, len(convs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range convs {
		g.Go(func() error {
			msgs, err := d.Store.Query(gctx, docstore.Collection(domain.MessagesCollection(c.ID)))
			if err != nil {
				return err
			}
			counts[i] = countUnread(c.ID, msgs, userID)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, domain.NewError(domain.KindTransient, "conversations.Load", err)
	}

	unread := make(map[string]int, len(convs))
	for i, c := range convs {
		unread[c.ID] = counts[i]
	}
	return build(convs, userID, profiles, unread), nil
}
