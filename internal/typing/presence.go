// Package typing broadcasts and observes "user is typing" signals. Signals
// are best effort: failed writes are logged and dropped.
package typing

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
)

const DefaultIdle = 3 * time.Second

const writeTimeout = 5 * time.Second

// Presence is the typing state of one user in one conversation.
type Presence struct {
	store  docstore.Store
	clock  clockwork.Clock
	log    *slog.Logger
	idle   time.Duration
	convID string
	userID string

	mu     sync.Mutex
	typing bool
	timer  clockwork.Timer
	gen    uint64
	closed bool
}

func NewPresence(store docstore.Store, clock clockwork.Clock, log *slog.Logger, convID, userID string, idle time.Duration) *Presence {
	if idle <= 0 {
		idle = DefaultIdle
	}
	return &Presence{
		store:  store,
		clock:  clock,
		log:    log.With("conversation_id", convID, "user_id", userID),
		idle:   idle,
		convID: convID,
		userID: userID,
	}
}

// NotifyTyping records a keystroke. The first one writes typing=true; every
// one restarts the idle timer, whose expiry writes typing=false.
func (p *Presence) NotifyTyping(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	if !p.typing {
		p.typing = true
		p.write(ctx, true)
	}
	p.gen++
	gen := p.gen
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = p.clock.AfterFunc(p.idle, func() { p.expire(gen) })
}

func (p *Presence) expire(gen uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || gen != p.gen || !p.typing {
		return
	}
	p.typing = false
	p.timer = nil
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	p.write(ctx, false)
}

// Stop ends the typing state now, as on send.
func (p *Presence) Stop(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.cancelTimer()
	if p.typing {
		p.typing = false
		p.write(ctx, false)
	}
}

// Close cancels any pending timer and writes typing=false unconditionally.
// Later calls do nothing.
func (p *Presence) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	p.cancelTimer()
	p.typing = false
	p.write(ctx, false)
}

func (p *Presence) cancelTimer() {
	p.gen++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// write runs with mu held so writes land in state order.
func (p *Presence) write(ctx context.Context, typing bool) {
	err := p.store.Set(ctx, domain.TypingPath(p.convID, p.userID), docstore.Fields{
		"userId":    p.userID,
		"isTyping":  typing,
		"timestamp": docstore.ServerTimestamp,
	}, docstore.Overwrite)
	if err != nil {
		p.log.Warn("typing write dropped", "typing", typing, "err", err)
	}
}

// Observe reports the users other than viewer currently typing in convID.
// onChange runs on the first snapshot and whenever the set changes.
func Observe(ctx context.Context, store docstore.Store, log *slog.Logger, convID, viewer string, onChange func(typers []string)) docstore.Unsubscribe {
	var mu sync.Mutex
	var last []string
	first := true
	onSnapshot := func(docs []*docstore.Document) {
		typers := Typers(docs, viewer)
		mu.Lock()
		if !first && slices.Equal(last, typers) {
			mu.Unlock()
			return
		}
		first, last = false, typers
		mu.Unlock()
		onChange(typers)
	}
	onError := func(err error) {
		log.Warn("typing subscription failed", "subscription", "typing", "conversation_id", convID, "err", err)
	}
	return store.Subscribe(ctx, docstore.Collection(domain.TypingCollection(convID)), onSnapshot, onError)
}

// Typers picks the typing users out of a typing snapshot, sorted.
func Typers(docs []*docstore.Document, viewer string) []string {
	var out []string
	for _, d := range docs {
		sig := Signal(d)
		if sig.UserID == viewer || !sig.Typing {
			continue
		}
		out = append(out, sig.UserID)
	}
	slices.Sort(out)
	return out
}

// Signal decodes one typing record. The document id stands in for a missing
// userId.
func Signal(d *docstore.Document) domain.TypingSignal {
	s := domain.TypingSignal{UserID: d.String("userId"), Typing: d.Bool("isTyping"), At: domain.Pending(0)}
	if s.UserID == "" {
		s.UserID = d.ID
	}
	if t, ok := d.Time("timestamp"); ok {
		s.At = domain.Confirmed(t)
	}
	return s
}
