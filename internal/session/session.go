// Package session runs the messaging UI of one browser tab: the conversation
// directory, the thread on screen with its typing presence, drafts and the
// presentation machine that decides what is on screen.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ageniuscoder/mmchat/messaging/internal/conversations"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
	"github.com/ageniuscoder/mmchat/messaging/internal/messages"
	"github.com/ageniuscoder/mmchat/messaging/internal/presentation"
	"github.com/ageniuscoder/mmchat/messaging/internal/typing"
)

type DraftPolicy string

const (
	// KeepDrafts holds one draft per conversation until it is sent.
	KeepDrafts DraftPolicy = "keep"
	// DiscardDrafts drops a conversation's draft whenever the thread changes
	// place or another conversation becomes active.
	DiscardDrafts DraftPolicy = "discard"
)

func ParseDraftPolicy(s string) (DraftPolicy, error) {
	switch DraftPolicy(s) {
	case "", KeepDrafts:
		return KeepDrafts, nil
	case DiscardDrafts:
		return DiscardDrafts, nil
	}
	return "", fmt.Errorf("session: unknown draft policy %q", s)
}

// Sink receives what the tab should render. Calls come from store callbacks
// and command goroutines; implementations must not block and must not call
// back into the Session.
type Sink interface {
	Conversations(snap conversations.Snapshot)
	Messages(conversationID string, msgs []domain.Message)
	Typing(conversationID string, typers []string)
	Presentation(t presentation.Transition)
	Sent(res messages.SendResult)
	Error(op string, err error)
}

// Deps are the shared services a session is built from.
type Deps struct {
	Store      docstore.Store
	Directory  *conversations.Directory
	Messages   *messages.Service
	Marker     *messages.ReadMarker
	Sender     *messages.Sender
	Clock      clockwork.Clock
	Log        *slog.Logger
	TypingIdle time.Duration
	MinWidth   int
	Drafts     DraftPolicy
}

type Viewport struct {
	Route  string
	Width  int
	Height int
}

// Outgoing is a send command from the tab.
type Outgoing struct {
	RecipientID    string
	ConversationID string
	Text           string
	Attachment     *messages.Attachment
}

type Session struct {
	deps    Deps
	userID  string
	sink    Sink
	log     *slog.Logger
	ctx     context.Context
	cancel  context.CancelFunc
	machine *presentation.Machine
	dir     *conversations.Subscription

	mu     sync.Mutex
	thread *thread
	drafts map[string]string
	closed bool
}

// thread holds the live resources of the conversation on screen.
type thread struct {
	convID     string
	stream     *messages.Stream
	presence   *typing.Presence
	stopTyping docstore.Unsubscribe
	typingGone atomic.Bool
}

// Start opens the directory subscription for userID and returns the running
// session. Close must be called when the tab goes away.
func Start(ctx context.Context, deps Deps, userID string, vp Viewport, sink Sink) *Session {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		deps:    deps,
		userID:  userID,
		sink:    sink,
		log:     deps.Log.With("user_id", userID),
		ctx:     ctx,
		cancel:  cancel,
		machine: presentation.New(deps.MinWidth, vp.Route, vp.Width, vp.Height),
		drafts:  make(map[string]string),
	}
	s.machine.Observe(s.onTransition)
	s.dir = deps.Directory.Subscribe(ctx, userID, sink.Conversations, func(err error) {
		sink.Error("conversations", err)
	})
	s.sync(s.machine.View())
	return s
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) View() presentation.View { return s.machine.View() }

// ActiveThread is the conversation whose thread is live, or "".
func (s *Session) ActiveThread() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.thread == nil {
		return ""
	}
	return s.thread.convID
}

func (s *Session) onTransition(t presentation.Transition) {
	if s.deps.Drafts == DiscardDrafts && t.From.ConversationID != "" &&
		(t.ConversationChanged() || t.From.State != t.To.State) {
		s.mu.Lock()
		delete(s.drafts, t.From.ConversationID)
		s.mu.Unlock()
	}
	s.sink.Presentation(t)
	s.sync(t.To)
}

// shown is the conversation whose thread is on screen for v.
func shown(v presentation.View) string {
	switch {
	case v.ConversationID == "":
		return ""
	case v.State == presentation.FullPage:
		return v.ConversationID
	case v.State == presentation.MinimizedExpanded && !v.ListOpen:
		return v.ConversationID
	}
	return ""
}

// sync tears the live thread down and opens the one v shows, if they differ.
func (s *Session) sync(v presentation.View) {
	want := shown(v)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.thread
	if old != nil && old.convID == want {
		s.mu.Unlock()
		return
	}
	s.thread = nil
	s.mu.Unlock()

	if old != nil {
		s.closeThread(s.ctx, old)
	}
	if want == "" {
		return
	}

	th := s.openThread(want)
	s.mu.Lock()
	if s.closed || s.thread != nil {
		s.mu.Unlock()
		s.closeThread(s.ctx, th)
		return
	}
	s.thread = th
	s.mu.Unlock()
}

func (s *Session) openThread(convID string) *thread {
	th := &thread{convID: convID}
	th.presence = typing.NewPresence(s.deps.Store, s.deps.Clock, s.log, convID, s.userID, s.deps.TypingIdle)
	th.stream = s.deps.Messages.Subscribe(s.ctx, convID, s.userID, s.deps.Marker,
		func(msgs []domain.Message) { s.sink.Messages(convID, msgs) },
		func(err error) { s.sink.Error("messages", err) })
	th.stopTyping = typing.Observe(s.ctx, s.deps.Store, s.log, convID, s.userID, func(typers []string) {
		if !th.typingGone.Load() {
			s.sink.Typing(convID, typers)
		}
	})
	s.log.Debug("thread opened", "conversation_id", convID)
	return th
}

func (s *Session) closeThread(ctx context.Context, th *thread) {
	th.typingGone.Store(true)
	th.stopTyping()
	th.stream.Close()
	th.presence.Close(ctx)
	s.log.Debug("thread closed", "conversation_id", th.convID)
}

func (s *Session) authorize(ctx context.Context, convID string) error {
	if convID == "" {
		return nil
	}
	return s.deps.Messages.Authorize(ctx, convID, s.userID)
}

// Open makes convID the active conversation.
func (s *Session) Open(ctx context.Context, convID string, scrollY int) error {
	if convID == "" {
		return domain.Validation("session.Open", "conversation id is required")
	}
	if err := s.authorize(ctx, convID); err != nil {
		return err
	}
	_, err := s.machine.Open(convID, scrollY)
	return err
}

// Minimize starts messaging from the current page, optionally with convID.
func (s *Session) Minimize(ctx context.Context, convID string, scrollY int) error {
	if err := s.authorize(ctx, convID); err != nil {
		return err
	}
	s.machine.Minimize(convID, scrollY)
	return nil
}

func (s *Session) Back() { s.machine.Back() }
func (s *Session) Toggle(scrollY int) { s.machine.Toggle(scrollY) }
func (s *Session) ToggleWidget() { s.machine.ToggleWidget() }
func (s *Session) Full(scrollY int) { s.machine.Full(scrollY) }
func (s *Session) CloseThread() { s.machine.Close() }
func (s *Session) Resize(width, height int) { s.machine.Resize(width, height) }
func (s *Session) Navigate(path string) { s.machine.Navigate(path) }
func (s *Session) Drag(x, y int) { s.machine.Drag(x, y) }

// Typing records a keystroke in convID. Keystrokes for a conversation that
// is not on screen are ignored.
func (s *Session) Typing(ctx context.Context, convID string) {
	s.mu.Lock()
	th := s.thread
	s.mu.Unlock()
	if th == nil || th.convID != convID {
		return
	}
	th.presence.NotifyTyping(ctx)
}

func (s *Session) SetDraft(convID, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if text == "" {
		delete(s.drafts, convID)
		return
	}
	s.drafts[convID] = text
}

func (s *Session) Draft(convID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drafts[convID]
}

// Send writes a message. When its conversation is on screen the message is
// shown right away and withdrawn if it never reaches the store. The draft is
// cleared only on full success. A send that starts a conversation opens it.
func (s *Session) Send(ctx context.Context, out Outgoing) (messages.SendResult, error) {
	convID := out.ConversationID
	if out.RecipientID != "" {
		convID = domain.DirectConversationID(s.userID, out.RecipientID)
	}

	s.mu.Lock()
	th := s.thread
	s.mu.Unlock()
	if th != nil && th.convID != convID {
		th = nil
	}

	var pendingID string
	req := messages.SendRequest{
		SenderID:       s.userID,
		RecipientID:    out.RecipientID,
		ConversationID: out.ConversationID,
		Text:           out.Text,
		Attachment:     out.Attachment,
	}
	if th != nil {
		req.OnPending = func(m domain.Message) {
			pendingID = m.ID
			th.presence.Stop(ctx)
			th.stream.AppendLocal(m)
		}
	}

	res, err := s.deps.Sender.Send(ctx, req)
	if th != nil && pendingID != "" && res.Message.ID == "" {
		th.stream.DropLocal(pendingID)
	}
	if err != nil {
		s.log.Error("send failed", "op", "send", "conversation_id", convID, "kind", domain.KindOf(err), "err", err)
		return res, err
	}

	s.SetDraft(convID, "")
	s.sink.Sent(res)
	if out.RecipientID != "" && shown(s.machine.View()) != res.ConversationID {
		if _, err := s.machine.Open(res.ConversationID, 0); err != nil {
			s.log.Warn("open after send failed", "conversation_id", res.ConversationID, "err", err)
		}
	}
	return res, nil
}

// Close tears every subscription down and clears the typing flag of the
// thread on screen. Later calls do nothing.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	th := s.thread
	s.thread = nil
	s.mu.Unlock()

	s.dir.Close()
	if th != nil {
		s.closeThread(ctx, th)
	}
	s.cancel()
	s.log.Debug("session closed")
}
