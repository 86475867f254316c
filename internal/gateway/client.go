package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/ageniuscoder/mmchat/messaging/internal/conversations"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
	"github.com/ageniuscoder/mmchat/messaging/internal/messages"
	"github.com/ageniuscoder/mmchat/messaging/internal/presentation"
	"github.com/ageniuscoder/mmchat/messaging/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 10
	commandTimeout = 15 * time.Second
	sendBuffer     = 256
)

// Client is one connected tab. It is the session's Sink.
type Client struct {
	UserID string

	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	loc     *time.Location
	log     *slog.Logger
	session *session.Session

	mu     sync.Mutex
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, loc *time.Location, log *slog.Logger) *Client {
	return &Client{
		UserID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		loc:    loc,
		log:    log,
	}
}

func (c *Client) emit(typ, ref string, data any) {
	payload, err := json.Marshal(Event{Type: typ, Ref: ref, Data: data})
	if err != nil {
		c.log.Error("encode event failed", "event", typ, "err", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- payload:
	default:
		// slow or broken tab: closing the socket ends readPump, which
		// unregisters it
		c.log.Warn("dropping slow client", "event", typ)
		c.conn.Close()
	}
}

func (c *Client) Conversations(snap conversations.Snapshot) {
	c.emit("conversations", "", conversations.SnapshotResp(snap))
}

func (c *Client) Messages(convID string, msgs []domain.Message) {
	c.emit("messages", "", threadEvent(convID, msgs, c.UserID, c.loc))
}

func (c *Client) Typing(convID string, typers []string) {
	if typers == nil {
		typers = []string{}
	}
	c.emit("typing", "", TypingEvent{ConversationID: convID, Users: typers})
}

func (c *Client) Presentation(t presentation.Transition) {
	c.emit("presentation", "", presentationEvent(t))
}

func (c *Client) Sent(res messages.SendResult) {
	c.emit("sent", "", SentEvent{
		ConversationID: res.ConversationID,
		Created:        res.Created,
		Message:        messages.ToResp(res.Message, c.UserID),
	})
}

func (c *Client) Error(op string, err error) {
	c.emit("error", "", errorEvent(op, err))
}

// shutdown runs on the hub goroutine once the tab is unregistered.
func (c *Client) shutdown() {
	if c.session != nil {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		c.session.Close(ctx)
		cancel()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) readPump() {
	defer func() {
		c.hub.drop(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Warn("socket read failed", "err", err)
			}
			return
		}
		var cmd Command
		if err := json.Unmarshal(msg, &cmd); err != nil {
			c.emit("error", "", errorEvent("decode", domain.Validation("gateway.decode", "malformed command")))
			continue
		}
		c.handle(cmd)
	}
}

// handle runs one command against the session. Errors go back to the tab
// tagged with the command so it can show them next to the control.
func (c *Client) handle(cmd Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	s := c.session
	before := s.View().ConversationID

	var err error
	switch cmd.Type {
	case "open":
		err = s.Open(ctx, cmd.ConversationID, cmd.ScrollY)
	case "back":
		s.Back()
	case "send":
		_, err = s.Send(ctx, session.Outgoing{
			RecipientID:    cmd.RecipientID,
			ConversationID: cmd.ConversationID,
			Text:           cmd.Text,
		})
	case "typing":
		s.Typing(ctx, cmd.ConversationID)
	case "draft":
		s.SetDraft(cmd.ConversationID, cmd.Text)
	case "minimize":
		err = s.Minimize(ctx, cmd.ConversationID, cmd.ScrollY)
	case "toggle":
		s.Toggle(cmd.ScrollY)
	case "expand":
		s.ToggleWidget()
	case "full":
		s.Full(cmd.ScrollY)
	case "close":
		s.CloseThread()
	case "resize":
		s.Resize(cmd.Width, cmd.Height)
	case "navigate":
		s.Navigate(cmd.Path)
	case "drag":
		s.Drag(cmd.X, cmd.Y)
	default:
		err = domain.Validation("gateway.command", "unknown command "+cmd.Type)
	}
	if err != nil {
		c.emit("error", cmd.Ref, errorEvent(cmd.Type, err))
		return
	}

	if after := s.View().ConversationID; after != before && after != "" {
		c.emit("draft", cmd.Ref, DraftEvent{ConversationID: after, Text: s.Draft(after)})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			_, _ = w.Write(message)
			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
