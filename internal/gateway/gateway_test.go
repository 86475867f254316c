package gateway

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/ageniuscoder/mmchat/messaging/internal/auth"
	"github.com/ageniuscoder/mmchat/messaging/internal/conversations"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore"
	"github.com/ageniuscoder/mmchat/messaging/internal/docstore/memory"
	"github.com/ageniuscoder/mmchat/messaging/internal/domain"
	"github.com/ageniuscoder/mmchat/messaging/internal/messages"
	"github.com/ageniuscoder/mmchat/messaging/internal/observability"
	"github.com/ageniuscoder/mmchat/messaging/internal/presentation"
	"github.com/ageniuscoder/mmchat/messaging/internal/profile"
	"github.com/ageniuscoder/mmchat/messaging/internal/session"
)

const secret = "test-secret"

type fixture struct {
	store  *memory.Store
	deps   session.Deps
	hub    *Hub
	router *gin.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := memory.New()
	log := observability.Discard()
	cache := profile.NewCache(store, log)
	deps := session.Deps{
		Store:     store,
		Directory: &conversations.Directory{Store: store, Profiles: cache, Log: log},
		Messages:  &messages.Service{Store: store, Log: log},
		Marker:    messages.NewReadMarker(store, log),
		Sender:    messages.NewSender(store, nil, cache, clockwork.NewRealClock(), log),
		Log:       log,
		Drafts:    session.KeepDrafts,
	}
	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(log)
	go hub.Run(ctx)
	t.Cleanup(cancel)

	ctx0 := context.Background()
	require.NoError(t, store.Set(ctx0, domain.UserPath("a"), docstore.Fields{"username": "alice"}, docstore.Overwrite))
	require.NoError(t, store.Set(ctx0, domain.UserPath("b"), docstore.Fields{"username": "bob"}, docstore.Overwrite))
	require.NoError(t, store.Set(ctx0, domain.ConversationPath("a_b"), docstore.Fields{
		"participants": []any{"a", "b"},
		"lastMessage":  "hey",
		"updatedAt":    docstore.ServerTimestamp,
	}, docstore.Overwrite))
	require.NoError(t, store.Set(ctx0, domain.MessagePath("a_b", "m1"), docstore.Fields{
		"senderId":  "b",
		"text":      "hey",
		"timestamp": docstore.ServerTimestamp,
		"readBy":    map[string]any{"b": docstore.ServerTimestamp},
	}, docstore.Overwrite))

	return &fixture{
		store:  store,
		deps:   deps,
		hub:    hub,
		router: NewRouter(Options{JWTSecret: secret, Hub: hub, Session: deps, Profiles: cache}),
	}
}

func token(t *testing.T, uid string) string {
	t.Helper()
	tok, err := auth.NewToken(secret, uid, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *fixture) do(t *testing.T, method, path, uid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, uid))
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestAPI_RequiresToken(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/conversations", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPI_ConversationsAndThread(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodGet, "/api/conversations", "a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Conversations []conversations.EntryResp `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list.Conversations, 1)
	require.Equal(t, "bob", list.Conversations[0].Title)
	require.Equal(t, 1, list.Conversations[0].Unread)

	w = f.do(t, http.MethodGet, "/api/conversations/a_b/messages", "a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"text":"hey"`)

	w = f.do(t, http.MethodGet, "/api/conversations/a_b/messages", "z", nil)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestAPI_SendAndSearch(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/api/messages", "a", map[string]string{"recipient_id": "b", "text": "hello"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Contains(t, w.Body.String(), `"conversation_id":"a_b"`)

	w = f.do(t, http.MethodPost, "/api/messages", "a", map[string]string{"recipient_id": "b", "text": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), "message is empty")

	w = f.do(t, http.MethodPost, "/api/messages", "a", map[string]string{"text": "hello"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = f.do(t, http.MethodGet, "/api/users/search?q=bo", "a", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "bob")
}

type wsConn struct {
	t    *testing.T
	conn *websocket.Conn
}

func dial(t *testing.T, f *fixture, uid, query string) *wsConn {
	t.Helper()
	srv := httptest.NewServer(f.router)
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws?token=" + token(t, uid) + "&" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsConn{t: t, conn: conn}
}

func (w *wsConn) command(cmd Command) {
	w.t.Helper()
	require.NoError(w.t, w.conn.WriteJSON(cmd))
}

// next reads events until one of type typ arrives.
func (w *wsConn) next(typ string) map[string]any {
	w.t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		require.NoError(w.t, w.conn.SetReadDeadline(deadline))
		_, raw, err := w.conn.ReadMessage()
		require.NoError(w.t, err)
		var ev map[string]any
		require.NoError(w.t, json.Unmarshal(raw, &ev))
		if ev["type"] == typ {
			return ev
		}
	}
}

func TestWS_Session(t *testing.T) {
	f := newFixture(t)
	ws := dial(t, f, "a", "route=/feed&width=1024&height=800")

	ev := ws.next("conversations")
	entries := ev["data"].([]any)
	require.Len(t, entries, 1)
	require.Eventually(t, func() bool { return f.hub.Online() == 1 }, time.Second, 5*time.Millisecond)

	ws.command(Command{Type: "open", ConversationID: "a_b", Ref: "1"})
	ev = ws.next("presentation")
	data := ev["data"].(map[string]any)
	require.Equal(t, "minimized_collapsed", data["state"])
	require.Equal(t, "a_b", data["conversation_id"])

	ws.command(Command{Type: "expand"})
	ev = ws.next("messages")
	thread := ev["data"].(map[string]any)
	require.Equal(t, "a_b", thread["conversation_id"])
	require.Len(t, thread["messages"].([]any), 1)

	ws.command(Command{Type: "send", ConversationID: "a_b", Text: "hi bob", Ref: "2"})
	ev = ws.next("sent")
	sent := ev["data"].(map[string]any)
	require.Equal(t, "a_b", sent["conversation_id"])
	require.Equal(t, "hi bob", sent["message"].(map[string]any)["text"])

	ws.command(Command{Type: "dance", Ref: "3"})
	ev = ws.next("error")
	require.Equal(t, "3", ev["ref"])
	require.Equal(t, "VALIDATION", ev["data"].(map[string]any)["kind"])

	ws.command(Command{Type: "send", ConversationID: "a_b", Text: " ", Ref: "4"})
	ev = ws.next("error")
	require.Equal(t, "4", ev["ref"])
	require.Equal(t, "message is empty", ev["data"].(map[string]any)["message"])

	ws.command(Command{Type: "close"})
	data = ws.next("presentation")["data"].(map[string]any)
	require.Equal(t, "hidden", data["state"])

	ws.conn.Close()
	require.Eventually(t, func() bool { return f.hub.Online() == 0 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return f.store.Subscriptions() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWS_BadTimeZone(t *testing.T) {
	f := newFixture(t)
	w := f.do(t, http.MethodGet, "/api/ws?tz=Mars/Olympus", "a", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

// slowTyping holds typing writes until release is closed.
type slowTyping struct {
	docstore.Store
	release chan struct{}
}

func (s slowTyping) Set(ctx context.Context, path string, fields docstore.Fields, opt docstore.SetOption) error {
	if strings.Contains(path, "/typing/") {
		<-s.release
	}
	return s.Store.Set(ctx, path, fields, opt)
}

func TestHub_SlowTeardownDoesNotStall(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	deps := f.deps
	deps.Store = slowTyping{Store: f.store, release: release}
	log := observability.Discard()

	c := newClient(f.hub, nil, "a", time.UTC, log)
	c.session = session.Start(context.Background(), deps, "a",
		session.Viewport{Route: presentation.MessagesRoute, Width: 500, Height: 800}, c)
	require.NoError(t, c.session.Open(context.Background(), "a_b", 0))
	require.Equal(t, "a_b", c.session.ActiveThread())
	require.True(t, f.hub.add(c))

	// closing the tab writes typing=false, which the store now holds back
	f.hub.drop(c)

	added := make(chan bool, 1)
	go func() { added <- f.hub.add(newClient(f.hub, nil, "b", time.UTC, log)) }()
	select {
	case ok := <-added:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("hub blocked behind a session teardown")
	}
	require.Eventually(t, func() bool { return f.hub.Online() == 1 }, time.Second, 5*time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.closed
	}, time.Second, 5*time.Millisecond)
}
