package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"floorchat/internal/auth"
	"floorchat/internal/services/chat"
	"floorchat/internal/store"
	"floorchat/internal/store/memstore"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayFixture struct {
	ts     *httptest.Server
	srv    *WsServer
	hub    *Hub
	store  *memstore.MemStore
	issuer *auth.Issuer
}

func newRelay(t *testing.T) *relayFixture {
	t.Helper()
	return newRelayWith(t, nil)
}

// newRelayWith lets a test put its own store in front of the seeded memstore.
func newRelayWith(t *testing.T, wrap func(*memstore.MemStore) store.Store) *relayFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ms := memstore.New()
	ms.PutFloor(store.Floor{ID: "F", Name: "Floor 1"})
	ms.PutFloor(store.Floor{ID: "G", Name: "Floor 2"})
	for _, u := range []store.User{
		{ID: "u1", Name: "Ana", Email: "ana@example.com", Role: store.RoleMember},
		{ID: "u2", Email: "ben@example.com", Role: store.RoleMember},
		{ID: "u3", Name: "Cy", Role: store.RoleMember},
		{ID: "drifter", Name: "Dee", Role: store.RoleMember},
	} {
		ms.PutUser(u)
	}
	ms.Assign("u1", "F")
	ms.Assign("u2", "F")
	ms.Assign("u3", "G")

	issuer := auth.NewIssuer("ws-test-secret-0123456789", time.Minute, time.Hour)
	hub := NewHub()
	var st store.Store = ms
	if wrap != nil {
		st = wrap(ms)
	}
	srv := NewWsServer(hub, chat.NewChatService(st, chat.Options{MaxMessageLength: 100}), issuer, nil)

	r := gin.New()
	r.GET("/ws", srv.Handle)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)

	return &relayFixture{ts: ts, srv: srv, hub: hub, store: ms, issuer: issuer}
}

func (f *relayFixture) rawDial(t *testing.T, token string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/ws"
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// dial connects as userID and waits for the server to accept the identity.
func (f *relayFixture) dial(t *testing.T, userID string) *websocket.Conn {
	t.Helper()
	token, _, err := f.issuer.IssueSocket(userID)
	require.NoError(t, err)
	conn := f.rawDial(t, token)

	env := readEnv(t, conn)
	require.Equal(t, EventConnected, env.Event)
	var body ConnectedBody
	require.NoError(t, json.Unmarshal(env.Body, &body))
	require.Equal(t, userID, body.User.UserID)
	return conn
}

func readEnv(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	_, data, err := conn.ReadMessage()
	var ne net.Error
	require.Truef(t, errors.As(err, &ne) && ne.Timeout(), "unexpected frame %s (err=%v)", data, err)
}

func send(t *testing.T, conn *websocket.Conn, event string, body any) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(Envelope{Event: event, Body: raw}))
}

func errorText(t *testing.T, env Envelope) string {
	t.Helper()
	var body ErrorBody
	require.NoError(t, json.Unmarshal(env.Body, &body))
	return body.Error
}

func TestRelay_MessageReachesOwnFloorOnly(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")
	other := f.dial(t, "u3")

	send(t, a, EventSendMessage, SendMessageRequest{Content: "hello"})

	for _, c := range []*websocket.Conn{a, b} {
		env := readEnv(t, c)
		require.Equal(t, EventReceiveMessage, env.Event)
		var msg store.ChatMessage
		require.NoError(t, json.Unmarshal(env.Body, &msg))
		assert.Equal(t, "hello", msg.Content)
		assert.Equal(t, "F", msg.FloorID)
		assert.Equal(t, "u1", msg.AuthorID)
		assert.Equal(t, "Ana", msg.Author.Name)
		assert.NotEmpty(t, msg.ID)
	}
	expectSilence(t, other)
}

func TestRelay_BareStringPayload(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")

	require.NoError(t, a.WriteJSON(Envelope{Event: EventSendMessage, Body: json.RawMessage(`"  trimmed  "`)}))

	env := readEnv(t, a)
	require.Equal(t, EventReceiveMessage, env.Event)
	var msg store.ChatMessage
	require.NoError(t, json.Unmarshal(env.Body, &msg))
	assert.Equal(t, "trimmed", msg.Content)
}

func TestRelay_SenderOrderIsPreserved(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")

	want := []string{"one", "two", "three", "four"}
	for _, c := range want {
		send(t, a, EventSendMessage, SendMessageRequest{Content: c})
	}

	var got []string
	for range want {
		env := readEnv(t, b)
		require.Equal(t, EventReceiveMessage, env.Event)
		var msg store.ChatMessage
		require.NoError(t, json.Unmarshal(env.Body, &msg))
		got = append(got, msg.Content)
	}
	assert.Equal(t, want, got)
}

func TestRelay_ValidationErrorsGoToSenderOnly(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")

	send(t, a, EventSendMessage, SendMessageRequest{Content: "   "})
	env := readEnv(t, a)
	assert.Equal(t, EventMessageError, env.Event)
	assert.Equal(t, "empty message", errorText(t, env))

	send(t, a, EventSendMessage, SendMessageRequest{Content: strings.Repeat("x", 101)})
	env = readEnv(t, a)
	assert.Equal(t, EventMessageError, env.Event)
	assert.Equal(t, "message too long", errorText(t, env))

	send(t, a, "shout", SendMessageRequest{Content: "hi"})
	env = readEnv(t, a)
	assert.Equal(t, "unknown event", errorText(t, env))

	require.NoError(t, a.WriteMessage(websocket.TextMessage, []byte("not json")))
	env = readEnv(t, a)
	assert.Equal(t, "malformed payload", errorText(t, env))

	require.NoError(t, a.WriteJSON(Envelope{Event: EventSendMessage, Body: json.RawMessage(`42`)}))
	env = readEnv(t, a)
	assert.Equal(t, "malformed payload", errorText(t, env))

	expectSilence(t, b)
}

func TestRelay_DeleteIsBroadcast(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")

	send(t, a, EventSendMessage, SendMessageRequest{Content: "oops"})
	var msg store.ChatMessage
	require.NoError(t, json.Unmarshal(readEnv(t, a).Body, &msg))
	readEnv(t, b)

	send(t, a, EventDeleteMessage, DeleteMessageRequest{MessageID: msg.ID})

	for _, c := range []*websocket.Conn{a, b} {
		env := readEnv(t, c)
		require.Equal(t, EventMessageDeleted, env.Event)
		var body MessageDeletedBody
		require.NoError(t, json.Unmarshal(env.Body, &body))
		assert.Equal(t, msg.ID, body.MessageID)
	}

	_, err := f.store.GetMessage(t.Context(), msg.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRelay_UnauthorizedDeleteKeepsMessage(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")

	send(t, a, EventSendMessage, SendMessageRequest{Content: "mine"})
	var msg store.ChatMessage
	require.NoError(t, json.Unmarshal(readEnv(t, a).Body, &msg))
	readEnv(t, b)

	require.NoError(t, b.WriteJSON(Envelope{Event: EventDeleteMessage, Body: json.RawMessage(`"` + msg.ID + `"`)}))
	env := readEnv(t, b)
	assert.Equal(t, EventMessageError, env.Event)
	assert.Equal(t, "not authorized to delete", errorText(t, env))
	expectSilence(t, a)

	_, err := f.store.GetMessage(t.Context(), msg.ID)
	assert.NoError(t, err)
}

func TestRelay_DeleteUnknownAndEmptyIDs(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")

	send(t, a, EventDeleteMessage, DeleteMessageRequest{MessageID: "  "})
	assert.Equal(t, "invalid message id", errorText(t, readEnv(t, a)))

	send(t, a, EventDeleteMessage, DeleteMessageRequest{MessageID: "nope"})
	assert.Equal(t, "message not found", errorText(t, readEnv(t, a)))
}

func TestRelay_HandshakeRejections(t *testing.T) {
	f := newRelay(t)
	session, _, err := f.issuer.IssueSession("u1")
	require.NoError(t, err)
	noFloor, _, err := f.issuer.IssueSocket("drifter")
	require.NoError(t, err)
	ghost, _, err := f.issuer.IssueSocket("ghost")
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
		want  string
	}{
		{"no token", "", "missing identity"},
		{"garbage", "abc.def.ghi", "invalid identity token"},
		{"session token", session, "invalid identity token"},
		{"unknown user", ghost, "user not found"},
		{"no floor", noFloor, "not assigned to a floor"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conn := f.rawDial(t, tc.token)

			env := readEnv(t, conn)
			assert.Equal(t, EventConnectError, env.Event)
			assert.Equal(t, tc.want, errorText(t, env))

			_, _, err := conn.ReadMessage()
			var ce *websocket.CloseError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, CloseAuthFailed, ce.Code)
			assert.Equal(t, tc.want, ce.Text)
		})
	}
	assert.Equal(t, 0, f.hub.RoomCount())
}

func TestRelay_DisconnectLeavesRoom(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")
	f.dial(t, "u2")
	require.Equal(t, 2, f.hub.RoomSize("F"))

	require.NoError(t, a.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))

	assert.Eventually(t, func() bool { return f.hub.RoomSize("F") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_ShutdownClosesConnections(t *testing.T) {
	f := newRelay(t)
	a := f.dial(t, "u1")

	f.srv.Shutdown()

	_, _, err := a.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, "server shutting down", ce.Text)
	assert.Equal(t, 0, f.hub.RoomCount())
}

func TestRelay_JoinAfterShutdownIsTurnedAway(t *testing.T) {
	f := newRelay(t)
	f.srv.Shutdown()

	token, _, err := f.issuer.IssueSocket("u1")
	require.NoError(t, err)
	conn := f.rawDial(t, token)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err = conn.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseGoingAway, ce.Code)
	assert.Equal(t, 0, f.hub.RoomCount())
}

// gatedStore blocks CreateMessage until release is closed and can rewrite
// the record it returns.
type gatedStore struct {
	*memstore.MemStore
	entered chan struct{}
	release chan struct{}
	rewrite func(*store.ChatMessage)
}

func (g *gatedStore) CreateMessage(ctx context.Context, in store.NewMessage) (*store.ChatMessage, error) {
	if g.entered != nil {
		close(g.entered)
		<-g.release
	}
	msg, err := g.MemStore.CreateMessage(ctx, in)
	if err == nil && g.rewrite != nil {
		g.rewrite(msg)
	}
	return msg, err
}

func TestRelay_SenderLeavingMidPersistStillBroadcasts(t *testing.T) {
	gs := &gatedStore{entered: make(chan struct{}), release: make(chan struct{})}
	f := newRelayWith(t, func(ms *memstore.MemStore) store.Store {
		gs.MemStore = ms
		return gs
	})
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")

	send(t, a, EventSendMessage, SendMessageRequest{Content: "parting words"})
	<-gs.entered
	require.NoError(t, a.Close())
	close(gs.release)

	env := readEnv(t, b)
	require.Equal(t, EventReceiveMessage, env.Event)
	var msg store.ChatMessage
	require.NoError(t, json.Unmarshal(env.Body, &msg))
	assert.Equal(t, "parting words", msg.Content)
	assert.Equal(t, "u1", msg.AuthorID)

	rows, err := f.store.ListMessages(context.Background(), "F", time.Time{}, 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, msg.ID, rows[0].ID)
	assert.Eventually(t, func() bool { return f.hub.RoomSize("F") == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestRelay_PersistedFloorMismatchIsReported(t *testing.T) {
	f := newRelayWith(t, func(ms *memstore.MemStore) store.Store {
		return &gatedStore{MemStore: ms, rewrite: func(m *store.ChatMessage) { m.FloorID = "G" }}
	})
	a := f.dial(t, "u1")
	b := f.dial(t, "u2")
	other := f.dial(t, "u3")

	send(t, a, EventSendMessage, SendMessageRequest{Content: "misrouted"})

	env := readEnv(t, a)
	require.Equal(t, EventMessageError, env.Event)
	assert.Equal(t, "failed to send message", errorText(t, env))
	expectSilence(t, b)
	expectSilence(t, other)
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"https://chat.example.com/"})

	req := httptest.NewRequest("GET", "/ws", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://chat.example.com")
	assert.True(t, check(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, check(req))

	assert.True(t, originChecker(nil)(req))
}
