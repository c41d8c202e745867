package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"floorchat/internal/auth"
	"floorchat/internal/services/chat"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	handshakeTimeout = 5 * time.Second
	eventTimeout     = 5 * time.Second
	shutdownReason   = "server shutting down"
)

// TokenVerifier checks the short-lived socket token presented on connect.
type TokenVerifier interface {
	Verify(token, wantType string) (string, error)
}

type WsServer struct {
	hub      *Hub
	chatSvc  chat.IChatService
	tokens   TokenVerifier
	upgrader websocket.Upgrader
	validate *validator.Validate
}

// NewWsServer builds the relay. An empty allowedOrigins accepts any origin.
func NewWsServer(h *Hub, chatSvc chat.IChatService, tokens TokenVerifier, allowedOrigins []string) *WsServer {
	return &WsServer{
		hub:     h,
		chatSvc: chatSvc,
		tokens:  tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		validate: validator.New(),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(strings.TrimSpace(o), "/")] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			// non-browser clients
			return true
		}
		_, ok := set[strings.TrimRight(origin, "/")]
		return ok
	}
}

// ---------------------------------------------------------------------------
//  Public: Gin entry‑point
// ---------------------------------------------------------------------------

func (s *WsServer) Handle(ginCtx *gin.Context) {
	rawConn, err := s.upgrader.Upgrade(ginCtx.Writer, ginCtx.Request, nil)
	if err != nil {
		zap.L().Warn("ws.accept", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(ginCtx.Request.Context(), handshakeTimeout)
	identity, err := s.authenticate(ctx, ginCtx.Query("token"))
	cancel()
	if err != nil {
		s.reject(rawConn, err)
		return
	}

	conn := newClientConn(rawConn, identity)
	// Queued ahead of any broadcast the room may deliver once joined.
	if msg, err := encode(EventConnected, ConnectedBody{User: identity}); err == nil {
		conn.enqueue(msg)
	}
	if err := s.hub.Join(conn); err != nil {
		if errors.Is(err, ErrHubClosed) {
			zap.L().Info("ws.join_after_shutdown", zap.String("conn", conn.id))
			_ = conn.writeClose(websocket.CloseGoingAway, shutdownReason)
		} else {
			zap.L().Error("ws.join", zap.String("conn", conn.id), zap.Error(err))
		}
		_ = rawConn.Close()
		return
	}
	zap.L().Info("ws.connected",
		zap.String("conn", conn.id),
		zap.String("user", identity.UserID),
		zap.String("floor", identity.FloorID))

	go s.writer(conn)
	go s.reader(conn)
}

// Shutdown closes every live connection with a going-away frame.
func (s *WsServer) Shutdown() {
	s.hub.CloseAll(websocket.CloseGoingAway, shutdownReason)
}

// ---------------------------------------------------------------------------
//  Private helpers
// ---------------------------------------------------------------------------

func (s *WsServer) authenticate(ctx context.Context, token string) (chat.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return chat.Identity{}, chat.ErrMissingIdentity
	}
	userID, err := s.tokens.Verify(token, auth.TypeSocket)
	if err != nil {
		return chat.Identity{}, chat.ErrInvalidIdentity
	}
	return s.chatSvc.Authenticate(ctx, userID)
}

// reject tells the client why the handshake failed and closes the socket
// before any event is read.
func (s *WsServer) reject(rawConn *websocket.Conn, cause error) {
	reason := cause.Error()
	if chat.KindOf(cause) != chat.KindAuthentication {
		reason = chat.ErrAuthUnavailable.Msg
	}
	zap.L().Info("ws.rejected", zap.String("reason", reason), zap.Error(cause))

	conn := newClientConn(rawConn, chat.Identity{})
	if msg, err := encode(EventConnectError, ErrorBody{Error: reason}); err == nil {
		_ = conn.write(websocket.TextMessage, msg)
	}
	_ = conn.writeClose(CloseAuthFailed, reason)
	_ = rawConn.Close()
}

func (s *WsServer) reader(conn *clientConn) {
	defer func() {
		s.hub.Leave(conn)
		conn.close()
		zap.L().Info("ws.disconnected", zap.String("conn", conn.id), zap.String("user", conn.identity.UserID))
	}()

	conn.rawConn.SetReadLimit(maxMessageSize)
	_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	conn.rawConn.SetPongHandler(func(string) error {
		return conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.rawConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				zap.L().Debug("ws.read", zap.String("conn", conn.id), zap.Error(err))
			}
			return
		}
		_ = conn.rawConn.SetReadDeadline(time.Now().Add(pongWait))

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			s.replyError(conn, chat.ErrMalformedPayload)
			continue
		}
		s.dispatch(conn, env)
	}
}

// dispatch runs one client event to completion. Events of one connection are
// handled one at a time, which keeps each sender's messages in send order.
// The context is not tied to the socket: a write that started before the
// sender disconnected still completes and is broadcast.
func (s *WsServer) dispatch(conn *clientConn, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), eventTimeout)
	defer cancel()

	switch env.Event {
	case EventSendMessage:
		s.handleSend(ctx, conn, env.Body)
	case EventDeleteMessage:
		s.handleDelete(ctx, conn, env.Body)
	default:
		s.replyError(conn, chat.ErrUnknownEvent)
	}
}

func (s *WsServer) handleSend(ctx context.Context, conn *clientConn, body json.RawMessage) {
	var req SendMessageRequest
	if len(body) == 0 || json.Unmarshal(body, &req) != nil {
		s.replyError(conn, chat.ErrMalformedPayload)
		return
	}

	msg, err := s.chatSvc.SendMessage(ctx, conn.identity, req.Content)
	if err != nil {
		s.replyError(conn, err)
		return
	}
	if msg.FloorID != conn.identity.FloorID {
		zap.L().Error("ws.floor_mismatch",
			zap.String("message", msg.ID),
			zap.String("message_floor", msg.FloorID),
			zap.String("conn_floor", conn.identity.FloorID))
		s.replyError(conn, chat.ErrSendFailed)
		return
	}
	if err := s.hub.Broadcast(conn.identity.FloorID, EventReceiveMessage, msg); err != nil {
		zap.L().Error("ws.broadcast", zap.String("message", msg.ID), zap.Error(err))
	}
}

func (s *WsServer) handleDelete(ctx context.Context, conn *clientConn, body json.RawMessage) {
	var req DeleteMessageRequest
	if len(body) == 0 || json.Unmarshal(body, &req) != nil {
		s.replyError(conn, chat.ErrMalformedPayload)
		return
	}
	req.MessageID = strings.TrimSpace(req.MessageID)
	if err := s.validate.Struct(req); err != nil {
		s.replyError(conn, chat.ErrInvalidMessageID)
		return
	}

	if err := s.chatSvc.DeleteMessage(ctx, conn.identity, req.MessageID); err != nil {
		s.replyError(conn, err)
		return
	}
	if err := s.hub.Broadcast(conn.identity.FloorID, EventMessageDeleted, MessageDeletedBody{MessageID: req.MessageID}); err != nil {
		zap.L().Error("ws.broadcast", zap.String("message", req.MessageID), zap.Error(err))
	}
}

// replyError sends message_error to the one connection that caused it.
func (s *WsServer) replyError(conn *clientConn, err error) {
	text := err.Error()
	var ce *chat.Error
	if !errors.As(err, &ce) {
		zap.L().Error("ws.unexpected_error", zap.String("conn", conn.id), zap.Error(err))
		text = "internal error"
	} else {
		zap.L().Debug("ws.message_error",
			zap.String("conn", conn.id),
			zap.Stringer("kind", ce.Kind),
			zap.String("error", ce.Msg))
	}

	msg, mErr := encode(EventMessageError, ErrorBody{Error: text})
	if mErr != nil {
		return
	}
	if !conn.enqueue(msg) {
		zap.L().Debug("ws.reply_dropped", zap.String("conn", conn.id))
	}
}

// writer drains the send queue and keeps the connection alive with pings.
// It owns closing the socket.
func (s *WsServer) writer(conn *clientConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.rawConn.Close()
	}()

	for {
		select {
		case msg := <-conn.send:
			if err := conn.write(websocket.TextMessage, msg); err != nil {
				zap.L().Debug("ws.write", zap.String("conn", conn.id), zap.Error(err))
				s.hub.Leave(conn)
				conn.close()
				return
			}
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				zap.L().Debug("ws.ping", zap.String("conn", conn.id), zap.Error(err))
				s.hub.Leave(conn)
				conn.close()
				return
			}
		case <-conn.done:
			_ = conn.writeClose(conn.closeCode, conn.closeReason)
			return
		}
	}
}
