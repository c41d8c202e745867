// Package chatclient is a Go client for the floor chat relay. It fetches a
// socket token over HTTP, keeps one websocket open with bounded reconnects,
// loads the floor history once per session and reconciles it with live events
// into a single de-duplicated MessageList.
package chatclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"floorchat/internal/http/chathandler"
	"floorchat/internal/services/chat"
	"floorchat/internal/store"
	"floorchat/internal/ws"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNotConnected   = errors.New("not connected")
	ErrEmptyMessage   = errors.New("empty message")
	ErrAlreadyStarted = errors.New("client already started")
	ErrInvalidID      = errors.New("invalid message id")
)

const (
	msgUnreachable    = "unable to reach chat server, please retry"
	msgHistoryFailed  = "failed to load chat history"
	handshakeWait     = 10 * time.Second
	readWait          = 75 * time.Second
	writeWait         = 10 * time.Second
	historyPath       = "/api/chat/history"
	socketTokenPath   = "/api/auth/socket-token"
	defaultReconnects = 5
)

type State int

const (
	StateDisconnected State = iota
	StateAuthenticating
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// AuthError is a refusal by the server. It ends the session: no reconnect
// is attempted after it.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

type Config struct {
	BaseURL      string // e.g. http://localhost:8085
	SessionToken string

	// MaxReconnects bounds consecutive failed attempts after a transport
	// loss; 0 means 5, negative means none.
	MaxReconnects  int
	ReconnectDelay time.Duration // default 5s
	ErrorTTL       time.Duration // how long a message_error stays visible, default 5s

	HTTPClient *http.Client
	Dialer     *websocket.Dialer

	// OnChange is called after every state, error or message list change.
	// It runs on an internal goroutine and must not block.
	OnChange func()
}

type Client struct {
	cfg  Config
	base *url.URL
	list *MessageList

	mu          sync.Mutex
	state       State
	lastErr     string
	errGen      uint64
	identity    chat.Identity
	conn        *websocket.Conn
	historyDone bool
	historyBusy bool
	started     bool
	running     bool
	closing     bool
	cancel      context.CancelFunc
	done        chan struct{}

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", cfg.BaseURL)
	}
	switch {
	case cfg.MaxReconnects == 0:
		cfg.MaxReconnects = defaultReconnects
	case cfg.MaxReconnects < 0:
		cfg.MaxReconnects = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.ErrorTTL <= 0 {
		cfg.ErrorTTL = 5 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: handshakeWait}
	}
	return &Client{
		cfg:  cfg,
		base: base,
		list: NewMessageList(),
		done: make(chan struct{}),
	}, nil
}

// Start fetches a socket token and, on success, connects in the background.
// A failed token fetch leaves the client Disconnected and is not retried.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	c.state = StateAuthenticating
	c.mu.Unlock()
	c.notify()

	token, err := c.fetchToken(ctx)
	if err != nil {
		c.fail(err.Error())
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		cancel()
		return ErrNotConnected
	}
	c.cancel = cancel
	c.running = true
	c.mu.Unlock()

	go c.run(runCtx, token)
	return nil
}

// Close ends the session deliberately; it never triggers a reconnect and
// leaves no error behind.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closing = true
	conn, cancel, running := c.conn, c.cancel, c.running
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.writeMu.Unlock()
		_ = conn.Close()
	}
	if running {
		<-c.done
	}
	c.wg.Wait()

	c.mu.Lock()
	c.state = StateDisconnected
	c.lastErr = ""
	c.errGen++
	c.mu.Unlock()
	c.notify()
	return nil
}

func (c *Client) Send(content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}
	return c.emit(ws.EventSendMessage, ws.SendMessageRequest{Content: content})
}

func (c *Client) Delete(messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ErrInvalidID
	}
	return c.emit(ws.EventDeleteMessage, ws.DeleteMessageRequest{MessageID: messageID})
}

func (c *Client) Messages() []store.ChatMessage { return c.list.Snapshot() }

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError is the error currently shown to the user, "" when none.
func (c *Client) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Identity is what the server attached to the current connection.
func (c *Client) Identity() chat.Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// ──────────────────────────── connection loop ─────────────────────────────

func (c *Client) run(ctx context.Context, token string) {
	defer close(c.done)
	defer c.setState(StateDisconnected)

	failures := 0
	for attempt := 0; ; attempt++ {
		conn, err := c.connect(ctx, token, attempt > 0)
		if err != nil {
			if c.stopping(ctx) {
				return
			}
			var ae *AuthError
			if errors.As(err, &ae) {
				c.fail(ae.Reason)
				return
			}
			failures++
			zap.L().Debug("chatclient.connect_failed", zap.Int("failures", failures), zap.Error(err))
			if failures > c.cfg.MaxReconnects {
				c.fail(msgUnreachable)
				return
			}
			c.setState(StateAuthenticating)
			continue
		}

		failures = 0
		c.connected(ctx)
		err = c.readLoop(conn)
		c.detach(conn)
		_ = conn.Close()

		if c.stopping(ctx) {
			return
		}
		var ae *AuthError
		if errors.As(err, &ae) {
			c.fail(ae.Reason)
			return
		}
		zap.L().Debug("chatclient.connection_lost", zap.Error(err))
		c.setState(StateAuthenticating)
	}
}

// connect waits the reconnect delay and refreshes the short-lived socket
// token before every attempt but the first.
func (c *Client) connect(ctx context.Context, token string, retry bool) (*websocket.Conn, error) {
	if retry {
		t := time.NewTimer(c.cfg.ReconnectDelay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		var err error
		if token, err = c.fetchToken(ctx); err != nil {
			return nil, err
		}
	}
	return c.dial(ctx, token)
}

func (c *Client) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	conn, _, err := c.cfg.Dialer.DialContext(ctx, c.wsURL(token), nil)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, context.Canceled
	}
	c.conn = conn
	c.mu.Unlock()

	identity, err := c.handshake(conn)
	if err != nil {
		c.detach(conn)
		_ = conn.Close()
		return nil, err
	}

	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
	return conn, nil
}

// handshake reads the server's verdict: connected or connect_error.
func (c *Client) handshake(conn *websocket.Conn) (chat.Identity, error) {
	_ = conn.SetReadDeadline(time.Now().Add(handshakeWait))
	_, data, err := conn.ReadMessage()
	if err != nil {
		return chat.Identity{}, closeErr(err)
	}

	var env ws.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return chat.Identity{}, fmt.Errorf("handshake: %w", err)
	}
	switch env.Event {
	case ws.EventConnected:
		var body ws.ConnectedBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return chat.Identity{}, fmt.Errorf("handshake: %w", err)
		}
		return body.User, nil
	case ws.EventConnectError:
		var body ws.ErrorBody
		_ = json.Unmarshal(env.Body, &body)
		return chat.Identity{}, &AuthError{Reason: body.Error}
	default:
		return chat.Identity{}, fmt.Errorf("handshake: unexpected event %q", env.Event)
	}
}

func (c *Client) readLoop(conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return closeErr(err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))

		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			zap.L().Debug("chatclient.bad_frame", zap.Error(err))
			continue
		}
		c.handle(env)
	}
}

func (c *Client) handle(env ws.Envelope) {
	switch env.Event {
	case ws.EventReceiveMessage:
		var msg store.ChatMessage
		if err := json.Unmarshal(env.Body, &msg); err != nil {
			zap.L().Debug("chatclient.bad_message", zap.Error(err))
			return
		}
		if c.list.Insert(msg) {
			c.notify()
		}
	case ws.EventMessageDeleted:
		var body ws.MessageDeletedBody
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return
		}
		if c.list.Remove(body.MessageID) {
			c.notify()
		}
	case ws.EventMessageError:
		var body ws.ErrorBody
		_ = json.Unmarshal(env.Body, &body)
		c.transientError(body.Error)
	}
}

func closeErr(err error) error {
	var ce *websocket.CloseError
	if errors.As(err, &ce) && ce.Code == ws.CloseAuthFailed {
		return &AuthError{Reason: ce.Text}
	}
	return err
}

// connected fires the history fetch the first time a session gets through.
// A failed fetch clears the guard so the next connect tries again.
func (c *Client) connected(ctx context.Context) {
	c.mu.Lock()
	c.state = StateConnected
	fetch := !c.historyDone && !c.historyBusy
	if fetch {
		c.historyBusy = true
		c.wg.Add(1)
	}
	c.mu.Unlock()
	c.notify()

	if fetch {
		go c.loadHistory(ctx)
	}
}

func (c *Client) loadHistory(ctx context.Context) {
	defer c.wg.Done()

	var page chat.HistoryPage
	err := c.getJSON(ctx, historyPath, &page)

	c.mu.Lock()
	c.historyBusy = false
	c.historyDone = err == nil
	c.mu.Unlock()

	if err != nil {
		if ctx.Err() == nil {
			zap.L().Warn("chatclient.history_failed", zap.Error(err))
			c.transientError(msgHistoryFailed)
		}
		return
	}
	if c.list.Merge(page.Messages) > 0 {
		c.notify()
	}
}

func (c *Client) emit(event string, body any) error {
	c.mu.Lock()
	conn := c.conn
	ready := c.state == StateConnected && conn != nil
	c.mu.Unlock()
	if !ready {
		return ErrNotConnected
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(ws.Envelope{Event: event, Body: raw})
}

// ──────────────────────────── state helpers ───────────────────────────────

func (c *Client) stopping(ctx context.Context) bool {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	return closing || ctx.Err() != nil
}

func (c *Client) detach(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

// fail is terminal: Disconnected with an error that stays until Close.
func (c *Client) fail(msg string) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.lastErr = msg
	c.errGen++
	c.mu.Unlock()
	c.notify()
}

func (c *Client) transientError(msg string) {
	c.mu.Lock()
	c.errGen++
	gen := c.errGen
	c.lastErr = msg
	c.mu.Unlock()
	c.notify()

	time.AfterFunc(c.cfg.ErrorTTL, func() {
		c.mu.Lock()
		cleared := c.errGen == gen
		if cleared {
			c.lastErr = ""
		}
		c.mu.Unlock()
		if cleared {
			c.notify()
		}
	})
}

func (c *Client) notify() {
	if c.cfg.OnChange != nil {
		c.cfg.OnChange()
	}
}

// ──────────────────────────── HTTP ────────────────────────────────────────

func (c *Client) wsURL(token string) string {
	u := *c.base
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"token": {token}}.Encode()
	return u.String()
}

func (c *Client) fetchToken(ctx context.Context) (string, error) {
	var res chathandler.SocketTokenResponse
	if err := c.getJSON(ctx, socketTokenPath, &res); err != nil {
		return "", err
	}
	if res.Token == "" {
		return "", errors.New("socket token: empty token")
	}
	return res.Token, nil
}

// getJSON issues an authenticated GET; 401 comes back as *AuthError.
func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	u := *c.base
	u.Path = strings.TrimRight(u.Path, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SessionToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body chathandler.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		if body.Error == "" {
			body.Error = resp.Status
		}
		if resp.StatusCode == http.StatusUnauthorized {
			return &AuthError{Reason: body.Error}
		}
		return fmt.Errorf("%s: %s", path, body.Error)
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}
