package ws

import (
	"sync"
	"time"

	"floorchat/internal/services/chat"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second // must be < pongWait
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

// clientConn is one authenticated websocket. Its identity is fixed at
// construction; writes go through the send queue drained by the writer.
type clientConn struct {
	id       string
	identity chat.Identity
	rawConn  *websocket.Conn

	mu   sync.Mutex // serializes writes on rawConn
	send chan []byte

	done        chan struct{}
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newClientConn(rawConn *websocket.Conn, identity chat.Identity) *clientConn {
	return &clientConn{
		id:        uuid.NewString(),
		identity:  identity,
		rawConn:   rawConn,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
	}
}

// enqueue never blocks; false means the connection is closed or too slow to
// keep up, and the caller should drop it.
func (c *clientConn) enqueue(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// closeWith signals the writer to send a close frame and release the socket.
// Only the first call wins.
func (c *clientConn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.done)
	})
}

func (c *clientConn) close() { c.closeWith(websocket.CloseNormalClosure, "") }

func (c *clientConn) write(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.rawConn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.rawConn.WriteMessage(mt, data)
}

func (c *clientConn) writeClose(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rawConn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
}

func (c *clientConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.rawConn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}
