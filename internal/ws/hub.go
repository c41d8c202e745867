package ws

import (
	"errors"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrAlreadyJoined = errors.New("connection already joined a room")
	ErrHubClosed     = errors.New("hub closed")
)

// Hub keeps one room per floor id. A connection belongs to at most one room,
// the one named by its identity, and empty rooms are pruned on leave. Once
// CloseAll has run no connection can join again.
type Hub struct {
	mu     sync.RWMutex
	rooms  map[string]*room
	joined map[*clientConn]string
	closed bool
}

func NewHub() *Hub {
	return &Hub{
		rooms:  map[string]*room{},
		joined: map[*clientConn]string{},
	}
}

func (h *Hub) Join(c *clientConn) error {
	floorID := c.identity.FloorID

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrHubClosed
	}
	if _, ok := h.joined[c]; ok {
		return ErrAlreadyJoined
	}
	r, ok := h.rooms[floorID]
	if !ok {
		r = newRoom()
		h.rooms[floorID] = r
	}
	r.add(c)
	h.joined[c] = floorID
	return nil
}

// Leave is idempotent.
func (h *Hub) Leave(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *clientConn) {
	floorID, ok := h.joined[c]
	if !ok {
		return
	}
	delete(h.joined, c)
	if r, ok := h.rooms[floorID]; ok {
		r.remove(c)
		if r.empty() {
			delete(h.rooms, floorID)
		}
	}
}

// Broadcast delivers one event to every connection of floorID. Connections
// whose queue is full are dropped.
func (h *Hub) Broadcast(floorID, event string, body any) error {
	msg, err := encode(event, body)
	if err != nil {
		return err
	}

	// enqueue never blocks; one lock across the loop fixes a single event
	// order per room.
	h.mu.Lock()
	var failed []*clientConn
	if r, ok := h.rooms[floorID]; ok {
		for c := range r.conns {
			if !c.enqueue(msg) {
				failed = append(failed, c)
			}
		}
	}
	for _, c := range failed {
		h.leaveLocked(c)
	}
	h.mu.Unlock()

	for _, c := range failed {
		zap.L().Warn("ws.slow_consumer", zap.String("conn", c.id), zap.String("floor", floorID))
		c.closeWith(websocket.ClosePolicyViolation, "send queue overflow")
	}
	return nil
}

// CloseAll detaches and closes every connection and refuses later joins.
func (h *Hub) CloseAll(code int, reason string) {
	h.mu.Lock()
	conns := make([]*clientConn, 0, len(h.joined))
	for c := range h.joined {
		conns = append(conns, c)
	}
	h.rooms = map[string]*room{}
	h.joined = map[*clientConn]string{}
	h.closed = true
	h.mu.Unlock()

	for _, c := range conns {
		c.closeWith(code, reason)
	}
}

// RoomSize reports how many connections a floor currently has.
func (h *Hub) RoomSize(floorID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if r, ok := h.rooms[floorID]; ok {
		return len(r.conns)
	}
	return 0
}

func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
