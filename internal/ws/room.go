package ws

// room is the set of live connections of one floor. It has no lock of its
// own; every access happens under Hub.mu.
type room struct {
	conns map[*clientConn]struct{}
}

func newRoom() *room { return &room{conns: map[*clientConn]struct{}{}} }

func (r *room) add(c *clientConn) { r.conns[c] = struct{}{} }

func (r *room) remove(c *clientConn) bool {
	if _, ok := r.conns[c]; !ok {
		return false
	}
	delete(r.conns, c)
	return true
}

func (r *room) empty() bool { return len(r.conns) == 0 }
