package ws

import (
	"encoding/json"
	"testing"

	"floorchat/internal/services/chat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func detachedConn(floorID string) *clientConn {
	return newClientConn(nil, chat.Identity{UserID: "u-" + floorID, FloorID: floorID, Role: "member"})
}

func drain(t *testing.T, c *clientConn) []Envelope {
	t.Helper()
	var out []Envelope
	for {
		select {
		case raw := <-c.send:
			var env Envelope
			require.NoError(t, json.Unmarshal(raw, &env))
			out = append(out, env)
		default:
			return out
		}
	}
}

func TestHub_JoinLeavePrunesEmptyRooms(t *testing.T) {
	h := NewHub()
	a, b := detachedConn("F"), detachedConn("F")

	require.NoError(t, h.Join(a))
	require.NoError(t, h.Join(b))
	assert.Equal(t, 2, h.RoomSize("F"))
	assert.Equal(t, 1, h.RoomCount())

	assert.ErrorIs(t, h.Join(a), ErrAlreadyJoined)

	h.Leave(a)
	h.Leave(a)
	assert.Equal(t, 1, h.RoomSize("F"))

	h.Leave(b)
	assert.Equal(t, 0, h.RoomSize("F"))
	assert.Equal(t, 0, h.RoomCount())
}

func TestHub_BroadcastStaysOnFloor(t *testing.T) {
	h := NewHub()
	f1, f2, g := detachedConn("F"), detachedConn("F"), detachedConn("G")
	for _, c := range []*clientConn{f1, f2, g} {
		require.NoError(t, h.Join(c))
	}

	require.NoError(t, h.Broadcast("F", EventMessageDeleted, MessageDeletedBody{MessageID: "m1"}))

	for _, c := range []*clientConn{f1, f2} {
		got := drain(t, c)
		require.Len(t, got, 1)
		assert.Equal(t, EventMessageDeleted, got[0].Event)
		assert.JSONEq(t, `{"messageId":"m1"}`, string(got[0].Body))
	}
	assert.Empty(t, drain(t, g))
}

func TestHub_BroadcastToEmptyFloorIsNoop(t *testing.T) {
	h := NewHub()
	assert.NoError(t, h.Broadcast("nobody", EventReceiveMessage, map[string]string{"id": "x"}))
	assert.Equal(t, 0, h.RoomCount())
}

func TestHub_BroadcastPreservesOrder(t *testing.T) {
	h := NewHub()
	c := detachedConn("F")
	require.NoError(t, h.Join(c))

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, h.Broadcast("F", EventMessageDeleted, MessageDeletedBody{MessageID: id}))
	}

	var ids []string
	for _, env := range drain(t, c) {
		var body MessageDeletedBody
		require.NoError(t, json.Unmarshal(env.Body, &body))
		ids = append(ids, body.MessageID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestHub_SlowConsumerIsDropped(t *testing.T) {
	h := NewHub()
	slow, fast := detachedConn("F"), detachedConn("F")
	require.NoError(t, h.Join(slow))
	require.NoError(t, h.Join(fast))

	for i := 0; i < sendBuffer; i++ {
		require.NoError(t, h.Broadcast("F", EventMessageDeleted, MessageDeletedBody{MessageID: "m"}))
		drain(t, fast)
	}
	// slow's queue is full now
	require.NoError(t, h.Broadcast("F", EventMessageDeleted, MessageDeletedBody{MessageID: "overflow"}))

	assert.Equal(t, 1, h.RoomSize("F"))
	select {
	case <-slow.done:
	default:
		t.Fatal("slow consumer was not closed")
	}
	got := drain(t, fast)
	require.Len(t, got, 1)
}

func TestHub_CloseAll(t *testing.T) {
	h := NewHub()
	a, b := detachedConn("F"), detachedConn("G")
	require.NoError(t, h.Join(a))
	require.NoError(t, h.Join(b))

	h.CloseAll(1001, "server shutting down")

	assert.Equal(t, 0, h.RoomCount())
	for _, c := range []*clientConn{a, b} {
		<-c.done
		assert.Equal(t, 1001, c.closeCode)
		assert.Equal(t, "server shutting down", c.closeReason)
	}
}

func TestHub_JoinAfterCloseAllFails(t *testing.T) {
	h := NewHub()
	h.CloseAll(1001, "server shutting down")

	c := detachedConn("F")
	assert.ErrorIs(t, h.Join(c), ErrHubClosed)
	assert.Equal(t, 0, h.RoomSize("F"))
}

func TestRequests_AcceptObjectOrBareString(t *testing.T) {
	var s SendMessageRequest
	require.NoError(t, json.Unmarshal([]byte(`"hi"`), &s))
	assert.Equal(t, "hi", s.Content)
	require.NoError(t, json.Unmarshal([]byte(`{"content":"hello"}`), &s))
	assert.Equal(t, "hello", s.Content)
	assert.Error(t, json.Unmarshal([]byte(`42`), &s))

	var d DeleteMessageRequest
	require.NoError(t, json.Unmarshal([]byte(`"m1"`), &d))
	assert.Equal(t, "m1", d.MessageID)
	require.NoError(t, json.Unmarshal([]byte(`{"messageId":"m2"}`), &d))
	assert.Equal(t, "m2", d.MessageID)
}
