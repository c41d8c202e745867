package ws

import (
	"encoding/json"

	"floorchat/internal/services/chat"
)

// Envelope wraps every WS frame.
type Envelope struct {
	Event string          `json:"event"`          // e.g. "send_message"
	Body  json.RawMessage `json:"body,omitempty"` // arbitrary JSON value
}

// Client -> server events.
const (
	EventSendMessage   = "send_message"
	EventDeleteMessage = "delete_message"
)

// Server -> client events.
const (
	EventConnected      = "connected"
	EventConnectError   = "connect_error"
	EventReceiveMessage = "receive_message"
	EventMessageDeleted = "message_deleted"
	EventMessageError   = "message_error"
)

// CloseAuthFailed is the close code sent after a refused handshake.
const CloseAuthFailed = 4401

// ──────────────────────────── Request / Response DTOs ─────────────────────────

// SendMessageRequest is the body of "send_message": either {"content": "..."}
// or the bare JSON string.
type SendMessageRequest struct {
	Content string `json:"content"`
}

func (r *SendMessageRequest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.Content = s
		return nil
	}
	type plain SendMessageRequest
	return json.Unmarshal(data, (*plain)(r))
}

// DeleteMessageRequest is the body of "delete_message": either
// {"messageId": "..."} or the bare JSON string.
type DeleteMessageRequest struct {
	MessageID string `json:"messageId" validate:"required,max=128"`
}

func (r *DeleteMessageRequest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		r.MessageID = s
		return nil
	}
	type plain DeleteMessageRequest
	return json.Unmarshal(data, (*plain)(r))
}

type ConnectedBody struct {
	User chat.Identity `json:"user"`
}

type MessageDeletedBody struct {
	MessageID string `json:"messageId"`
}

// ErrorBody is returned for failures.
type ErrorBody struct {
	Error string `json:"error"`
}

func encode(event string, body any) ([]byte, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Body: raw})
}
