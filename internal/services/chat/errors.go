package chat

import "errors"

// Kind classifies a chat failure; it decides whether the failure closes the
// connection (Authentication) or is reported to the one sender only.
type Kind int

const (
	KindUnknown Kind = iota
	KindAuthentication
	KindValidation
	KindAuthorization
	KindNotFound
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindNotFound:
		return "not_found"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is what every chat operation returns on failure. Msg is safe to show
// to the client; Err keeps the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string { return e.Msg }

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind and message, so wrapped copies of
// a sentinel still satisfy errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Msg == t.Msg
}

func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

var (
	ErrMissingIdentity = &Error{Kind: KindAuthentication, Msg: "missing identity"}
	ErrInvalidIdentity = &Error{Kind: KindAuthentication, Msg: "invalid identity token"}
	ErrUserNotFound    = &Error{Kind: KindAuthentication, Msg: "user not found"}
	ErrNoFloor         = &Error{Kind: KindAuthentication, Msg: "not assigned to a floor"}
	ErrAuthUnavailable = &Error{Kind: KindAuthentication, Msg: "authentication unavailable"}

	ErrSendContext      = &Error{Kind: KindValidation, Msg: "cannot send message: user or room context missing"}
	ErrDeleteContext    = &Error{Kind: KindValidation, Msg: "cannot delete message: context missing"}
	ErrEmptyMessage     = &Error{Kind: KindValidation, Msg: "empty message"}
	ErrMessageTooLong   = &Error{Kind: KindValidation, Msg: "message too long"}
	ErrRateLimited      = &Error{Kind: KindValidation, Msg: "rate limit exceeded"}
	ErrInvalidMessageID = &Error{Kind: KindValidation, Msg: "invalid message id"}
	ErrUnknownEvent     = &Error{Kind: KindValidation, Msg: "unknown event"}
	ErrMalformedPayload = &Error{Kind: KindValidation, Msg: "malformed payload"}

	ErrCrossFloorDelete = &Error{Kind: KindAuthorization, Msg: "cannot delete message from another floor"}
	ErrNotAuthorized    = &Error{Kind: KindAuthorization, Msg: "not authorized to delete"}
	ErrHistoryForbidden = &Error{Kind: KindAuthorization, Msg: "access denied to this floor's chat history"}

	ErrMessageNotFound = &Error{Kind: KindNotFound, Msg: "message not found"}
	ErrFloorNotFound   = &Error{Kind: KindNotFound, Msg: "floor not found"}
	ErrProfileNotFound = &Error{Kind: KindNotFound, Msg: "user not found"}

	// ErrSendFailed is the generic reply when a message cannot be relayed.
	ErrSendFailed = &Error{Kind: KindPersistence, Msg: msgSendFailed}
)

// Client-facing texts for persistence failures; the cause never leaves the
// server.
const (
	msgSendFailed    = "failed to send message"
	msgDeleteFailed  = "failed to delete message"
	msgHistoryFailed = "failed to fetch chat history"
)

func persistenceError(msg string, cause error) *Error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: cause}
}

func wrap(sentinel *Error, cause error) *Error {
	return &Error{Kind: sentinel.Kind, Msg: sentinel.Msg, Err: cause}
}
