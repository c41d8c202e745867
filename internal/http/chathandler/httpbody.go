package chathandler

import "time"

type HistoryQuery struct {
	Before time.Time `form:"before" time_format:"2006-01-02T15:04:05Z07:00" example:"2025-07-27T16:05:05Z"`
}

type SocketTokenResponse struct {
	UserID    string    `json:"userId"    example:"c0a8012e-7f1b-4b8e-9d0a-2f6c1e2a9b11"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt" example:"2025-07-27T16:06:05Z"`
} // @name SocketTokenResponse

type ErrorResponse struct {
	Error string `json:"error" example:"floor not found"`
} // @name ErrorResponse
