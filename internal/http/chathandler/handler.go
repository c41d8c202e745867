package chathandler

import (
	"net/http"
	"time"

	"floorchat/internal/http/middleware"
	"floorchat/internal/services/chat"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SocketTokenIssuer interface {
	IssueSocket(userID string) (string, time.Time, error)
}

type Handler struct {
	svc    chat.IChatService
	tokens SocketTokenIssuer
}

func New(svc chat.IChatService, tokens SocketTokenIssuer) *Handler {
	return &Handler{svc: svc, tokens: tokens}
}

// Register mounts the routes; r must already carry middleware.RequireSession.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/auth/socket-token", h.socketToken)
	r.GET("/me", h.me)
	r.GET("/chat/history", h.history)
	r.GET("/floors/:floorId/chat/history", h.floorHistory)
}

// @Summary		Issue a socket token
// @Description	Returns a short-lived token for the /ws handshake of the signed-in user.
// @Tags			Chat
// @Security		BearerAuth
// @Success		200	{object}	SocketTokenResponse
// @Failure		401	{object}	ErrorResponse
// @Failure		500	{object}	ErrorResponse
// @Router			/api/auth/socket-token [get]
func (h *Handler) socketToken(ginCtx *gin.Context) {
	userID := middleware.UserID(ginCtx)
	token, exp, err := h.tokens.IssueSocket(userID)
	if err != nil {
		zap.L().Error("http.socket_token", zap.String("user", userID), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to issue token"})
		return
	}
	ginCtx.JSON(http.StatusOK, SocketTokenResponse{UserID: userID, Token: token, ExpiresAt: exp})
}

// @Summary		Current user
// @Description	Profile and floor of the signed-in user; floorId is empty when unassigned.
// @Tags			Chat
// @Security		BearerAuth
// @Success		200	{object}	chat.Identity
// @Failure		401	{object}	ErrorResponse
// @Failure		404	{object}	ErrorResponse
// @Router			/api/me [get]
func (h *Handler) me(ginCtx *gin.Context) {
	id, err := h.svc.Profile(ginCtx.Request.Context(), middleware.UserID(ginCtx))
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, id)
}

// @Summary		Chat history of the caller's floor
// @Description	Newest page first, returned in chronological order. Use the oldest createdAt as the next before cursor.
// @Tags			Chat
// @Security		BearerAuth
// @Param			before	query		string	false	"RFC3339 cursor"	example(2025-07-27T16:05:05Z)
// @Success		200		{object}	chat.HistoryPage
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/api/chat/history [get]
func (h *Handler) history(ginCtx *gin.Context) {
	h.serveHistory(ginCtx, "")
}

// @Summary		Chat history of one floor
// @Description	Same as /api/chat/history but checks that the caller belongs to floorId.
// @Tags			Chat
// @Security		BearerAuth
// @Param			floorId	path		string	true	"Floor ID"
// @Param			before	query		string	false	"RFC3339 cursor"
// @Success		200		{object}	chat.HistoryPage
// @Failure		400		{object}	ErrorResponse
// @Failure		403		{object}	ErrorResponse
// @Failure		404		{object}	ErrorResponse
// @Failure		500		{object}	ErrorResponse
// @Router			/api/floors/{floorId}/chat/history [get]
func (h *Handler) floorHistory(ginCtx *gin.Context) {
	h.serveHistory(ginCtx, ginCtx.Param("floorId"))
}

func (h *Handler) serveHistory(ginCtx *gin.Context, floorID string) {
	var q HistoryQuery
	if err := ginCtx.ShouldBindQuery(&q); err != nil {
		ginCtx.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before cursor"})
		return
	}
	page, err := h.svc.History(ginCtx.Request.Context(), middleware.UserID(ginCtx), floorID, q.Before)
	if err != nil {
		writeError(ginCtx, err)
		return
	}
	ginCtx.JSON(http.StatusOK, page)
}

func writeError(ginCtx *gin.Context, err error) {
	if chat.KindOf(err) == chat.KindUnknown {
		zap.L().Error("http.unexpected_error", zap.String("path", ginCtx.FullPath()), zap.Error(err))
		ginCtx.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	ginCtx.JSON(statusFor(err), ErrorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	switch chat.KindOf(err) {
	case chat.KindAuthentication:
		return http.StatusUnauthorized
	case chat.KindValidation:
		return http.StatusBadRequest
	case chat.KindAuthorization:
		return http.StatusForbidden
	case chat.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
