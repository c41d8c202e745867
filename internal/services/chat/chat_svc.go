package chat

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"floorchat/internal/store"

	"go.uber.org/zap"
)

// Identity is attached to a connection once the handshake succeeds and never
// changes for the lifetime of that connection.
type Identity struct {
	UserID      string `json:"id"`
	DisplayName string `json:"name"`
	Email       string `json:"email"`
	AvatarRef   string `json:"image,omitempty"`
	Role        string `json:"role"`
	FloorID     string `json:"floorId"`
}

func (id Identity) complete() bool {
	return id.UserID != "" && id.FloorID != "" && id.Role != ""
}

type HistoryPage struct {
	Messages []store.ChatMessage `json:"messages"`
	HasMore  bool                `json:"hasMore"`
}

type IChatService interface {
	// Authenticate resolves a claimed user id into a connection identity.
	Authenticate(ctx context.Context, userID string) (Identity, error)
	SendMessage(ctx context.Context, id Identity, content string) (*store.ChatMessage, error)
	// DeleteMessage removes a message of the requester's floor; the deletion is
	// always broadcast to id.FloorID.
	DeleteMessage(ctx context.Context, id Identity, messageID string) error
	// History pages the caller's floor newest-first and returns the page in
	// chronological order. An empty floorID means the caller's own floor.
	History(ctx context.Context, userID, floorID string, before time.Time) (*HistoryPage, error)
	// Profile is Authenticate without the floor requirement.
	Profile(ctx context.Context, userID string) (Identity, error)
}

type SendLimiter interface {
	Allow(ctx context.Context, userID string) (bool, error)
}

// HistoryCache stores the newest page per floor under a generation that
// Invalidate advances. Generation must be read before the store is queried.
type HistoryCache interface {
	Generation(ctx context.Context, floorID string) (int64, error)
	Get(ctx context.Context, floorID string, gen int64, dest any) (bool, error)
	Set(ctx context.Context, floorID string, gen int64, page any) error
	Invalidate(ctx context.Context, floorID string) error
}

type Options struct {
	MaxMessageLength int
	HistoryPageSize  int
	Limiter          SendLimiter
	Cache            HistoryCache
}

type chatService struct {
	store        store.Store
	limiter      SendLimiter
	cache        HistoryCache
	maxMsgLength int
	pageSize     int
}

var _ IChatService = (*chatService)(nil)

func NewChatService(st store.Store, opts Options) IChatService {
	if opts.HistoryPageSize <= 0 {
		opts.HistoryPageSize = 50
	}
	return &chatService{
		store:        st,
		limiter:      opts.Limiter,
		cache:        opts.Cache,
		maxMsgLength: opts.MaxMessageLength,
		pageSize:     opts.HistoryPageSize,
	}
}

func (svc *chatService) Authenticate(ctx context.Context, userID string) (Identity, error) {
	if strings.TrimSpace(userID) == "" {
		return Identity{}, ErrMissingIdentity
	}
	id, err := svc.Profile(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrProfileNotFound) {
			return Identity{}, ErrUserNotFound
		}
		return Identity{}, wrap(ErrAuthUnavailable, err)
	}
	if id.FloorID == "" {
		return Identity{}, ErrNoFloor
	}
	return id, nil
}

func (svc *chatService) Profile(ctx context.Context, userID string) (Identity, error) {
	u, err := svc.store.GetUser(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Identity{}, ErrProfileNotFound
		}
		return Identity{}, err
	}
	id := Identity{
		UserID:      u.ID,
		DisplayName: u.DisplayName(),
		Email:       u.Email,
		AvatarRef:   u.Image,
		Role:        u.Role,
	}

	m, err := svc.store.GetMembership(ctx, userID)
	switch {
	case err == nil:
		id.FloorID = m.FloorID
	case errors.Is(err, store.ErrNotFound):
	default:
		return Identity{}, err
	}
	return id, nil
}

func (svc *chatService) SendMessage(ctx context.Context, id Identity, content string) (*store.ChatMessage, error) {
	if !id.complete() {
		return nil, ErrSendContext
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, ErrEmptyMessage
	}
	if svc.maxMsgLength > 0 && utf8.RuneCountInString(content) > svc.maxMsgLength {
		return nil, ErrMessageTooLong
	}

	if svc.limiter != nil {
		ok, err := svc.limiter.Allow(ctx, id.UserID)
		if err != nil {
			// Limiter outages must not take chat down with them.
			zap.L().Warn("chat.rate_limit_unavailable", zap.String("user", id.UserID), zap.Error(err))
		} else if !ok {
			return nil, ErrRateLimited
		}
	}

	msg, err := svc.store.CreateMessage(ctx, store.NewMessage{
		FloorID:  id.FloorID,
		AuthorID: id.UserID,
		Content:  content,
	})
	if err != nil {
		zap.L().Error("chat.persist_failed",
			zap.String("user", id.UserID), zap.String("floor", id.FloorID), zap.Error(err))
		return nil, persistenceError(msgSendFailed, err)
	}
	svc.invalidate(ctx, id.FloorID)

	zap.L().Debug("chat.message_saved",
		zap.String("message", msg.ID), zap.String("floor", msg.FloorID))
	return msg, nil
}

func (svc *chatService) DeleteMessage(ctx context.Context, id Identity, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ErrInvalidMessageID
	}
	if !id.complete() {
		return ErrDeleteContext
	}

	msg, err := svc.store.GetMessage(ctx, messageID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrMessageNotFound
		}
		zap.L().Error("chat.delete_lookup_failed", zap.String("message", messageID), zap.Error(err))
		return persistenceError(msgDeleteFailed, err)
	}
	if msg.FloorID != id.FloorID {
		return ErrCrossFloorDelete
	}
	if !CanDelete(id, msg) {
		return ErrNotAuthorized
	}

	if err := svc.store.DeleteMessage(ctx, messageID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Lost a race with another deleter.
			return ErrMessageNotFound
		}
		zap.L().Error("chat.delete_failed", zap.String("message", messageID), zap.Error(err))
		return persistenceError(msgDeleteFailed, err)
	}
	svc.invalidate(ctx, id.FloorID)

	zap.L().Debug("chat.message_deleted",
		zap.String("message", messageID), zap.String("by", id.UserID))
	return nil
}

// CanDelete is the role/ownership half of the deletion policy; floor equality
// is checked separately so that it is never bypassed by role.
func CanDelete(requester Identity, msg *store.ChatMessage) bool {
	if msg.AuthorID == requester.UserID {
		return true
	}
	switch requester.Role {
	case store.RoleAdmin, store.RoleFloorRepresentative:
		return true
	}
	return false
}

func (svc *chatService) History(ctx context.Context, userID, floorID string, before time.Time) (*HistoryPage, error) {
	if floorID != "" {
		if _, err := svc.store.GetFloor(ctx, floorID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrFloorNotFound
			}
			return nil, persistenceError(msgHistoryFailed, err)
		}
	}

	m, err := svc.store.GetMembership(ctx, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrHistoryForbidden
		}
		return nil, persistenceError(msgHistoryFailed, err)
	}
	if floorID != "" && m.FloorID != floorID {
		zap.L().Warn("chat.history_forbidden",
			zap.String("user", userID), zap.String("floor", floorID))
		return nil, ErrHistoryForbidden
	}
	floorID = m.FloorID

	cacheable := before.IsZero() && svc.cache != nil
	var gen int64
	if cacheable {
		gen, err = svc.cache.Generation(ctx, floorID)
		if err != nil {
			zap.L().Warn("chat.history_cache_generation", zap.String("floor", floorID), zap.Error(err))
			cacheable = false
		}
	}
	if cacheable {
		page := &HistoryPage{}
		hit, err := svc.cache.Get(ctx, floorID, gen, page)
		if err != nil {
			zap.L().Warn("chat.history_cache_get", zap.String("floor", floorID), zap.Error(err))
		} else if hit {
			return page, nil
		}
	}

	// One extra row tells whether an older page exists.
	rows, err := svc.store.ListMessages(ctx, floorID, before, svc.pageSize+1)
	if err != nil {
		zap.L().Error("chat.history_failed", zap.String("floor", floorID), zap.Error(err))
		return nil, persistenceError(msgHistoryFailed, err)
	}
	page := &HistoryPage{HasMore: len(rows) > svc.pageSize}
	if page.HasMore {
		rows = rows[:svc.pageSize]
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	page.Messages = rows
	if page.Messages == nil {
		page.Messages = []store.ChatMessage{}
	}

	if cacheable {
		if err := svc.cache.Set(ctx, floorID, gen, page); err != nil {
			zap.L().Warn("chat.history_cache_set", zap.String("floor", floorID), zap.Error(err))
		}
	}
	return page, nil
}

func (svc *chatService) invalidate(ctx context.Context, floorID string) {
	if svc.cache == nil {
		return
	}
	if err := svc.cache.Invalidate(ctx, floorID); err != nil {
		zap.L().Warn("chat.history_cache_invalidate", zap.String("floor", floorID), zap.Error(err))
	}
}
