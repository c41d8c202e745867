// Package store defines the identity, membership and chat message records the
// relay reads and writes, and the narrow interface it needs from a datastore.
package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Role values as stored on the users table.
const (
	RoleMember              = "member"
	RoleFloorRepresentative = "floor-representative"
	RoleAdmin               = "admin"
)

type User struct {
	ID    string
	Name  string
	Email string
	Image string
	Role  string
}

// DisplayName falls back to the e-mail address for users that never set a name.
func (u *User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Email
}

type Floor struct {
	ID           string
	Name         string
	BuildingName string
}

type Membership struct {
	UserID   string
	FloorID  string
	JoinedAt time.Time
}

// Author carries the denormalized display fields sent alongside a message.
type Author struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Image string `json:"image,omitempty"`
}

type ChatMessage struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	FloorID   string    `json:"floorId"`
	AuthorID  string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
	Author    Author    `json:"user"`
}

type NewMessage struct {
	FloorID  string
	AuthorID string
	Content  string
}

// Store is the query/command surface the relay consumes. Implementations return
// ErrNotFound (possibly wrapped) when a looked-up record does not exist.
type Store interface {
	GetUser(ctx context.Context, userID string) (*User, error)
	GetMembership(ctx context.Context, userID string) (*Membership, error)
	GetFloor(ctx context.Context, floorID string) (*Floor, error)

	CreateMessage(ctx context.Context, msg NewMessage) (*ChatMessage, error)
	GetMessage(ctx context.Context, messageID string) (*ChatMessage, error)
	// DeleteMessage returns ErrNotFound when no row was removed, which is what a
	// losing concurrent deleter observes.
	DeleteMessage(ctx context.Context, messageID string) error
	// ListMessages returns up to limit messages of a floor created strictly
	// before the cursor (zero cursor = now), newest first.
	ListMessages(ctx context.Context, floorID string, before time.Time, limit int) ([]ChatMessage, error)
}
