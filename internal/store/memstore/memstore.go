// Package memstore is an in-process store.Store used for local development
// (STORE_DRIVER=memory) and by tests that need a real relay without Postgres.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"floorchat/internal/store"

	"github.com/google/uuid"
)

type MemStore struct {
	mu          sync.RWMutex
	users       map[string]store.User
	floors      map[string]store.Floor
	memberships map[string]store.Membership // userID -> membership
	messages    map[string]store.ChatMessage
	now         func() time.Time
	lastStamp   time.Time
}

var _ store.Store = (*MemStore)(nil)

func New() *MemStore {
	return &MemStore{
		users:       make(map[string]store.User),
		floors:      make(map[string]store.Floor),
		memberships: make(map[string]store.Membership),
		messages:    make(map[string]store.ChatMessage),
		now:         time.Now,
	}
}

func (s *MemStore) PutUser(u store.User) {
	s.mu.Lock()
	s.users[u.ID] = u
	s.mu.Unlock()
}

func (s *MemStore) PutFloor(f store.Floor) {
	s.mu.Lock()
	s.floors[f.ID] = f
	s.mu.Unlock()
}

// Assign replaces any existing membership of the user; a user belongs to at
// most one floor.
func (s *MemStore) Assign(userID, floorID string) {
	s.mu.Lock()
	s.memberships[userID] = store.Membership{UserID: userID, FloorID: floorID, JoinedAt: s.now().UTC()}
	s.mu.Unlock()
}

func (s *MemStore) Unassign(userID string) {
	s.mu.Lock()
	delete(s.memberships, userID)
	s.mu.Unlock()
}

func (s *MemStore) GetUser(_ context.Context, userID string) (*store.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *MemStore) GetMembership(_ context.Context, userID string) (*store.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.memberships[userID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *MemStore) GetFloor(_ context.Context, floorID string) (*store.Floor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	f, ok := s.floors[floorID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &f, nil
}

func (s *MemStore) CreateMessage(ctx context.Context, in store.NewMessage) (*store.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[in.AuthorID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.floors[in.FloorID]; !ok {
		return nil, store.ErrNotFound
	}

	msg := store.ChatMessage{
		ID:        uuid.NewString(),
		Content:   in.Content,
		FloorID:   in.FloorID,
		AuthorID:  in.AuthorID,
		CreatedAt: s.stamp(),
		Author:    store.Author{ID: u.ID, Name: u.DisplayName(), Image: u.Image},
	}
	s.messages[msg.ID] = msg
	return &msg, nil
}

// stamp hands out strictly increasing creation times so ordering by
// created_at is total, as a Postgres clock_timestamp() column would be in
// practice.
func (s *MemStore) stamp() time.Time {
	t := s.now().UTC()
	if !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Microsecond)
	}
	s.lastStamp = t
	return t
}

func (s *MemStore) GetMessage(_ context.Context, messageID string) (*store.ChatMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[messageID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &m, nil
}

func (s *MemStore) DeleteMessage(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[messageID]; !ok {
		return store.ErrNotFound
	}
	delete(s.messages, messageID)
	return nil
}

func (s *MemStore) ListMessages(_ context.Context, floorID string, before time.Time, limit int) ([]store.ChatMessage, error) {
	s.mu.RLock()
	list := make([]store.ChatMessage, 0)
	for _, m := range s.messages {
		if m.FloorID != floorID {
			continue
		}
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		list = append(list, m)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].ID > list[j].ID
		}
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}
