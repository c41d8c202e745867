package chatclient

import (
	"slices"
	"sync"

	"floorchat/internal/store"
)

// MessageList is the client's view of a floor's chat: at most one copy per
// message id, ordered by creation time, ties kept in arrival order. Live
// events and history pages can be merged into it in any order; a removed id
// stays removed even if an older history page still carries it.
type MessageList struct {
	mu      sync.RWMutex
	items   []store.ChatMessage
	ids     map[string]struct{}
	removed map[string]struct{}
}

func NewMessageList() *MessageList {
	return &MessageList{ids: map[string]struct{}{}, removed: map[string]struct{}{}}
}

// Insert adds msg unless a message with the same id is already present.
func (l *MessageList) Insert(msg store.ChatMessage) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.insertLocked(msg) {
		return false
	}
	l.sortLocked()
	return true
}

// Merge inserts every message not yet present and returns how many were new.
func (l *MessageList) Merge(msgs []store.ChatMessage) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, m := range msgs {
		if l.insertLocked(m) {
			n++
		}
	}
	if n > 0 {
		l.sortLocked()
	}
	return n
}

// Remove drops id and remembers it, so a deletion seen before the message
// itself still wins.
func (l *MessageList) Remove(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if id == "" {
		return false
	}
	l.removed[id] = struct{}{}
	if _, ok := l.ids[id]; !ok {
		return false
	}
	delete(l.ids, id)
	l.items = slices.DeleteFunc(l.items, func(m store.ChatMessage) bool { return m.ID == id })
	return true
}

func (l *MessageList) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// Snapshot returns a copy safe to keep after further updates.
func (l *MessageList) Snapshot() []store.ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.items)
}

func (l *MessageList) insertLocked(msg store.ChatMessage) bool {
	if msg.ID == "" {
		return false
	}
	if _, ok := l.ids[msg.ID]; ok {
		return false
	}
	if _, ok := l.removed[msg.ID]; ok {
		return false
	}
	l.ids[msg.ID] = struct{}{}
	l.items = append(l.items, msg)
	return true
}

// Stable, so equal timestamps keep the order messages were inserted in.
func (l *MessageList) sortLocked() {
	slices.SortStableFunc(l.items, func(a, b store.ChatMessage) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
}
