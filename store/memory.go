// Package store holds MessageStore implementations.
package store

import (
	"context"
	"slices"
	"sync"

	"github.com/chilledoj/roomchat"
	"github.com/google/uuid"
)

// MemoryStore keeps messages in process memory. It is the default store when
// no database is configured and is safe for concurrent use.
type MemoryStore struct {
	mu       sync.RWMutex
	messages map[string]*roomchat.Message
	byRoom   map[string][]string
}

var _ roomchat.MessageStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		messages: make(map[string]*roomchat.Message),
		byRoom:   make(map[string][]string),
	}
}

func (s *MemoryStore) CreateMessage(_ context.Context, fields roomchat.NewMessage) (*roomchat.Message, error) {
	msg := &roomchat.Message{
		ID:         uuid.NewString(),
		SenderID:   fields.SenderID,
		SenderName: fields.SenderName,
		Content:    fields.Content,
		Room:       fields.Room,
		Timestamp:  fields.Timestamp,
		Reactions:  roomchat.Reactions{},
		Version:    1,
	}

	s.mu.Lock()
	s.messages[msg.ID] = msg.Clone()
	s.byRoom[msg.Room] = append(s.byRoom[msg.Room], msg.ID)
	s.mu.Unlock()
	return msg, nil
}

func (s *MemoryStore) GetMessageByID(_ context.Context, id string) (*roomchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, roomchat.ErrMessageNotFound
	}
	return msg.Clone(), nil
}

// UpdateMessage stores msg's reactions when its version is current.
func (s *MemoryStore) UpdateMessage(_ context.Context, msg *roomchat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.messages[msg.ID]
	if !ok {
		return roomchat.ErrMessageNotFound
	}
	if stored.Version != msg.Version {
		return roomchat.ErrVersionConflict
	}
	updated := stored.Clone()
	updated.Reactions = msg.Reactions.Clone()
	updated.Version++
	s.messages[msg.ID] = updated
	msg.Version = updated.Version
	return nil
}

func (s *MemoryStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return roomchat.ErrMessageNotFound
	}
	delete(s.messages, id)
	s.byRoom[msg.Room] = slices.DeleteFunc(s.byRoom[msg.Room], func(v string) bool { return v == id })
	return nil
}

// ListMessagesByRoom returns messages ordered by timestamp, ties in insertion
// order, matching the Postgres store's ORDER BY.
func (s *MemoryStore) ListMessagesByRoom(_ context.Context, room string) ([]*roomchat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byRoom[room]
	out := make([]*roomchat.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id].Clone())
	}
	slices.SortStableFunc(out, func(a, b *roomchat.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
