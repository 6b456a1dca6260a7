package roomchat

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"
)

// mockSocketSession records every frame sent to a connection.
type mockSocketSession struct {
	mu           sync.Mutex
	referenceID  ConnectionID
	sentMessages [][]byte
	closed       bool
}

func newMockSocketSession(id ConnectionID) *mockSocketSession {
	return &mockSocketSession{
		referenceID:  id,
		sentMessages: make([][]byte, 0),
	}
}

func (m *mockSocketSession) ReferenceID() ConnectionID {
	return m.referenceID
}

func (m *mockSocketSession) Send(message []byte) {
	m.mu.Lock()
	m.sentMessages = append(m.sentMessages, slices.Clone(message))
	m.mu.Unlock()
}

func (m *mockSocketSession) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}

func (m *mockSocketSession) events(t *testing.T) []Envelope {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Envelope, 0, len(m.sentMessages))
	for _, raw := range m.sentMessages {
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("sent frame is not an envelope: %v: %s", err, raw)
		}
		out = append(out, env)
	}
	return out
}

func (m *mockSocketSession) eventsOf(t *testing.T, et EventType) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range m.events(t) {
		if env.Type == et {
			out = append(out, env)
		}
	}
	return out
}

func (m *mockSocketSession) reset() {
	m.mu.Lock()
	m.sentMessages = m.sentMessages[:0]
	m.mu.Unlock()
}

func payloadOf[T any](t *testing.T, env Envelope) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(env.Payload, &v); err != nil {
		t.Fatalf("decoding %s payload: %v", env.Type, err)
	}
	return v
}

var connSeq struct {
	sync.Mutex
	n int
}

// newTestConnection returns a connection for the identity backed by a mock
// session.
func newTestConnection(userID, name string) (*Connection, *mockSocketSession) {
	connSeq.Lock()
	connSeq.n++
	id := ConnectionID(fmt.Sprintf("conn-%s-%d", userID, connSeq.n))
	connSeq.Unlock()
	ss := newMockSocketSession(id)
	return NewConnection(id, Identity{ID: userID, DisplayName: name}, ss), ss
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeStore is an in-memory MessageStore with failure injection.
type fakeStore struct {
	mu       sync.Mutex
	messages map[string]*Message
	order    []string
	nextID   int

	createErr error
	listErr   error
	listCalls int
	// conflicts forces this many UpdateMessage calls to fail with a version
	// conflict before updates go through.
	conflicts int
}

func newFakeStore() *fakeStore {
	return &fakeStore{messages: make(map[string]*Message)}
}

func (s *fakeStore) CreateMessage(_ context.Context, f NewMessage) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.nextID++
	msg := &Message{
		ID:         fmt.Sprintf("msg-%d", s.nextID),
		SenderID:   f.SenderID,
		SenderName: f.SenderName,
		Content:    f.Content,
		Room:       f.Room,
		Timestamp:  f.Timestamp,
		Reactions:  Reactions{},
		Version:    1,
	}
	s.messages[msg.ID] = msg.Clone()
	s.order = append(s.order, msg.ID)
	return msg, nil
}

func (s *fakeStore) GetMessageByID(_ context.Context, id string) (*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return msg.Clone(), nil
}

func (s *fakeStore) UpdateMessage(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.messages[msg.ID]
	if !ok {
		return ErrMessageNotFound
	}
	if s.conflicts > 0 {
		s.conflicts--
		return ErrVersionConflict
	}
	if stored.Version != msg.Version {
		return ErrVersionConflict
	}
	msg.Version++
	s.messages[msg.ID] = msg.Clone()
	return nil
}

func (s *fakeStore) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.messages[id]; !ok {
		return ErrMessageNotFound
	}
	delete(s.messages, id)
	s.order = slices.DeleteFunc(s.order, func(v string) bool { return v == id })
	return nil
}

func (s *fakeStore) ListMessagesByRoom(_ context.Context, room string) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]*Message, 0)
	for _, id := range s.order {
		if m := s.messages[id]; m.Room == room {
			out = append(out, m.Clone())
		}
	}
	return out, nil
}

func (s *fakeStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listCalls
}

func (s *fakeStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messages)
}

// seed stores a message directly, bypassing any injected failure.
func (s *fakeStore) seed(room, sender, content string) *Message {
	s.mu.Lock()
	err := s.createErr
	s.createErr = nil
	s.mu.Unlock()
	msg, _ := s.CreateMessage(context.Background(), NewMessage{
		SenderID:   sender,
		SenderName: sender,
		Content:    content,
		Room:       room,
		Timestamp:  time.Now().UTC(),
	})
	s.mu.Lock()
	s.createErr = err
	s.mu.Unlock()
	return msg
}

// gatedStore holds the first history read after arm until release is closed.
// The held read returns the snapshot it took before blocking.
type gatedStore struct {
	*fakeStore
	gateMu  sync.Mutex
	armed   bool
	entered chan struct{}
	release chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{
		fakeStore: newFakeStore(),
		entered:   make(chan struct{}),
		release:   make(chan struct{}),
	}
}

func (s *gatedStore) arm() {
	s.gateMu.Lock()
	s.armed = true
	s.gateMu.Unlock()
}

func (s *gatedStore) ListMessagesByRoom(ctx context.Context, room string) ([]*Message, error) {
	msgs, err := s.fakeStore.ListMessagesByRoom(ctx, room)
	s.gateMu.Lock()
	hold := s.armed
	s.armed = false
	s.gateMu.Unlock()
	if hold {
		close(s.entered)
		<-s.release
	}
	return msgs, err
}

// waitFor fails the test if ch is not closed within a second.
func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

// setupTestCoordinator returns a coordinator over a fake store with no default
// room and a cleanup function.
func setupTestCoordinator(t *testing.T) (*Coordinator, *fakeStore) {
	t.Helper()
	store := newFakeStore()
	c := NewCoordinator(context.Background(), store, Options{Slogger: testLogger()})
	t.Cleanup(c.Stop)
	return c, store
}

// admit registers a new connection for the identity and clears its frames.
func admit(t *testing.T, c *Coordinator, userID, name string) (*Connection, *mockSocketSession) {
	t.Helper()
	conn, ss := newTestConnection(userID, name)
	if err := c.ConnectionOpened(conn); err != nil {
		t.Fatalf("ConnectionOpened: %v", err)
	}
	return conn, ss
}

// joined admits a connection and joins it to room, clearing recorded frames.
func joined(t *testing.T, c *Coordinator, userID, name, room string) (*Connection, *mockSocketSession) {
	t.Helper()
	conn, ss := admit(t, c, userID, name)
	if _, err := c.Membership.JoinRoom(context.Background(), conn, room); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	return conn, ss
}

func resetAll(sessions ...*mockSocketSession) {
	for _, ss := range sessions {
		ss.reset()
	}
}
