package roomchat

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"
)

// RoomMembership tracks which room each connection is in. A connection is a
// member of at most one room; switching removes the old membership and adds
// the new one under a single lock.
//
// A joining connection is a member before its history is read, so room
// messages published in between are queued and sent after room_joined.
type RoomMembership struct {
	mu      sync.RWMutex
	rooms   map[string]map[ConnectionID]*Connection
	current map[ConnectionID]string
	joining map[ConnectionID][]pendingFrame

	// generation advances on every published change to a room's messages;
	// history reads are only shared within one generation
	generation map[string]uint64

	names   []string
	store   MessageStore
	history singleflight.Group

	emitter emitter
	Slogger *slog.Logger
}

func NewRoomMembership(rooms []string, store MessageStore, sl *slog.Logger) *RoomMembership {
	if sl == nil {
		sl = slog.Default()
	}
	m := &RoomMembership{
		rooms:      make(map[string]map[ConnectionID]*Connection, len(rooms)),
		current:    make(map[ConnectionID]string),
		joining:    make(map[ConnectionID][]pendingFrame),
		generation: make(map[string]uint64, len(rooms)),
		store:      store,
		emitter:    newEmitter(sl),
		Slogger:    sl.With("component", "membership"),
	}
	for _, name := range rooms {
		if _, ok := m.rooms[name]; ok {
			continue
		}
		m.rooms[name] = make(map[ConnectionID]*Connection)
		m.names = append(m.names, name)
	}
	return m
}

// Rooms returns the fixed room set in configured order.
func (m *RoomMembership) Rooms() []string {
	return slices.Clone(m.names)
}

func (m *RoomMembership) IsRoom(name string) bool {
	_, ok := m.rooms[name]
	return ok
}

// JoinRoom moves conn into room and returns the room it left, if any.
//
// The old room's remaining members get user_left_room, the connection gets
// room_joined with the room's history, and the new room's other members get
// user_joined_room. Joining the room the connection is already in does
// nothing. A room outside the fixed set fails with ErrUnknownRoom.
func (m *RoomMembership) JoinRoom(ctx context.Context, conn *Connection, room string) (string, error) {
	sl := m.Slogger.With("func", "membership.JoinRoom", "connection", conn.ID, "room", room)
	if !m.IsRoom(room) {
		sl.Warn("unknown room")
		return "", ErrUnknownRoom
	}

	m.mu.Lock()
	previous, joined := m.current[conn.ID]
	if joined && previous == room {
		m.mu.Unlock()
		sl.Debug("already in room")
		return "", nil
	}
	var left []*Connection
	if joined {
		delete(m.rooms[previous], conn.ID)
		left = m.membersLocked(previous)
	}
	m.rooms[room][conn.ID] = conn
	m.current[conn.ID] = room
	m.joining[conn.ID] = nil
	gen := m.generation[room]
	others := except(m.membersLocked(room), conn.ID)
	m.mu.Unlock()

	name := conn.Identity.DisplayName
	if joined {
		m.emitter.emit(left, EventUserLeftRoom, RoomMemberPayload{
			Username: name,
			Room:     previous,
			Message:  fmt.Sprintf("%s has left %s.", name, previous),
		})
	}

	history := m.loadHistory(ctx, room, gen)
	m.emitter.emitTo(conn, EventRoomJoined, RoomJoinedPayload{
		Room:    room,
		Message: fmt.Sprintf("Welcome to the %s channel!", room),
		History: history,
	})
	m.flushJoining(conn, history)
	m.emitter.emit(others, EventUserJoinedRoom, RoomMemberPayload{
		Username: name,
		Room:     room,
		Message:  fmt.Sprintf("%s has joined %s.", name, room),
	})

	sl.Info("joined", "previous", previous)
	return previous, nil
}

// History returns the room's messages oldest first. Concurrent requests for
// the same room share one store call as long as no message is published in
// the meantime. A store failure yields an empty history.
func (m *RoomMembership) History(ctx context.Context, room string) []*Message {
	m.mu.RLock()
	gen := m.generation[room]
	m.mu.RUnlock()
	return m.loadHistory(ctx, room, gen)
}

func (m *RoomMembership) loadHistory(ctx context.Context, room string, gen uint64) []*Message {
	v, err, shared := m.history.Do(fmt.Sprintf("%s#%d", room, gen), func() (any, error) {
		return m.store.ListMessagesByRoom(ctx, room)
	})
	if err != nil {
		m.Slogger.Error("loading history", "room", room, "err", err)
		return []*Message{}
	}
	m.Slogger.Debug("history loaded", "room", room, "generation", gen, "shared", shared)
	msgs, _ := v.([]*Message)
	if msgs == nil {
		msgs = []*Message{}
	}
	return msgs
}

type pendingFrame struct {
	event     EventType
	messageID string
	frame     []byte
}

// Publish sends a persisted change in room to every member except skip.
// Members still loading history get the frame after their room_joined.
// It must be called after the change is stored.
func (m *RoomMembership) Publish(room string, skip ConnectionID, t EventType, msg *Message) {
	frame, ok := m.emitter.encode(t, msg)
	if !ok {
		return
	}

	m.mu.Lock()
	m.generation[room]++
	live := make([]*Connection, 0, len(m.rooms[room]))
	for id, c := range m.rooms[room] {
		if id == skip {
			continue
		}
		if pending, joining := m.joining[id]; joining {
			m.joining[id] = append(pending, pendingFrame{event: t, messageID: msg.ID, frame: frame})
			continue
		}
		live = append(live, c)
	}
	m.mu.Unlock()

	for _, c := range live {
		c.Send(frame)
	}
}

// flushJoining ends the joining phase of conn, sending what was queued for it.
// New messages already present in history are skipped.
func (m *RoomMembership) flushJoining(conn *Connection, history []*Message) {
	seen := make(map[string]struct{}, len(history))
	for _, msg := range history {
		seen[msg.ID] = struct{}{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	pending := m.joining[conn.ID]
	delete(m.joining, conn.ID)
	for _, p := range pending {
		if _, dup := seen[p.messageID]; dup && p.event == EventReceiveMessage {
			continue
		}
		conn.Send(p.frame)
	}
	if len(pending) > 0 {
		m.Slogger.Debug("flushed queued frames", "connection", conn.ID, "queued", len(pending))
	}
}

// Leave removes conn from its room, notifying the remaining members, and
// returns the room it left.
func (m *RoomMembership) Leave(conn *Connection) (string, bool) {
	m.mu.Lock()
	room, ok := m.current[conn.ID]
	if !ok {
		m.mu.Unlock()
		return "", false
	}
	delete(m.current, conn.ID)
	delete(m.rooms[room], conn.ID)
	delete(m.joining, conn.ID)
	remaining := m.membersLocked(room)
	m.mu.Unlock()

	name := conn.Identity.DisplayName
	m.emitter.emit(remaining, EventUserLeftRoom, RoomMemberPayload{
		Username: name,
		Room:     room,
		Message:  fmt.Sprintf("%s has left %s.", name, room),
	})
	m.Slogger.Info("left", "connection", conn.ID, "room", room)
	return room, true
}

func (m *RoomMembership) CurrentRoom(conn ConnectionID) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	room, ok := m.current[conn]
	return room, ok
}

func (m *RoomMembership) State(conn ConnectionID) MembershipState {
	if _, ok := m.CurrentRoom(conn); ok {
		return Joined
	}
	return Unjoined
}

func (m *RoomMembership) MembersOf(room string) []*Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.membersLocked(room)
}

func (m *RoomMembership) membersLocked(room string) []*Connection {
	return slices.Collect(maps.Values(m.rooms[room]))
}
