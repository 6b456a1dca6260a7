package roomchat

import (
	"log/slog"
	"slices"
	"sync"
)

// TypingAggregator keeps the set of connections composing in each room and
// broadcasts the room's typing display names whenever that set changes.
type TypingAggregator struct {
	mu    sync.Mutex
	rooms map[string]map[ConnectionID]string

	membership *RoomMembership
	emitter    emitter
	Slogger    *slog.Logger
}

func NewTypingAggregator(membership *RoomMembership, sl *slog.Logger) *TypingAggregator {
	if sl == nil {
		sl = slog.Default()
	}
	return &TypingAggregator{
		rooms:      make(map[string]map[ConnectionID]string),
		membership: membership,
		emitter:    newEmitter(sl),
		Slogger:    sl.With("component", "typing"),
	}
}

// SetTyping records whether conn is composing in its current room. The
// connection must have joined a room.
func (t *TypingAggregator) SetTyping(conn *Connection, isTyping bool) error {
	room, ok := t.membership.CurrentRoom(conn.ID)
	if !ok {
		return ErrNotInRoom
	}

	t.mu.Lock()
	set := t.rooms[room]
	_, present := set[conn.ID]
	changed := false
	switch {
	case isTyping && !present:
		if set == nil {
			set = make(map[ConnectionID]string)
			t.rooms[room] = set
		}
		set[conn.ID] = conn.Identity.DisplayName
		changed = true
	case !isTyping && present:
		delete(set, conn.ID)
		changed = true
	}
	var names []string
	if changed {
		names = t.namesLocked(room)
	}
	t.mu.Unlock()

	if changed {
		t.broadcast(room, names)
	}
	return nil
}

// Clear removes conn from room's typing set. It is called when a connection
// switches rooms or disconnects.
func (t *TypingAggregator) Clear(conn *Connection, room string) {
	t.mu.Lock()
	set := t.rooms[room]
	if _, ok := set[conn.ID]; !ok {
		t.mu.Unlock()
		return
	}
	delete(set, conn.ID)
	if len(set) == 0 {
		delete(t.rooms, room)
	}
	names := t.namesLocked(room)
	t.mu.Unlock()

	t.Slogger.Debug("cleared", "connection", conn.ID, "room", room)
	t.broadcast(room, names)
}

// Typing returns the distinct display names composing in room, sorted.
func (t *TypingAggregator) Typing(room string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.namesLocked(room)
}

func (t *TypingAggregator) broadcast(room string, names []string) {
	t.emitter.emit(t.membership.MembersOf(room), EventTypingUsers, TypingUsersPayload{
		Room:  room,
		Users: names,
	})
}

// namesLocked dedupes display names so two tabs of one user show once.
func (t *TypingAggregator) namesLocked(room string) []string {
	names := make([]string, 0, len(t.rooms[room]))
	for _, name := range t.rooms[room] {
		names = append(names, name)
	}
	slices.Sort(names)
	return slices.Compact(names)
}
