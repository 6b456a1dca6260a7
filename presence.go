package roomchat

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"
	"sync"
)

// PresenceRegistry maps identities to their live connections. An identity is
// online while it owns at least one connection.
type PresenceRegistry struct {
	mu          sync.RWMutex
	connections map[ConnectionID]*Connection
	byIdentity  map[UserID]map[ConnectionID]*Connection
	identities  map[UserID]Identity

	emitter emitter
	Slogger *slog.Logger
}

func NewPresenceRegistry(sl *slog.Logger) *PresenceRegistry {
	if sl == nil {
		sl = slog.Default()
	}
	return &PresenceRegistry{
		connections: make(map[ConnectionID]*Connection),
		byIdentity:  make(map[UserID]map[ConnectionID]*Connection),
		identities:  make(map[UserID]Identity),
		emitter:     newEmitter(sl),
		Slogger:     sl.With("component", "presence"),
	}
}

// Register records conn under its identity and broadcasts the online set to
// every connection. user_joined is broadcast only for the identity's first
// connection. Registering the same connection twice returns
// ErrAlreadyRegistered and changes nothing.
func (p *PresenceRegistry) Register(conn *Connection) error {
	sl := p.Slogger.With("func", "presence.Register", "connection", conn.ID, "user", conn.Identity.ID)

	p.mu.Lock()
	if _, ok := p.connections[conn.ID]; ok {
		p.mu.Unlock()
		sl.Debug("already registered")
		return ErrAlreadyRegistered
	}
	p.connections[conn.ID] = conn
	set, ok := p.byIdentity[conn.Identity.ID]
	if !ok {
		set = make(map[ConnectionID]*Connection)
		p.byIdentity[conn.Identity.ID] = set
	}
	first := len(set) == 0
	set[conn.ID] = conn
	p.identities[conn.Identity.ID] = conn.Identity
	online := p.onlineLocked()
	all := p.allLocked()
	p.mu.Unlock()

	sl.Info("registered", "first", first)
	p.emitter.emit(all, EventOnlineUsers, OnlineUsersPayload{Users: online})
	if first {
		p.emitter.emit(all, EventUserJoined, conn.Identity)
	}
	return nil
}

// Unregister removes conn. The identity goes offline, and user_left is
// broadcast, only when this was its last connection.
func (p *PresenceRegistry) Unregister(conn *Connection) error {
	sl := p.Slogger.With("func", "presence.Unregister", "connection", conn.ID, "user", conn.Identity.ID)

	p.mu.Lock()
	if _, ok := p.connections[conn.ID]; !ok {
		p.mu.Unlock()
		sl.Debug("not registered")
		return ErrNotRegistered
	}
	delete(p.connections, conn.ID)
	last := false
	if set, ok := p.byIdentity[conn.Identity.ID]; ok {
		delete(set, conn.ID)
		if len(set) == 0 {
			delete(p.byIdentity, conn.Identity.ID)
			delete(p.identities, conn.Identity.ID)
			last = true
		}
	}
	online := p.onlineLocked()
	all := p.allLocked()
	p.mu.Unlock()

	sl.Info("unregistered", "last", last)
	if last {
		p.emitter.emit(all, EventUserLeft, conn.Identity)
	}
	p.emitter.emit(all, EventOnlineUsers, OnlineUsersPayload{Users: online})
	return nil
}

func (p *PresenceRegistry) IsOnline(id UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.byIdentity[id]) > 0
}

// Online returns the online identities ordered by display name.
func (p *PresenceRegistry) Online() []Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.onlineLocked()
}

// ConnectionsOf returns the live connections of an identity.
func (p *PresenceRegistry) ConnectionsOf(id UserID) []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return slices.Collect(maps.Values(p.byIdentity[id]))
}

func (p *PresenceRegistry) Get(id ConnectionID) (*Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.connections[id]
	return c, ok
}

func (p *PresenceRegistry) All() []*Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.allLocked()
}

func (p *PresenceRegistry) onlineLocked() []Identity {
	out := slices.AppendSeq(make([]Identity, 0, len(p.identities)), maps.Values(p.identities))
	slices.SortFunc(out, func(a, b Identity) int {
		return cmp.Or(cmp.Compare(a.DisplayName, b.DisplayName), cmp.Compare(a.ID, b.ID))
	})
	return out
}

func (p *PresenceRegistry) allLocked() []*Connection {
	return slices.Collect(maps.Values(p.connections))
}
