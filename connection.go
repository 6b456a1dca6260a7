package roomchat

import (
	"time"

	"github.com/google/uuid"
)

// ConnectionID is assigned per live transport session.
type ConnectionID string

func NewConnectionID() ConnectionID {
	return ConnectionID(uuid.NewString())
}

// Connection is the handle for one live session of an identity.
type Connection struct {
	ID       ConnectionID
	Identity Identity
	OpenedAt time.Time

	session SocketSessioner[ConnectionID]
}

func NewConnection(id ConnectionID, identity Identity, session SocketSessioner[ConnectionID]) *Connection {
	return &Connection{
		ID:       id,
		Identity: identity,
		OpenedAt: time.Now(),
		session:  session,
	}
}

// Send hands an encoded frame to the session without blocking.
func (c *Connection) Send(frame []byte) {
	if c == nil || c.session == nil {
		return
	}
	c.session.Send(frame)
}

func (c *Connection) close() {
	if c.session != nil {
		c.session.Close()
	}
}
