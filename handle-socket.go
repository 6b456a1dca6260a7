package roomchat

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gobwas/ws"
)

type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// HandleSocket authenticates the upgrade request, upgrades it and admits the
// connection. Rejected credentials reach onError wrapped in ErrAuthRejected and
// the connection never enters presence or room state.
func (c *Coordinator) HandleSocket(resolver IdentityResolver, onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := resolver.ResolveIdentity(r)
		if err != nil {
			if !errors.Is(err, ErrAuthRejected) {
				err = fmt.Errorf("%w: %w", ErrAuthRejected, err)
			}
			onError(w, r, err)
			return
		}
		if !identity.valid() {
			onError(w, r, fmt.Errorf("%w: incomplete identity", ErrAuthRejected))
			return
		}
		c.HandleSocketWithIdentity(identity, onError)(w, r)
	}
}

func (c *Coordinator) HandleSocketWithIdentity(identity Identity, onError ErrorHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			onError(w, r, err)
			return
		}

		id := NewConnectionID()
		c.Slogger.Info("new socket connection", "connection", id, "user", identity.ID)

		ss := NewSocketSession[ConnectionID](conn, id, c, c.opts.Session)
		connection := NewConnection(id, identity, ss)
		if err := c.ConnectionOpened(connection); err != nil {
			c.Slogger.Warn("connection not admitted", "connection", id, "err", err)
			ss.Close()
			return
		}
		ss.Start()
	}
}
